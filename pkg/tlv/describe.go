package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// WriteStructFields appends one report line per populated []byte field of s, plus one
// per leftover packet in a []bertlv.TLV field. Lines look like
//
//	- FCI.DFName (84): 315449432E494341 ("1TIC.ICA")
//
// The `fmt` field tag selects the rendering: "ascii" adds a printable view, "int"
// adds the big-endian decimal value, anything else is plain hex. No trailing newline
// is written; a newline separates the block from existing builder content.
func WriteStructFields(sb *strings.Builder, prefix string, s interface{}) {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	var lines []string

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		meta := typ.Field(i)

		switch {
		case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Uint8:
			if field.Len() == 0 {
				continue
			}
			name := meta.Name
			if tag := strings.Split(meta.Tag.Get("tlv"), ",")[0]; tag != "" {
				name = fmt.Sprintf("%s (%s)", name, tag)
			}
			lines = append(lines, fmt.Sprintf("    - %s.%s: %s", prefix, name, FormatBytes(field.Bytes(), meta.Tag.Get("fmt"))))

		case field.Type() == reflect.TypeOf([]bertlv.TLV{}):
			for _, p := range field.Interface().([]bertlv.TLV) {
				lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %s", prefix, strings.ToUpper(p.Tag), strings.ToUpper(hex.EncodeToString(p.Value))))
			}
		}
	}

	if len(lines) == 0 {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(lines, "\n"))
}

// FormatBytes renders data according to a `fmt` tag value ("ascii", "int" or hex).
func FormatBytes(data []byte, format string) string {
	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, MakeSafeASCII(data))
	case "int":
		var n uint64
		for _, b := range data {
			n = n<<8 | uint64(b)
		}
		return fmt.Sprintf("%X (Dec: %d)", data, n)
	default:
		return strings.ToUpper(hex.EncodeToString(data))
	}
}

// MakeSafeASCII replaces every non-printable byte with '.'.
func MakeSafeASCII(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b < 0x20 || b > 0x7E {
			b = '.'
		}
		out[i] = b
	}
	return string(out)
}
