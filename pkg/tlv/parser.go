// Package tlv decodes BER-TLV (Basic Encoding Rules - Tag-Length-Value) data.
//
// Two complementary decoders live here:
//   - Cursor walks a buffer tag by tag without building a tree. Calypso selection
//     handling uses it to pick the DF name, serial number and startup information out
//     of the FCI in a fixed order.
//   - Unmarshal decodes the whole buffer with github.com/moov-io/bertlv and maps it onto
//     a Go struct through `tlv:"84"` field tags, for reporting purposes.
package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Unmarshal decodes raw BER-TLV data and maps it into target, which must be a
// pointer to a struct.
func Unmarshal(data []byte, target interface{}) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps pre-decoded packets onto target.
//
// Supported field kinds are []byte (raw value, or re-encoded children for constructed
// tags), nested structs or struct pointers (for constructed tags), and one
// []bertlv.TLV field tagged `tlv:",unknown"` collecting packets no field claimed.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a non-nil pointer to a struct, got %T", target)
	}
	v = v.Elem()
	t := v.Type()

	claimed := make([]bool, len(packets))
	unknownIdx := -1

	for i := 0; i < t.NumField(); i++ {
		cfg := t.Field(i).Tag.Get("tlv")
		if cfg == "" {
			continue
		}
		if cfg == ",unknown" {
			unknownIdx = i
			continue
		}

		wanted := strings.ToUpper(strings.Split(cfg, ",")[0])
		for idx, p := range packets {
			if !strings.EqualFold(p.Tag, wanted) {
				continue
			}
			if err := assign(p, v.Field(i)); err != nil {
				return fmt.Errorf("field %s (tag %s): %w", t.Field(i).Name, wanted, err)
			}
			claimed[idx] = true
		}
	}

	if unknownIdx < 0 {
		return nil
	}

	var leftovers []bertlv.TLV
	for idx, p := range packets {
		if !claimed[idx] {
			leftovers = append(leftovers, p)
		}
	}
	if len(leftovers) > 0 {
		v.Field(unknownIdx).Set(reflect.ValueOf(leftovers))
	}
	return nil
}

func assign(p bertlv.TLV, field reflect.Value) error {
	switch {
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Uint8:
		raw, err := rawValue(p)
		if err != nil {
			return err
		}
		field.SetBytes(raw)
		return nil

	case field.Kind() == reflect.Struct:
		return unmarshalNested(p, field.Addr().Interface())

	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return unmarshalNested(p, field.Interface())

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
}

func unmarshalNested(p bertlv.TLV, target interface{}) error {
	if len(p.TLVs) > 0 {
		return UnmarshalFromPackets(p.TLVs, target)
	}
	return Unmarshal(p.Value, target)
}

func rawValue(p bertlv.TLV) ([]byte, error) {
	if len(p.TLVs) == 0 {
		return p.Value, nil
	}
	return bertlv.Encode(p.TLVs)
}
