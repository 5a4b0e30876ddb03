package tlv

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/moov-io/bertlv"
)

type reportTemplate struct {
	DFName     []byte `tlv:"84" fmt:"ascii"`
	Indicator  []byte `tlv:"53" fmt:"int"`
	RawData    []byte
	EmptyField []byte       `tlv:"C7"`
	Unknown    []bertlv.TLV `tlv:",unknown"`
}

func TestWriteStructFields(t *testing.T) {
	tmpl := reportTemplate{
		DFName:    []byte("1TIC.ICA\x00"),
		Indicator: []byte{0x01, 0x00},
		RawData:   []byte{0xCA, 0xFE},
		Unknown:   []bertlv.TLV{{Tag: "9f01", Value: []byte{0x12, 0x34}}},
	}

	tests := []struct {
		name          string
		prefix        string
		input         interface{}
		expectedLines []string
	}{
		{
			name:   "Struct Pointer Input",
			prefix: "FCI",
			input:  &tmpl,
			expectedLines: []string{
				`    - FCI.DFName (84): 315449432E49434100 ("1TIC.ICA.")`,
				"    - FCI.Indicator (53): 0100 (Dec: 256)",
				"    - FCI.RawData: CAFE",
				"    - FCI.Unknown Tag 9F01: 1234",
			},
		},
		{
			name:          "Nil Pointer",
			prefix:        "Nil",
			input:         (*reportTemplate)(nil),
			expectedLines: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			WriteStructFields(&sb, tt.prefix, tt.input)
			if diff := cmp.Diff(tt.expectedLines, strings.Split(sb.String(), "\n")); diff != "" {
				t.Errorf("Mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteStructFields_SeparatesBlocks(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("=== HEADER ===")
	WriteStructFields(&sb, "X", reportTemplate{RawData: []byte{0x01}})

	want := "=== HEADER ===\n    - X.RawData: 01"
	if sb.String() != want {
		t.Errorf("got %q; want %q", sb.String(), want)
	}
}

func TestMakeSafeASCII(t *testing.T) {
	got := MakeSafeASCII([]byte{0x41, 0x42, 0x00, 0x1F, 0x7F, 0x43})
	if got != "AB...C" {
		t.Errorf("MakeSafeASCII() = %q, want %q", got, "AB...C")
	}
}
