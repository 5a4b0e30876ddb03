package tlv

import (
	"bytes"
	"testing"
)

func TestHex(t *testing.T) {
	tests := []struct {
		name      string
		inputs    []string
		want      []byte
		wantPanic bool
	}{
		{"Simple Join", []string{"94", "B2"}, []byte{0x94, 0xB2}, false},
		{"With Spaces", []string{"94 B2", " 01 44 "}, []byte{0x94, 0xB2, 0x01, 0x44}, false},
		{"Tabs and Newlines", []string{"00\tCA\n00 6F"}, []byte{0x00, 0xCA, 0x00, 0x6F}, false},
		{"Mixed Case", []string{"ca", "FE"}, []byte{0xCA, 0xFE}, false},
		{"Invalid Hex", []string{"ZZ"}, nil, true},
		{"Odd Length", []string{"123"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if (r != nil) != tt.wantPanic {
					t.Errorf("Hex() panic = %v, wantPanic %v", r, tt.wantPanic)
				}
			}()

			got := Hex(tt.inputs...)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Hex() = %X, want %X", got, tt.want)
			}
		})
	}
}
