package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeTag(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Tag
	}{
		{"DF Name", Hex("84"), Tag{ClassContext, false, 4, 1}},
		{"FCI Template", Hex("6F"), Tag{ClassApplication, true, 15, 1}},
		{"Issuer Discretionary Data", Hex("BF0C"), Tag{ClassContext, true, 12, 2}},
		{"Serial Number", Hex("C7"), Tag{ClassPrivate, false, 7, 1}},
		{"Universal Sequence", Hex("30"), Tag{ClassUniversal, true, 16, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeTag(tt.data, 0)
			if err != nil {
				t.Fatalf("DecodeTag() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeTag() = %+v; want %+v", got, tt.want)
			}
			if !bytes.Equal(got.Bytes(), tt.data) {
				t.Errorf("Bytes() = %X; want %X", got.Bytes(), tt.data)
			}
		})
	}
}

func TestDecodeTag_Errors(t *testing.T) {
	if _, err := DecodeTag(Hex("BF"), 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("truncated two-octet tag: err = %v; want ErrOutOfRange", err)
	}
	if _, err := DecodeTag(Hex("BF 81 01"), 0); !errors.Is(err, ErrUnsupportedTag) {
		t.Errorf("three-octet tag: err = %v; want ErrUnsupportedTag", err)
	}
}

func TestNewTag_Validation(t *testing.T) {
	if _, err := NewTag(31, ClassContext, false, 1); err == nil {
		t.Error("NewTag(31, size 1) should fail")
	}
	if _, err := NewTag(12, ClassContext, true, 3); !errors.Is(err, ErrUnsupportedTag) {
		t.Errorf("NewTag(size 3) err = %v; want ErrUnsupportedTag", err)
	}
	tag, err := NewTag(12, ClassContext, true, 2)
	if err != nil {
		t.Fatal(err)
	}
	if tag.String() != "BF0C (context, constructed, #12)" {
		t.Errorf("String() = %q", tag.String())
	}
}
