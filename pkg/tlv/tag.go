package tlv

import (
	"errors"
	"fmt"

	"github.com/gregLibert/calypso/pkg/bits"
)

// BER-TLV TAG FIELD (ISO/IEC 8825-1, as profiled by ISO/IEC 7816-4):
//
// First octet:
//   - Bits 8-7: Class (00 universal, 01 application, 10 context-specific, 11 private).
//   - Bit 6:    0 = primitive, 1 = constructed.
//   - Bits 5-1: Tag number, or 11111 when the number follows in subsequent octets.
//
// Subsequent octets (only when bits 5-1 are all ones) carry the number on 7 bits with
// bit 8 as a "more octets follow" flag. Calypso selection data never needs more than
// one subsequent octet ('BF0C'), so this decoder handles tags of 1 or 2 octets.
//
// Note that the size is part of a Tag's identity: 'BF0C' (context, constructed,
// number 12, two octets) is a distinct tag from 'AC' even though both encode 12.

// TagClass is the two-bit class of a BER-TLV tag.
type TagClass byte

const (
	ClassUniversal   TagClass = 0b00
	ClassApplication TagClass = 0b01
	ClassContext     TagClass = 0b10
	ClassPrivate     TagClass = 0b11
)

func (c TagClass) String() string {
	switch c {
	case ClassUniversal:
		return "universal"
	case ClassApplication:
		return "application"
	case ClassContext:
		return "context"
	case ClassPrivate:
		return "private"
	default:
		return fmt.Sprintf("TagClass(%d)", byte(c))
	}
}

// ErrUnsupportedTag is returned for tags longer than two octets.
var ErrUnsupportedTag = errors.New("tag longer than 2 octets")

// Tag identifies a BER-TLV data object.
type Tag struct {
	Class       TagClass
	Constructed bool
	Number      int
	Size        int // encoded size in octets, 1 or 2
}

// NewTag builds a Tag. Size must be 1 (numbers 0-30) or 2 (numbers 0-127).
func NewTag(number int, class TagClass, constructed bool, size int) (Tag, error) {
	switch {
	case size == 1 && (number < 0 || number > 30):
		return Tag{}, fmt.Errorf("tag number %d does not fit in one octet", number)
	case size == 2 && (number < 0 || number > 127):
		return Tag{}, fmt.Errorf("tag number %d does not fit in two octets", number)
	case size != 1 && size != 2:
		return Tag{}, fmt.Errorf("tag size %d: %w", size, ErrUnsupportedTag)
	}
	return Tag{Class: class, Constructed: constructed, Number: number, Size: size}, nil
}

// MustTag is NewTag for package-level tag tables; it panics on invalid input.
func MustTag(number int, class TagClass, constructed bool, size int) Tag {
	t, err := NewTag(number, class, constructed, size)
	if err != nil {
		panic(err)
	}
	return t
}

// DecodeTag reads the tag starting at data[offset].
func DecodeTag(data []byte, offset int) (Tag, error) {
	if offset < 0 || offset >= len(data) {
		return Tag{}, fmt.Errorf("tag offset %d outside buffer of %d bytes: %w", offset, len(data), ErrOutOfRange)
	}

	first := data[offset]
	t := Tag{
		Class:       TagClass(bits.GetRange(first, 8, 7)),
		Constructed: bits.IsSet(first, 6),
		Number:      int(bits.GetRange(first, 5, 1)),
		Size:        1,
	}

	if t.Number != 0x1F {
		return t, nil
	}

	if offset+1 >= len(data) {
		return Tag{}, fmt.Errorf("truncated tag at offset %d: %w", offset, ErrOutOfRange)
	}
	next := data[offset+1]
	if bits.IsSet(next, 8) {
		return Tag{}, fmt.Errorf("tag %02X%02X...: %w", first, next, ErrUnsupportedTag)
	}
	t.Number = int(next)
	t.Size = 2
	return t, nil
}

// Bytes returns the encoded tag octets.
func (t Tag) Bytes() []byte {
	first := byte(t.Class) << 6
	if t.Constructed {
		first = bits.Set(first, 6)
	}
	if t.Size == 1 {
		return []byte{first | byte(t.Number)}
	}
	return []byte{first | 0x1F, byte(t.Number) & 0x7F}
}

// String renders the tag as hex followed by its decoded attributes.
func (t Tag) String() string {
	form := "primitive"
	if t.Constructed {
		form = "constructed"
	}
	return fmt.Sprintf("%X (%s, %s, #%d)", t.Bytes(), t.Class, form, t.Number)
}
