package tlv

import (
	"errors"
	"fmt"
)

// CURSOR DECODING:
// Calypso selection data is walked with a single position cursor rather than decoded
// into a tree. Parse(tag, offset) checks the tag found at offset and, when it is the
// requested one, moves the cursor past the tag and length octets: for a constructed
// tag this lands on its first child, so the next Parse can be issued at Position().
// Value() then copies the value and moves the cursor past it.
//
// Value() is destructive: it can only be called once per successful Parse. Use Peek()
// or Lookup() when the cursor must not move.

var (
	// ErrOutOfRange reports an offset or length that leaves the buffer.
	ErrOutOfRange = errors.New("outside of TLV buffer")
	// ErrNoValue reports a Value/Peek call without a matching Parse before it.
	ErrNoValue = errors.New("no parsed tag awaiting its value")
)

// maxLengthOctets bounds the long length form to 32-bit values.
const maxLengthOctets = 4

// Cursor walks a BER-TLV buffer.
type Cursor struct {
	data   []byte
	pos    int
	length int
	armed  bool
}

// NewCursor creates a cursor positioned at offset 0.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Parse reports whether the tag encoded at offset equals tag. On a match the cursor is
// moved past the tag and length octets and the value becomes readable through Value.
// A mismatch leaves the cursor untouched.
func (c *Cursor) Parse(tag Tag, offset int) (bool, error) {
	found, err := DecodeTag(c.data, offset)
	if err != nil {
		return false, err
	}
	if found != tag {
		return false, nil
	}

	length, lengthSize, err := decodeLength(c.data, offset+found.Size)
	if err != nil {
		return false, fmt.Errorf("tag %s: %w", tag, err)
	}

	start := offset + found.Size + lengthSize
	if start+length > len(c.data) {
		return false, fmt.Errorf("tag %s announces %d bytes, %d available: %w",
			tag, length, len(c.data)-start, ErrOutOfRange)
	}

	c.pos = start
	c.length = length
	c.armed = true
	return true, nil
}

// Value returns a copy of the value of the last parsed tag and advances the cursor
// past it. A second call without a new Parse fails with ErrNoValue.
func (c *Cursor) Value() ([]byte, error) {
	v, err := c.Peek()
	if err != nil {
		return nil, err
	}
	c.pos += c.length
	c.armed = false
	return v, nil
}

// Peek returns a copy of the value of the last parsed tag without moving the cursor.
func (c *Cursor) Peek() ([]byte, error) {
	if !c.armed {
		return nil, ErrNoValue
	}
	v := make([]byte, c.length)
	copy(v, c.data[c.pos:c.pos+c.length])
	return v, nil
}

// Position returns the current cursor offset.
func (c *Cursor) Position() int {
	return c.pos
}

// Length returns the value length of the last parsed tag.
func (c *Cursor) Length() int {
	return c.length
}

// Lookup is the non-mutating form of Parse followed by Value: it returns the value of
// tag at offset and the offset just past that value.
func Lookup(data []byte, tag Tag, offset int) (value []byte, next int, found bool, err error) {
	c := NewCursor(data)
	found, err = c.Parse(tag, offset)
	if err != nil || !found {
		return nil, offset, found, err
	}
	value, err = c.Value()
	if err != nil {
		return nil, offset, false, err
	}
	return value, c.Position(), true, nil
}

// decodeLength reads a short (one octet, < 0x80) or long (0x8N followed by N octets,
// most significant first) length field.
func decodeLength(data []byte, offset int) (length, size int, err error) {
	if offset >= len(data) {
		return 0, 0, fmt.Errorf("missing length octet at offset %d: %w", offset, ErrOutOfRange)
	}

	first := data[offset]
	if first < 0x80 {
		return int(first), 1, nil
	}

	count := int(first & 0x7F)
	if count == 0 || count > maxLengthOctets {
		return 0, 0, fmt.Errorf("unsupported length form %02X", first)
	}
	if offset+count >= len(data) {
		return 0, 0, fmt.Errorf("truncated long length at offset %d: %w", offset, ErrOutOfRange)
	}

	for i := 1; i <= count; i++ {
		length = length<<8 | int(data[offset+i])
	}
	return length, 1 + count, nil
}
