package iso7816

import (
	"bytes"
	"fmt"
)

// APDU (Application Protocol Data Unit) structures and encodings according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU (C-APDU):
//   - Header (mandatory, 4 bytes): CLA, INS, P1, P2.
//   - Body (optional): Lc + Data, then Le.
//
// ENCODING CASES (ISO 7816-3):
//   - Case 1: Header only.
//   - Case 2: Header + Le.
//   - Case 3: Header + Lc + Data.
//   - Case 4: Header + Lc + Data + Le.
//
// Lc/Le are one byte long in Short mode (Le '00' meaning 256). Extended mode
// (Lc > 255 or Le > 256) is encoded for completeness; Calypso cards and SAMs only
// ever receive short APDUs.
//
// RESPONSE APDU (R-APDU):
//   - Body (optional): data-out.
//   - Trailer (mandatory): SW1 SW2.
//
// The raw bytes of a response are kept verbatim: the secure session MAC is computed
// over the exact bytes exchanged with the card, never over a re-encoding.

// APDU Limits according to ISO 7816-3.
const (
	// MaxShortLc is the maximum data length (Nc) encodable in Short Length mode.
	MaxShortLc = 255

	// MaxShortLe is the maximum Ne encodable in Short Length mode ('00' encodes 256).
	MaxShortLe = 256

	// MaxExtendedLc is the limit for Lc in Extended mode.
	MaxExtendedLc = 65535

	// MaxExtendedLe is the maximum Ne encodable in Extended mode ('0000' encodes 65536).
	MaxExtendedLe = 65536

	// HeaderLength is the size of CLA INS P1 P2.
	HeaderLength = 4
)

// CommandAPDU represents a command sent to a card or SAM. It is treated as
// immutable once built.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means none)

	// Name is a human-readable label used in logs and errors ("Read Records", ...).
	Name string
}

// NewCommandAPDU creates a command. The data slice is copied.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	var d []byte
	if len(data) > 0 {
		d = append([]byte(nil), data...)
	}
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        d,
		Ne:          ne,
		Name:        ins.String(),
	}
}

// Named sets the diagnostic name and returns the command for chaining.
func (c *CommandAPDU) Named(name string) *CommandAPDU {
	c.Name = name
	return c
}

// Bytes encodes the CommandAPDU (C-APDU), choosing Short or Extended length
// encoding from Nc and Ne.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	nc := len(c.Data)
	ne := c.Ne

	if nc > MaxExtendedLc {
		return nil, fmt.Errorf("%s: data length %d exceeds %d", c.Name, nc, MaxExtendedLc)
	}
	if ne < 0 || ne > MaxExtendedLe {
		return nil, fmt.Errorf("%s: expected length %d out of range", c.Name, ne)
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderLength+3+nc+3))
	buf.Write([]byte{byte(c.Class), byte(c.Instruction), c.P1, c.P2})

	extended := nc > MaxShortLc || ne > MaxShortLe

	if nc > 0 {
		if extended {
			buf.Write([]byte{0x00, byte(nc >> 8), byte(nc)})
		} else {
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	if ne > 0 {
		switch {
		case !extended:
			// 256 wraps to '00'
			buf.WriteByte(byte(ne))
		case nc == 0:
			// Case 2 Extended: leading '00' then two Le bytes ('0000' = 65536).
			buf.Write([]byte{0x00, byte(ne >> 8), byte(ne)})
		default:
			buf.Write([]byte{byte(ne >> 8), byte(ne)})
		}
	}

	return buf.Bytes(), nil
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | CLA: %02X INS: %02X P1: %02X P2: %02X | Lc: %d | Le: %d",
		c.Name, byte(c.Class), byte(c.Instruction), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord

	raw []byte
}

// ParseResponseAPDU parses raw bytes received from the card into a ResponseAPDU.
// The input must contain at least 2 bytes (SW1, SW2). The bytes are copied;
// Data is nil when the response carries no data-out.
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response of %d byte(s): %w", len(raw), ErrMalformedResponse)
	}

	kept := append([]byte(nil), raw...)
	indexSW1 := len(kept) - 2

	resp := &ResponseAPDU{
		Status: NewStatusWord(kept[indexSW1], kept[indexSW1+1]),
		raw:    kept,
	}
	if indexSW1 > 0 {
		resp.Data = kept[:indexSW1:indexSW1]
	}
	return resp, nil
}

// NewResponseAPDU builds a response from its parts, as a card simulator would emit it.
func NewResponseAPDU(data []byte, sw StatusWord) *ResponseAPDU {
	raw := make([]byte, 0, len(data)+2)
	raw = append(raw, data...)
	raw = append(raw, sw.SW1(), sw.SW2())
	resp, _ := ParseResponseAPDU(raw)
	return resp
}

// Bytes returns the response exactly as received: data-out followed by SW1 SW2.
func (r *ResponseAPDU) Bytes() []byte {
	if r.raw == nil {
		out := make([]byte, 0, len(r.Data)+2)
		out = append(out, r.Data...)
		return append(out, r.Status.SW1(), r.Status.SW2())
	}
	return append([]byte(nil), r.raw...)
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
