package iso7816

import (
	"fmt"

	"github.com/gregLibert/calypso/pkg/bits"
)

// Class Byte (CLA) according to ISO/IEC 7816-4.
//
// Bit 8 separates the interindustry classes (0) from proprietary ones (1).
// For the first interindustry range (00xx xxxx):
//   - Bit 5:    command chaining.
//   - Bits 4-3: secure messaging indication.
//   - Bits 2-1: logical channel (0-3).
//
// Calypso uses three class bytes:
//   - '00' ISO class, for Revision 3 cards.
//   - '94' legacy proprietary class, for Revision 1 and 2 cards and S1D SAMs.
//   - '80' proprietary class of C1 and S1E SAMs.

// Class is a CLA byte.
type Class byte

const (
	ClassISO    Class = 0x00
	ClassLegacy Class = 0x94
	ClassSAM    Class = 0x80
)

// IsProprietary reports whether bit 8 is set.
func (c Class) IsProprietary() bool {
	return bits.IsSet(byte(c), 8)
}

// IsChained reports the command chaining bit of an interindustry class.
func (c Class) IsChained() bool {
	return !c.IsProprietary() && bits.IsSet(byte(c), 5)
}

// Channel returns the logical channel of a first interindustry class (0-3).
func (c Class) Channel() uint8 {
	if c.IsProprietary() || bits.IsSet(byte(c), 7) {
		return 0
	}
	return bits.GetRange(byte(c), 2, 1)
}

// WithoutChaining clears the chaining bit, as required for GET RESPONSE.
func (c Class) WithoutChaining() Class {
	if c.IsProprietary() {
		return c
	}
	return Class(bits.Clear(byte(c), 5))
}

// Verbose returns a human-readable description of the CLA byte.
func (c Class) Verbose() string {
	switch {
	case c == ClassLegacy:
		return "Class: Calypso legacy (0x94)"
	case c.IsProprietary():
		return fmt.Sprintf("Class: Proprietary (0x%02X)", byte(c))
	default:
		chaining := "last or only command"
		if c.IsChained() {
			chaining = "more commands follow"
		}
		return fmt.Sprintf("Class: Interindustry (0x%02X), channel %d, %s", byte(c), c.Channel(), chaining)
	}
}
