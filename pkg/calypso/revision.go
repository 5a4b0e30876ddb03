package calypso

import (
	"fmt"

	"github.com/gregLibert/calypso/pkg/bits"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// CardRevision is the Calypso product revision of a card.
type CardRevision int

const (
	Rev2_4 CardRevision = iota
	Rev3_1
	// Rev3_1CLAP is a Revision 3.1 card flagged by bit 8 of the application type.
	Rev3_1CLAP
	Rev3_2
)

// RevisionFromApplicationType derives the revision from the FCI application type byte.
func RevisionFromApplicationType(appType byte) CardRevision {
	if bits.IsSet(appType, 8) {
		return Rev3_1CLAP
	}
	switch bits.GetRange(appType, 8, 4) {
	case 0b00101:
		return Rev3_2
	case 0b00100:
		return Rev3_1
	default:
		return Rev2_4
	}
}

// Class returns the CLA byte used by every card command of this revision.
func (r CardRevision) Class() iso7816.Class {
	if r == Rev2_4 {
		return iso7816.ClassLegacy
	}
	return iso7816.ClassISO
}

// IsRev3 reports whether the card follows the Revision 3 command set.
func (r CardRevision) IsRev3() bool {
	return r != Rev2_4
}

func (r CardRevision) String() string {
	switch r {
	case Rev2_4:
		return "REV2_4"
	case Rev3_1:
		return "REV3_1"
	case Rev3_1CLAP:
		return "REV3_1_CLAP"
	case Rev3_2:
		return "REV3_2"
	default:
		return fmt.Sprintf("CardRevision(%d)", int(r))
	}
}

// ChallengeLength is the size of the terminal challenge sent at session opening.
func (r CardRevision) ChallengeLength() int {
	if r == Rev3_2 {
		return 8
	}
	return 4
}

// SamRevision is the product type of a Calypso SAM.
type SamRevision int

const (
	SamC1 SamRevision = iota
	SamS1E
	SamS1D
)

// ParseSamRevision reads the names used in configuration files (C1, S1E, S1D).
func ParseSamRevision(s string) (SamRevision, error) {
	switch s {
	case "C1":
		return SamC1, nil
	case "S1E":
		return SamS1E, nil
	case "S1D":
		return SamS1D, nil
	default:
		return 0, fmt.Errorf("unknown SAM revision %q", s)
	}
}

// Class returns the CLA byte of the SAM commands.
func (r SamRevision) Class() iso7816.Class {
	if r == SamS1D {
		return iso7816.ClassLegacy
	}
	return iso7816.ClassSAM
}

func (r SamRevision) String() string {
	switch r {
	case SamC1:
		return "C1"
	case SamS1E:
		return "S1E"
	case SamS1D:
		return "S1D"
	default:
		return fmt.Sprintf("SamRevision(%d)", int(r))
	}
}

// AccessLevel selects the key family of a secure session.
type AccessLevel int

const (
	Perso AccessLevel = iota
	Load
	Debit
)

// KeyIndex is the key number sent to the card at session opening.
func (l AccessLevel) KeyIndex() byte {
	return byte(l) + 1
}

func (l AccessLevel) String() string {
	switch l {
	case Perso:
		return "PERSO"
	case Load:
		return "LOAD"
	case Debit:
		return "DEBIT"
	default:
		return fmt.Sprintf("AccessLevel(%d)", int(l))
	}
}

// ParseAccessLevel reads PERSO, LOAD or DEBIT, in upper or lower case.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch s {
	case "PERSO", "perso":
		return Perso, nil
	case "LOAD", "load":
		return Load, nil
	case "DEBIT", "debit":
		return Debit, nil
	default:
		return 0, fmt.Errorf("unknown access level %q", s)
	}
}

// KeyReference identifies a key in the SAM: Key Identifier and Key Version.
type KeyReference struct {
	KIF byte `yaml:"kif"`
	KVC byte `yaml:"kvc"`
}

func (k KeyReference) String() string {
	return fmt.Sprintf("KIF %02X KVC %02X", k.KIF, k.KVC)
}
