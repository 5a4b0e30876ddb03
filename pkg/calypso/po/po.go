// Package po implements the Calypso card (Portable Object) command set.
//
// Each command is built by a constructor taking the card revision plus its own
// parameters, validated before any byte is sent, and implements calypso.Codec
// for its decoded result:
//
//	cmd, err := po.NewReadRecords(info.Revision, 0x08, 1, po.ReadOneRecord)
//
// The class byte follows the revision ('94' for Revision 2.4, '00' otherwise).
// Modifying commands (Update, Write, Append, Increase, Decrease) implement
// calypso.Modifying so that a secure session can account for its buffer.
package po

import (
	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// MaxSFI is the largest Short File Identifier (5 bits).
const MaxSFI = 31

// command carries the fields shared by every card command.
type command struct {
	apdu     *iso7816.CommandAPDU
	statuses iso7816.StatusTable
}

func (c *command) APDU() *iso7816.CommandAPDU { return c.apdu }

func (c *command) Statuses() iso7816.StatusTable { return c.statuses }

func newCommand(rev calypso.CardRevision, name string, ins iso7816.Instruction, p1, p2 byte, data []byte, ne int, table iso7816.StatusTable) command {
	return command{
		apdu:     iso7816.NewCommandAPDU(rev.Class(), ins, p1, p2, data, ne).Named(name),
		statuses: table,
	}
}

// modifying marks commands written to the session buffer.
type modifying struct{}

func (modifying) ModifiesCard() bool { return true }

func checkSFI(name string, sfi byte) error {
	if sfi > MaxSFI {
		return calypso.NewEncodingError(name, "SFI %d out of range [0,%d]", sfi, MaxSFI)
	}
	return nil
}

func checkRecord(name string, record byte) error {
	if record == 0 {
		return calypso.NewEncodingError(name, "record number must be in [1,255]")
	}
	return nil
}

func checkData(name string, data []byte) error {
	if len(data) == 0 || len(data) > iso7816.MaxShortLc {
		return calypso.NewEncodingError(name, "data length %d out of range [1,%d]", len(data), iso7816.MaxShortLc)
	}
	return nil
}

// Status descriptions shared by several card commands.
var (
	swSecurity      = iso7816.StatusProperties{Description: "Security conditions not fulfilled (PIN code not presented, encryption required)."}
	swAccess        = iso7816.StatusProperties{Description: "Access forbidden (Never access mode, Stored Value log file and a Stored Value operation was done during the current session)."}
	swNoCurrentEF   = iso7816.StatusProperties{Description: "Command not allowed (no current EF)."}
	swFileNotFound  = iso7816.StatusProperties{Description: "File not found."}
	swP2            = iso7816.StatusProperties{Description: "P2 value not supported."}
	swTooManyMods   = iso7816.StatusProperties{Description: "Too many modifications in session."}
	swWrongLength   = iso7816.StatusProperties{Description: "Lc value not supported."}
	swBinaryFile    = iso7816.StatusProperties{Description: "Command forbidden on binary files."}
	swRecordMissing = iso7816.StatusProperties{Description: "Record not found (record index is 0, or above NumRec)."}
)
