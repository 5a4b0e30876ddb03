package po

import (
	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// MaxCounterValue is the largest value of a 3-byte counter.
const MaxCounterValue = 0xFFFFFF

var counterStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_EXEC_NO_INFO:            swTooManyMods,
	iso7816.SW_ERR_WRONG_LENGTH:            swWrongLength,
	iso7816.SW_ERR_CMD_INCOMPATIBLE_FILE:   {Description: "The current EF is not a Counters or Simulated Counter EF."},
	iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: swSecurity,
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     swAccess,
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF:   swNoCurrentEF,
	iso7816.SW_ERR_INCORRECT_PARAMS_DATA:   {Description: "Overflow or underflow of the counter."},
	iso7816.SW_ERR_FILE_NOT_FOUND:          swFileNotFound,
	iso7816.SW_ERR_WRONG_P1P2:              swP2,
})

// Counter changes one counter of a counters file by a 3-byte value.
type Counter struct {
	command
	modifying
	SFI     byte
	Counter byte
	Value   int
}

// Decode returns the new value of the counter.
func (c *Counter) Decode(resp *iso7816.ResponseAPDU) (int, error) {
	if resp.Status != iso7816.SW_NO_ERROR {
		return 0, nil
	}
	if len(resp.Data) != 3 {
		return 0, calypso.NewEncodingError(c.apdu.Name, "new value of %d bytes, want 3", len(resp.Data))
	}
	return int(resp.Data[0])<<16 | int(resp.Data[1])<<8 | int(resp.Data[2]), nil
}

func newCounter(rev calypso.CardRevision, name string, ins iso7816.Instruction, sfi, counter byte, value int) (*Counter, error) {
	if err := checkSFI(name, sfi); err != nil {
		return nil, err
	}
	if counter == 0 {
		return nil, calypso.NewEncodingError(name, "counter number must be in [1,255]")
	}
	if value < 0 || value > MaxCounterValue {
		return nil, calypso.NewEncodingError(name, "value %d out of range [0,%d]", value, MaxCounterValue)
	}
	data := []byte{byte(value >> 16), byte(value >> 8), byte(value)}
	return &Counter{
		command: newCommand(rev, name, ins, counter, sfi*8, data, iso7816.MaxShortLe, counterStatuses),
		SFI:     sfi,
		Counter: counter,
		Value:   value,
	}, nil
}

// NewIncrease builds Increase.
func NewIncrease(rev calypso.CardRevision, sfi, counter byte, value int) (*Counter, error) {
	return newCounter(rev, "Increase", iso7816.INS_INCREASE, sfi, counter, value)
}

// NewDecrease builds Decrease.
func NewDecrease(rev calypso.CardRevision, sfi, counter byte, value int) (*Counter, error) {
	return newCounter(rev, "Decrease", iso7816.INS_DECREASE, sfi, counter, value)
}
