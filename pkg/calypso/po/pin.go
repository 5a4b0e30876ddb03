package po

import (
	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// PINLength is the size of a plain Calypso PIN.
const PINLength = 4

// maxPINAttempts is the attempt counter of a PIN that was never mistyped.
const maxPINAttempts = 3

var pinStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_WRONG_LENGTH:            {Description: "Lc value not supported (only 00h, 04h or 08h are supported)."},
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO: {Description: "Transaction Counter is 0."},
	iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: {Description: "Security conditions not fulfilled (Get Challenge not done: challenge unavailable)."},
	iso7816.SW_ERR_AUTH_METHOD_BLOCKED:     {Description: "Presentation rejected (PIN is blocked)."},
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     {Description: "Access forbidden (a session is open or DF is invalidated)."},
	iso7816.NewStatusWord(0x63, 0xC1):      {Description: "Incorrect PIN (1 attempt remaining)."},
	iso7816.NewStatusWord(0x63, 0xC2):      {Description: "Incorrect PIN (2 attempts remaining)."},
	iso7816.SW_ERR_INS_INVALID:             {Description: "PIN function not present."},
	iso7816.SW_ERR_WRONG_P1P2:              {Description: "P1 or P2 value not supported."},
})

// PINStatus is what the card tells about its PIN.
type PINStatus struct {
	AttemptsRemaining int
	Blocked           bool
}

// VerifyPIN presents a plain PIN, or reads the attempt counter when no PIN is given.
type VerifyPIN struct {
	command
}

// NewVerifyPIN builds Verify PIN with a 4-byte plain PIN.
func NewVerifyPIN(rev calypso.CardRevision, pin []byte) (*VerifyPIN, error) {
	if len(pin) != PINLength {
		return nil, calypso.NewEncodingError("Verify PIN", "PIN of %d bytes, want %d", len(pin), PINLength)
	}
	return &VerifyPIN{newCommand(rev, "Verify PIN", iso7816.INS_VERIFY, 0x00, 0x00, pin, 0, pinStatuses)}, nil
}

// NewCheckPINStatus builds the Verify PIN variant without data that only
// returns the attempt counter.
func NewCheckPINStatus(rev calypso.CardRevision) *VerifyPIN {
	return &VerifyPIN{newCommand(rev, "Check PIN Status", iso7816.INS_VERIFY, 0x00, 0x00, nil, 0, pinStatuses)}
}

// Decode reads the attempt counter from the status word.
func (c *VerifyPIN) Decode(resp *iso7816.ResponseAPDU) (PINStatus, error) {
	sw := resp.Status
	switch {
	case sw == iso7816.SW_NO_ERROR:
		return PINStatus{AttemptsRemaining: maxPINAttempts}, nil
	case sw == iso7816.SW_ERR_AUTH_METHOD_BLOCKED:
		return PINStatus{Blocked: true}, nil
	case sw.IsCounter():
		return PINStatus{AttemptsRemaining: int(sw.SW2() & 0x0F)}, nil
	default:
		return PINStatus{}, nil
	}
}
