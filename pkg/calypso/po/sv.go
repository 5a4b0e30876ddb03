package po

import (
	"fmt"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// STORED VALUE:
// SV Get ('7C') returns the purse state and the last log of the requested
// operation. SV Reload ('B8') and SV Debit ('BA') carry data prepared by the SAM:
// a 3-byte challenge spread over P1, P2 and the first data byte, the SAM
// identification and transaction number, and the SAM's half signature.

// SvOperation selects the log returned by SV Get.
type SvOperation byte

const (
	SvReload SvOperation = 0x07
	SvDebit  SvOperation = 0x09
)

func (o SvOperation) String() string {
	switch o {
	case SvReload:
		return "RELOAD"
	case SvDebit:
		return "DEBIT"
	default:
		return fmt.Sprintf("SvOperation(0x%02X)", byte(o))
	}
}

const (
	svGetHeaderLength = 11
	svLoadLogLength   = 22
	svDebitLogLength  = 19
)

// SvLoadLog is the last reload recorded by the purse.
type SvLoadLog struct {
	Date                 []byte
	Free                 []byte
	KVC                  byte
	Balance              int
	Amount               int
	Time                 []byte
	SamID                []byte
	SamTransactionNumber int
	SvTransactionNumber  int
}

// SvDebitLog is the last debit recorded by the purse.
type SvDebitLog struct {
	Amount               int
	Date                 []byte
	Time                 []byte
	KVC                  byte
	SamID                []byte
	SamTransactionNumber int
	Balance              int
	SvTransactionNumber  int
}

// SvGetResult is the decoded answer to SV Get.
type SvGetResult struct {
	KVC                 byte
	TransactionNumber   int
	PreviousSignatureLo []byte
	Challenge           []byte
	Balance             int
	LoadLog             *SvLoadLog
	DebitLog            *SvDebitLog
}

var svGetStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_WRONG_LENGTH:            {Description: "Lc value not supported."},
	iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: {Description: "Security conditions not fulfilled."},
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     {Description: "Preconditions not satisfied."},
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO: {Description: "Transaction Counter is 0."},
	iso7816.SW_ERR_INS_INVALID:             {Description: "Stored Value function not present."},
	iso7816.SW_ERR_WRONG_P1P2:              {Description: "P1 or P2 value not supported."},
})

// SvGet reads the purse before a reload or a debit.
type SvGet struct {
	command
	Operation SvOperation
}

// NewSvGet builds SV Get.
func NewSvGet(rev calypso.CardRevision, op SvOperation) (*SvGet, error) {
	if op != SvReload && op != SvDebit {
		return nil, calypso.NewEncodingError("SV Get", "unknown operation %02X", byte(op))
	}
	// Le is the exact length: the purse header and the log of op.
	ne := svGetHeaderLength + svDebitLogLength
	if op == SvReload {
		ne = svGetHeaderLength + svLoadLogLength
	}
	return &SvGet{
		command:   newCommand(rev, "SV Get", iso7816.INS_SV_GET, 0x00, byte(op), nil, ne, svGetStatuses),
		Operation: op,
	}, nil
}

// Decode parses the purse header and the log of the requested operation.
func (c *SvGet) Decode(resp *iso7816.ResponseAPDU) (*SvGetResult, error) {
	if resp.Status != iso7816.SW_NO_ERROR {
		return nil, nil
	}
	want := svGetHeaderLength + svDebitLogLength
	if c.Operation == SvReload {
		want = svGetHeaderLength + svLoadLogLength
	}
	d := resp.Data
	if len(d) != want {
		return nil, calypso.NewEncodingError(c.apdu.Name, "response of %d bytes, want %d", len(d), want)
	}

	out := &SvGetResult{
		KVC:                 d[0],
		TransactionNumber:   unsigned(d[1:3]),
		PreviousSignatureLo: append([]byte(nil), d[3:6]...),
		Challenge:           append([]byte(nil), d[6:8]...),
		Balance:             signed(d[8:11]),
	}
	l := d[svGetHeaderLength:]
	if c.Operation == SvReload {
		out.LoadLog = &SvLoadLog{
			Date:                 append([]byte(nil), l[0:2]...),
			Free:                 []byte{l[2], l[4]},
			KVC:                  l[3],
			Balance:              signed(l[5:8]),
			Amount:               signed(l[8:11]),
			Time:                 append([]byte(nil), l[11:13]...),
			SamID:                append([]byte(nil), l[13:17]...),
			SamTransactionNumber: unsigned(l[17:20]),
			SvTransactionNumber:  unsigned(l[20:22]),
		}
	} else {
		out.DebitLog = &SvDebitLog{
			Amount:               signed(l[0:2]),
			Date:                 append([]byte(nil), l[2:4]...),
			Time:                 append([]byte(nil), l[4:6]...),
			KVC:                  l[6],
			SamID:                append([]byte(nil), l[7:11]...),
			SamTransactionNumber: unsigned(l[11:14]),
			Balance:              signed(l[14:17]),
			SvTransactionNumber:  unsigned(l[17:19]),
		}
	}
	return out, nil
}

// SvSecurityData is what the SAM prepares for a reload or a debit.
type SvSecurityData struct {
	Challenge            [3]byte
	SamID                [4]byte
	SamTransactionNumber int
	// SignatureHi is 5 bytes long, or 10 in extended mode.
	SignatureHi []byte
}

func (s SvSecurityData) validate(name string) error {
	if len(s.SignatureHi) != 5 && len(s.SignatureHi) != 10 {
		return calypso.NewEncodingError(name, "SAM signature of %d bytes, want 5 or 10", len(s.SignatureHi))
	}
	if s.SamTransactionNumber < 0 || s.SamTransactionNumber > MaxCounterValue {
		return calypso.NewEncodingError(name, "SAM transaction number %d out of range", s.SamTransactionNumber)
	}
	return nil
}

var svOperationStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_EXEC_NO_INFO:            swTooManyMods,
	iso7816.SW_ERR_WRONG_LENGTH:            {Description: "Lc value not supported."},
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO: {Description: "Transaction Counter is 0."},
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     {Description: "Preconditions not satisfied."},
	iso7816.SW_ERR_SM_OBJ_INCORRECT:        {Description: "Incorrect signature."},
	iso7816.SW_ERR_INCORRECT_PARAMS_DATA:   {Description: "Incorrect amount or balance overflow."},
	iso7816.SW_ERR_INS_INVALID:             {Description: "Stored Value function not present."},
})

// SvOperationResult is the decoded answer to SV Reload and SV Debit.
type SvOperationResult struct {
	// SignatureLo is the card's 3-byte signature, empty inside a secure session.
	SignatureLo []byte
}

// SvCommand is SV Reload or SV Debit.
type SvCommand struct {
	command
	modifying
	Amount int
}

// Decode returns the card signature.
func (c *SvCommand) Decode(resp *iso7816.ResponseAPDU) (SvOperationResult, error) {
	if resp.Status != iso7816.SW_NO_ERROR {
		return SvOperationResult{}, nil
	}
	switch len(resp.Data) {
	case 0:
		return SvOperationResult{}, nil
	case 3, 6:
		return SvOperationResult{SignatureLo: append([]byte(nil), resp.Data...)}, nil
	default:
		return SvOperationResult{}, calypso.NewEncodingError(c.apdu.Name, "signature of %d bytes, want 0, 3 or 6", len(resp.Data))
	}
}

// NewSvReload builds SV Reload. The amount is a signed 3-byte value.
func NewSvReload(rev calypso.CardRevision, amount int, date, time [2]byte, free [2]byte, kvc byte, sec SvSecurityData) (*SvCommand, error) {
	const name = "SV Reload"
	if amount < -0x800000 || amount > 0x7FFFFF {
		return nil, calypso.NewEncodingError(name, "amount %d out of range", amount)
	}
	if err := sec.validate(name); err != nil {
		return nil, err
	}

	data := make([]byte, 0, 18+len(sec.SignatureHi))
	data = append(data, sec.Challenge[2])
	data = append(data, date[:]...)
	data = append(data, free[0], kvc, free[1])
	data = append(data, byte(amount>>16), byte(amount>>8), byte(amount))
	data = append(data, time[:]...)
	data = append(data, sec.SamID[:]...)
	data = append(data, byte(sec.SamTransactionNumber>>16), byte(sec.SamTransactionNumber>>8), byte(sec.SamTransactionNumber))
	data = append(data, sec.SignatureHi...)

	return &SvCommand{
		command: newCommand(rev, name, iso7816.INS_SV_RELOAD, sec.Challenge[0], sec.Challenge[1], data, iso7816.MaxShortLe, svOperationStatuses),
		Amount:  amount,
	}, nil
}

// NewSvDebit builds SV Debit. The amount is positive and sent negated on 2 bytes.
func NewSvDebit(rev calypso.CardRevision, amount int, date, time [2]byte, kvc byte, sec SvSecurityData) (*SvCommand, error) {
	const name = "SV Debit"
	if amount < 0 || amount > 0x7FFF {
		return nil, calypso.NewEncodingError(name, "amount %d out of range [0,32767]", amount)
	}
	if err := sec.validate(name); err != nil {
		return nil, err
	}

	negated := -amount
	data := make([]byte, 0, 15+len(sec.SignatureHi))
	data = append(data, sec.Challenge[2])
	data = append(data, byte(negated>>8), byte(negated))
	data = append(data, date[:]...)
	data = append(data, time[:]...)
	data = append(data, kvc)
	data = append(data, sec.SamID[:]...)
	data = append(data, byte(sec.SamTransactionNumber>>16), byte(sec.SamTransactionNumber>>8), byte(sec.SamTransactionNumber))
	data = append(data, sec.SignatureHi...)

	return &SvCommand{
		command: newCommand(rev, name, iso7816.INS_SV_DEBIT, sec.Challenge[0], sec.Challenge[1], data, iso7816.MaxShortLe, svOperationStatuses),
		Amount:  amount,
	}, nil
}

func unsigned(b []byte) int {
	n := 0
	for _, v := range b {
		n = n<<8 | int(v)
	}
	return n
}

// signed reads a big-endian two's complement value.
func signed(b []byte) int {
	n := unsigned(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		n -= 1 << (8 * len(b))
	}
	return n
}
