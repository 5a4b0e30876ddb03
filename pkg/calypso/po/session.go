package po

import (
	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// SECURE SESSION COMMANDS:
//
// Open Secure Session ('8A') differs for every revision:
//
//	Rev 2.4: P1 = 80 + record*8 + key index, P2 = SFI*8, data = 4-byte challenge, no Le.
//	         Response: KVC, counter (3), random (1), [record (29)], [2 ratification bytes]
//	Rev 3.1: P1 = record*8 + key index, P2 = SFI*8 + 1, data = 4-byte challenge.
//	         Response: counter (3), random (1), ratification (1), KIF, KVC, length, data
//	Rev 3.2: P1 = record*8 + key index, P2 = SFI*8 + 2, data = 00 + 8-byte challenge.
//	         Response: counter (3), random (5), flags (1), KIF, KVC, length, data
//
// Close Secure Session ('8E') carries the SAM's half signature and returns the
// card's half signature, possibly preceded by postponed data.

// unknownKIF stands for the KIF of Revision 2.4 cards, which do not return it.
const unknownKIF = 0xFF

var openStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_EXEC_NO_INFO:            swTooManyMods,
	iso7816.SW_ERR_WRONG_LENGTH:            {Description: "Lc value not supported."},
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO: {Description: "Transaction Counter is 0."},
	iso7816.SW_ERR_CMD_INCOMPATIBLE_FILE:   {Description: "Command forbidden (read requested and current EF is a Binary file)."},
	iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT: {Description: "Security conditions not fulfilled (PIN code not presented, AES key forbidding the compatibility mode, encryption required)."},
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     {Description: "Access forbidden (Never access mode, Session already opened)."},
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_EF:   {Description: "Command not allowed (read requested and no current EF)."},
	iso7816.SW_ERR_FUNC_NOT_SUPPORTED:      {Description: "Wrong key index."},
	iso7816.SW_ERR_FILE_NOT_FOUND:          swFileNotFound,
	iso7816.SW_ERR_RECORD_NOT_FOUND:        {Description: "Record not found (record index is above NumRec)."},
	iso7816.SW_ERR_WRONG_P1P2:              {Description: "P1 or P2 value not supported."},
})

// OpenSessionResult is the decoded answer to Open Secure Session.
type OpenSessionResult struct {
	TransactionCounter            int
	CardChallenge                 []byte
	PreviousSessionRatified       bool
	ManageSecureSessionAuthorized bool
	KIF                           byte
	KVC                           byte
	// RecordData is the record read at opening, if any.
	RecordData []byte
	// Data is the whole data-out, fed to the SAM at Digest Init.
	Data []byte
}

// OpenSession opens a secure session for an access level.
type OpenSession struct {
	command
	Revision  calypso.CardRevision
	Level     calypso.AccessLevel
	SFI       byte
	Record    byte
	Challenge []byte
}

// NewOpenSession builds Open Secure Session. The challenge comes from the SAM and
// must be 8 bytes long for Revision 3.2 cards, 4 otherwise. A zero record reads nothing.
func NewOpenSession(rev calypso.CardRevision, level calypso.AccessLevel, challenge []byte, sfi, record byte) (*OpenSession, error) {
	const name = "Open Secure Session"
	if err := checkSFI(name, sfi); err != nil {
		return nil, err
	}
	if len(challenge) != rev.ChallengeLength() {
		return nil, calypso.NewEncodingError(name, "challenge of %d bytes, %s expects %d", len(challenge), rev, rev.ChallengeLength())
	}
	if level < calypso.Perso || level > calypso.Debit {
		return nil, calypso.NewEncodingError(name, "unknown access level %d", int(level))
	}

	keyIndex := level.KeyIndex()
	var (
		p1, p2 byte
		data   []byte
		ne     int
	)
	switch rev {
	case calypso.Rev2_4:
		if record > 15 {
			return nil, calypso.NewEncodingError(name, "record %d out of range [0,15]", record)
		}
		p1 = 0x80 + record*8 + keyIndex
		p2 = sfi * 8
		data = challenge
	case calypso.Rev3_2:
		if record > 31 {
			return nil, calypso.NewEncodingError(name, "record %d out of range [0,31]", record)
		}
		p1 = record*8 + keyIndex
		p2 = sfi*8 + 2
		data = append([]byte{0x00}, challenge...)
		ne = iso7816.MaxShortLe
	default:
		if record > 31 {
			return nil, calypso.NewEncodingError(name, "record %d out of range [0,31]", record)
		}
		p1 = record*8 + keyIndex
		p2 = sfi*8 + 1
		data = challenge
		ne = iso7816.MaxShortLe
	}

	return &OpenSession{
		command:   newCommand(rev, name, iso7816.INS_OPEN_SESSION, p1, p2, data, ne, openStatuses),
		Revision:  rev,
		Level:     level,
		SFI:       sfi,
		Record:    record,
		Challenge: append([]byte(nil), challenge...),
	}, nil
}

// Decode parses the revision-specific layout of the response.
func (c *OpenSession) Decode(resp *iso7816.ResponseAPDU) (*OpenSessionResult, error) {
	if resp.Status != iso7816.SW_NO_ERROR {
		return nil, nil
	}
	d := resp.Data
	switch c.Revision {
	case calypso.Rev2_4:
		return c.decodeRev24(d)
	case calypso.Rev3_2:
		return c.decodeRev3(d, 5)
	default:
		return c.decodeRev3(d, 1)
	}
}

func (c *OpenSession) decodeRev24(d []byte) (*OpenSessionResult, error) {
	out := &OpenSessionResult{KIF: unknownKIF, Data: append([]byte(nil), d...)}
	switch len(d) {
	case 5, 34:
		out.PreviousSessionRatified = true
	case 7, 36:
	default:
		return nil, calypso.NewEncodingError(c.apdu.Name, "response of %d bytes, want 5, 7, 34 or 36", len(d))
	}
	out.KVC = d[0]
	out.TransactionCounter = unsigned(d[1:4])
	out.CardChallenge = append([]byte(nil), d[4:5]...)
	if len(d) >= 34 {
		out.RecordData = append([]byte(nil), d[5:34]...)
	}
	return out, nil
}

func (c *OpenSession) decodeRev3(d []byte, randomLen int) (*OpenSessionResult, error) {
	header := 3 + randomLen + 4
	if len(d) < header {
		return nil, calypso.NewEncodingError(c.apdu.Name, "response of %d bytes, want at least %d", len(d), header)
	}
	out := &OpenSessionResult{
		TransactionCounter: unsigned(d[0:3]),
		CardChallenge:      append([]byte(nil), d[3:3+randomLen]...),
		Data:               append([]byte(nil), d...),
	}

	flags := d[3+randomLen]
	if c.Revision == calypso.Rev3_2 {
		out.PreviousSessionRatified = flags&0x01 == 0
		out.ManageSecureSessionAuthorized = flags&0x02 != 0
	} else {
		switch flags {
		case 0x00:
			out.PreviousSessionRatified = true
		case 0x01:
		default:
			return nil, calypso.NewEncodingError(c.apdu.Name, "ratification byte %02X, want 00 or 01", flags)
		}
	}

	out.KIF = d[4+randomLen]
	out.KVC = d[5+randomLen]
	length := int(d[6+randomLen])
	if header+length > len(d) {
		return nil, calypso.NewEncodingError(c.apdu.Name, "record data announces %d bytes, %d available", length, len(d)-header)
	}
	if length > 0 {
		out.RecordData = append([]byte(nil), d[header:header+length]...)
	}
	return out, nil
}

var challengeStatuses = iso7816.NewStatusTable()

// GetChallenge asks the card for 8 random bytes.
type GetChallenge struct{ command }

// NewGetChallenge builds the card Get Challenge.
func NewGetChallenge(rev calypso.CardRevision) *GetChallenge {
	return &GetChallenge{newCommand(rev, "Get Challenge", iso7816.INS_GET_CHALLENGE, 0x00, 0x00, nil, 8, challengeStatuses)}
}

// Decode returns the challenge.
func (c *GetChallenge) Decode(resp *iso7816.ResponseAPDU) ([]byte, error) {
	if resp.Status != iso7816.SW_NO_ERROR {
		return nil, nil
	}
	if len(resp.Data) != 8 {
		return nil, calypso.NewEncodingError(c.apdu.Name, "challenge of %d bytes, want 8", len(resp.Data))
	}
	return append([]byte(nil), resp.Data...), nil
}

var closeStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_WRONG_LENGTH:        {Description: "Lc signatureLo not supported (e.g. Lc=4 with a Revision 3.2 mode for Open Secure Session)."},
	iso7816.SW_ERR_WRONG_P1P2:          {Description: "P1 or P2 signatureLo not supported."},
	iso7816.SW_ERR_SM_OBJ_INCORRECT:    {Description: "Incorrect signatureLo."},
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT: {Description: "No session was opened."},
})

// CloseSessionResult is the decoded answer to Close Secure Session.
type CloseSessionResult struct {
	// Signature is the card's half session signature.
	Signature []byte
	// PostponedData holds the bytes preceding the signature, each entry prefixed
	// by a length byte that counts itself.
	PostponedData []byte
}

// PostponedEntries splits PostponedData into its entries.
func (r *CloseSessionResult) PostponedEntries() ([][]byte, error) {
	var out [][]byte
	d := r.PostponedData
	for i := 0; i < len(d); {
		n := int(d[i])
		if n == 0 || i+n > len(d) {
			return out, calypso.NewEncodingError("Close Secure Session", "postponed entry at offset %d announces %d bytes", i, n)
		}
		out = append(out, d[i:i+n])
		i += n
	}
	return out, nil
}

// CloseSession closes the session with the SAM's half signature.
type CloseSession struct {
	command
	Abort           bool
	signatureLength int
}

// NewCloseSession builds Close Secure Session. The SAM signature must be 4 bytes
// long, or 8 in extended mode; the card answers with a signature of the same size.
func NewCloseSession(rev calypso.CardRevision, ratificationAsked bool, samSignature []byte) (*CloseSession, error) {
	const name = "Close Secure Session"
	if len(samSignature) != 4 && len(samSignature) != 8 {
		return nil, calypso.NewEncodingError(name, "SAM signature of %d bytes, want 4 or 8", len(samSignature))
	}
	if len(samSignature) == 8 && rev != calypso.Rev3_2 {
		return nil, calypso.NewEncodingError(name, "8-byte signatures need a Revision 3.2 card, got %s", rev)
	}
	var p1 byte
	if ratificationAsked {
		p1 = 0x80
	}
	return &CloseSession{
		command:         newCommand(rev, name, iso7816.INS_CLOSE_SESSION, p1, 0x00, samSignature, iso7816.MaxShortLe, closeStatuses),
		signatureLength: len(samSignature),
	}, nil
}

// NewAbortSession builds the abort variant of Close Secure Session: no data,
// the card discards every modification of the session.
func NewAbortSession(rev calypso.CardRevision) *CloseSession {
	return &CloseSession{
		command: newCommand(rev, "Abort Secure Session", iso7816.INS_CLOSE_SESSION, 0x00, 0x00, nil, iso7816.MaxShortLe, closeStatuses),
		Abort:   true,
	}
}

// Decode splits the data-out into postponed data and signature. A successful
// response too short to hold the signature is an encoding violation.
func (c *CloseSession) Decode(resp *iso7816.ResponseAPDU) (*CloseSessionResult, error) {
	if c.Abort || !c.statuses.IsSuccessful(resp.Status) {
		return &CloseSessionResult{}, nil
	}
	return ParseCloseResponse(resp.Data, c.signatureLength)
}

// ParseCloseResponse reads a Close Secure Session data-out holding a signature of
// sigLen bytes.
func ParseCloseResponse(data []byte, sigLen int) (*CloseSessionResult, error) {
	if len(data) < sigLen {
		return nil, calypso.NewEncodingError("Close Secure Session", "data-out of %d bytes cannot hold a %d-byte signature", len(data), sigLen)
	}
	split := len(data) - sigLen
	out := &CloseSessionResult{Signature: append([]byte(nil), data[split:]...)}
	if split > 0 {
		out.PostponedData = append([]byte(nil), data[:split]...)
	}
	return out, nil
}
