// Package sam implements the Calypso SAM commands used to compute and verify
// the MAC of a secure session, and DigestSession, which sequences them.
package sam

import (
	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// SAM COMMANDS:
//
//	Select Diversifier   '14'  data = card serial number
//	Get Challenge        '84'  Le = 4, or 8 for a Revision 3.2 card
//	Digest Init          '8A'  P1 = mode, P2 = FF, data = KIF KVC open response
//	Digest Update        '8C'  P1 = 00, data = one command or one response
//	Digest Update Multi  '8C'  P1 = 80, data = [length][data] blocks
//	Digest Close         '8E'  Le = 4, or 8 in extended mode
//	Digest Authenticate  '82'  data = card half signature

// MaxDigestData is the largest message Digest Update accepts.
const MaxDigestData = iso7816.MaxShortLc

type command struct {
	apdu     *iso7816.CommandAPDU
	statuses iso7816.StatusTable
}

func (c *command) APDU() *iso7816.CommandAPDU { return c.apdu }

func (c *command) Statuses() iso7816.StatusTable { return c.statuses }

// Decode is shared by the SAM commands answering with a bare status word.
func (c *command) Decode(*iso7816.ResponseAPDU) (struct{}, error) {
	return struct{}{}, nil
}

func newCommand(rev calypso.SamRevision, name string, ins iso7816.Instruction, p1, p2 byte, data []byte, ne int, table iso7816.StatusTable) command {
	return command{
		apdu:     iso7816.NewCommandAPDU(rev.Class(), ins, p1, p2, data, ne).Named(name),
		statuses: table,
	}
}

var (
	swIncorrectLc    = iso7816.StatusProperties{Description: "Incorrect Lc."}
	swPreconditions  = iso7816.StatusProperties{Description: "Preconditions not satisfied."}
	swIncorrectP1P2  = iso7816.StatusProperties{Description: "Incorrect P1 or P2."}
	swSessionNotOpen = iso7816.StatusProperties{Description: "Preconditions not satisfied (no digest session opened)."}
)

var selectDiversifierStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_WRONG_LENGTH:        swIncorrectLc,
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT: {Description: "Preconditions not satisfied: the SAM is locked."},
})

// SelectDiversifier binds the following key operations to a card serial number.
type SelectDiversifier struct{ command }

// NewSelectDiversifier builds Select Diversifier. The serial is 4 or 8 bytes long.
func NewSelectDiversifier(rev calypso.SamRevision, serial []byte) (*SelectDiversifier, error) {
	const name = "Select Diversifier"
	if len(serial) != 4 && len(serial) != 8 {
		return nil, calypso.NewEncodingError(name, "diversifier of %d bytes, want 4 or 8", len(serial))
	}
	return &SelectDiversifier{newCommand(rev, name, iso7816.INS_SELECT_DIVERSIFIER, 0x00, 0x00, serial, 0, selectDiversifierStatuses)}, nil
}

var challengeStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_WRONG_LENGTH: {Description: "Incorrect Le."},
})

// GetChallenge asks the SAM for the terminal challenge of a session.
type GetChallenge struct {
	command
	length int
}

// NewGetChallenge builds the SAM Get Challenge for 4 or 8 bytes.
func NewGetChallenge(rev calypso.SamRevision, length int) (*GetChallenge, error) {
	const name = "SAM Get Challenge"
	if length != 4 && length != 8 {
		return nil, calypso.NewEncodingError(name, "challenge of %d bytes, want 4 or 8", length)
	}
	return &GetChallenge{
		command: newCommand(rev, name, iso7816.INS_GET_CHALLENGE, 0x00, 0x00, nil, length, challengeStatuses),
		length:  length,
	}, nil
}

// Decode returns the challenge.
func (c *GetChallenge) Decode(resp *iso7816.ResponseAPDU) ([]byte, error) {
	if resp.Status != iso7816.SW_NO_ERROR {
		return nil, nil
	}
	if len(resp.Data) != c.length {
		return nil, calypso.NewEncodingError(c.apdu.Name, "challenge of %d bytes, want %d", len(resp.Data), c.length)
	}
	return append([]byte(nil), resp.Data...), nil
}

var digestInitStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_WRONG_LENGTH:            swIncorrectLc,
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO: {Description: "An event counter cannot be incremented."},
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     swPreconditions,
	iso7816.SW_ERR_WRONG_PARAMS_NO_INFO:    {Description: "Incorrect P2."},
	iso7816.SW_ERR_RECORD_NOT_FOUND:        {Description: "Record not found: signing key not found."},
})

// DigestInit starts the MAC computation with the card's Open Secure Session answer.
type DigestInit struct{ command }

// NewDigestInit builds Digest Init. When the card did not give its KIF (0xFF),
// the key is designated by keyRecord in P2 instead.
func NewDigestInit(rev calypso.SamRevision, verificationMode, rev32Mode bool, key calypso.KeyReference, keyRecord byte, openData []byte) (*DigestInit, error) {
	const name = "Digest Init"
	if len(openData) == 0 {
		return nil, calypso.NewEncodingError(name, "empty open session data")
	}

	var p1 byte
	if verificationMode {
		p1++
	}
	if rev32Mode {
		p1 += 2
	}

	p2 := byte(0xFF)
	data := append([]byte{key.KIF, key.KVC}, openData...)
	if key.KIF == 0xFF {
		p2 = keyRecord
		data = append([]byte(nil), openData...)
	}
	if len(data) > MaxDigestData {
		return nil, calypso.NewEncodingError(name, "digest data of %d bytes, max %d", len(data), MaxDigestData)
	}
	return &DigestInit{newCommand(rev, name, iso7816.INS_DIGEST_INIT, p1, p2, data, 0, digestInitStatuses)}, nil
}

var digestUpdateStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_WRONG_LENGTH:          swIncorrectLc,
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:   swSessionNotOpen,
	iso7816.SW_ERR_INCORRECT_PARAMS_DATA: {Description: "Incorrect value in the incoming data: session in Rev.3.2 mode with encryption/decryption active and not enough data."},
	iso7816.SW_ERR_WRONG_P1P2:            swIncorrectP1P2,
})

// DigestUpdate adds one command or response to the MAC.
type DigestUpdate struct{ command }

// NewDigestUpdate builds Digest Update.
func NewDigestUpdate(rev calypso.SamRevision, encrypted bool, message []byte) (*DigestUpdate, error) {
	const name = "Digest Update"
	if len(message) == 0 || len(message) > MaxDigestData {
		return nil, calypso.NewEncodingError(name, "message of %d bytes out of range [1,%d]", len(message), MaxDigestData)
	}
	var p2 byte
	if encrypted {
		p2 = 0x80
	}
	return &DigestUpdate{newCommand(rev, name, iso7816.INS_DIGEST_UPDATE, 0x00, p2, message, 0, digestUpdateStatuses)}, nil
}

var digestUpdateMultipleStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_WRONG_LENGTH:            swIncorrectLc,
	iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO: {Description: "Transaction Counter is 0."},
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT:     swSessionNotOpen,
	iso7816.SW_ERR_INCORRECT_PARAMS_DATA:   {Description: "Incorrect value in the incoming data: incorrect structure."},
	iso7816.SW_ERR_WRONG_P1P2:              {Description: "Incorrect P1."},
})

// DigestUpdateMultiple adds several messages to the MAC in one command.
type DigestUpdateMultiple struct{ command }

// NewDigestUpdateMultiple builds Digest Update Multiple from messages that,
// once prefixed by their length, fit in a single command.
func NewDigestUpdateMultiple(rev calypso.SamRevision, messages [][]byte) (*DigestUpdateMultiple, error) {
	const name = "Digest Update Multiple"
	if len(messages) == 0 {
		return nil, calypso.NewEncodingError(name, "no message")
	}
	var data []byte
	for _, m := range messages {
		if len(m) == 0 || len(m) >= MaxDigestData {
			return nil, calypso.NewEncodingError(name, "message of %d bytes out of range [1,%d]", len(m), MaxDigestData-1)
		}
		data = append(data, byte(len(m)))
		data = append(data, m...)
	}
	if len(data) > MaxDigestData {
		return nil, calypso.NewEncodingError(name, "blocks of %d bytes, max %d", len(data), MaxDigestData)
	}
	return &DigestUpdateMultiple{newCommand(rev, name, iso7816.INS_DIGEST_UPDATE, 0x80, 0x00, data, 0, digestUpdateMultipleStatuses)}, nil
}

var digestCloseStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT: swSessionNotOpen,
})

// DigestClose ends the MAC computation and returns the SAM's half signature.
type DigestClose struct {
	command
	length int
}

// NewDigestClose builds Digest Close for a 4-byte signature, or 8 in extended mode.
func NewDigestClose(rev calypso.SamRevision, signatureLength int) (*DigestClose, error) {
	const name = "Digest Close"
	if signatureLength != 4 && signatureLength != 8 {
		return nil, calypso.NewEncodingError(name, "signature of %d bytes, want 4 or 8", signatureLength)
	}
	return &DigestClose{
		command: newCommand(rev, name, iso7816.INS_DIGEST_CLOSE, 0x00, 0x00, nil, signatureLength, digestCloseStatuses),
		length:  signatureLength,
	}, nil
}

// Decode returns the SAM signature.
func (c *DigestClose) Decode(resp *iso7816.ResponseAPDU) ([]byte, error) {
	if resp.Status != iso7816.SW_NO_ERROR {
		return nil, nil
	}
	if len(resp.Data) != c.length {
		return nil, calypso.NewEncodingError(c.apdu.Name, "signature of %d bytes, want %d", len(resp.Data), c.length)
	}
	return append([]byte(nil), resp.Data...), nil
}

var digestAuthenticateStatuses = iso7816.NewStatusTable(iso7816.StatusTable{
	iso7816.SW_ERR_WRONG_LENGTH:        swIncorrectLc,
	iso7816.SW_ERR_COND_OF_USE_NOT_SAT: swPreconditions,
	iso7816.SW_ERR_SM_OBJ_INCORRECT:    {Description: "Incorrect signature."},
})

// DigestAuthenticate submits the card's half signature to the SAM.
type DigestAuthenticate struct{ command }

// NewDigestAuthenticate builds Digest Authenticate.
func NewDigestAuthenticate(rev calypso.SamRevision, cardSignature []byte) (*DigestAuthenticate, error) {
	const name = "Digest Authenticate"
	if len(cardSignature) != 4 && len(cardSignature) != 8 {
		return nil, calypso.NewEncodingError(name, "signature of %d bytes, want 4 or 8", len(cardSignature))
	}
	return &DigestAuthenticate{newCommand(rev, name, iso7816.INS_DIGEST_AUTHENTICATE, 0x00, 0x00, cardSignature, 0, digestAuthenticateStatuses)}, nil
}
