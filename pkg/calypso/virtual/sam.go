package virtual

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// SAM is a simulated Calypso SAM holding master keys. Keys are addressed by
// KIF/KVC, or by their 1-based position when Digest Init carries no KIF.
// A SAM is not safe for concurrent use.
type SAM struct {
	rev    calypso.SamRevision
	keys   []Key
	random io.Reader

	serial    []byte
	challenge []byte
	digest    *digest
	closed    bool
	removed   bool
}

// SAMOption configures a SAM.
type SAMOption func(*SAM)

// WithSAMRevision sets the product type, which fixes the expected class byte.
func WithSAMRevision(rev calypso.SamRevision) SAMOption {
	return func(s *SAM) { s.rev = rev }
}

// WithSAMRandom sets the source of the terminal challenges.
func WithSAMRandom(r io.Reader) SAMOption {
	return func(s *SAM) { s.random = r }
}

// NewSAM creates a SAM holding keys.
func NewSAM(keys []Key, opts ...SAMOption) (*SAM, error) {
	s := &SAM{rev: calypso.SamC1, random: rand.Reader}
	for _, k := range keys {
		if len(k.Master) != KeyLength {
			return nil, fmt.Errorf("virtual SAM: key %s of %d bytes, want %d", k.Reference, len(k.Master), KeyLength)
		}
		s.keys = append(s.keys, Key{Reference: k.Reference, Master: append([]byte(nil), k.Master...)})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Remove simulates the SAM being disconnected.
func (s *SAM) Remove() { s.removed = true }

// Transmit processes one command APDU.
func (s *SAM) Transmit(cmd []byte) ([]byte, error) {
	if s.removed {
		return nil, fmt.Errorf("virtual SAM: %w", iso7816.ErrCardRemoved)
	}
	a, ok := parseAPDU(cmd)
	if !ok {
		return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	if iso7816.Class(a.cla) != s.rev.Class() {
		return reply(iso7816.SW_ERR_CLA_NOT_SUPPORTED), nil
	}

	switch iso7816.Instruction(a.ins) {
	case iso7816.INS_SELECT_DIVERSIFIER:
		if len(a.data) != 4 && len(a.data) != 8 {
			return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
		}
		s.reset()
		s.serial = append([]byte(nil), a.data...)
		return reply(iso7816.SW_NO_ERROR), nil
	case iso7816.INS_GET_CHALLENGE:
		return s.getChallenge(a)
	case iso7816.INS_DIGEST_INIT:
		return s.digestInit(a)
	case iso7816.INS_DIGEST_UPDATE:
		return s.digestUpdate(a), nil
	case iso7816.INS_DIGEST_CLOSE:
		return s.digestClose(a)
	case iso7816.INS_DIGEST_AUTHENTICATE:
		return s.digestAuthenticate(a)
	default:
		return reply(iso7816.SW_ERR_INS_INVALID), nil
	}
}

func (s *SAM) reset() {
	s.challenge = nil
	s.digest = nil
	s.closed = false
}

func (s *SAM) getChallenge(a apdu) ([]byte, error) {
	if a.le != 4 && a.le != 8 {
		return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	challenge := make([]byte, a.le)
	if _, err := io.ReadFull(s.random, challenge); err != nil {
		return nil, fmt.Errorf("virtual SAM: reading random: %w", err)
	}
	s.reset()
	s.challenge = challenge
	return reply(iso7816.SW_NO_ERROR, challenge), nil
}

func (s *SAM) key(a apdu) (Key, []byte, bool) {
	if a.p2 == 0xFF {
		if len(a.data) < 3 {
			return Key{}, nil, false
		}
		ref := calypso.KeyReference{KIF: a.data[0], KVC: a.data[1]}
		for _, k := range s.keys {
			if k.Reference == ref {
				return k, a.data[2:], true
			}
		}
		return Key{}, nil, false
	}
	if a.p2 == 0 || int(a.p2) > len(s.keys) {
		return Key{}, nil, false
	}
	return s.keys[a.p2-1], a.data, true
}

func (s *SAM) digestInit(a apdu) ([]byte, error) {
	if s.serial == nil || s.challenge == nil {
		return reply(iso7816.SW_ERR_COND_OF_USE_NOT_SAT), nil
	}
	if a.p1 > 0x03 {
		return reply(iso7816.SW_ERR_WRONG_PARAMS_NO_INFO), nil
	}
	k, openData, ok := s.key(a)
	if !ok {
		return reply(iso7816.SW_ERR_RECORD_NOT_FOUND), nil
	}
	if len(openData) == 0 {
		return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	cardKey, err := Diversify(k.Master, s.serial)
	if err != nil {
		return nil, fmt.Errorf("virtual SAM: %w", err)
	}
	d, err := newDigest(cardKey, s.challenge, openData)
	if err != nil {
		return nil, fmt.Errorf("virtual SAM: %w", err)
	}
	s.digest = d
	s.closed = false
	return reply(iso7816.SW_NO_ERROR), nil
}

func (s *SAM) digestUpdate(a apdu) []byte {
	if s.digest == nil || s.closed {
		return reply(iso7816.SW_ERR_COND_OF_USE_NOT_SAT)
	}
	if len(a.data) == 0 {
		return reply(iso7816.SW_ERR_WRONG_LENGTH)
	}
	switch {
	case a.p1 == 0x00 && a.p2 == 0x00:
		s.digest.add(a.data)
	case a.p1 == 0x80 && a.p2 == 0x00:
		var blocks [][]byte
		for i := 0; i < len(a.data); {
			n := int(a.data[i])
			if n == 0 || i+1+n > len(a.data) {
				return reply(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
			}
			blocks = append(blocks, a.data[i+1:i+1+n])
			i += 1 + n
		}
		for _, b := range blocks {
			s.digest.add(b)
		}
	default:
		return reply(iso7816.SW_ERR_WRONG_P1P2)
	}
	return reply(iso7816.SW_NO_ERROR)
}

func (s *SAM) digestClose(a apdu) ([]byte, error) {
	if s.digest == nil || s.closed {
		return reply(iso7816.SW_ERR_COND_OF_USE_NOT_SAT), nil
	}
	if a.le != 4 && a.le != 8 {
		return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	signature, err := s.digest.signature(terminalHalf, a.le)
	if err != nil {
		return nil, fmt.Errorf("virtual SAM: %w", err)
	}
	s.closed = true
	return reply(iso7816.SW_NO_ERROR, signature), nil
}

func (s *SAM) digestAuthenticate(a apdu) ([]byte, error) {
	if s.digest == nil || !s.closed {
		return reply(iso7816.SW_ERR_COND_OF_USE_NOT_SAT), nil
	}
	if len(a.data) != 4 && len(a.data) != 8 {
		return reply(iso7816.SW_ERR_WRONG_LENGTH), nil
	}
	expected, err := s.digest.signature(cardHalf, len(a.data))
	if err != nil {
		return nil, fmt.Errorf("virtual SAM: %w", err)
	}
	s.reset()
	if !bytes.Equal(expected, a.data) {
		return reply(iso7816.SW_ERR_SM_OBJ_INCORRECT), nil
	}
	return reply(iso7816.SW_NO_ERROR), nil
}
