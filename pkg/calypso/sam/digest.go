package sam

import (
	"errors"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"go.uber.org/zap"
)

// DIGEST SESSION:
// The SAM computes the session MAC over the very same byte sequence as the card.
// Its steps run in a fixed order:
//
//	Select Diversifier -> Get Challenge -> Digest Init -> Digest Update* -> Digest Close -> Digest Authenticate
//
// Messages fed to Update are digested in call order. In batch mode they are held
// and flushed with Digest Update Multiple just before Digest Close; the order is
// the same either way. Any failing SAM command ends the digest session.

type digestStep int

const (
	stepIdle digestStep = iota
	stepDiversified
	stepChallenged
	stepDigesting
	stepClosed
	stepAuthenticated
	stepFailed
)

func (s digestStep) String() string {
	switch s {
	case stepIdle:
		return "Idle"
	case stepDiversified:
		return "Diversified"
	case stepChallenged:
		return "Challenged"
	case stepDigesting:
		return "Digesting"
	case stepClosed:
		return "Closed"
	case stepAuthenticated:
		return "Authenticated"
	default:
		return "Failed"
	}
}

// InitParams carries what Digest Init needs from the card's Open Secure Session.
type InitParams struct {
	// Verification selects the SAM verification mode.
	Verification bool
	// Rev32Mode is set for Revision 3.2 cards.
	Rev32Mode bool
	Key       calypso.KeyReference
	// KeyRecord designates the key when Key.KIF is 0xFF.
	KeyRecord byte
	OpenData  []byte
}

// DigestSession drives one SAM through a single session MAC computation.
// It is not safe for concurrent use and cannot be reused once closed or failed.
type DigestSession struct {
	sam     calypso.Sender
	rev     calypso.SamRevision
	logger  *zap.Logger
	batch   bool
	step    digestStep
	pending [][]byte
}

// Option configures a DigestSession.
type Option func(*DigestSession)

// WithLogger sets the logger of the digest session.
func WithLogger(logger *zap.Logger) Option {
	return func(d *DigestSession) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithBatch holds the updates and sends them with Digest Update Multiple.
func WithBatch(batch bool) Option {
	return func(d *DigestSession) { d.batch = batch }
}

// NewDigestSession prepares a digest session on sam.
func NewDigestSession(sam calypso.Sender, rev calypso.SamRevision, opts ...Option) *DigestSession {
	d := &DigestSession{sam: sam, rev: rev, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Pending returns the number of messages held in batch mode.
func (d *DigestSession) Pending() int { return len(d.pending) }

// SelectDiversifier binds the session to the card serial number.
func (d *DigestSession) SelectDiversifier(serial []byte) error {
	if err := d.expect("Select Diversifier", stepIdle); err != nil {
		return err
	}
	cmd, err := NewSelectDiversifier(d.rev, serial)
	if err != nil {
		return err
	}
	if _, err := exchange(d, cmd); err != nil {
		return err
	}
	d.step = stepDiversified
	return nil
}

// GetChallenge returns the terminal challenge sent to the card at opening.
func (d *DigestSession) GetChallenge(length int) ([]byte, error) {
	if err := d.expect("SAM Get Challenge", stepDiversified); err != nil {
		return nil, err
	}
	cmd, err := NewGetChallenge(d.rev, length)
	if err != nil {
		return nil, err
	}
	challenge, err := exchange(d, cmd)
	if err != nil {
		return nil, err
	}
	d.step = stepChallenged
	return challenge, nil
}

// Init seeds the MAC with the key reference and the card's open response.
func (d *DigestSession) Init(p InitParams) error {
	if err := d.expect("Digest Init", stepChallenged); err != nil {
		return err
	}
	cmd, err := NewDigestInit(d.rev, p.Verification, p.Rev32Mode, p.Key, p.KeyRecord, p.OpenData)
	if err != nil {
		return err
	}
	if _, err := exchange(d, cmd); err != nil {
		return err
	}
	d.step = stepDigesting
	return nil
}

// Update adds one command or response to the MAC.
func (d *DigestSession) Update(message []byte) error {
	if err := d.expect("Digest Update", stepDigesting); err != nil {
		return err
	}
	if len(message) == 0 || len(message) > MaxDigestData {
		return calypso.NewEncodingError("Digest Update", "message of %d bytes out of range [1,%d]", len(message), MaxDigestData)
	}
	if d.batch {
		d.pending = append(d.pending, append([]byte(nil), message...))
		return nil
	}
	cmd, err := NewDigestUpdate(d.rev, false, message)
	if err != nil {
		return err
	}
	_, err = exchange(d, cmd)
	return err
}

// Close flushes the held messages and returns the SAM half signature.
func (d *DigestSession) Close(signatureLength int) ([]byte, error) {
	if err := d.expect("Digest Close", stepDigesting); err != nil {
		return nil, err
	}
	cmd, err := NewDigestClose(d.rev, signatureLength)
	if err != nil {
		return nil, err
	}
	if err := d.flush(); err != nil {
		return nil, err
	}
	signature, err := exchange(d, cmd)
	if err != nil {
		return nil, err
	}
	d.step = stepClosed
	return signature, nil
}

// Authenticate submits the card half signature. A rejection by the SAM is
// returned as *calypso.IntegrityError; a transport failure is returned as is.
func (d *DigestSession) Authenticate(cardSignature []byte) error {
	if err := d.expect("Digest Authenticate", stepClosed); err != nil {
		return err
	}
	cmd, err := NewDigestAuthenticate(d.rev, cardSignature)
	if err != nil {
		return err
	}
	if _, err := exchange(d, cmd); err != nil {
		if errors.Is(err, iso7816.ErrTransport) {
			return err
		}
		return &calypso.IntegrityError{Err: err}
	}
	d.step = stepAuthenticated
	return nil
}

func (d *DigestSession) expect(operation string, step digestStep) error {
	if d.step != step {
		return &calypso.StateError{Operation: operation, State: d.step}
	}
	return nil
}

// flush packs the held messages greedily into Digest Update Multiple commands.
// A message too long for a block goes alone in a Digest Update.
func (d *DigestSession) flush() error {
	for len(d.pending) > 0 {
		n, size := 0, 0
		for n < len(d.pending) {
			l := len(d.pending[n])
			if l >= MaxDigestData || size+1+l > MaxDigestData {
				break
			}
			size += 1 + l
			n++
		}

		var cmd calypso.Codec[struct{}]
		var err error
		if n <= 1 {
			n = 1
			cmd, err = NewDigestUpdate(d.rev, false, d.pending[0])
		} else {
			cmd, err = NewDigestUpdateMultiple(d.rev, d.pending[:n])
		}
		if err != nil {
			return err
		}
		if _, err := exchange(d, cmd); err != nil {
			return err
		}
		d.pending = d.pending[n:]
	}
	return nil
}

func exchange[R any](d *DigestSession, codec calypso.Codec[R]) (R, error) {
	resp, err := calypso.Exchange(d.sam, codec)
	if err != nil {
		d.step = stepFailed
		d.pending = nil
		d.logger.Warn("sam command failed",
			zap.String("command", codec.APDU().Name),
			zap.Error(err),
		)
		return resp.Value, err
	}
	return resp.Value, nil
}
