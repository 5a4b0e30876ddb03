// Package session runs Calypso secure sessions: a card and a SAM driven in
// lock-step so that every exchange with the card enters the session MAC in the
// order it was transmitted.
//
//	s, err := session.New(cardClient, samClient, info, session.WithSettings(settings))
//	if _, err := s.Open(calypso.Debit, 0, 0); err != nil { ... }
//	read, _ := po.NewReadRecords(info.Revision, 0x08, 1, po.ReadOneRecord)
//	resp, err := session.Execute(s, read)
//	...
//	if _, err := s.Close(); err != nil { ... }
package session

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/calypso/po"
	"github.com/gregLibert/calypso/pkg/calypso/sam"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// STATES:
//
//	Idle -> Opening -> Open -> Closing -> Closed
//	                     |        |----> AuthenticationFailed
//	                     |        '----> Aborted
//	                     '--> Cancelled
//
// Idle is also where a failed opening returns. Closed, Cancelled,
// AuthenticationFailed and Aborted are terminal: a new SecureSession is needed
// for the next transaction. A transport failure on either device leads to
// Aborted, and the failing device receives no further command.

// State is the position of a SecureSession in its lifecycle.
type State int

const (
	Idle State = iota
	Opening
	Open
	Closing
	Closed
	Cancelled
	// AuthenticationFailed means the SAM rejected the card signature after the
	// card committed the session.
	AuthenticationFailed
	// Aborted means the session ended on a transport or card failure and the
	// card state is unknown.
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Opening:
		return "Opening"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case Cancelled:
		return "Cancelled"
	case AuthenticationFailed:
		return "AuthenticationFailed"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no operation is allowed anymore.
func (s State) Terminal() bool {
	return s >= Closed
}

// SecureSession is one secure transaction with a card. It is owned by a single
// caller and is not safe for concurrent use.
type SecureSession struct {
	card     calypso.Sender
	sam      calypso.Sender
	info     *po.CardInfo
	settings calypso.Settings
	logger   *zap.Logger

	state   State
	level   calypso.AccessLevel
	digest  *sam.DigestSession
	records []iso7816.Transaction
	used    int
	limit   int

	opening *po.OpenSessionResult
	closing *po.CloseSessionResult
}

// Option configures a SecureSession.
type Option func(*SecureSession)

// WithLogger sets the logger of the session and of its digest session.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SecureSession) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSettings replaces calypso.DefaultSettings.
func WithSettings(settings calypso.Settings) Option {
	return func(s *SecureSession) { s.settings = settings }
}

// New prepares a session with the card described by info. Both senders are
// usually *iso7816.Client values.
func New(card, samSender calypso.Sender, info *po.CardInfo, opts ...Option) (*SecureSession, error) {
	if card == nil || samSender == nil {
		return nil, errors.New("session: card and SAM are required")
	}
	if info == nil || len(info.SerialNumber) == 0 {
		return nil, errors.New("session: card serial number is required")
	}
	s := &SecureSession{
		card:     card,
		sam:      samSender,
		info:     info,
		settings: calypso.DefaultSettings(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.settings.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if s.settings.ExtendedMode && !info.SupportsExtendedMode() {
		return nil, fmt.Errorf("session: extended mode not supported by a %s card", info.Revision)
	}
	s.logger = s.logger.With(zap.String("serial", fmt.Sprintf("%X", info.SerialNumber)))
	return s, nil
}

// State returns the current state.
func (s *SecureSession) State() State { return s.state }

// Level returns the access level of the opened session.
func (s *SecureSession) Level() calypso.AccessLevel { return s.level }

// Records returns the exchanges made with the card since the opening, in order.
func (s *SecureSession) Records() []iso7816.Transaction {
	return append([]iso7816.Transaction(nil), s.records...)
}

// BufferUsed returns what the modifying commands consumed from the card buffer.
func (s *SecureSession) BufferUsed() int { return s.used }

// BufferLimit returns the capacity of the card buffer for this session.
func (s *SecureSession) BufferLimit() int { return s.limit }

// OpenResult returns the decoded Open Secure Session answer, once opened.
func (s *SecureSession) OpenResult() *po.OpenSessionResult { return s.opening }

// CloseResult returns the decoded Close Secure Session answer, once closed.
func (s *SecureSession) CloseResult() *po.CloseSessionResult { return s.closing }

// Open opens the session at level, reading a record at opening when record is
// not zero. On failure the session goes back to Idle, or to Aborted after a
// transport failure.
func (s *SecureSession) Open(level calypso.AccessLevel, sfi, record byte) (*po.OpenSessionResult, error) {
	if s.state != Idle {
		return nil, s.refuse("Open")
	}
	s.transition(Opening)
	rev := s.info.Revision

	digest := sam.NewDigestSession(s.sam, s.settings.SamRevision,
		sam.WithLogger(s.logger),
		sam.WithBatch(s.settings.BatchDigest),
	)
	if err := digest.SelectDiversifier(s.info.SerialNumber); err != nil {
		return nil, s.openFailed(err)
	}
	challenge, err := digest.GetChallenge(rev.ChallengeLength())
	if err != nil {
		return nil, s.openFailed(err)
	}

	cmd, err := po.NewOpenSession(rev, level, challenge, sfi, record)
	if err != nil {
		return nil, s.openFailed(err)
	}
	resp, err := calypso.Exchange(s.card, cmd)
	if err != nil {
		if resp.Successful(cmd) {
			// Accepted but unreadable: the card session is open.
			err = errors.Join(err, s.abortCard())
		}
		return nil, s.openFailed(err)
	}
	opening := resp.Value

	key := s.settings.Key(level)
	if opening.KIF != 0xFF {
		key.KIF = opening.KIF
	}
	key.KVC = opening.KVC
	err = digest.Init(sam.InitParams{
		Rev32Mode: rev == calypso.Rev3_2,
		Key:       key,
		KeyRecord: level.KeyIndex(),
		OpenData:  opening.Data,
	})
	if err != nil {
		// The card session is open: close it without signature.
		return nil, s.openFailed(errors.Join(err, s.abortCard()))
	}

	s.level = level
	s.digest = digest
	s.opening = opening
	s.records = nil
	s.used = 0
	s.limit = s.info.BufferCapacity()
	if s.settings.BufferLimit > 0 {
		s.limit = s.settings.BufferLimit
	}
	s.transition(Open,
		zap.Stringer("level", level),
		zap.Stringer("key", key),
		zap.Int("buffer_limit", s.limit),
	)
	return opening, nil
}

// Close has the SAM sign the session, sends the signature to the card and has
// the SAM check the card signature in return. A rejected card signature ends
// in AuthenticationFailed with a *calypso.IntegrityError: the card has already
// committed the session.
func (s *SecureSession) Close() (*po.CloseSessionResult, error) {
	if s.state != Open {
		return nil, s.refuse("Close")
	}
	s.transition(Closing)

	signature, err := s.digest.Close(s.settings.SignatureLength())
	if err != nil {
		return nil, s.samFailed("Digest Close", err)
	}

	cmd, err := po.NewCloseSession(s.info.Revision, s.settings.RatificationAsked, signature)
	if err != nil {
		return nil, s.samFailed("Close Secure Session", err)
	}
	resp, err := calypso.Exchange(s.card, cmd)
	if err != nil {
		s.logger.Error("card refused to close the session", zap.Error(err))
		s.transition(Aborted)
		return nil, err
	}
	s.closing = resp.Value

	if err := s.digest.Authenticate(resp.Value.Signature); err != nil {
		var integrity *calypso.IntegrityError
		if errors.As(err, &integrity) {
			s.logger.Error("card signature rejected", zap.Error(err))
			s.transition(AuthenticationFailed)
		} else {
			s.logger.Error("card signature not verified", zap.Error(err))
			s.transition(Aborted)
		}
		return resp.Value, err
	}

	s.transition(Closed, zap.Int("commands", len(s.records)), zap.Int("buffer_used", s.used))
	return resp.Value, nil
}

// Cancel aborts the session on the card: every modification is discarded and
// the SAM is left alone.
func (s *SecureSession) Cancel() error {
	if s.state != Open {
		return s.refuse("Cancel")
	}
	err := s.abortCard()
	s.records = nil
	if errors.Is(err, iso7816.ErrTransport) {
		s.transition(Aborted)
		return err
	}
	s.transition(Cancelled)
	return err
}

// Ratify sends the command that ratifies a session closed with ratification asked.
func (s *SecureSession) Ratify() error {
	if s.state != Closed {
		return s.refuse("Ratify")
	}
	_, err := calypso.Exchange(s.card, po.NewGetChallenge(s.info.Revision))
	return err
}

func (s *SecureSession) transition(to State, fields ...zap.Field) {
	fields = append([]zap.Field{zap.Stringer("from", s.state), zap.Stringer("state", to)}, fields...)
	s.state = to
	s.logger.Info("session state changed", fields...)
}

func (s *SecureSession) refuse(operation string) error {
	err := &calypso.StateError{Operation: operation, State: s.state}
	s.logger.Warn("operation refused", zap.String("command", operation), zap.Stringer("state", s.state))
	return err
}

func (s *SecureSession) openFailed(err error) error {
	if errors.Is(err, iso7816.ErrTransport) {
		s.logger.Error("opening aborted", zap.Error(err))
		s.transition(Aborted)
		return err
	}
	s.logger.Warn("opening failed", zap.Error(err))
	s.transition(Idle)
	return err
}

// samFailed ends an open session after a SAM failure: the card session is
// aborted so that nothing gets committed.
func (s *SecureSession) samFailed(operation string, err error) error {
	s.logger.Error("SAM failure, cancelling the card session", zap.String("command", operation), zap.Error(err))
	abortErr := s.abortCard()
	s.records = nil
	if errors.Is(err, iso7816.ErrTransport) || errors.Is(abortErr, iso7816.ErrTransport) {
		s.transition(Aborted)
	} else {
		s.transition(Cancelled)
	}
	return errors.Join(err, abortErr)
}

func (s *SecureSession) abortCard() error {
	_, err := calypso.Exchange(s.card, po.NewAbortSession(s.info.Revision))
	return err
}
