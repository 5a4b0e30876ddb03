// Package pcsc connects the toolkit to PC/SC readers through github.com/ebfe/scard.
//
// A Reader implements iso7816.Transmitter: PC/SC failures meaning the card is
// gone are reported as iso7816.ErrCardRemoved, reader timeouts as
// iso7816.ErrTimeout, so that a secure session can tell them from a command
// failure.
package pcsc

import (
	"errors"
	"fmt"

	"github.com/ebfe/scard"
	"go.uber.org/zap"

	"github.com/gregLibert/calypso/pkg/iso7816"
)

// Reader is a card connected through a PC/SC reader.
type Reader struct {
	ctx    *scard.Context
	card   *scard.Card
	name   string
	logger *zap.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger of the reader.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// ListReaders returns the names of the readers known to PC/SC.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establishing context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("listing readers: %w", err)
	}
	return readers, nil
}

// Connect connects to the card present in the named reader, or in the first
// reader when name is empty.
func Connect(name string, opts ...Option) (*Reader, error) {
	r := &Reader{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establishing context: %w", err)
	}

	if name == "" {
		readers, err := ctx.ListReaders()
		if err != nil || len(readers) == 0 {
			if relErr := ctx.Release(); relErr != nil {
				r.logger.Warn("failed to release context", zap.Error(relErr))
			}
			return nil, errors.New("no smart card reader found")
		}
		name = readers[0]
	}

	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors
	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		if relErr := ctx.Release(); relErr != nil {
			r.logger.Warn("failed to release context", zap.Error(relErr))
		}
		return nil, fmt.Errorf("connecting to %s: %w", name, classify(err))
	}

	r.ctx, r.card, r.name = ctx, card, name
	r.logger.Info("card connected", zap.String("reader", name))
	return r, nil
}

// Name returns the reader name.
func (r *Reader) Name() string { return r.name }

// Transmit sends one APDU.
func (r *Reader) Transmit(cmd []byte) ([]byte, error) {
	resp, err := r.card.Transmit(cmd)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// Close disconnects the card and releases the PC/SC context.
func (r *Reader) Close() error {
	return errors.Join(
		r.card.Disconnect(scard.LeaveCard),
		r.ctx.Release(),
	)
}

// classify maps PC/SC codes onto the transport sentinels of iso7816.
func classify(err error) error {
	var code scard.Error
	if !errors.As(err, &code) {
		return err
	}
	switch code {
	case scard.ErrRemovedCard, scard.ErrNoSmartcard, scard.ErrResetCard, scard.ErrUnpoweredCard:
		return fmt.Errorf("%w: %w", iso7816.ErrCardRemoved, err)
	case scard.ErrTimeout:
		return fmt.Errorf("%w: %w", iso7816.ErrTimeout, err)
	default:
		return err
	}
}
