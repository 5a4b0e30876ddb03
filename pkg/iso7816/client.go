package iso7816

import (
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a high-level driver over the physical connection.
// It implements the automatic handling of ISO 7816-3 transport behaviors that are
// often exposed to the application layer in T=0 protocols:
//
// 1. "61 XX" (Response Available):
//    The card indicates that XX bytes are waiting. The client automatically generates
//    and sends a GET RESPONSE command to retrieve them.
//
// 2. "6C XX" (Wrong Length):
//    The card indicates that the expected length (Le) was incorrect and suggests XX.
//    The client automatically re-sends the original command with Le = XX.
//
// The Send() method returns a Trace, which is a log of all atomic transactions
// occurred to fulfill the logical request. Exchanges are strictly sequential: a
// Client must not be shared by concurrent callers.

// maxProcedureRounds bounds the 61xx/6Cxx follow-ups of a single Send.
const maxProcedureRounds = 8

// Transmitter abstracts the physical card connection. Transmit performs one
// blocking exchange; it wraps ErrCardRemoved or ErrTimeout when relevant.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card   Transmitter
	logger *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used for APDU tracing.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter, opts ...ClientOption) *Client {
	c := &Client{Card: card, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
// Failures of the physical exchange are returned as *TransportError.
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	return c.send(cmd, 0)
}

func (c *Client) send(cmd *CommandAPDU, round int) (Trace, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		c.logger.Warn("transmission failed", zap.String("command", cmd.Name), zap.Error(err))
		return nil, &TransportError{Command: cmd.Name, Err: err}
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, &TransportError{Command: cmd.Name, Err: err}
	}

	c.logger.Debug("apdu",
		zap.String("command", cmd.Name),
		zap.String("cmd", hex.EncodeToString(rawCmd)),
		zap.String("resp", hex.EncodeToString(rawResp)),
	)

	trace := Trace{{Command: cmd, Response: resp}}

	sw1 := resp.Status.SW1()
	sw2 := resp.Status.SW2()

	if (sw1 != 0x61 && sw1 != 0x6C) || round >= maxProcedureRounds {
		return trace, nil
	}

	var next *CommandAPDU

	// Case 61XX: More data available -> Issue GET RESPONSE
	if sw1 == 0x61 {
		// ISO 7816-4: GET RESPONSE must use the same logical channel as the original command.
		ne := int(sw2)
		if ne == 0 {
			ne = MaxShortLe
		}
		next = NewCommandAPDU(cmd.Class.WithoutChaining(), INS_GET_RESPONSE, 0x00, 0x00, nil, ne).
			Named("Get Response")
	}

	// Case 6CXX: Wrong Length -> Re-issue original command with correct Le
	if sw1 == 0x6C {
		// Clone command to update Le without mutating the original pointer
		clone := *cmd
		clone.Ne = int(sw2)
		if clone.Ne == 0 {
			clone.Ne = MaxShortLe
		}
		next = &clone
	}

	subTrace, err := c.send(next, round+1)
	trace = append(trace, subTrace...)
	return trace, err
}
