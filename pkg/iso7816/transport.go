package iso7816

import (
	"errors"
	"fmt"
)

// Transport errors. A Transmitter reports card absence and timeouts by wrapping
// ErrCardRemoved and ErrTimeout so that callers can tell them apart from a
// command failure; the Client wraps every transmission failure in a TransportError.
var (
	ErrTransport         = errors.New("transport failure")
	ErrCardRemoved       = errors.New("card removed")
	ErrTimeout           = errors.New("transport timeout")
	ErrMalformedResponse = errors.New("malformed response")
)

// TransportError wraps a failed physical exchange.
type TransportError struct {
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
