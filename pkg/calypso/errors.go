package calypso

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is on the typed errors below.
var (
	ErrEncoding       = errors.New("encoding violation")
	ErrBufferOverflow = errors.New("session buffer overflow")
	ErrIntegrity      = errors.New("session integrity failure")
	ErrIllegalState   = errors.New("illegal session state")
)

// EncodingError reports parameters or a response that break a command's
// encoding rules. It is a caller bug and is never retried.
type EncodingError struct {
	Command string
	Reason  string
}

// NewEncodingError formats the reason.
func NewEncodingError(command, format string, args ...any) *EncodingError {
	return &EncodingError{Command: command, Reason: fmt.Sprintf(format, args...)}
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

func (e *EncodingError) Unwrap() error { return ErrEncoding }

// BufferOverflowError is returned before transmission when a modifying command
// would not fit in what remains of the card's session buffer.
type BufferOverflowError struct {
	Command string
	Cost    int
	Used    int
	Limit   int
}

func (e *BufferOverflowError) Error() string {
	return fmt.Sprintf("%s: needs %d units of session buffer, %d of %d already used",
		e.Command, e.Cost, e.Used, e.Limit)
}

func (e *BufferOverflowError) Unwrap() error { return ErrBufferOverflow }

// IntegrityError reports a SAM verdict rejecting the card signature. Card-side
// modifications of the session cannot be assumed rolled back.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("card signature rejected by the SAM: %v", e.Err)
}

func (e *IntegrityError) Unwrap() []error { return []error{ErrIntegrity, e.Err} }

// StateError reports an operation invoked in a state that forbids it.
type StateError struct {
	Operation string
	State     fmt.Stringer
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Operation, e.State)
}

func (e *StateError) Unwrap() error { return ErrIllegalState }
