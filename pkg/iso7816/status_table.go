package iso7816

import (
	"errors"
	"fmt"
	"maps"
)

// STATUS TABLES:
// ISO 7816-4 only fixes the meaning of a handful of status words. What a given
// SW means, and whether it counts as a success, depends on the command that
// produced it: '6A83' is a failure for an Update Record but simply "no data"
// for a Read Records. Each command therefore owns a StatusTable, built by
// composing the base table with its own overrides.

// ErrUnknownStatus is matched by errors.Is for a status absent from the command's table.
var ErrUnknownStatus = errors.New("unknown status word")

// StatusProperties describes one status word in the context of a command.
type StatusProperties struct {
	Successful  bool
	Description string
}

// StatusTable maps the status words a command may return to their meaning.
type StatusTable map[StatusWord]StatusProperties

// BaseStatusTable holds the entries shared by every command.
var BaseStatusTable = StatusTable{
	SW_NO_ERROR: {Successful: true, Description: "Successful execution."},
}

// NewStatusTable returns a new table made of BaseStatusTable merged with the
// given overrides, later ones winning.
func NewStatusTable(overrides ...StatusTable) StatusTable {
	table := maps.Clone(BaseStatusTable)
	for _, o := range overrides {
		maps.Copy(table, o)
	}
	return table
}

// Lookup returns the properties registered for sw.
func (t StatusTable) Lookup(sw StatusWord) (StatusProperties, bool) {
	p, ok := t[sw]
	return p, ok
}

// IsSuccessful reports whether sw is a registered success. Unknown codes are never successful.
func (t StatusTable) IsSuccessful(sw StatusWord) bool {
	p, ok := t[sw]
	return ok && p.Successful
}

// Description returns the registered description, or the generic ISO one.
func (t StatusTable) Description(sw StatusWord) string {
	if p, ok := t[sw]; ok {
		return p.Description
	}
	return sw.Verbose()
}

// Check returns nil when the response status is a registered success,
// a *StatusError for a registered failure and an *UnknownStatusError otherwise.
func (t StatusTable) Check(command string, resp *ResponseAPDU) error {
	if resp == nil {
		return fmt.Errorf("%s: %w", command, ErrMalformedResponse)
	}
	p, ok := t[resp.Status]
	switch {
	case !ok:
		return &UnknownStatusError{Command: command, Status: resp.Status}
	case !p.Successful:
		return &StatusError{Command: command, Status: resp.Status, Description: p.Description}
	default:
		return nil
	}
}

// StatusError reports a known, unsuccessful status word.
type StatusError struct {
	Command     string
	Status      StatusWord
	Description string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s (SW %s)", e.Command, e.Description, e.Status)
}

// UnknownStatusError reports a status word absent from the command's table.
type UnknownStatusError struct {
	Command string
	Status  StatusWord
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("%s: unknown status word %s (%s)", e.Command, e.Status, e.Status.Verbose())
}

func (e *UnknownStatusError) Unwrap() error { return ErrUnknownStatus }
