package calypso

import (
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// Command is one card or SAM command, ready to be sent.
type Command interface {
	APDU() *iso7816.CommandAPDU
	Statuses() iso7816.StatusTable
}

// Codec is a Command that knows how to decode the response it provokes.
// Decode must not fail on an unsuccessful status; it returns the zero value.
type Codec[R any] interface {
	Command
	Decode(resp *iso7816.ResponseAPDU) (R, error)
}

// Modifying is implemented by card commands that write to the session buffer.
type Modifying interface {
	Command
	ModifiesCard() bool
}

// Sender performs a logical exchange; *iso7816.Client implements it.
type Sender interface {
	Send(cmd *iso7816.CommandAPDU) (iso7816.Trace, error)
}

// Response pairs the decoded value of an exchange with the raw response.
type Response[R any] struct {
	Value R
	Raw   *iso7816.ResponseAPDU
}

// Successful reports whether the status is a success for the given command.
func (r Response[R]) Successful(cmd Command) bool {
	return r.Raw != nil && cmd.Statuses().IsSuccessful(r.Raw.Status)
}

// Exchange sends codec through s, checks the status against the codec's table
// and decodes the response. A status failure is returned as *iso7816.StatusError
// or *iso7816.UnknownStatusError together with the (empty) decoded value.
func Exchange[R any](s Sender, codec Codec[R]) (Response[R], error) {
	var out Response[R]

	cmd := codec.APDU()
	trace, err := s.Send(cmd)
	if err != nil {
		return out, err
	}
	out.Raw = trace.Response()

	statusErr := codec.Statuses().Check(cmd.Name, out.Raw)
	if out.Raw == nil {
		return out, statusErr
	}

	value, err := codec.Decode(out.Raw)
	out.Value = value
	if statusErr != nil {
		return out, statusErr
	}
	return out, err
}

// BufferCost returns what cmd consumes from the card's modification buffer:
// for Revision 3 the encoded length of the APDU plus 6 overhead bytes less the
// 5-byte header, for Revision 2.4 one command.
func BufferCost(cmd Command, rev CardRevision) (int, error) {
	m, ok := cmd.(Modifying)
	if !ok || !m.ModifiesCard() {
		return 0, nil
	}
	if !rev.IsRev3() {
		return 1, nil
	}
	raw, err := cmd.APDU().Bytes()
	if err != nil {
		return 0, NewEncodingError(cmd.APDU().Name, "%v", err)
	}
	return len(raw) + 6 - 5, nil
}

// BufferCapacity returns the size of the session modification buffer from the
// buffer size indicator of the startup information (Revision 3, bytes) or the
// fixed command count of Revision 2.4 cards.
func BufferCapacity(rev CardRevision, indicator byte) int {
	if !rev.IsRev3() {
		return Rev2ModificationsLimit
	}
	if int(indicator) >= len(bufferSizes) {
		return 0
	}
	return bufferSizes[indicator]
}

// Rev2ModificationsLimit is the number of modifying commands a Revision 2.4 session accepts.
const Rev2ModificationsLimit = 6

var bufferSizes = [...]int{
	0, 0, 0, 0, 0, 0, 215, 256, 304, 362, 430, 512, 608, 724, 861, 1024,
	1217, 1448, 1722, 2048, 2435, 2896, 3444, 4096, 4870, 5792, 6888, 8192, 9741, 11585,
	13777, 16384, 19483, 23170, 27554, 32768, 38967, 46340, 55108, 65536, 77935, 92681,
	110217, 131072, 155871, 185363, 220435, 262144, 311743, 370727, 440871, 524288, 623487,
	741455, 881743, 1048576,
}
