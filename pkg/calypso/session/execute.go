package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// recorder keeps the trace of the last exchange.
type recorder struct {
	calypso.Sender
	trace iso7816.Trace
}

func (r *recorder) Send(cmd *iso7816.CommandAPDU) (iso7816.Trace, error) {
	trace, err := r.Sender.Send(cmd)
	r.trace = trace
	return trace, err
}

// Execute sends a card command inside the open session s.
//
// A modifying command that would overflow the card buffer is refused with a
// *calypso.BufferOverflowError before anything is sent. Otherwise the command
// and its response are appended to the session records and digested by the SAM,
// whatever the status. A status failure is returned as by calypso.Exchange and
// leaves the session open. A SAM failure cancels the session; a transport
// failure aborts it.
func Execute[R any](s *SecureSession, codec calypso.Codec[R]) (calypso.Response[R], error) {
	var out calypso.Response[R]
	cmd := codec.APDU()
	if s.state != Open {
		return out, s.refuse(cmd.Name)
	}
	switch cmd.Instruction {
	case iso7816.INS_OPEN_SESSION, iso7816.INS_CLOSE_SESSION:
		return out, s.refuse(cmd.Name)
	}

	cost, err := calypso.BufferCost(codec, s.info.Revision)
	if err != nil {
		return out, err
	}
	if s.used+cost > s.limit {
		err := &calypso.BufferOverflowError{Command: cmd.Name, Cost: cost, Used: s.used, Limit: s.limit}
		s.logger.Warn("command refused", zap.String("command", cmd.Name), zap.Stringer("state", s.state), zap.Error(err))
		return out, err
	}

	rec := &recorder{Sender: s.card}
	out, err = calypso.Exchange(rec, codec)
	if errors.Is(err, iso7816.ErrTransport) {
		// A 61xx or 6Cxx follow-up may fail after a partial exchange: nothing
		// of it is certified.
		s.logger.Error("transport failure, session aborted", zap.String("command", cmd.Name), zap.Error(err))
		s.transition(Aborted)
		return out, err
	}
	if len(rec.trace) == 0 {
		return out, err
	}

	sent := rec.trace.Command()
	resp := rec.trace.Response()
	s.records = append(s.records, iso7816.Transaction{Command: sent, Response: resp})
	if digestErr := s.digestPair(sent, resp); digestErr != nil {
		return out, s.samFailed("Digest Update", digestErr)
	}
	if codec.Statuses().IsSuccessful(resp.Status) {
		s.used += cost
	}
	if err != nil {
		s.logger.Warn("command failed", zap.String("command", cmd.Name), zap.Stringer("state", s.state), zap.Error(err))
	}
	return out, err
}

// digestPair feeds the SAM with a command, without the Le byte of a case 4
// command, then with the full response.
func (s *SecureSession) digestPair(cmd *iso7816.CommandAPDU, resp *iso7816.ResponseAPDU) error {
	raw, err := cmd.Bytes()
	if err != nil {
		return calypso.NewEncodingError(cmd.Name, "%v", err)
	}
	if len(cmd.Data) > 0 && cmd.Ne > 0 {
		raw = raw[:len(raw)-1]
	}
	if err := s.digest.Update(raw); err != nil {
		return err
	}
	return s.digest.Update(resp.Bytes())
}
