package iso7816

// TRACE:
// One logical request may take several physical exchanges:
// 1. "61 XX": the card holds XX bytes, fetched with GET RESPONSE.
// 2. "6C XX": the command is re-sent with Le = XX.
// A Trace keeps every exchange in order. The last transaction carries the
// outcome; Command gives the command that produced it, which is what a
// secure session has to certify.

// Transaction is one command and the response it got.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// Trace is the ordered list of exchanges of one logical request.
type Trace []Transaction

// Last returns the final transaction, or nil for an empty trace.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// Response returns the final response of the trace, or nil.
func (t Trace) Response() *ResponseAPDU {
	if last := t.Last(); last != nil {
		return last.Response
	}
	return nil
}

// Command returns the command answered by the final response: the original
// one or its re-issue after a 6Cxx, never a GET RESPONSE. It returns nil for an
// empty trace.
func (t Trace) Command() *CommandAPDU {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Command != nil && t[i].Command.Instruction != INS_GET_RESPONSE {
			return t[i].Command
		}
	}
	if len(t) == 0 {
		return nil
	}
	return t[0].Command
}
