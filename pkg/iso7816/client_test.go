package iso7816

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/calypso/pkg/tlv"
)

// scriptedCard replays canned responses and records every command it receives.
type scriptedCard struct {
	responses [][]byte
	err       error
	received  [][]byte
}

func (s *scriptedCard) Transmit(cmd []byte) ([]byte, error) {
	s.received = append(s.received, append([]byte(nil), cmd...))
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return []byte{0x6F, 0x00}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func TestClient_Send(t *testing.T) {
	tests := []struct {
		name      string
		cmd       *CommandAPDU
		responses [][]byte
		wantSent  [][]byte
		wantData  []byte
		wantSW    StatusWord
		wantSteps int
	}{
		{
			name:      "Direct answer",
			cmd:       NewCommandAPDU(ClassLegacy, INS_READ_RECORD, 0x01, 0x44, nil, MaxShortLe),
			responses: [][]byte{tlv.Hex("AABB 9000")},
			wantSent:  [][]byte{tlv.Hex("94 B2 01 44 00")},
			wantData:  tlv.Hex("AABB"),
			wantSW:    SW_NO_ERROR,
			wantSteps: 1,
		},
		{
			name:      "61XX triggers GET RESPONSE on the same class",
			cmd:       SelectByAID(ClassISO, []byte("1TIC.ICA")),
			responses: [][]byte{tlv.Hex("61 03"), tlv.Hex("6F 01 00 9000")},
			wantSent: [][]byte{
				tlv.Hex("00 A4 04 00 08 31 54 49 43 2E 49 43 41"),
				tlv.Hex("00 C0 00 00 03"),
			},
			wantData:  tlv.Hex("6F 01 00"),
			wantSW:    SW_NO_ERROR,
			wantSteps: 2,
		},
		{
			name:      "6CXX re-issues the command with the corrected Le",
			cmd:       NewCommandAPDU(ClassISO, INS_GET_CHALLENGE, 0, 0, nil, 4),
			responses: [][]byte{tlv.Hex("6C 08"), tlv.Hex("0102030405060708 9000")},
			wantSent: [][]byte{
				tlv.Hex("00 84 00 00 04"),
				tlv.Hex("00 84 00 00 08"),
			},
			wantData:  tlv.Hex("0102030405060708"),
			wantSW:    SW_NO_ERROR,
			wantSteps: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := &scriptedCard{responses: tt.responses}
			trace, err := NewClient(card).Send(tt.cmd)
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if diff := cmp.Diff(tt.wantSent, card.received); diff != "" {
				t.Errorf("sent commands mismatch (-want +got):\n%s", diff)
			}
			if len(trace) != tt.wantSteps {
				t.Errorf("trace length = %d, want %d", len(trace), tt.wantSteps)
			}
			resp := trace.Response()
			if diff := cmp.Diff(tt.wantData, resp.Data); diff != "" {
				t.Errorf("data mismatch (-want +got):\n%s", diff)
			}
			if resp.Status != tt.wantSW {
				t.Errorf("status = %s, want %s", resp.Status, tt.wantSW)
			}
		})
	}
}

func TestClient_SendBoundsProcedureBytes(t *testing.T) {
	responses := make([][]byte, 20)
	for i := range responses {
		responses[i] = tlv.Hex("6C 04")
	}
	card := &scriptedCard{responses: responses}

	trace, err := NewClient(card).Send(NewCommandAPDU(ClassISO, INS_GET_CHALLENGE, 0, 0, nil, 8))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(trace) != maxProcedureRounds+1 {
		t.Errorf("trace length = %d, want %d", len(trace), maxProcedureRounds+1)
	}
}

func TestClient_TransportErrors(t *testing.T) {
	tests := []struct {
		name     string
		card     *scriptedCard
		wantIs   []error
		wantNotI error
	}{
		{
			name:   "Card removed",
			card:   &scriptedCard{err: ErrCardRemoved},
			wantIs: []error{ErrTransport, ErrCardRemoved},
		},
		{
			name:     "Timeout",
			card:     &scriptedCard{err: ErrTimeout},
			wantIs:   []error{ErrTransport, ErrTimeout},
			wantNotI: ErrCardRemoved,
		},
		{
			name:   "Response without status word",
			card:   &scriptedCard{responses: [][]byte{{0x90}}},
			wantIs: []error{ErrTransport, ErrMalformedResponse},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.card).Send(NewCommandAPDU(ClassISO, INS_GET_CHALLENGE, 0, 0, nil, 8))
			for _, target := range tt.wantIs {
				if !errors.Is(err, target) {
					t.Errorf("errors.Is(%v, %v) = false", err, target)
				}
			}
			if tt.wantNotI != nil && errors.Is(err, tt.wantNotI) {
				t.Errorf("errors.Is(%v, %v) = true", err, tt.wantNotI)
			}
			var te *TransportError
			if !errors.As(err, &te) || te.Command != "GET CHALLENGE" {
				t.Errorf("expected *TransportError for GET CHALLENGE, got %v", err)
			}
		})
	}
}
