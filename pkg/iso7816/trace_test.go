package iso7816

import (
	"testing"
)

func TestTrace(t *testing.T) {
	readRecord := NewCommandAPDU(ClassISO, INS_READ_RECORD, 0x01, 0x44, nil, MaxShortLe).Named("Read Record")
	reissued := NewCommandAPDU(ClassISO, INS_READ_RECORD, 0x01, 0x44, nil, 0x1D).Named("Read Record")
	getResponse := NewCommandAPDU(ClassISO, INS_GET_RESPONSE, 0, 0, nil, 0x10).Named("Get Response")

	tx := func(cmd *CommandAPDU, sw StatusWord) Transaction {
		return Transaction{Command: cmd, Response: &ResponseAPDU{Status: sw}}
	}

	tests := []struct {
		name        string
		trace       Trace
		wantCommand *CommandAPDU
		wantStatus  StatusWord
	}{
		{
			name:        "Single exchange",
			trace:       Trace{tx(readRecord, SW_NO_ERROR)},
			wantCommand: readRecord,
			wantStatus:  SW_NO_ERROR,
		},
		{
			name: "61XX then GET RESPONSE",
			trace: Trace{
				tx(readRecord, NewStatusWord(0x61, 0x10)),
				tx(getResponse, SW_NO_ERROR),
			},
			wantCommand: readRecord,
			wantStatus:  SW_NO_ERROR,
		},
		{
			name: "6CXX then re-issue",
			trace: Trace{
				tx(readRecord, NewStatusWord(0x6C, 0x1D)),
				tx(reissued, SW_NO_ERROR),
			},
			wantCommand: reissued,
			wantStatus:  SW_NO_ERROR,
		},
		{
			name: "Failure at the end",
			trace: Trace{
				tx(readRecord, NewStatusWord(0x61, 0x10)),
				tx(getResponse, SW_ERR_FILE_NOT_FOUND),
			},
			wantCommand: readRecord,
			wantStatus:  SW_ERR_FILE_NOT_FOUND,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trace.Command(); got != tt.wantCommand {
				t.Errorf("Command() = %v, want %v", got, tt.wantCommand)
			}
			if got := tt.trace.Response().Status; got != tt.wantStatus {
				t.Errorf("Response().Status = %v, want %v", got, tt.wantStatus)
			}
			if tt.trace.Last() != &tt.trace[len(tt.trace)-1] {
				t.Error("Last() does not point at the final transaction")
			}
		})
	}

	t.Run("Empty trace", func(t *testing.T) {
		var tr Trace
		if tr.Last() != nil || tr.Response() != nil || tr.Command() != nil {
			t.Error("empty trace should yield nil")
		}
	})
}
