package iso7816

import (
	"testing"
)

func TestInstruction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ins     Instruction
		wantErr bool
	}{
		{name: "Open Session", ins: INS_OPEN_SESSION},
		{name: "SV Debit", ins: INS_SV_DEBIT},
		{name: "Invalid INS 6X", ins: 0x6C, wantErr: true},
		{name: "Invalid INS 9X", ins: 0x90, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ins.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInstruction_String(t *testing.T) {
	tests := []struct {
		ins  Instruction
		want string
	}{
		{INS_READ_RECORD, "READ RECORD"},
		{INS_DIGEST_UPDATE, "DIGEST UPDATE"},
		{INS_DIGEST_INIT, "OPEN SESSION / DIGEST INIT"},
		{Instruction(0x42), "INS(0x42)"},
	}

	for _, tt := range tests {
		if got := tt.ins.String(); got != tt.want {
			t.Errorf("String(%02X) = %q, want %q", byte(tt.ins), got, tt.want)
		}
	}
}

func TestInstruction_UsesBERTLV(t *testing.T) {
	if INS_READ_RECORD.UsesBERTLV() {
		t.Error("B2 is not a BER-TLV instruction")
	}
	if !Instruction(0xB3).UsesBERTLV() {
		t.Error("B3 is a BER-TLV instruction")
	}
}
