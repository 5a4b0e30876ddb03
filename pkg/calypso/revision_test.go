package calypso

import (
	"testing"

	"github.com/gregLibert/calypso/pkg/iso7816"
)

func TestRevisionFromApplicationType(t *testing.T) {
	tests := []struct {
		name    string
		appType byte
		want    CardRevision
	}{
		{"Bit 8 set", 0x80, Rev3_1CLAP},
		{"Bit 8 set wins over 00101", 0xA8, Rev3_1CLAP},
		{"00101xxx", 0x28, Rev3_2},
		{"00101 with low bits", 0x2F, Rev3_2},
		{"00100xxx", 0x20, Rev3_1},
		{"00100 with low bits", 0x27, Rev3_1},
		{"Anything else", 0x06, Rev2_4},
		{"00110xxx", 0x30, Rev2_4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RevisionFromApplicationType(tt.appType); got != tt.want {
				t.Errorf("RevisionFromApplicationType(%02X) = %s, want %s", tt.appType, got, tt.want)
			}
		})
	}
}

func TestCardRevision_Class(t *testing.T) {
	tests := []struct {
		rev  CardRevision
		want iso7816.Class
	}{
		{Rev2_4, 0x94},
		{Rev3_1, 0x00},
		{Rev3_1CLAP, 0x00},
		{Rev3_2, 0x00},
	}

	for _, tt := range tests {
		if got := tt.rev.Class(); got != tt.want {
			t.Errorf("%s.Class() = %02X, want %02X", tt.rev, byte(got), byte(tt.want))
		}
	}
}

func TestSamRevision(t *testing.T) {
	tests := []struct {
		name string
		want iso7816.Class
	}{
		{"C1", 0x80},
		{"S1E", 0x80},
		{"S1D", 0x94},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev, err := ParseSamRevision(tt.name)
			if err != nil {
				t.Fatal(err)
			}
			if rev.String() != tt.name {
				t.Errorf("String() = %s", rev)
			}
			if got := rev.Class(); got != tt.want {
				t.Errorf("Class() = %02X, want %02X", byte(got), byte(tt.want))
			}
		})
	}

	if _, err := ParseSamRevision("S2"); err == nil {
		t.Error("expected error for unknown revision")
	}
}

func TestAccessLevel(t *testing.T) {
	tests := []struct {
		in       string
		want     AccessLevel
		keyIndex byte
	}{
		{"PERSO", Perso, 1},
		{"load", Load, 2},
		{"DEBIT", Debit, 3},
	}

	for _, tt := range tests {
		level, err := ParseAccessLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseAccessLevel(%q) error = %v", tt.in, err)
		}
		if level != tt.want || level.KeyIndex() != tt.keyIndex {
			t.Errorf("ParseAccessLevel(%q) = %s (key %d)", tt.in, level, level.KeyIndex())
		}
	}

	if _, err := ParseAccessLevel("ADMIN"); err == nil {
		t.Error("expected error for unknown level")
	}
}
