package iso7816

import (
	"strings"
	"testing"
)

func TestClass_Bits(t *testing.T) {
	tests := []struct {
		name        string
		cla         Class
		proprietary bool
		chained     bool
		channel     uint8
	}{
		{name: "ISO class", cla: ClassISO},
		{name: "Calypso legacy", cla: ClassLegacy, proprietary: true},
		{name: "SAM class", cla: ClassSAM, proprietary: true},
		{
			name: "First Interindustry - Ch 3, Chaining",
			// 0b0(Prop)_0(First)_00(NoSM)_1(Chain)_11(Ch3)
			cla:     0b0_0_00_1_11,
			chained: true,
			channel: 3,
		},
		{
			name: "Further Interindustry reports channel 0",
			cla:  0b0_1_0_0_0011,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cla.IsProprietary(); got != tt.proprietary {
				t.Errorf("IsProprietary() = %v, want %v", got, tt.proprietary)
			}
			if got := tt.cla.IsChained(); got != tt.chained {
				t.Errorf("IsChained() = %v, want %v", got, tt.chained)
			}
			if got := tt.cla.Channel(); got != tt.channel {
				t.Errorf("Channel() = %d, want %d", got, tt.channel)
			}
		})
	}
}

func TestClass_WithoutChaining(t *testing.T) {
	if got := Class(0x13).WithoutChaining(); got != 0x03 {
		t.Errorf("WithoutChaining(0x13) = %02X, want 03", byte(got))
	}
	if got := ClassLegacy.WithoutChaining(); got != ClassLegacy {
		t.Errorf("proprietary class must be left untouched, got %02X", byte(got))
	}
}

func TestClass_Verbose(t *testing.T) {
	tests := []struct {
		cla      Class
		contains string
	}{
		{ClassLegacy, "Calypso legacy"},
		{ClassSAM, "Proprietary (0x80)"},
		{Class(0x11), "more commands follow"},
		{ClassISO, "channel 0, last or only command"},
	}

	for _, tt := range tests {
		if got := tt.cla.Verbose(); !strings.Contains(got, tt.contains) {
			t.Errorf("Verbose(%02X) = %q; want containing %q", byte(tt.cla), got, tt.contains)
		}
	}
}
