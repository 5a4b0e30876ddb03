package tlv

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/moov-io/bertlv"
)

type discretionaryView struct {
	Serial  []byte       `tlv:"C7"`
	Startup []byte       `tlv:"53"`
	Other   []bertlv.TLV `tlv:",unknown"`
}

type proprietaryView struct {
	Discretionary *discretionaryView `tlv:"BF0C"`
}

type fciView struct {
	DFName      []byte          `tlv:"84"`
	Proprietary proprietaryView `tlv:"A5"`
	Raw         []byte          `tlv:"A5"`
}

func TestUnmarshal(t *testing.T) {
	raw := Hex(
		"84 02 1122",
		"A5 0E",
		"BF0C 0B",
		"C7 02 AABB",
		"53 01 06",
		"DF01 01 CC",
	)

	var got fciView
	if err := Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if diff := cmp.Diff(Hex("1122"), got.DFName); diff != "" {
		t.Errorf("DFName mismatch (-want +got):\n%s", diff)
	}
	d := got.Proprietary.Discretionary
	if d == nil {
		t.Fatal("nested BF0C template not populated")
	}
	if diff := cmp.Diff(Hex("AABB"), d.Serial); diff != "" {
		t.Errorf("Serial mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x06}, d.Startup); diff != "" {
		t.Errorf("Startup mismatch (-want +got):\n%s", diff)
	}
	if len(d.Other) != 1 || !strings.EqualFold(d.Other[0].Tag, "DF01") {
		t.Errorf("unknown tag DF01 not captured: %+v", d.Other)
	}
	if diff := cmp.Diff(Hex("BF0C 0B C7 02 AABB 53 01 06 DF01 01 CC"), got.Raw); diff != "" {
		t.Errorf("re-encoded constructed value mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	t.Run("Non-pointer target", func(t *testing.T) {
		err := Unmarshal(Hex("84 00"), fciView{})
		if err == nil || !strings.Contains(err.Error(), "pointer") {
			t.Errorf("Expected pointer error, got %v", err)
		}
	})

	t.Run("Malformed input", func(t *testing.T) {
		var v fciView
		if err := Unmarshal(Hex("84 05 11"), &v); err == nil {
			t.Error("Expected decode error for truncated value")
		}
	})
}
