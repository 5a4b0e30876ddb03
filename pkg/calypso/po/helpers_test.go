package po

import (
	"testing"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/tlv"
)

func encode(t *testing.T, cmd calypso.Command) []byte {
	t.Helper()
	raw, err := cmd.APDU().Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	return raw
}

func response(t *testing.T, parts ...string) *iso7816.ResponseAPDU {
	t.Helper()
	resp, err := iso7816.ParseResponseAPDU(tlv.Hex(parts...))
	if err != nil {
		t.Fatalf("ParseResponseAPDU() error = %v", err)
	}
	return resp
}
