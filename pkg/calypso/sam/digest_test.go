package sam

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/calypso/virtual"
	"github.com/gregLibert/calypso/pkg/iso7816"
	"github.com/gregLibert/calypso/pkg/tlv"
)

// scriptedSAM answers 9000 unless a response is scripted for the instruction.
type scriptedSAM struct {
	sent      []*iso7816.CommandAPDU
	responses map[iso7816.Instruction]string
	err       error
}

func (s *scriptedSAM) Send(cmd *iso7816.CommandAPDU) (iso7816.Trace, error) {
	s.sent = append(s.sent, cmd)
	if s.err != nil {
		return nil, &iso7816.TransportError{Command: cmd.Name, Err: s.err}
	}
	r, ok := s.responses[cmd.Instruction]
	if !ok {
		r = "9000"
	}
	resp, err := iso7816.ParseResponseAPDU(tlv.Hex(r))
	if err != nil {
		return nil, err
	}
	return iso7816.Trace{{Command: cmd, Response: resp}}, nil
}

func (s *scriptedSAM) instructions() []iso7816.Instruction {
	out := make([]iso7816.Instruction, 0, len(s.sent))
	for _, c := range s.sent {
		out = append(out, c.Instruction)
	}
	return out
}

func newScriptedSAM() *scriptedSAM {
	return &scriptedSAM{responses: map[iso7816.Instruction]string{
		iso7816.INS_GET_CHALLENGE: "A1A2A3A4 9000",
		iso7816.INS_DIGEST_CLOSE:  "C1C2C3C4 9000",
	}}
}

var testInit = InitParams{
	Key:      calypso.KeyReference{KIF: 0x30, KVC: 0x79},
	OpenData: tlv.Hex("00010203 00 30 79 00"),
}

func openDigest(t *testing.T, d *DigestSession) {
	t.Helper()
	if err := d.SelectDiversifier(tlv.Hex("0011223344556677")); err != nil {
		t.Fatalf("SelectDiversifier() error = %v", err)
	}
	if _, err := d.GetChallenge(4); err != nil {
		t.Fatalf("GetChallenge() error = %v", err)
	}
	if err := d.Init(testInit); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
}

func TestDigestSession_Sequence(t *testing.T) {
	fake := newScriptedSAM()
	d := NewDigestSession(fake, calypso.SamC1)

	openDigest(t, d)
	for _, m := range []string{"00B2014400", "0102 9000"} {
		if err := d.Update(tlv.Hex(m)); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	sig, err := d.Close(4)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if diff := cmp.Diff(tlv.Hex("C1C2C3C4"), sig); diff != "" {
		t.Errorf("signature mismatch (-want +got):\n%s", diff)
	}
	if err := d.Authenticate(tlv.Hex("11223344")); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	want := []iso7816.Instruction{
		iso7816.INS_SELECT_DIVERSIFIER,
		iso7816.INS_GET_CHALLENGE,
		iso7816.INS_DIGEST_INIT,
		iso7816.INS_DIGEST_UPDATE,
		iso7816.INS_DIGEST_UPDATE,
		iso7816.INS_DIGEST_CLOSE,
		iso7816.INS_DIGEST_AUTHENTICATE,
	}
	if diff := cmp.Diff(want, fake.instructions()); diff != "" {
		t.Errorf("sequence mismatch (-want +got):\n%s", diff)
	}

	if err := d.Update(tlv.Hex("00")); !errors.Is(err, calypso.ErrIllegalState) {
		t.Errorf("Update() after Authenticate error = %v, want ErrIllegalState", err)
	}
}

func TestDigestSession_OutOfOrder(t *testing.T) {
	tests := []struct {
		name string
		call func(d *DigestSession) error
	}{
		{"Challenge before diversifier", func(d *DigestSession) error {
			_, err := d.GetChallenge(4)
			return err
		}},
		{"Init before challenge", func(d *DigestSession) error {
			if err := d.SelectDiversifier(tlv.Hex("0011223344556677")); err != nil {
				return err
			}
			return d.Init(testInit)
		}},
		{"Update before init", func(d *DigestSession) error {
			return d.Update(tlv.Hex("00B2014400"))
		}},
		{"Close before init", func(d *DigestSession) error {
			_, err := d.Close(4)
			return err
		}},
		{"Authenticate before close", func(d *DigestSession) error {
			return d.Authenticate(tlv.Hex("11223344"))
		}},
		{"Diversifier twice", func(d *DigestSession) error {
			if err := d.SelectDiversifier(tlv.Hex("0011223344556677")); err != nil {
				return err
			}
			return d.SelectDiversifier(tlv.Hex("0011223344556677"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newScriptedSAM()
			d := NewDigestSession(fake, calypso.SamC1)
			before := len(fake.sent)
			err := tt.call(d)
			if !errors.Is(err, calypso.ErrIllegalState) {
				t.Fatalf("error = %v, want ErrIllegalState", err)
			}
			if len(fake.sent) > before+1 {
				t.Errorf("%d commands sent, the refused one must not be", len(fake.sent)-before)
			}
		})
	}
}

func TestDigestSession_Failures(t *testing.T) {
	t.Run("Known failure ends the session", func(t *testing.T) {
		fake := newScriptedSAM()
		fake.responses[iso7816.INS_DIGEST_INIT] = "6A83"
		d := NewDigestSession(fake, calypso.SamC1)
		_ = d.SelectDiversifier(tlv.Hex("0011223344556677"))
		_, _ = d.GetChallenge(4)

		var statusErr *iso7816.StatusError
		if err := d.Init(testInit); !errors.As(err, &statusErr) {
			t.Fatalf("Init() error = %v, want StatusError", err)
		}
		if err := d.Update(tlv.Hex("00")); !errors.Is(err, calypso.ErrIllegalState) {
			t.Errorf("Update() after failure error = %v", err)
		}
	})

	t.Run("Unknown status ends the session", func(t *testing.T) {
		fake := newScriptedSAM()
		fake.responses[iso7816.INS_SELECT_DIVERSIFIER] = "6F00"
		d := NewDigestSession(fake, calypso.SamC1)
		if err := d.SelectDiversifier(tlv.Hex("0011223344556677")); !errors.Is(err, iso7816.ErrUnknownStatus) {
			t.Fatalf("SelectDiversifier() error = %v, want ErrUnknownStatus", err)
		}
		if _, err := d.GetChallenge(4); !errors.Is(err, calypso.ErrIllegalState) {
			t.Errorf("GetChallenge() after failure error = %v", err)
		}
	})

	t.Run("Rejected signature is an integrity failure", func(t *testing.T) {
		fake := newScriptedSAM()
		fake.responses[iso7816.INS_DIGEST_AUTHENTICATE] = "6988"
		d := NewDigestSession(fake, calypso.SamC1)
		openDigest(t, d)
		if _, err := d.Close(4); err != nil {
			t.Fatal(err)
		}

		err := d.Authenticate(tlv.Hex("11223344"))
		var integrity *calypso.IntegrityError
		if !errors.As(err, &integrity) || !errors.Is(err, calypso.ErrIntegrity) {
			t.Fatalf("Authenticate() error = %v, want IntegrityError", err)
		}
		var statusErr *iso7816.StatusError
		if !errors.As(err, &statusErr) || statusErr.Status != iso7816.SW_ERR_SM_OBJ_INCORRECT {
			t.Errorf("wrapped status = %v, want 6988", err)
		}
	})

	t.Run("Transport failure at authentication", func(t *testing.T) {
		fake := newScriptedSAM()
		d := NewDigestSession(fake, calypso.SamC1)
		openDigest(t, d)
		if _, err := d.Close(4); err != nil {
			t.Fatal(err)
		}
		fake.err = iso7816.ErrCardRemoved

		err := d.Authenticate(tlv.Hex("11223344"))
		if !errors.Is(err, iso7816.ErrTransport) || errors.Is(err, calypso.ErrIntegrity) {
			t.Errorf("Authenticate() error = %v, want a transport error only", err)
		}
	})
}

func TestDigestSession_Batch(t *testing.T) {
	fake := newScriptedSAM()
	d := NewDigestSession(fake, calypso.SamC1, WithBatch(true))
	openDigest(t, d)
	sentAtInit := len(fake.sent)

	long := bytes.Repeat([]byte{0xAB}, MaxDigestData)
	for _, m := range [][]byte{tlv.Hex("0102"), tlv.Hex("03"), long, tlv.Hex("04")} {
		if err := d.Update(m); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	if d.Pending() != 4 || len(fake.sent) != sentAtInit {
		t.Fatalf("Pending() = %d with %d commands sent, want 4 held and none sent", d.Pending(), len(fake.sent)-sentAtInit)
	}

	if _, err := d.Close(4); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got []string
	for _, c := range fake.sent[sentAtInit:] {
		raw, err := c.Bytes()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, fmt.Sprintf("%X", raw[:min(len(raw), 12)]))
	}
	want := []string{
		"808C8000050201020103",
		"808C0000FFABABABABABABAB",
		"808C00000104",
		"808E000004",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flushed commands mismatch (-want +got):\n%s", diff)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after Close", d.Pending())
	}
}

func newVirtualSAM(t *testing.T) *iso7816.Client {
	t.Helper()
	s, err := virtual.NewSAM([]virtual.Key{{
		Reference: testInit.Key,
		Master:    tlv.Hex("000102030405060708090A0B0C0D0E0F"),
	}}, virtual.WithSAMRandom(bytes.NewReader(make([]byte, 64))))
	if err != nil {
		t.Fatal(err)
	}
	return iso7816.NewClient(s)
}

func signatureOf(t *testing.T, batch bool, messages ...[]byte) []byte {
	t.Helper()
	d := NewDigestSession(newVirtualSAM(t), calypso.SamC1, WithBatch(batch))
	openDigest(t, d)
	for _, m := range messages {
		if err := d.Update(m); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	sig, err := d.Close(8)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return sig
}

func TestDigestSession_OrderSensitive(t *testing.T) {
	a, b, c := tlv.Hex("00B2014400"), tlv.Hex("0102 9000"), tlv.Hex("00DC0144 02 0506")
	permutations := [][][]byte{
		{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}

	seen := make(map[string]int)
	for i, p := range permutations {
		sig := fmt.Sprintf("%X", signatureOf(t, false, p...))
		if j, dup := seen[sig]; dup {
			t.Errorf("permutations %d and %d give the same signature %s", j, i, sig)
		}
		seen[sig] = i
	}

	if diff := cmp.Diff(signatureOf(t, false, a, b, c), signatureOf(t, false, a, b, c)); diff != "" {
		t.Errorf("same order, different signatures (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(signatureOf(t, false, a, b, c), signatureOf(t, true, a, b, c)); diff != "" {
		t.Errorf("batch mode changes the signature (-single +batch):\n%s", diff)
	}
}
