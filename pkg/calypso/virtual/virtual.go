// Package virtual simulates a Calypso card and a Calypso SAM in software. Both
// implement iso7816.Transmitter and speak the same APDUs as real devices, so a
// secure session can run end to end without a reader.
//
// The cryptography is not the Calypso one: keys are 16-byte 3DES keys and every
// MAC is a CMAC computed with github.com/aead/cmac. Card and SAM agree with each
// other, which is all a terminal can observe.
package virtual

import (
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"fmt"

	"github.com/aead/cmac"

	"github.com/gregLibert/calypso/pkg/calypso"
	"github.com/gregLibert/calypso/pkg/iso7816"
)

// KeyLength is the size of a master key.
const KeyLength = 16

// Key is a master key held by the SAM. The card holds it diversified with its
// serial number.
type Key struct {
	Reference calypso.KeyReference
	Master    []byte
}

func resizeKey24(key []byte) []byte {
	data := make([]byte, 24)
	copy(data, key[0:16])
	copy(data[16:], key[0:8])

	return data
}

func newCipher(key []byte) (cipher.Block, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("key of %d bytes, want %d", len(key), KeyLength)
	}
	return des.NewTripleDESCipher(resizeKey24(key))
}

// derive computes a 16-byte key from seed: two CMACs of seed suffixed by 01 and 02.
func derive(key, seed []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, KeyLength)
	for _, suffix := range []byte{0x01, 0x02} {
		msg := append(append([]byte(nil), seed...), suffix)
		tag, err := cmac.Sum(msg, block, block.BlockSize())
		if err != nil {
			return nil, err
		}
		out = append(out, tag...)
	}
	return out, nil
}

// Diversify returns the card key derived from a master key and a serial number.
func Diversify(master, serial []byte) ([]byte, error) {
	return derive(master, serial)
}

// Signature prefixes: the terminal half is checked by the card, the card half
// by the SAM.
const (
	terminalHalf = 0x01
	cardHalf     = 0x02
)

// digest accumulates the messages of a session under its session key.
type digest struct {
	key      []byte
	messages [][]byte
}

// newDigest derives the session key from the card key, the terminal challenge
// and the open response, which is also the first digested message.
func newDigest(cardKey, challenge, openData []byte) (*digest, error) {
	key, err := derive(cardKey, append(append([]byte(nil), challenge...), openData...))
	if err != nil {
		return nil, err
	}
	d := &digest{key: key}
	d.add(openData)
	return d, nil
}

func (d *digest) add(message []byte) {
	d.messages = append(d.messages, append([]byte(nil), message...))
}

// signature is the CMAC of the length-prefixed messages, truncated to n bytes.
func (d *digest) signature(half byte, n int) ([]byte, error) {
	block, err := newCipher(d.key)
	if err != nil {
		return nil, err
	}
	h, err := cmac.New(block)
	if err != nil {
		return nil, err
	}
	h.Write([]byte{half})
	for _, m := range d.messages {
		h.Write(binary.BigEndian.AppendUint16(nil, uint16(len(m))))
		h.Write(m)
	}
	sum := h.Sum(nil)
	if n > len(sum) {
		return nil, fmt.Errorf("signature of %d bytes, max %d", n, len(sum))
	}
	return sum[:n], nil
}

// apdu is a short command as received by a simulated device.
type apdu struct {
	cla, ins, p1, p2 byte
	data             []byte
	le               int
	hasLe            bool
	raw              []byte
}

func parseAPDU(raw []byte) (apdu, bool) {
	if len(raw) < iso7816.HeaderLength {
		return apdu{}, false
	}
	a := apdu{cla: raw[0], ins: raw[1], p1: raw[2], p2: raw[3], raw: append([]byte(nil), raw...)}
	body := raw[iso7816.HeaderLength:]
	switch {
	case len(body) == 0:
	case len(body) == 1:
		a.le, a.hasLe = int(body[0]), true
	default:
		lc := int(body[0])
		switch len(body) {
		case 1 + lc:
		case 2 + lc:
			a.le, a.hasLe = int(body[1+lc]), true
		default:
			return apdu{}, false
		}
		a.data = body[1 : 1+lc]
	}
	if a.hasLe && a.le == 0 {
		a.le = iso7816.MaxShortLe
	}
	return a, true
}

// digested is the form of the command entering the session MAC: the Le byte of
// a case 4 command is left out.
func (a apdu) digested() []byte {
	if a.hasLe && len(a.data) > 0 {
		return a.raw[:len(a.raw)-1]
	}
	return a.raw
}

func reply(sw iso7816.StatusWord, data ...[]byte) []byte {
	var out []byte
	for _, d := range data {
		out = append(out, d...)
	}
	return append(out, sw.SW1(), sw.SW2())
}
