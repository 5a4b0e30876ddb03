package iso7816

import (
	"fmt"
)

// Instruction Byte (INS) according to ISO/IEC 7816-4.
//
// INS values where the upper nibble is '6' or '9' (0x6X or 0x9X) are invalid:
// they are reserved for SW1 and the transport layer procedure bytes (ISO/IEC 7816-3).
//
// Calypso cards reuse the ISO codes where they exist and add proprietary ones
// for the secure session and the Stored Value purse. SAMs reuse some card codes
// for unrelated commands (Digest Init shares '8A' with Open Secure Session),
// so the name of an instruction only makes sense together with its target.

// Instruction is a typed representation of the instruction byte.
type Instruction byte

// Instruction codes used by Calypso cards (ISO/IEC 7816-4 and proprietary).
const (
	INS_VERIFY             Instruction = 0x20
	INS_DECREASE           Instruction = 0x30
	INS_INCREASE           Instruction = 0x32
	INS_SV_GET             Instruction = 0x7C
	INS_GET_CHALLENGE      Instruction = 0x84
	INS_OPEN_SESSION       Instruction = 0x8A
	INS_CLOSE_SESSION      Instruction = 0x8E
	INS_SELECT             Instruction = 0xA4
	INS_READ_RECORD        Instruction = 0xB2
	INS_SV_RELOAD          Instruction = 0xB8
	INS_SV_DEBIT           Instruction = 0xBA
	INS_GET_RESPONSE       Instruction = 0xC0
	INS_GET_DATA           Instruction = 0xCA
	INS_WRITE_RECORD       Instruction = 0xD2
	INS_UPDATE_RECORD      Instruction = 0xDC
	INS_APPEND_RECORD      Instruction = 0xE2
	INS_READ_BINARY        Instruction = 0xB0
	INS_EXTERNAL_AUTH      Instruction = 0x82
	INS_SELECT_DIVERSIFIER Instruction = 0x14
)

// Instruction codes specific to Calypso SAMs.
const (
	INS_DIGEST_INIT         Instruction = 0x8A
	INS_DIGEST_UPDATE       Instruction = 0x8C
	INS_DIGEST_CLOSE        Instruction = 0x8E
	INS_DIGEST_AUTHENTICATE Instruction = 0x82
)

var instructionNames = map[Instruction]string{
	INS_VERIFY:             "VERIFY",
	INS_DECREASE:           "DECREASE",
	INS_INCREASE:           "INCREASE",
	INS_SV_GET:             "SV GET",
	INS_GET_CHALLENGE:      "GET CHALLENGE",
	INS_OPEN_SESSION:       "OPEN SESSION / DIGEST INIT",
	INS_CLOSE_SESSION:      "CLOSE SESSION / DIGEST CLOSE",
	INS_SELECT:             "SELECT",
	INS_READ_RECORD:        "READ RECORD",
	INS_SV_RELOAD:          "SV RELOAD",
	INS_SV_DEBIT:           "SV DEBIT",
	INS_GET_RESPONSE:       "GET RESPONSE",
	INS_GET_DATA:           "GET DATA",
	INS_WRITE_RECORD:       "WRITE RECORD",
	INS_UPDATE_RECORD:      "UPDATE RECORD",
	INS_APPEND_RECORD:      "APPEND RECORD",
	INS_READ_BINARY:        "READ BINARY",
	INS_EXTERNAL_AUTH:      "EXTERNAL AUTHENTICATE / DIGEST AUTHENTICATE",
	INS_SELECT_DIVERSIFIER: "SELECT DIVERSIFIER",
	INS_DIGEST_UPDATE:      "DIGEST UPDATE",
}

// String returns the mnemonic of the instruction, or its hex value when unknown.
func (i Instruction) String() string {
	if name, ok := instructionNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS(0x%02X)", byte(i))
}

// Validate checks that the byte is not in a range reserved for the transport layer.
func (i Instruction) Validate() error {
	upper := byte(i) & 0xF0
	if upper == 0x60 || upper == 0x90 {
		return fmt.Errorf("INS 0x%02X is invalid (reserved range 6X/9X)", byte(i))
	}
	return nil
}

// UsesBERTLV reports whether bit 1 flags BER-TLV encoded data (odd instruction).
func (i Instruction) UsesBERTLV() bool {
	return byte(i)&0x01 != 0
}
