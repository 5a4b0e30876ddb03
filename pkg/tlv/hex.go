package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex builds a byte slice from hex fragments such as "94 B2 01 44", ignoring
// whitespace. It panics on malformed input and is meant for fixtures and constants.
func Hex(parts ...string) []byte {
	clean := strings.Join(strings.Fields(strings.Join(parts, " ")), "")

	data, err := hex.DecodeString(clean)
	if err != nil {
		panic(fmt.Sprintf("invalid hex '%s': %v", clean, err))
	}
	return data
}
