// Package bits reads and writes bit fields of single bytes using the 1-based,
// least-significant-first numbering of ISO/IEC 7816 and the Calypso documents
// (b8 is the most significant bit, b1 the least).
package bits

// Bit returns a mask with only bit n set. Out-of-range positions yield 0.
func Bit(n uint) byte {
	if n == 0 || n > 8 {
		return 0
	}
	return byte(1) << (n - 1)
}

// IsSet reports whether bit n of b is 1.
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// GetRange returns the field spanning bits high..low, shifted down to bit 1.
// For example GetRange(0xA8, 8, 4) extracts the top five bits (0b10101).
func GetRange(b byte, high, low uint) byte {
	if low == 0 || high > 8 || high < low {
		return 0
	}
	width := high - low + 1
	return (b >> (low - 1)) & byte((1<<width)-1)
}

// Set returns b with bit n forced to 1.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// Clear returns b with bit n forced to 0.
func Clear(b byte, n uint) byte {
	return b &^ Bit(n)
}
