package astropix

import "math/bits"

// Field is a MSB-first bit range inside a hit buffer.
type Field struct {
	Name  string
	Width int
}

type fieldSlot struct {
	offset int
	width  int
}

func layoutSlots(fields []Field) ([]fieldSlot, int) {
	slots := make([]fieldSlot, len(fields))
	offset := 0
	for i, f := range fields {
		slots[i] = fieldSlot{offset: offset, width: f.Width}
		offset += f.Width
	}
	return slots, offset
}

// extractBits reads width bits starting at bit offset (MSB first).
func extractBits(data []byte, offset, width int) uint64 {
	var value uint64
	for i := 0; i < width; i++ {
		pos := offset + i
		bit := (data[pos/8] >> (7 - uint(pos%8))) & 1
		value = value<<1 | uint64(bit)
	}
	return value
}

func insertBits(data []byte, offset, width int, value uint64) {
	for i := 0; i < width; i++ {
		pos := offset + i
		bit := byte(value>>(uint(width-1-i))) & 1
		mask := byte(1) << (7 - uint(pos%8))
		if bit == 1 {
			data[pos/8] |= mask
		} else {
			data[pos/8] &^= mask
		}
	}
}

// ReverseBits returns a copy of data with the bit order reversed inside
// every byte. The chips shift bits out LSB first.
func ReverseBits(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = bits.Reverse8(b)
	}
	return out
}

// GrayToDecimal converts a Gray-coded counter value.
func GrayToDecimal(gray uint64) uint64 {
	decimal := gray
	for mask := gray >> 1; mask != 0; mask >>= 1 {
		decimal ^= mask
	}
	return decimal
}

func DecimalToGray(decimal uint64) uint64 {
	return decimal ^ (decimal >> 1)
}
