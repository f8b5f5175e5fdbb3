package model

import "math"

// Sub-byte packing of quantized constants.
//
// Elements are laid out as one contiguous little-endian bitstream: element i occupies
// bits [i*nbits, (i+1)*nbits), least significant bit first, and byte j holds bits
// [8*j, 8*j+8) of the stream. The last byte is zero-padded in its high bits.
// For instance the signed 4-bit values [-8, 7, 3, 4, -2] pack to [0x78, 0x43, 0x0E].
//
// This is the layout of packed weights in existing CoreML models, so it must not change.

// Element is the type of values that can be packed: 8 bit signed or unsigned integers.
type Element interface {
	~int8 | ~uint8
}

// MaxPackedBits is the largest supported bit width of a packed element.
const MaxPackedBits = 8

// PackedByteCount returns the number of bytes needed to hold elementNum packed elements of nbits each.
func PackedByteCount(elementNum, nbits int) int {
	return (elementNum*nbits + 7) / 8
}

// PackElementsIntoBits packs each element of data into nbits bits (1 to 8).
//
// Only the low nbits bits of each element are kept: values are expected to be already
// in range for nbits (two's complement for signed types), otherwise they are silently truncated.
func PackElementsIntoBits[T Element](data []T, nbits int) ([]byte, error) {
	if err := checkNBits(nbits); err != nil {
		return nil, err
	}
	packed := make([]byte, PackedByteCount(len(data), nbits))
	mask := uint16(1)<<nbits - 1
	bitPos := 0
	for _, v := range data {
		bits := uint16(uint8(v)) & mask
		byteIdx, shift := bitPos/8, bitPos%8
		packed[byteIdx] |= byte(bits << shift)
		if shift+nbits > 8 {
			packed[byteIdx+1] |= byte(bits >> (8 - shift))
		}
		bitPos += nbits
	}
	return packed, nil
}

// RestoreElementsFromPackedBits is the inverse of PackElementsIntoBits: it extracts the first
// elementNum values of nbits bits from packed. Bits past elementNum*nbits are ignored.
//
// If signed is true, values are sign extended from bit nbits-1, otherwise zero extended.
// With T=uint8 and signed=true the result holds the two's complement representation.
func RestoreElementsFromPackedBits[T Element](packed []byte, nbits, elementNum int, signed bool) ([]T, error) {
	if err := checkNBits(nbits); err != nil {
		return nil, err
	}
	if elementNum < 0 {
		return nil, validationErrorf("element_num must be non-negative, got %d", elementNum)
	}
	if elementNum > math.MaxInt/nbits {
		return nil, validationErrorf("element_num %d of %d bits is too large", elementNum, nbits)
	}
	if want := PackedByteCount(elementNum, nbits); len(packed) < want {
		return nil, validationErrorf("packed data too short: %d elements of %d bits need %d bytes, got %d",
			elementNum, nbits, want, len(packed))
	}

	mask := uint16(1)<<nbits - 1
	signBit := uint16(1) << (nbits - 1)
	elements := make([]T, elementNum)
	bitPos := 0
	for i := range elements {
		byteIdx, shift := bitPos/8, bitPos%8
		bits := uint16(packed[byteIdx]) >> shift
		if shift+nbits > 8 {
			bits |= uint16(packed[byteIdx+1]) << (8 - shift)
		}
		bits &= mask
		if signed && bits&signBit != 0 {
			bits |= ^mask
		}
		elements[i] = T(uint8(bits))
		bitPos += nbits
	}
	return elements, nil
}

func checkNBits(nbits int) error {
	if nbits < 1 || nbits > MaxPackedBits {
		return validationErrorf("nbits must be between 1 and %d, got %d", MaxPackedBits, nbits)
	}
	return nil
}
