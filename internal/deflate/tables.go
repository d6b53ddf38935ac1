package deflate

// Length codes 257-285, indexed by code-257.
var (
	lengthBase = [29]uint16{
		3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
		35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
	}
	lengthExtra = [29]uint8{
		0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
	}
)

// Distance codes 0-29.
var (
	distanceBase = [30]uint16{
		1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
		257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145,
		8193, 12289, 16385, 24577,
	}
	distanceExtra = [30]uint8{
		0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
		7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
	}
)

// codeLengthOrder is the transmission order of the code-length alphabet
// in dynamic block headers.
var codeLengthOrder = [19]uint8{
	16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15,
}

// DecodeLength maps a length code (257-285) plus extra bits to a length.
func DecodeLength(code uint16, extra uint32) (uint16, bool) {
	if code < 257 || code > 285 {
		return 0, false
	}
	return lengthBase[code-257] + uint16(extra), true
}

// DecodeDistance maps a distance code (0-29) plus extra bits to a distance.
func DecodeDistance(code uint16, extra uint32) (uint16, bool) {
	if code > 29 {
		return 0, false
	}
	return distanceBase[code] + uint16(extra), true
}

// EncodeLength maps a length in [3,258] to its code, extra-bit value and
// extra-bit count.
func EncodeLength(length uint16) (code uint16, extra uint16, bits uint8) {
	// Length 258 always uses code 285 with no extra bits.
	if length == 258 {
		return 285, 0, 0
	}
	for i := len(lengthBase) - 1; i >= 0; i-- {
		if length >= lengthBase[i] {
			return uint16(i) + 257, length - lengthBase[i], lengthExtra[i]
		}
	}
	return 257, 0, 0
}

// EncodeDistance maps a distance in [1,32768] to its code, extra-bit value
// and extra-bit count.
func EncodeDistance(distance uint16) (code uint16, extra uint16, bits uint8) {
	for i := len(distanceBase) - 1; i >= 0; i-- {
		if distance >= distanceBase[i] {
			return uint16(i), distance - distanceBase[i], distanceExtra[i]
		}
	}
	return 0, 0, 0
}
