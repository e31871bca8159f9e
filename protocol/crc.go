package protocol

// Checksum algorithm constants.
const (
	// CRC7Polynomial is x^7 + x^3 + 1 with the x^7 term implied
	CRC7Polynomial = 0x09

	// CRC7Mask keeps the seven significant bits of the accumulator
	CRC7Mask = 0x7F

	// CRC16Polynomial is the CRC-16-CCITT polynomial (0x1021)
	CRC16Polynomial = 0x1021

	// BitsPerByte is the number of bits per byte
	BitsPerByte = 8
)

// CRC7 folds one byte into a running CRC7 accumulator.
// Start with 0 and feed bytes in transmission order.
//
// The result occupies the low seven bits. The command trailer is
// CRC7 << 1 | StopBit.
func CRC7(data byte, crc byte) byte {
	for i := 0; i < BitsPerByte; i++ {
		crc <<= 1
		if (data^crc)&0x80 != 0 {
			crc ^= CRC7Polynomial
		}
		data <<= 1
	}
	return crc & CRC7Mask
}

// CRC7Bytes computes the CRC7 of data starting from a zero accumulator.
func CRC7Bytes(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = CRC7(b, crc)
	}
	return crc
}

// CRC16 folds one byte into a running CRC-16-CCITT accumulator.
// Start with 0 (XMODEM variant, as used for SD data blocks).
//
// This is the nibble-folded form of the polynomial division, which needs
// no table and no per-bit loop.
func CRC16(data byte, crc uint16) uint16 {
	x := (crc >> BitsPerByte) ^ uint16(data)
	x ^= x >> 4
	return crc<<BitsPerByte ^ x<<12 ^ x<<5 ^ x
}

// CRC16Bytes computes the CRC16 of data starting from a zero accumulator.
func CRC16Bytes(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = CRC16(b, crc)
	}
	return crc
}
