package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// CID is the 128-bit card identification register as read from the card,
// most significant byte first.
//
// Layout (byte offsets):
//
//	[MID][OID(2)][PNM(5)][PRV][PSN(4)][reserved:4|MDT(12)][CRC7<<1|1]
type CID [RegisterSize]byte

// ManufacturerID returns the manufacturer ID (MID).
func (c CID) ManufacturerID() byte {
	return c[0]
}

// OEMID returns the two-character OEM/application ID (OID).
func (c CID) OEMID() string {
	return decodeASCII(c[1:3])
}

// ProductName returns the five-character product name (PNM).
func (c CID) ProductName() string {
	return decodeASCII(c[3:8])
}

// Revision returns the product revision as major and minor BCD digits.
func (c CID) Revision() (major, minor byte) {
	return c[8] >> 4, c[8] & 0x0F
}

// SerialBytes returns the raw product serial number bytes (PSN).
func (c CID) SerialBytes() [4]byte {
	return [4]byte{c[9], c[10], c[11], c[12]}
}

// SerialNumber returns the product serial number (PSN).
func (c CID) SerialNumber() uint32 {
	return binary.BigEndian.Uint32(c[9:13])
}

// ManufactureDate returns the manufacturing year and month (MDT).
func (c CID) ManufactureDate() (year int, month int) {
	mdt := uint16(c[13]&0x0F)<<8 | uint16(c[14])
	return 2000 + int(mdt>>4), int(mdt & 0x0F)
}

func (c CID) String() string {
	major, minor := c.Revision()
	year, month := c.ManufactureDate()
	return fmt.Sprintf("MID=0x%02X OID=%q PNM=%q PRV=%d.%d PSN=0x%08X MDT=%04d-%02d",
		c.ManufacturerID(), c.OEMID(), c.ProductName(), major, minor,
		c.SerialNumber(), year, month)
}

// decodeASCII decodes a fixed-width register text field. Cards fill these
// with printable ASCII but nothing stops a vendor from using Latin-1.
func decodeASCII(field []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(field)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(s), "\x00 ")
}

// CSD is the 128-bit card-specific data register, most significant byte first.
type CSD [RegisterSize]byte

// CSD structure versions.
const (
	CSDVersion1 = 0
	CSDVersion2 = 1
)

// Structure returns the CSD_STRUCTURE field.
func (c CSD) Structure() byte {
	return c[0] >> 6
}

// DeviceSize returns the C_SIZE field. It is 22 bits wide in a version 2
// structure and 12 bits wide in a version 1 structure.
func (c CSD) DeviceSize() uint32 {
	if c.Structure() == CSDVersion2 {
		return uint32(c[7]&0x3F)<<16 | uint32(c[8])<<8 | uint32(c[9])
	}
	return uint32(c[6]&0x03)<<10 | uint32(c[7])<<2 | uint32(c[8]>>6)
}

// Pages returns the card capacity in PageSize units.
//
// Version 2: (C_SIZE+1) * 512KiB, i.e. (C_SIZE+1) << 10 pages.
// Version 1: (C_SIZE+1) * 2^(C_SIZE_MULT+2) blocks of 2^READ_BL_LEN bytes.
func (c CSD) Pages() uint32 {
	size := c.DeviceSize()
	if c.Structure() == CSDVersion2 {
		return (size + 1) << 10
	}

	readBlLen := uint(c[5] & 0x0F)
	mult := uint(c[9]&0x03)<<1 | uint(c[10]>>7)
	blocks := uint64(size+1) << (mult + 2)
	bytes := blocks << readBlLen
	return uint32(bytes / PageSize)
}

// BuildCSDv2 returns a version 2 CSD advertising the given capacity in pages.
// The page count is rounded down to a multiple of 1024.
func BuildCSDv2(pages uint32) CSD {
	var c CSD
	c[0] = CSDVersion2 << 6
	c[1] = 0x0E // TAAC
	c[3] = 0x32 // TRAN_SPEED 25MHz
	c[4] = 0x5B
	c[5] = 0x59 // CCC low nibble | READ_BL_LEN=9
	size := pages>>10 - 1
	c[7] = byte(size>>16) & 0x3F
	c[8] = byte(size >> 8)
	c[9] = byte(size)
	c[10] = 0x7F
	c[11] = 0x80
	c[12] = 0x0A
	c[13] = 0x40
	c[15] = CRC7Bytes(c[:15])<<1 | StopBit
	return c
}

// BuildCSDv1 returns a version 1 CSD with 512-byte blocks and the given
// C_SIZE and C_SIZE_MULT fields.
func BuildCSDv1(cSize uint16, cSizeMult byte) CSD {
	var c CSD
	c[1] = 0x26
	c[3] = 0x32
	c[4] = 0x5F
	c[5] = 0x59 // READ_BL_LEN=9
	c[6] = 0x80 | byte(cSize>>10)&0x03
	c[7] = byte(cSize >> 2)
	c[8] = byte(cSize&0x03) << 6
	c[9] = cSizeMult >> 1 & 0x03
	c[10] = (cSizeMult & 0x01) << 7
	c[15] = CRC7Bytes(c[:15])<<1 | StopBit
	return c
}
