// Package protocol implements the SD card SPI-mode command/response protocol.
//
// This package provides the wire layer only: command frame encoding, the two
// checksums, response decoding and the CID/CSD register layouts. It performs
// no I/O; the sdcard package drives it over a byte-exchange transport.
//
// # Protocol Overview
//
// Every command is a six byte frame:
//
//	[0x40|CMD][ARG_3][ARG_2][ARG_1][ARG_0][CRC7<<1|1]
//
// Where:
//   - CMD = 6-bit command index
//   - ARG = 32-bit argument, most significant byte first
//   - CRC7 = polynomial x^7+x^3+1 over the first five bytes
//
// The card answers within ResponseRetries bytes with one of five shapes:
//
//	R1:  [STATUS]
//	R1b: [STATUS] followed by busy (0x00) bytes
//	R2:  [STATUS][STATUS2]
//	R3:  [STATUS][OCR(4)]
//	R7:  [STATUS][VERSION][reserved][VOLTAGE][ECHO]
//
// Data blocks travel as a start token, the payload and a CRC16-CCITT
// transmitted high byte first:
//
//	[0xFE][DATA(512)][CRC16_H][CRC16_L]
//
// # Command Builders
//
//	frame, err := protocol.BuildCommandFrame(protocol.CmdGoIdleState, 0)
//	// frame == []byte{0x40, 0x00, 0x00, 0x00, 0x00, 0x95}
//
// # Response Parsers
//
// The shape is selected from the command just issued:
//
//	resp := protocol.NewResponse(protocol.ShapeFor(cmd), raw)
//	r7, err := protocol.ParseR7(resp)
//	if r7.Echo != protocol.IfCondCheckPattern {
//	    // bus is not reliable
//	}
//
// # Error Handling
//
// R1 flags are exposed as named accessors (Idle, IllegalCommand, ...).
// Use StatusError for structured error information:
//
//	err := &protocol.StatusError{Command: protocol.CmdSendIfCond, Status: r1}
//	// err.Error() returns: "CMD8 failed: idle, illegal command (0x05)"
//
// # Reference
//
// SD Specifications Part 1, Physical Layer Simplified Specification, chapter 7 (SPI mode).
package protocol
