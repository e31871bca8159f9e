package protocol

import (
	"encoding/binary"
	"fmt"
)

// Shape identifies one of the SPI-mode response formats.
type Shape byte

// Response shapes per SD Physical Layer Simplified Specification section 7.3.2.
const (
	ShapeR1 Shape = iota
	ShapeR1b
	ShapeR2
	ShapeR3
	ShapeR7
)

// MaxResponseSize is the length of the longest response (R3 and R7).
const MaxResponseSize = 5

// Len returns the number of response bytes for the shape.
// R1b's busy signalling is not counted: it is clocked separately.
func (s Shape) Len() int {
	switch s {
	case ShapeR2:
		return 2
	case ShapeR3, ShapeR7:
		return 5
	default:
		return 1
	}
}

func (s Shape) String() string {
	switch s {
	case ShapeR1:
		return "R1"
	case ShapeR1b:
		return "R1b"
	case ShapeR2:
		return "R2"
	case ShapeR3:
		return "R3"
	case ShapeR7:
		return "R7"
	default:
		return fmt.Sprintf("shape(%d)", byte(s))
	}
}

// ShapeFor returns the response shape a command answers with.
// The shape is always chosen from the command just issued, never guessed
// from the received bytes.
func ShapeFor(cmd Command) Shape {
	switch cmd {
	case CmdSendStatus:
		return ShapeR2
	case CmdReadOCR:
		return ShapeR3
	case CmdSendIfCond:
		return ShapeR7
	default:
		return ShapeR1
	}
}

// R1 flag bits.
const (
	R1Idle               = 1 << 0
	R1EraseReset         = 1 << 1
	R1IllegalCommand     = 1 << 2
	R1CommandCRCError    = 1 << 3
	R1EraseSequenceError = 1 << 4
	R1AddressError       = 1 << 5
	R1ParameterError     = 1 << 6
	R1StartBit           = 1 << 7

	// R1ErrorMask covers every flag that reports a failure
	R1ErrorMask = R1IllegalCommand | R1CommandCRCError | R1EraseSequenceError | R1AddressError | R1ParameterError
)

// R1 is the single status byte every response starts with.
type R1 byte

// Idle reports that the card is in idle state and running initialization.
func (r R1) Idle() bool { return r&R1Idle != 0 }

// EraseReset reports that an erase sequence was cleared before executing.
func (r R1) EraseReset() bool { return r&R1EraseReset != 0 }

// IllegalCommand reports that the command was not recognized.
func (r R1) IllegalCommand() bool { return r&R1IllegalCommand != 0 }

// CommandCRCError reports that the CRC7 of the command failed.
func (r R1) CommandCRCError() bool { return r&R1CommandCRCError != 0 }

// EraseSequenceError reports an error in the erase command sequence.
func (r R1) EraseSequenceError() bool { return r&R1EraseSequenceError != 0 }

// AddressError reports a misaligned address.
func (r R1) AddressError() bool { return r&R1AddressError != 0 }

// ParameterError reports an argument outside the allowed range.
func (r R1) ParameterError() bool { return r&R1ParameterError != 0 }

// Valid reports whether the byte is a response at all. The card keeps the
// start bit low; a timed out exchange reads back IdleByte.
func (r R1) Valid() bool { return r&R1StartBit == 0 }

// HasError reports whether any error flag is set.
func (r R1) HasError() bool { return r&R1ErrorMask != 0 }

// Ready reports a valid response with no flag set at all.
func (r R1) Ready() bool { return r == 0 }

func (r R1) String() string {
	return fmt.Sprintf("0x%02X", byte(r))
}

// Response is the raw bytes of one exchange tagged with the shape they
// were received as. Bytes past Shape.Len() are never interpreted.
type Response struct {
	Shape Shape
	Raw   [MaxResponseSize]byte
}

// NewResponse tags raw response bytes with a shape.
func NewResponse(shape Shape, raw []byte) Response {
	resp := Response{Shape: shape}
	for i := range resp.Raw {
		resp.Raw[i] = IdleByte
	}
	copy(resp.Raw[:shape.Len()], raw)
	return resp
}

// R1 returns the status byte common to every shape.
func (r Response) R1() R1 {
	return R1(r.Raw[0])
}

// Bytes returns the significant bytes of the response.
func (r Response) Bytes() []byte {
	return r.Raw[:r.Shape.Len()]
}

// R2 is the card status register returned by CMD13.
type R2 struct {
	R1     R1
	Status byte
}

// Value returns the 16-bit card status with R1 in the high byte.
// Zero means the card is ready and reports no error.
func (r R2) Value() uint16 {
	return uint16(r.R1)<<8 | uint16(r.Status)
}

// R2 status byte flags.
const (
	R2CardLocked    = 1 << 0
	R2WPEraseSkip   = 1 << 1
	R2Error         = 1 << 2
	R2CCError       = 1 << 3
	R2CardECCFailed = 1 << 4
	R2WPViolation   = 1 << 5
	R2EraseParam    = 1 << 6
	R2OutOfRange    = 1 << 7
)

// R3 carries the operation conditions register returned by CMD58.
type R3 struct {
	R1  R1
	OCR OCR
}

// OCR is the 32-bit operation conditions register.
type OCR uint32

// OCR bits.
const (
	OCRPowerUpDone  = 1 << 31
	OCRHighCapacity = 1 << 30
	OCRVoltageMask  = 0x00FF8000
)

// PowerUpDone reports that the card finished its power up routine.
func (o OCR) PowerUpDone() bool { return o&OCRPowerUpDone != 0 }

// HighCapacity reports the card capacity status (CCS) bit.
func (o OCR) HighCapacity() bool { return o&OCRHighCapacity != 0 }

// VoltageWindow returns the supported VDD window bits (2.7V-3.6V).
func (o OCR) VoltageWindow() uint32 { return uint32(o & OCRVoltageMask) }

// R7 carries the interface condition echoed by CMD8.
type R7 struct {
	R1 R1

	// CommandVersion is the upper nibble of the first argument byte
	CommandVersion byte

	// Voltage is the accepted voltage code (IfCondVoltage when supported)
	Voltage byte

	// Echo is the check pattern sent by the host
	Echo byte
}

func checkShape(resp Response, want ...Shape) error {
	for _, s := range want {
		if resp.Shape == s {
			return nil
		}
	}
	return fmt.Errorf("response shape %s cannot be decoded as %s", resp.Shape, want[0])
}

// ParseR1 decodes an R1 response.
func ParseR1(resp Response) (R1, error) {
	if err := checkShape(resp, ShapeR1, ShapeR1b); err != nil {
		return 0, err
	}
	return resp.R1(), nil
}

// ParseR1b decodes an R1b response. The busy phase has already been
// consumed by the exchange; only the status byte remains.
func ParseR1b(resp Response) (R1, error) {
	if err := checkShape(resp, ShapeR1b); err != nil {
		return 0, err
	}
	return resp.R1(), nil
}

// ParseR2 decodes an R2 response.
func ParseR2(resp Response) (R2, error) {
	if err := checkShape(resp, ShapeR2); err != nil {
		return R2{}, err
	}
	return R2{R1: resp.R1(), Status: resp.Raw[1]}, nil
}

// ParseR3 decodes an R3 response.
//
// Data format:
//
//	[R1][OCR_31..24][OCR_23..16][OCR_15..8][OCR_7..0]
func ParseR3(resp Response) (R3, error) {
	if err := checkShape(resp, ShapeR3); err != nil {
		return R3{}, err
	}
	return R3{R1: resp.R1(), OCR: OCR(binary.BigEndian.Uint32(resp.Raw[1:5]))}, nil
}

// ParseR7 decodes an R7 response.
//
// Data format:
//
//	[R1][VERSION<<4][reserved][VOLTAGE][ECHO]
func ParseR7(resp Response) (R7, error) {
	if err := checkShape(resp, ShapeR7); err != nil {
		return R7{}, err
	}
	return R7{
		R1:             resp.R1(),
		CommandVersion: resp.Raw[1] >> 4,
		Voltage:        resp.Raw[3] & 0x0F,
		Echo:           resp.Raw[4],
	}, nil
}
