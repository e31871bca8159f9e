package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildCommandFrame constructs a command frame for the given command and argument.
//
// Frame structure:
//
//	[0x40|CMD][ARG_3][ARG_2][ARG_1][ARG_0][CRC7<<1|1]
//
// The argument is transmitted most-significant byte first and the CRC7
// covers the five preceding bytes.
func BuildCommandFrame(cmd Command, arg uint32) ([]byte, error) {
	if cmd > MaxCommandIndex {
		return nil, fmt.Errorf("command index %d exceeds %d", cmd, MaxCommandIndex)
	}

	frame := make([]byte, CommandFrameSize)
	frame[0] = CommandBit | byte(cmd)
	binary.BigEndian.PutUint32(frame[1:5], arg)
	frame[5] = CRC7Bytes(frame[:5])<<1 | StopBit

	return frame, nil
}

// ParseCommandFrame splits a received command frame into its command and
// argument, verifying the start bits, the CRC7 and the stop bit.
// Card-side code (the simulator) uses it to decode what the host sent.
func ParseCommandFrame(frame []byte) (Command, uint32, error) {
	if len(frame) != CommandFrameSize {
		return 0, 0, fmt.Errorf("command frame must be %d bytes, got %d", CommandFrameSize, len(frame))
	}
	if frame[0]&0xC0 != CommandBit {
		return 0, 0, fmt.Errorf("invalid command start bits: 0x%02X", frame[0])
	}
	if frame[5]&StopBit == 0 {
		return 0, 0, fmt.Errorf("missing stop bit: 0x%02X", frame[5])
	}

	want := CRC7Bytes(frame[:5])
	if got := frame[5] >> 1; got != want {
		return 0, 0, fmt.Errorf("command CRC7 mismatch: got 0x%02X, expected 0x%02X", got, want)
	}

	return Command(frame[0] & MaxCommandIndex), binary.BigEndian.Uint32(frame[1:5]), nil
}

// String returns the conventional name of the command.
func (c Command) String() string {
	switch c {
	case CmdGoIdleState:
		return "CMD0"
	case CmdSendIfCond:
		return "CMD8"
	case CmdSendCSD:
		return "CMD9"
	case CmdSendCID:
		return "CMD10"
	case CmdSendStatus:
		return "CMD13"
	case CmdSetBlockLen:
		return "CMD16"
	case CmdReadSingleBlock:
		return "CMD17"
	case CmdWriteBlock:
		return "CMD24"
	case ACmdSendOpCond:
		return "ACMD41"
	case CmdAppCmd:
		return "CMD55"
	case CmdReadOCR:
		return "CMD58"
	default:
		return fmt.Sprintf("CMD%d", byte(c))
	}
}
