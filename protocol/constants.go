package protocol

// Command is an SD card command index (the "n" in CMDn / ACMDn).
// The wire byte is CommandBit | index.
type Command byte

// Command indexes used in SPI mode per SD Physical Layer Simplified Specification section 7.3.1.
const (
	// CmdGoIdleState resets the card into SPI idle state (CMD0)
	CmdGoIdleState Command = 0

	// CmdSendIfCond checks the interface operating condition (CMD8)
	CmdSendIfCond Command = 8

	// CmdSendCSD reads the card-specific data register (CMD9)
	CmdSendCSD Command = 9

	// CmdSendCID reads the card identification register (CMD10)
	CmdSendCID Command = 10

	// CmdSendStatus reads the card status register (CMD13)
	CmdSendStatus Command = 13

	// CmdSetBlockLen sets the block length for block commands (CMD16)
	CmdSetBlockLen Command = 16

	// CmdReadSingleBlock reads one block (CMD17)
	CmdReadSingleBlock Command = 17

	// CmdWriteBlock writes one block (CMD24)
	CmdWriteBlock Command = 24

	// CmdAppCmd prefixes an application-specific command (CMD55)
	CmdAppCmd Command = 55

	// CmdReadOCR reads the operation conditions register (CMD58)
	CmdReadOCR Command = 58

	// ACmdSendOpCond starts the card initialization process (ACMD41)
	ACmdSendOpCond Command = 41
)

// Frame structure constants.
const (
	// CommandBit is OR-ed into the command index: start bit 0, transmission bit 1
	CommandBit = 0x40

	// MaxCommandIndex is the largest index that fits in the 6-bit command field
	MaxCommandIndex = 0x3F

	// StopBit is the mandatory trailing bit of every command frame
	StopBit = 0x01

	// CommandFrameSize is opcode(1) + argument(4) + CRC7/stop(1)
	CommandFrameSize = 6

	// IdleByte is what the card drives on MISO when it has nothing to say,
	// and what the host clocks out when it only wants to receive
	IdleByte = 0xFF

	// BusyByte is driven by the card while it is programming
	BusyByte = 0x00
)

// Data block constants.
const (
	// PageSize is the fixed block length used for every data transfer
	PageSize = 512

	// RegisterSize is the length of the CID and CSD register blocks
	RegisterSize = 16

	// StartBlockToken precedes the payload of a single-block read or write
	StartBlockToken = 0xFE

	// DataResponseMask selects the status bits of a data response token
	DataResponseMask = 0x0E

	// DataAccepted is the masked data response for an accepted block
	DataAccepted = 0x04

	// DataRejectedCRC is the masked data response for a CRC failure
	DataRejectedCRC = 0x0A

	// DataRejectedWrite is the masked data response for a write error
	DataRejectedWrite = 0x0C
)

// Bounded polling budgets. These are iteration counts, not durations.
const (
	// ResponseRetries is the Ncr wait: bytes clocked before giving up on a response
	ResponseRetries = 9

	// StartTokenRetries is the number of polls for the start block token
	StartTokenRetries = 255

	// BusyRetries is the number of polls while the card signals busy
	BusyRetries = 65535
)

// Negotiation constants.
const (
	// IfCondCheckPattern is echoed back by version 2 cards in the R7 response
	IfCondCheckPattern = 0xAA

	// IfCondVoltage is the 2.7-3.6V supply voltage code
	IfCondVoltage = 0x01

	// IfCondArgument is the CMD8 argument: voltage code and check pattern
	IfCondArgument = IfCondVoltage<<8 | IfCondCheckPattern

	// ArgHighCapacitySupport is the HCS bit of the ACMD41 argument
	ArgHighCapacitySupport = 0x40000000

	// PowerUpClocks is the number of idle bytes sent with CS high before CMD0.
	// 11 bytes give 88 clocks, comfortably above the required 74.
	PowerUpClocks = 11
)

// Version is the SD physical layer version detected during negotiation.
type Version byte

// Card versions.
const (
	VersionUnknown Version = iota
	Version1
	Version2
)

// String returns the version as it is usually printed.
func (v Version) String() string {
	switch v {
	case Version1:
		return "v1"
	case Version2:
		return "v2"
	default:
		return "unknown"
	}
}
