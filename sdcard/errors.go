package sdcard

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-sdlog/protocol"
)

var (
	// ErrNotInitialized is returned by streaming calls before a successful Initialize.
	ErrNotInitialized = errors.New("card not initialized")

	// ErrRecordCorrupt reports that neither copy of a cursor in the position
	// record passed its checksum. The cursor restarts at page 0.
	ErrRecordCorrupt = errors.New("position record corrupt")
)

// TimeoutError indicates that the card never produced the awaited byte.
type TimeoutError struct {
	Operation string
	Polls     int
	Last      byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %d polls (last byte 0x%02X)",
		e.Operation, e.Polls, e.Last)
}

// CRCMismatchError indicates that a data block failed its CRC16 check.
type CRCMismatchError struct {
	Page     uint32
	Expected uint16
	Actual   uint16
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("CRC16 mismatch for page %d: expected 0x%04X, got 0x%04X",
		e.Page, e.Expected, e.Actual)
}

// DataTokenError indicates that the card answered a block read with a data
// error token instead of the start token.
type DataTokenError struct {
	Page  uint32
	Token byte
}

func (e *DataTokenError) Error() string {
	return fmt.Sprintf("page %d read failed: data error token 0x%02X", e.Page, e.Token)
}

// WriteRejectedError indicates that the card refused a data block.
type WriteRejectedError struct {
	Page     uint32
	Response byte
}

func (e *WriteRejectedError) Error() string {
	reason := "write error"
	if e.Response&protocol.DataResponseMask == protocol.DataRejectedCRC {
		reason = "CRC error"
	}
	return fmt.Sprintf("page %d rejected: %s (data response 0x%02X)", e.Page, reason, e.Response)
}

// UnsupportedCardError indicates a card that answered but cannot be used.
type UnsupportedCardError struct {
	Reason string
	Value  uint32
}

func (e *UnsupportedCardError) Error() string {
	return fmt.Sprintf("unsupported card: %s (0x%X)", e.Reason, e.Value)
}

// CardStatusError indicates that CMD13 confirmed a failure with a non-zero status.
type CardStatusError struct {
	Command protocol.Command
	Status  uint16
}

func (e *CardStatusError) Error() string {
	return fmt.Sprintf("%s failed: card status 0x%04X", e.Command, e.Status)
}
