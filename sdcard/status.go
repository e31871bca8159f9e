package sdcard

import "github.com/moffa90/go-sdlog/protocol"

// TransferStatus describes the most recent block transfer.
type TransferStatus struct {
	// Command is the block command that opened the transfer
	Command protocol.Command

	// Page is the page the transfer addressed
	Page uint32

	// Reading is true for block reads and register reads
	Reading bool

	// R1 is the status the card returned for the block command
	R1 protocol.R1

	// Token is the last byte seen while waiting for the start token on
	// reads, or the data response token on writes
	Token byte

	// Busy is the last byte polled while the card was programming
	Busy byte

	// Started is set once the start token was seen (reads) or sent (writes)
	Started bool

	// Done is set once the transfer ended, successfully or not
	Done bool

	// CRCValid reports whether the CRC16 matched (reads) or the card did
	// not reject it (writes)
	CRCValid bool

	// Accepted reports that the card accepted a written block
	Accepted bool

	// TimedOut is set when a start token or ready signal never arrived
	TimedOut bool

	// ErrorToken is set when a read was answered with a data error token
	// instead of the start token
	ErrorToken bool

	// Computed and Received are the CRC16 values of a read block
	Computed uint16
	Received uint16
}

// OK reports whether the transfer completed without any failure.
func (s TransferStatus) OK() bool {
	return s.Err() == nil && s.Done
}

// Err converts the status flags into a typed error. It returns nil for a
// transfer that succeeded or is still in progress.
func (s TransferStatus) Err() error {
	switch {
	case !s.R1.Ready():
		return &protocol.StatusError{Command: s.Command, Status: s.R1}
	case s.TimedOut:
		switch {
		case !s.Reading:
			return &TimeoutError{Operation: "data response busy", Polls: protocol.BusyRetries, Last: s.Busy}
		case s.Started:
			return &TimeoutError{Operation: "read completion", Polls: protocol.BusyRetries, Last: s.Busy}
		}
		return &TimeoutError{Operation: "start token", Polls: protocol.StartTokenRetries, Last: s.Token}
	case s.ErrorToken:
		return &DataTokenError{Page: s.Page, Token: s.Token}
	case !s.Done:
		return nil
	case s.Reading && !s.CRCValid:
		return &CRCMismatchError{Page: s.Page, Expected: s.Computed, Actual: s.Received}
	case !s.Reading && !s.Accepted:
		return &WriteRejectedError{Page: s.Page, Response: s.Token}
	}
	return nil
}
