package protocol

import (
	"fmt"
	"strings"
)

// StatusError represents an R1 status that reports a failure, or that was
// not the status the caller expected at this point of the protocol.
type StatusError struct {
	// Command is the command that produced the status
	Command Command

	// Status is the R1 byte received from the card
	Status R1
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Command, describeR1(e.Status), byte(e.Status))
}

// IsStatusError returns true if the error is a StatusError.
func IsStatusError(err error) bool {
	_, ok := err.(*StatusError)
	return ok
}

// describeR1 returns a human-readable list of the flags set in r.
func describeR1(r R1) string {
	if !r.Valid() {
		return "no response"
	}
	if r.Ready() {
		return "ready"
	}

	var flags []string
	if r.Idle() {
		flags = append(flags, "idle")
	}
	if r.EraseReset() {
		flags = append(flags, "erase reset")
	}
	if r.IllegalCommand() {
		flags = append(flags, "illegal command")
	}
	if r.CommandCRCError() {
		flags = append(flags, "command CRC error")
	}
	if r.EraseSequenceError() {
		flags = append(flags, "erase sequence error")
	}
	if r.AddressError() {
		flags = append(flags, "address error")
	}
	if r.ParameterError() {
		flags = append(flags, "parameter error")
	}
	return strings.Join(flags, ", ")
}
