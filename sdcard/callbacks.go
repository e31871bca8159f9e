package sdcard

import (
	"fmt"

	"github.com/moffa90/go-sdlog/protocol"
)

// Step identifies a point of the negotiation sequence.
type Step int

// Negotiation steps, in the order Initialize reaches them.
const (
	StepPowerUp          Step = iota // clocks sent with CS high
	StepSPIMode                      // CMD0 answered
	StepVoltageCheck                 // CMD8 answered
	StepVoltageStatus                // v2: R7 status byte checked
	StepVoltageRange                 // v2: R7 voltage code checked
	StepVoltageEcho                  // v2: R7 check pattern checked
	StepClockRate                    // switched to the fast clock
	StepInitStarted                  // first ACMD41 answered
	StepInitWaited                   // card left idle state
	StepOCRRead                      // v2: CMD58 answered
	StepCIDRead                      // CID register read
	StepCSDRead                      // CSD register read
	StepDoneStandard                 // ready, standard capacity
	StepDoneHighCapacity             // ready, high capacity
)

func (s Step) String() string {
	switch s {
	case StepPowerUp:
		return "power-up"
	case StepSPIMode:
		return "spi-mode"
	case StepVoltageCheck:
		return "voltage-check"
	case StepVoltageStatus:
		return "voltage-status"
	case StepVoltageRange:
		return "voltage-range"
	case StepVoltageEcho:
		return "voltage-echo"
	case StepClockRate:
		return "clock-rate"
	case StepInitStarted:
		return "init-started"
	case StepInitWaited:
		return "init-waited"
	case StepOCRRead:
		return "ocr-read"
	case StepCIDRead:
		return "cid-read"
	case StepCSDRead:
		return "csd-read"
	case StepDoneStandard:
		return "done-sdsc"
	case StepDoneHighCapacity:
		return "done-sdhc"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// StepReport describes the outcome of one negotiation step.
// Passed to StepCallback during Initialize.
type StepReport struct {
	// Step is the step just reached
	Step Step

	// R1 is the status byte (or other response byte) the step decided on
	R1 protocol.R1

	// Version is the card version known at this point
	Version protocol.Version
}

// StepCallback is called after every negotiation step.
// Implementations should return quickly; the bus is idle while it runs.
type StepCallback func(StepReport)

// Logger is an optional logging interface that can be provided to the driver.
// *slog.Logger satisfies it.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...any)
}
