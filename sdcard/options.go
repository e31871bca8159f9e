package sdcard

import "time"

// Config holds the driver configuration.
type Config struct {
	// StepCallback is called after every negotiation step (optional)
	StepCallback StepCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// SlowClockHz is the bus clock used for initial contact (must be <= 400kHz)
	SlowClockHz uint32

	// FastClockHz is the bus clock used once the card answered CMD8
	FastClockHz uint32

	// RecordAddress is the offset of the 25-byte position record in the store
	RecordAddress int64

	// PowerUpDelay is waited before the first clocks are sent to the card
	PowerUpDelay time.Duration

	// SettleDelay is waited after switching to the fast clock
	SettleDelay time.Duration

	// InitRetries bounds the ACMD41 polling loop. Zero polls until the card
	// leaves idle state or the context passed to Initialize is done.
	InitRetries int
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		SlowClockHz:  250_000,
		FastClockHz:  4_000_000,
		PowerUpDelay: time.Millisecond,
		SettleDelay:  50 * time.Microsecond,
	}
}

// Option is a functional option for configuring the Driver.
type Option func(*Config)

// WithStepCallback sets a callback function to observe the negotiation sequence.
//
// Example:
//
//	card := sdcard.New(bus, store,
//	    sdcard.WithStepCallback(func(r sdcard.StepReport) {
//	        fmt.Printf("%s r1=%s\n", r.Step, r.R1)
//	    }),
//	)
func WithStepCallback(callback StepCallback) Option {
	return func(c *Config) {
		c.StepCallback = callback
	}
}

// WithLogger sets a logger for the driver operations.
// A *slog.Logger satisfies the Logger interface.
//
// Example:
//
//	card := sdcard.New(bus, store, sdcard.WithLogger(slog.Default()))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithClockRates sets the negotiation and operating bus clock rates in Hz.
// Zero values keep the defaults (250kHz and 4MHz).
func WithClockRates(slowHz, fastHz uint32) Option {
	return func(c *Config) {
		if slowHz > 0 {
			c.SlowClockHz = slowHz
		}
		if fastHz > 0 {
			c.FastClockHz = fastHz
		}
	}
}

// WithRecordAddress sets where the position record lives in the store.
//
// Example:
//
//	card := sdcard.New(bus, eeprom, sdcard.WithRecordAddress(0x40))
func WithRecordAddress(addr int64) Option {
	return func(c *Config) {
		if addr >= 0 {
			c.RecordAddress = addr
		}
	}
}

// WithPowerUpDelay sets the delay before the first clocks after power up.
func WithPowerUpDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.PowerUpDelay = d
		}
	}
}

// WithSettleDelay sets the delay after the clock switch.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.SettleDelay = d
		}
	}
}

// WithInitRetries bounds the number of ACMD41 polls while the card is idle.
// Zero (the default) polls until the card is ready or the context ends.
func WithInitRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.InitRetries = n
		}
	}
}
