// internal/config/validate.go
package config

import (
	"fmt"
	"time"

	"github.com/moffa90/go-sdlog/sdsim"
)

// recordSize is the position record footprint in the store.
const recordSize = 25

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	// ------------------------------------------------------------
	// TRANSPORT
	// ------------------------------------------------------------

	switch cfg.Transport.Kind {
	case TransportSim:
		kind, err := sdsim.ParseKind(cfg.Sim.Kind)
		if err != nil {
			return fmt.Errorf("sim: %w", err)
		}
		if err := sdsim.CheckPages(kind, cfg.Sim.Pages); err != nil {
			return fmt.Errorf("sim: %w", err)
		}
	case TransportSPI:
		if cfg.Transport.SPIPort == "" {
			return fmt.Errorf("transport %q: spi_port is required", cfg.Transport.Kind)
		}
		if cfg.Transport.CSPin == "" {
			return fmt.Errorf("transport %q: cs_pin is required", cfg.Transport.Kind)
		}
	case TransportSerial:
		if cfg.Transport.SerialPort == "" {
			return fmt.Errorf("transport %q: serial_port is required", cfg.Transport.Kind)
		}
		if cfg.Transport.BaudRate <= 0 {
			return fmt.Errorf("transport %q: baud_rate must be positive", cfg.Transport.Kind)
		}
	default:
		return fmt.Errorf("transport: unknown kind %q", cfg.Transport.Kind)
	}

	if cfg.Transport.TimeoutMs < 0 {
		return fmt.Errorf("transport: timeout_ms must not be negative")
	}

	// ------------------------------------------------------------
	// CLOCK
	// ------------------------------------------------------------

	if cfg.Clock.SlowHz == 0 || cfg.Clock.FastHz == 0 {
		return fmt.Errorf("clock: rates must be set")
	}
	if cfg.Clock.SlowHz > 400_000 {
		return fmt.Errorf("clock: slow_hz %d exceeds the 400kHz identification limit", cfg.Clock.SlowHz)
	}
	if cfg.Clock.FastHz < cfg.Clock.SlowHz {
		return fmt.Errorf("clock: fast_hz %d below slow_hz %d", cfg.Clock.FastHz, cfg.Clock.SlowHz)
	}

	// ------------------------------------------------------------
	// RECORD STORE
	// ------------------------------------------------------------

	if cfg.Record.Address < 0 {
		return fmt.Errorf("record: address must not be negative")
	}

	switch cfg.Store.Kind {
	case StoreMemory:
	case StoreFile:
		if cfg.Store.Path == "" {
			return fmt.Errorf("store %q: path is required", cfg.Store.Kind)
		}
	case StoreModbus:
		if cfg.Store.Endpoint == "" {
			return fmt.Errorf("store %q: endpoint is required", cfg.Store.Kind)
		}
		end := cfg.Record.Address + recordSize
		if window := int64(cfg.Store.Registers) * 2; end > window {
			return fmt.Errorf(
				"store %q: record at %d needs %d bytes, %d registers hold %d",
				cfg.Store.Kind,
				cfg.Record.Address,
				end,
				cfg.Store.Registers,
				window,
			)
		}
		if int(cfg.Store.BaseRegister)+int(cfg.Store.Registers) > 0x10000 {
			return fmt.Errorf("store %q: register window runs past 65535", cfg.Store.Kind)
		}
	default:
		return fmt.Errorf("store: unknown kind %q", cfg.Store.Kind)
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", cfg.Log.Format)
	}

	return nil
}

// TransportTimeout returns the transport timeout as a duration.
func (c *Config) TransportTimeout() time.Duration {
	return time.Duration(c.Transport.TimeoutMs) * time.Millisecond
}

// StoreTimeout returns the store timeout as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutMs) * time.Millisecond
}
