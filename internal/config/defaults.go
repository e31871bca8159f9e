// internal/config/defaults.go
package config

const (
	DefaultSlowHz    = 250_000
	DefaultFastHz    = 4_000_000
	DefaultBaudRate  = 115200
	DefaultTimeoutMs = 1000
	DefaultSimKind   = "sdhc"
	DefaultSimPages  = 8192
	DefaultRegisters = 16
	DefaultLogLevel  = "info"
	DefaultLogFormat = "auto"
)

// ApplyDefaults fills zero values.
// It is allowed to mutate configuration.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = TransportSim
	}
	if cfg.Transport.BaudRate == 0 {
		cfg.Transport.BaudRate = DefaultBaudRate
	}
	if cfg.Transport.TimeoutMs == 0 {
		cfg.Transport.TimeoutMs = DefaultTimeoutMs
	}

	if cfg.Clock.SlowHz == 0 {
		cfg.Clock.SlowHz = DefaultSlowHz
	}
	if cfg.Clock.FastHz == 0 {
		cfg.Clock.FastHz = DefaultFastHz
	}

	if cfg.Store.Kind == "" {
		cfg.Store.Kind = StoreMemory
	}
	if cfg.Store.Registers == 0 {
		cfg.Store.Registers = DefaultRegisters
	}
	if cfg.Store.TimeoutMs == 0 {
		cfg.Store.TimeoutMs = DefaultTimeoutMs
	}

	if cfg.Sim.Kind == "" {
		cfg.Sim.Kind = DefaultSimKind
	}
	if cfg.Sim.Pages == 0 {
		cfg.Sim.Pages = DefaultSimPages
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
