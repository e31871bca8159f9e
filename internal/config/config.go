// internal/config/config.go
package config

type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Clock     ClockConfig     `yaml:"clock"`
	Store     StoreConfig     `yaml:"store"`
	Record    RecordConfig    `yaml:"record"`
	Sim       SimConfig       `yaml:"sim"`
	Log       LogConfig       `yaml:"log"`
}

// ---- TRANSPORT ----

const (
	TransportSim    = "sim"
	TransportSPI    = "spi"
	TransportSerial = "serial"
)

type TransportConfig struct {
	Kind string `yaml:"kind"`

	// spi
	SPIPort string `yaml:"spi_port"`
	CSPin   string `yaml:"cs_pin"`

	// serial bridge
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// ---- CLOCK ----

type ClockConfig struct {
	SlowHz uint32 `yaml:"slow_hz"`
	FastHz uint32 `yaml:"fast_hz"`
}

// ---- POSITION RECORD STORE ----

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreModbus = "modbus"
)

type StoreConfig struct {
	Kind string `yaml:"kind"`

	// file
	Path string `yaml:"path"`

	// modbus
	Endpoint     string `yaml:"endpoint"`
	UnitID       uint8  `yaml:"unit_id"`
	BaseRegister uint16 `yaml:"base_register"`
	Registers    uint16 `yaml:"registers"`
	TimeoutMs    int    `yaml:"timeout_ms"`
}

type RecordConfig struct {
	Address int64 `yaml:"address"`
}

// ---- SIMULATED CARD ----

type SimConfig struct {
	Kind  string `yaml:"kind"` // sdsc-v1 | sdsc-v2 | sdhc
	Pages uint32 `yaml:"pages"`

	// Image backs the card contents with a file (optional)
	Image string `yaml:"image"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // auto | text | json
}
