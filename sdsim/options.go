package sdsim

import (
	"fmt"

	"github.com/moffa90/go-sdlog/protocol"
)

// Kind selects the generation and capacity class the card reports.
type Kind int

// Card kinds.
const (
	// KindSDSCv1 is a version 1 standard capacity card: CMD8 is illegal,
	// byte addressing, CSD structure 1.0
	KindSDSCv1 Kind = iota

	// KindSDSCv2 is a version 2 standard capacity card: CMD8 answered,
	// CCS clear, byte addressing, CSD structure 1.0
	KindSDSCv2

	// KindSDHC is a version 2 high capacity card: CCS set, block
	// addressing, CSD structure 2.0
	KindSDHC
)

func (k Kind) String() string {
	switch k {
	case KindSDSCv1:
		return "sdsc-v1"
	case KindSDSCv2:
		return "sdsc-v2"
	case KindSDHC:
		return "sdhc"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a kind name as printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindSDSCv1, KindSDSCv2, KindSDHC} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown card kind %q", s)
}

// Config holds the simulated card configuration.
type Config struct {
	// Kind is the card generation and capacity class
	Kind Kind

	// Pages is the advertised capacity in 512-byte pages
	Pages uint32

	// CID is the identification register the card reports
	CID protocol.CID

	// InitPolls is the number of ACMD41 calls answered with idle state
	// before the card reports ready
	InitPolls int

	// ResponseDelay is the number of filler bytes before every response
	ResponseDelay int

	// AccessDelay is the number of filler bytes before a read start token
	AccessDelay int

	// BusyBytes is the number of busy bytes after an accepted write
	BusyBytes int

	// Media backs the card contents (optional, sparse memory by default)
	Media Media
}

func defaultConfig() Config {
	return Config{
		Kind:          KindSDHC,
		Pages:         1024,
		CID:           DefaultCID(),
		InitPolls:     2,
		ResponseDelay: 1,
		AccessDelay:   2,
		BusyBytes:     2,
	}
}

// Option is a functional option for configuring the Card.
type Option func(*Config)

// WithKind sets the card generation and capacity class.
func WithKind(kind Kind) Option {
	return func(c *Config) {
		c.Kind = kind
	}
}

// WithPages sets the advertised capacity. High capacity cards need a
// multiple of 1024 pages; standard capacity cards need a count the version
// 1 CSD can express.
func WithPages(pages uint32) Option {
	return func(c *Config) {
		if pages > 0 {
			c.Pages = pages
		}
	}
}

// WithCID sets the identification register.
func WithCID(cid protocol.CID) Option {
	return func(c *Config) {
		c.CID = cid
	}
}

// WithInitPolls sets how many ACMD41 calls the card stays idle for.
func WithInitPolls(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.InitPolls = n
		}
	}
}

// WithResponseDelay sets the filler bytes sent before every response.
// Nine or more make every command time out.
func WithResponseDelay(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.ResponseDelay = n
		}
	}
}

// WithBusyBytes sets the busy bytes sent after an accepted write.
func WithBusyBytes(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.BusyBytes = n
		}
	}
}

// WithMedia sets the storage behind the card, e.g. an *os.File image.
func WithMedia(m Media) Option {
	return func(c *Config) {
		c.Media = m
	}
}

// DefaultCID returns the identification register of the default card.
func DefaultCID() protocol.CID {
	return NewCID(0x03, 0x0BADCAFE)
}

// NewCID builds an identification register with the given manufacturer
// and product serial number.
func NewCID(manufacturer byte, serial uint32) protocol.CID {
	var cid protocol.CID
	cid[0] = manufacturer
	copy(cid[1:3], "GS")
	copy(cid[3:8], "SDSIM")
	cid[8] = 0x10
	cid[9] = byte(serial >> 24)
	cid[10] = byte(serial >> 16)
	cid[11] = byte(serial >> 8)
	cid[12] = byte(serial)
	cid[13] = 0x01
	cid[14] = 0x81
	cid[15] = protocol.CRC7Bytes(cid[:15])<<1 | protocol.StopBit
	return cid
}
