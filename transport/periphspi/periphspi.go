// Package periphspi connects the sdcard driver to a Linux spidev port
// through periph.io, with chip select on a separate GPIO line.
package periphspi

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultClockHz is the clock used until the driver picks one.
const DefaultClockHz = 250_000

// Config selects the port and chip select line.
type Config struct {
	// Port is the spireg name, e.g. "/dev/spidev0.0" or "SPI0.0"
	Port string

	// CSPin is the gpioreg name of the chip select line, e.g. "GPIO8"
	CSPin string

	// ClockHz is the initial bus clock (DefaultClockHz if zero)
	ClockHz uint32
}

// port is the part of spi.PortCloser the transport uses.
type port interface {
	Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error)
	Close() error
}

// Transport is an sdcard.Transport over periph.io.
//
// The port is opened with spi.NoCS: the kernel must not toggle chip select
// between single-byte transfers, the driver frames whole commands itself.
type Transport struct {
	open func() (port, error)
	p    port
	conn spi.Conn
	cs   gpio.PinOut
	hz   uint32
	buf  [1]byte
}

// Open initializes the host drivers, opens the port and connects it in
// mode 0 at the initial clock. Chip select is left released.
func Open(cfg Config) (*Transport, error) {
	if cfg.Port == "" {
		return nil, errors.New("periphspi: port required")
	}
	if cfg.CSPin == "" {
		return nil, errors.New("periphspi: chip select pin required")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periphspi: host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("periphspi: unknown pin %q", cfg.CSPin)
	}

	open := func() (port, error) {
		return spireg.Open(cfg.Port)
	}
	return newTransport(open, cs, cfg.ClockHz)
}

func newTransport(open func() (port, error), cs gpio.PinOut, hz uint32) (*Transport, error) {
	if hz == 0 {
		hz = DefaultClockHz
	}
	t := &Transport{open: open, cs: cs}
	if err := t.cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("periphspi: release chip select: %w", err)
	}
	if err := t.connect(hz); err != nil {
		return nil, err
	}
	return t, nil
}

// connect (re)opens the port at hz. sysfs ports accept a single Connect,
// so a clock change goes through a fresh handle.
func (t *Transport) connect(hz uint32) error {
	if t.p != nil {
		if err := t.p.Close(); err != nil {
			return fmt.Errorf("periphspi: close port: %w", err)
		}
		t.p, t.conn = nil, nil
	}

	p, err := t.open()
	if err != nil {
		return fmt.Errorf("periphspi: open port: %w", err)
	}
	conn, err := p.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		p.Close()
		return fmt.Errorf("periphspi: connect at %d Hz: %w", hz, err)
	}
	t.p, t.conn, t.hz = p, conn, hz
	return nil
}

// Select drives chip select low.
func (t *Transport) Select() error {
	return t.cs.Out(gpio.Low)
}

// Release drives chip select high.
func (t *Transport) Release() error {
	return t.cs.Out(gpio.High)
}

// Exchange clocks one byte each way.
func (t *Transport) Exchange(out byte) (byte, error) {
	if t.conn == nil {
		return 0xFF, errors.New("periphspi: port closed")
	}
	t.buf[0] = out
	if err := t.conn.Tx(t.buf[:], t.buf[:]); err != nil {
		return 0xFF, err
	}
	return t.buf[0], nil
}

// SetClockRate reconnects the port at hz. Asking for the current rate is
// a no-op.
func (t *Transport) SetClockRate(hz uint32) error {
	if hz == 0 {
		return errors.New("periphspi: zero clock rate")
	}
	if hz == t.hz && t.conn != nil {
		return nil
	}
	return t.connect(hz)
}

// ClockRate returns the current bus clock.
func (t *Transport) ClockRate() uint32 {
	return t.hz
}

// Close releases chip select and closes the port.
func (t *Transport) Close() error {
	csErr := t.cs.Out(gpio.High)
	if t.p == nil {
		return csErr
	}
	err := t.p.Close()
	t.p, t.conn = nil, nil
	if err != nil {
		return err
	}
	return csErr
}
