// Package serialbridge drives the card through a USB-serial SPI adapter
// speaking the Bus Pirate binary SPI protocol.
//
// Every transport call is one request to the adapter, each acknowledged
// with 0x01:
//
//	0x02 / 0x03        chip select low / high
//	0x10 <byte>        one-byte bulk transfer, answered 0x01 <byte in>
//	0x60 | speed       bus clock (30kHz to 8MHz)
//	0x8A               3.3V outputs, clock idle low, data on the leading edge
//	0x48               power supplies on
package serialbridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goburrow/serial"
)

const (
	cmdReset       = 0x00
	cmdEnterSPI    = 0x01
	cmdCSLow       = 0x02
	cmdCSHigh      = 0x03
	cmdHardReset   = 0x0F
	cmdBulk        = 0x10
	cmdPeripherals = 0x40
	cmdSpeed       = 0x60
	cmdConfig      = 0x80

	peripheralPower = 0x08

	// outputs push-pull 3.3V, CKP idle low, CKE active to idle
	configMode0 = 0x08 | 0x02

	ack        = 0x01
	resetTries = 20
)

var (
	bannerBitbang = []byte("BBIO1")
	bannerSPI     = []byte("SPI1")
)

// speeds lists the adapter clock settings in speed code order.
var speeds = [...]uint32{30_000, 125_000, 250_000, 1_000_000, 2_000_000, 2_600_000, 4_000_000, 8_000_000}

// speedCode returns the fastest setting not above hz.
func speedCode(hz uint32) (byte, uint32) {
	code := 0
	for i, s := range speeds {
		if s <= hz {
			code = i
		}
	}
	return byte(code), speeds[code]
}

// Config selects the serial port.
type Config struct {
	// Address is the serial device, e.g. "/dev/ttyUSB0"
	Address string

	// BaudRate defaults to 115200
	BaudRate int

	// Timeout bounds every read from the adapter (default 1s)
	Timeout time.Duration
}

// Transport is an sdcard.Transport over a serial SPI adapter.
type Transport struct {
	rw     io.ReadWriter
	closer io.Closer
	hz     uint32
	buf    [2]byte
}

// Open opens the serial port and switches the adapter into SPI mode.
func Open(cfg Config) (*Transport, error) {
	if cfg.Address == "" {
		return nil, errors.New("serialbridge: address required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serialbridge: open %s: %w", cfg.Address, err)
	}

	t, err := New(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	t.closer = port
	return t, nil
}

// New puts the adapter on rw into SPI mode 0 with power on and chip select
// released. The clock starts at the slowest setting.
func New(rw io.ReadWriter) (*Transport, error) {
	t := &Transport{rw: rw}

	if err := t.enterBitbang(); err != nil {
		return nil, err
	}

	if _, err := rw.Write([]byte{cmdEnterSPI}); err != nil {
		return nil, fmt.Errorf("serialbridge: enter SPI mode: %w", err)
	}
	if err := t.expectBanner(bannerSPI); err != nil {
		return nil, err
	}

	if err := t.request(cmdConfig | configMode0); err != nil {
		return nil, fmt.Errorf("serialbridge: configure: %w", err)
	}
	if err := t.request(cmdPeripherals | peripheralPower); err != nil {
		return nil, fmt.Errorf("serialbridge: power on: %w", err)
	}
	if err := t.request(cmdCSHigh); err != nil {
		return nil, fmt.Errorf("serialbridge: release chip select: %w", err)
	}
	if err := t.SetClockRate(speeds[0]); err != nil {
		return nil, err
	}
	return t, nil
}

// enterBitbang sends reset bytes one at a time until the adapter answers,
// discards whatever it queued and confirms with one more reset.
func (t *Transport) enterBitbang() error {
	reply := make([]byte, len(bannerBitbang))
	for i := 0; i < resetTries; i++ {
		if _, err := t.rw.Write([]byte{cmdReset}); err != nil {
			return fmt.Errorf("serialbridge: enter bitbang mode: %w", err)
		}
		n, err := t.rw.Read(reply)
		if n > 0 {
			break
		}
		if err != nil && !quiet(err) {
			return fmt.Errorf("serialbridge: enter bitbang mode: %w", err)
		}
	}
	if err := t.drain(); err != nil {
		return err
	}

	if _, err := t.rw.Write([]byte{cmdReset}); err != nil {
		return fmt.Errorf("serialbridge: enter bitbang mode: %w", err)
	}
	return t.expectBanner(bannerBitbang)
}

// drain reads until the adapter goes quiet.
func (t *Transport) drain() error {
	junk := make([]byte, 64)
	for {
		n, err := t.rw.Read(junk)
		if n == 0 && (err == nil || quiet(err)) {
			return nil
		}
		if err != nil && !quiet(err) {
			return fmt.Errorf("serialbridge: drain: %w", err)
		}
	}
}

func quiet(err error) bool {
	return errors.Is(err, serial.ErrTimeout) || errors.Is(err, io.EOF)
}

func (t *Transport) expectBanner(banner []byte) error {
	got := make([]byte, len(banner))
	if _, err := io.ReadFull(t.rw, got); err != nil {
		return fmt.Errorf("serialbridge: waiting for %q: %w", banner, err)
	}
	if !bytes.Equal(got, banner) {
		return fmt.Errorf("serialbridge: expected %q, got %q", banner, got)
	}
	return nil
}

// request sends a one-byte command and checks the acknowledgement.
func (t *Transport) request(cmd byte) error {
	t.buf[0] = cmd
	if _, err := t.rw.Write(t.buf[:1]); err != nil {
		return err
	}
	if _, err := io.ReadFull(t.rw, t.buf[:1]); err != nil {
		return err
	}
	if t.buf[0] != ack {
		return fmt.Errorf("command 0x%02X answered 0x%02X", cmd, t.buf[0])
	}
	return nil
}

// Select drives chip select low.
func (t *Transport) Select() error {
	if err := t.request(cmdCSLow); err != nil {
		return fmt.Errorf("serialbridge: select: %w", err)
	}
	return nil
}

// Release drives chip select high.
func (t *Transport) Release() error {
	if err := t.request(cmdCSHigh); err != nil {
		return fmt.Errorf("serialbridge: release: %w", err)
	}
	return nil
}

// Exchange runs a one-byte bulk transfer.
func (t *Transport) Exchange(out byte) (byte, error) {
	t.buf[0], t.buf[1] = cmdBulk, out
	if _, err := t.rw.Write(t.buf[:]); err != nil {
		return 0xFF, fmt.Errorf("serialbridge: exchange: %w", err)
	}
	if _, err := io.ReadFull(t.rw, t.buf[:]); err != nil {
		return 0xFF, fmt.Errorf("serialbridge: exchange: %w", err)
	}
	if t.buf[0] != ack {
		return 0xFF, fmt.Errorf("serialbridge: bulk transfer answered 0x%02X", t.buf[0])
	}
	return t.buf[1], nil
}

// SetClockRate selects the fastest adapter clock not above hz.
func (t *Transport) SetClockRate(hz uint32) error {
	code, actual := speedCode(hz)
	if err := t.request(cmdSpeed | code); err != nil {
		return fmt.Errorf("serialbridge: set clock: %w", err)
	}
	t.hz = actual
	return nil
}

// ClockRate returns the adapter clock in effect.
func (t *Transport) ClockRate() uint32 {
	return t.hz
}

// Close returns the adapter to its terminal and closes the port.
func (t *Transport) Close() error {
	_, err := t.rw.Write([]byte{cmdReset, cmdHardReset})
	if t.closer != nil {
		if cerr := t.closer.Close(); cerr != nil {
			return cerr
		}
	}
	return err
}
