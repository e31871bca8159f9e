// Package modbusstore keeps the position record in the holding registers
// of a Modbus TCP device, e.g. the retentive memory of a PLC or a
// networked EEPROM module.
package modbusstore

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Protocol limits per request.
const (
	maxReadRegisters  = 125
	maxWriteRegisters = 123
)

// registers is the part of modbus.Client the store uses.
type registers interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Config selects the device and the register window.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	UnitID   uint8

	// BaseRegister is the first holding register of the window
	BaseRegister uint16

	// Registers is the window size; the store holds twice as many bytes
	Registers uint16
}

// Store maps a byte array onto a window of holding registers. Byte 2n is
// the high byte of register n, the order registers travel on the wire.
type Store struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  registers
	base    uint16
	size    int64
}

// Open connects to the device.
func Open(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbusstore: endpoint required")
	}
	if cfg.Registers == 0 {
		return nil, errors.New("modbusstore: register count required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbusstore: connect %s: %w", cfg.Endpoint, err)
	}

	s := newStore(modbus.NewClient(h), cfg.BaseRegister, cfg.Registers)
	s.handler = h
	return s, nil
}

func newStore(client registers, base, count uint16) *Store {
	return &Store{
		client: client,
		base:   base,
		size:   int64(count) * 2,
	}
}

// Size returns the store capacity in bytes.
func (s *Store) Size() int64 {
	return s.size
}

// ReadAt implements io.ReaderAt. Reading past the window returns io.EOF.
func (s *Store) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("modbusstore: negative offset")
	}
	if off >= s.size {
		return 0, io.EOF
	}

	n := len(p)
	if rem := s.size - off; int64(n) > rem {
		n = int(rem)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.readBytes(off, n)
	if err != nil {
		return 0, err
	}
	copy(p, raw)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Registers only partly covered by p are
// read back first so their other byte survives.
func (s *Store) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("modbusstore: write of %d bytes at %d outside %d byte window", len(p), off, s.size)
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := off &^ 1
	last := (off + int64(len(p)) + 1) &^ 1
	buf := make([]byte, last-first)

	if first != off {
		edge, err := s.readBytes(first, 2)
		if err != nil {
			return 0, err
		}
		copy(buf, edge)
	}
	if end := off + int64(len(p)); end != last {
		edge, err := s.readBytes(last-2, 2)
		if err != nil {
			return 0, err
		}
		copy(buf[len(buf)-2:], edge)
	}
	copy(buf[off-first:], p)

	for reg := 0; reg < len(buf)/2; reg += maxWriteRegisters {
		qty := min(len(buf)/2-reg, maxWriteRegisters)
		addr := s.base + uint16(first/2) + uint16(reg)
		if _, err := s.client.WriteMultipleRegisters(addr, uint16(qty), buf[reg*2:(reg+qty)*2]); err != nil {
			return 0, fmt.Errorf("modbusstore: write registers %d+%d: %w", addr, qty, err)
		}
	}
	return len(p), nil
}

// readBytes reads n bytes at off, which must lie inside the window.
func (s *Store) readBytes(off int64, n int) ([]byte, error) {
	first := off / 2
	last := (off + int64(n) + 1) / 2

	out := make([]byte, 0, (last-first)*2)
	for reg := first; reg < last; reg += maxReadRegisters {
		qty := min(last-reg, maxReadRegisters)
		addr := s.base + uint16(reg)
		res, err := s.client.ReadHoldingRegisters(addr, uint16(qty))
		if err != nil {
			return nil, fmt.Errorf("modbusstore: read registers %d+%d: %w", addr, qty, err)
		}
		if len(res) != int(qty)*2 {
			return nil, fmt.Errorf("modbusstore: read registers %d+%d: got %d bytes", addr, qty, len(res))
		}
		out = append(out, res...)
	}

	skip := off - first*2
	return out[skip : skip+int64(n)], nil
}

// Close drops the TCP connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return nil
	}
	return s.handler.Close()
}
