package nvstore

import (
	"fmt"
	"io"
	"sync"
)

// ErasedByte is the value of never-written non-volatile memory.
const ErasedByte = 0xFF

// Memory is an in-memory EEPROM image. It starts erased.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	writes int
	err    error
}

// NewMemory creates an erased memory of size bytes.
func NewMemory(size int) *Memory {
	data := make([]byte, size)
	for i := range data {
		data[i] = ErasedByte
	}
	return &Memory{data: data}
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Writes past the end fail without
// changing anything.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, m.err
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("write of %d bytes at %d exceeds %d byte memory", len(p), off, len(m.data))
	}
	m.writes++
	return copy(m.data[off:], p), nil
}

// Writes returns the number of successful WriteAt calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Bytes returns a copy of the memory contents.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Poke overwrites memory directly, without counting as a write.
func (m *Memory) Poke(off int, p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[off:], p)
}

// FailWrites makes every following WriteAt return err. Nil clears it.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
