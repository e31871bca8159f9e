package sdsim

import (
	"errors"
	"io"

	"github.com/moffa90/go-sdlog/protocol"
)

// Media is the storage behind a simulated card.
// An *os.File opened read-write satisfies it.
type Media interface {
	io.ReaderAt
	io.WriterAt
}

// memoryMedia is a sparse in-memory card image. Pages never written read
// back as zeros.
type memoryMedia struct {
	pages map[int64][]byte
}

func newMemoryMedia() *memoryMedia {
	return &memoryMedia{pages: make(map[int64][]byte)}
}

func (m *memoryMedia) ReadAt(p []byte, off int64) (int, error) {
	for n := 0; n < len(p); {
		page, at := (off+int64(n))/protocol.PageSize, int((off+int64(n))%protocol.PageSize)
		chunk := min(len(p)-n, protocol.PageSize-at)
		if data, ok := m.pages[page]; ok {
			copy(p[n:n+chunk], data[at:])
		} else {
			clear(p[n : n+chunk])
		}
		n += chunk
	}
	return len(p), nil
}

func (m *memoryMedia) WriteAt(p []byte, off int64) (int, error) {
	for n := 0; n < len(p); {
		page, at := (off+int64(n))/protocol.PageSize, int((off+int64(n))%protocol.PageSize)
		chunk := min(len(p)-n, protocol.PageSize-at)
		data, ok := m.pages[page]
		if !ok {
			data = make([]byte, protocol.PageSize)
			m.pages[page] = data
		}
		copy(data[at:], p[n:n+chunk])
		n += chunk
	}
	return len(p), nil
}

// readPage reads one page from media. Bytes past the end of a short image
// read as zeros.
func readPage(m Media, page uint32) ([]byte, error) {
	buf := make([]byte, protocol.PageSize)
	n, err := m.ReadAt(buf, int64(page)*protocol.PageSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	clear(buf[n:])
	return buf, nil
}
