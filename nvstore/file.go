package nvstore

import (
	"fmt"
	"os"
)

// File keeps the record in a regular file, synced after every write.
type File struct {
	f *os.File
}

// OpenFile opens or creates the file at path.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &File{f: f}, nil
}

// ReadAt implements io.ReaderAt.
func (s *File) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt. The data is on disk when it returns.
func (s *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := s.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	if err := s.f.Sync(); err != nil {
		return n, fmt.Errorf("sync store: %w", err)
	}
	return n, nil
}

// Close closes the file.
func (s *File) Close() error {
	return s.f.Close()
}
