package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// File keeps the storage image in a file of fixed size. A missing file is
// created erased.
type File struct {
	mu   sync.Mutex
	f    *os.File
	size int
}

// OpenFile opens or creates the image at path.
func OpenFile(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, err = f.Write(bytes.Repeat([]byte{0xFF}, size))
			if err == nil {
				err = f.Sync()
			}
			if err != nil {
				f.Close()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open storage image %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat storage image: %w", err)
	}
	if int(info.Size()) < size {
		size = int(info.Size())
	}
	return &File{f: f, size: size}, nil
}

// ReadUint32 returns the little-endian value at offset.
func (s *File) ReadUint32(offset int) (uint32, error) {
	if offset < 0 || offset+4 > s.size {
		return 0, ErrOutOfRange
	}
	var buf [4]byte
	s.mu.Lock()
	_, err := s.f.ReadAt(buf[:], int64(offset))
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("read offset %d: %w", offset, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 stores v at offset and syncs the file.
func (s *File) WriteUint32(offset int, v uint32) error {
	if offset < 0 || offset+4 > s.size {
		return ErrOutOfRange
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteAt(buf[:], int64(offset)); err != nil {
		return fmt.Errorf("write offset %d: %w", offset, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// Close closes the image file.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
