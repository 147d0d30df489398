package store

import (
	"encoding/binary"
	"sync"
)

// Mem is an in-memory storage image. It starts erased (all ones).
type Mem struct {
	mu     sync.Mutex
	image  []byte
	writes int

	// ReadErr and WriteErr, if set, are returned by the next operations.
	ReadErr  error
	WriteErr error
}

// NewMem returns an erased image of size bytes.
func NewMem(size int) *Mem {
	img := make([]byte, size)
	for i := range img {
		img[i] = 0xFF
	}
	return &Mem{image: img}
}

// ReadUint32 returns the little-endian value at offset.
func (m *Mem) ReadUint32(offset int) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	if offset < 0 || offset+4 > len(m.image) {
		return 0, ErrOutOfRange
	}
	return binary.LittleEndian.Uint32(m.image[offset:]), nil
}

// WriteUint32 stores v at offset.
func (m *Mem) WriteUint32(offset int, v uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if offset < 0 || offset+4 > len(m.image) {
		return ErrOutOfRange
	}
	binary.LittleEndian.PutUint32(m.image[offset:], v)
	m.writes++
	return nil
}

// Writes returns the number of successful writes.
func (m *Mem) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Erase sets every byte back to 0xFF.
func (m *Mem) Erase() {
	m.mu.Lock()
	for i := range m.image {
		m.image[i] = 0xFF
	}
	m.mu.Unlock()
}
