// Package store persists 32-bit values at fixed offsets, the way a
// controller board keeps counters in EEPROM. An erased cell reads as all
// ones; callers treat that as "never initialised".
package store

import "errors"

// Uninitialized is the value of a cell that has never been written.
const Uninitialized uint32 = 0xFFFFFFFF

// ErrOutOfRange is returned for offsets outside the storage image.
var ErrOutOfRange = errors.New("store: offset out of range")

// Store reads and writes 32-bit values by byte offset.
type Store interface {
	ReadUint32(offset int) (uint32, error)
	WriteUint32(offset int, v uint32) error
}

// Well-known offsets.
const (
	OffsetWattHoursTotal = 0x00
)

// DefaultSize is the size in bytes of a fresh storage image.
const DefaultSize = 256
