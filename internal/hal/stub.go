//go:build !linux

package hal

import (
	"errors"

	"go.uber.org/zap"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Chip is not available on non-Linux platforms.
type Chip struct{}

// Line is not available on non-Linux platforms.
type Line struct{}

// OpenChip returns an error on non-Linux platforms.
func OpenChip(name string, logger *zap.Logger) (*Chip, error) {
	return nil, errUnsupported
}

// Input is not implemented on non-Linux platforms.
func (c *Chip) Input(offset int) (*Line, error) {
	return nil, errUnsupported
}

// Output is not implemented on non-Linux platforms.
func (c *Chip) Output(offset int) (*Line, error) {
	return nil, errUnsupported
}

// Read reports high (tripped).
func (l *Line) Read() bool { return true }

// Attach does nothing.
func (l *Line) Attach(h EdgeHandler) {}

// Detach does nothing.
func (l *Line) Detach() {}

// Write does nothing.
func (l *Line) Write(high bool) {}

// WriteErrors always reports zero on non-Linux platforms.
func (l *Line) WriteErrors() uint64 { return 0 }

// Close does nothing.
func (c *Chip) Close() error { return nil }
