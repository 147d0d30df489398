//go:build linux

package hal

import (
	"fmt"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"
)

const consumer = "evse-monitor"

// Chip owns the GPIO lines requested from a Linux GPIO character device.
type Chip struct {
	chip   *gpiocdev.Chip
	lines  []*gpiocdev.Line
	logger *zap.Logger
}

// OpenChip opens the named GPIO chip (e.g. "gpiochip0").
func OpenChip(name string, logger *zap.Logger) (*Chip, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chip{chip: chip, logger: logger}, nil
}

// Line is a requested GPIO line usable as InterruptPin or OutputPin.
type Line struct {
	line    *gpiocdev.Line
	handler atomic.Pointer[EdgeHandler]

	offset    int
	set       func(int) error
	logger    *zap.Logger
	writeErrs atomic.Uint64
}

// Input requests offset as an input with pull-down and rising-edge
// detection. gpiocdev delivers edge events on its own goroutine, which is
// the interrupt context of this daemon; events are dropped until a handler
// is attached.
func (c *Chip) Input(offset int) (*Line, error) {
	ln := &Line{offset: offset, logger: c.logger}
	l, err := c.chip.RequestLine(offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(ln.onEdge),
	)
	if err != nil {
		return nil, fmt.Errorf("request input %d: %w", offset, err)
	}
	ln.line = l
	ln.set = l.SetValue
	c.lines = append(c.lines, l)
	return ln, nil
}

func (l *Line) onEdge(gpiocdev.LineEvent) {
	if h := l.handler.Load(); h != nil {
		(*h)()
	}
}

// Attach installs the rising-edge handler.
func (l *Line) Attach(h EdgeHandler) {
	l.handler.Store(&h)
}

// Detach removes the rising-edge handler.
func (l *Line) Detach() {
	l.handler.Store(nil)
}

// Output requests offset as an output driven low.
func (c *Chip) Output(offset int) (*Line, error) {
	l, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output %d: %w", offset, err)
	}
	c.lines = append(c.lines, l)
	return &Line{line: l, offset: offset, set: l.SetValue, logger: c.logger}, nil
}

// Read returns the line level. A failed read reports high: on the sense
// line that means "tripped".
func (l *Line) Read() bool {
	v, err := l.line.Value()
	if err != nil {
		return true
	}
	return v != 0
}

// Write drives the line. The pin interfaces carry no error, so failures
// are logged and counted.
func (l *Line) Write(high bool) {
	v := 0
	if high {
		v = 1
	}
	if err := l.set(v); err != nil {
		n := l.writeErrs.Add(1)
		l.logger.Warn("gpio write failed",
			zap.Int("offset", l.offset),
			zap.Bool("high", high),
			zap.Uint64("failures", n),
			zap.Error(err))
	}
}

// WriteErrors returns the number of failed writes.
func (l *Line) WriteErrors() uint64 {
	return l.writeErrs.Load()
}

// Close releases all lines and the chip.
// Lines are reconfigured to input with pull-down first so the test and
// calibration outputs do not stay driven after exit.
func (c *Chip) Close() error {
	var errs []error

	for _, l := range c.lines {
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	c.lines = nil
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
