// Package gfi implements the ground-fault interrupt monitor: the fault latch
// shared with the sense-line interrupt, and the self-test engine that injects
// a test current and verifies the sense module trips and recovers.
package gfi

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/hal"
)

// Pins are the lines wired to the sense module. Cal is only required by
// variants that have a separate calibration input.
type Pins struct {
	Sense hal.InterruptPin
	Test  hal.OutputPin
	Cal   hal.OutputPin
}

// Monitor owns the fault latch and runs self-tests for one sense module.
type Monitor struct {
	variant  Variant
	pins     Pins
	clock    hal.Clock
	watchdog hal.Watchdog
	logger   *zap.Logger

	latch   Latch
	tripped chan struct{}
}

// NewMonitor creates a monitor for variant v. Call Init before use.
func NewMonitor(v Variant, pins Pins, clock hal.Clock, watchdog hal.Watchdog, logger *zap.Logger) (*Monitor, error) {
	if pins.Sense == nil {
		return nil, errors.New("gfi: sense pin is required")
	}
	if pins.Test == nil {
		return nil, errors.New("gfi: test pin is required")
	}
	if v.NeedsCalLine() && pins.Cal == nil {
		return nil, fmt.Errorf("gfi: variant %s requires a cal pin", v.Name)
	}
	if watchdog == nil {
		watchdog = hal.NopWatchdog{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		variant:  v,
		pins:     pins,
		clock:    clock,
		watchdog: watchdog,
		logger:   logger,
		tripped:  make(chan struct{}, 1),
	}, nil
}

// Init drives the control lines low, attaches the rising-edge handler and
// resets the latch from the current sense-line level.
func (m *Monitor) Init() {
	m.pins.Test.Write(false)
	if m.pins.Cal != nil {
		m.pins.Cal.Write(false)
	}
	m.pins.Sense.Detach()
	m.pins.Sense.Attach(m.Trip)
	m.Reset()
	m.logger.Info("gfi initialised",
		zap.String("variant", m.variant.Name),
		zap.Stringer("strategy", m.variant.Strategy),
		zap.Bool("fault", m.Fault()))
}

// Close detaches the edge handler.
func (m *Monitor) Close() {
	m.pins.Sense.Detach()
}

// Variant returns the configured sense-module profile.
func (m *Monitor) Variant() Variant {
	return m.variant
}

// Trip is the edge handler. It runs in the interrupt context: it only
// touches the latch and performs a non-blocking notify.
func (m *Monitor) Trip() {
	if m.latch.Trip() {
		return
	}
	select {
	case m.tripped <- struct{}{}:
	default:
	}
}

// Tripped is signalled after a fault is latched by the edge handler.
// Notifications coalesce; Fault remains the source of truth.
func (m *Monitor) Tripped() <-chan struct{} {
	return m.tripped
}

// Reset re-derives the fault from the sense line and closes any self-test
// session. A line that still reads tripped keeps the fault latched.
func (m *Monitor) Reset() {
	m.watchdog.Reset()
	m.latch.Resample(m.pins.Sense)
}

// SetFault latches a fault.
func (m *Monitor) SetFault() {
	m.latch.Set()
}

// Fault reports whether a ground fault is latched.
func (m *Monitor) Fault() bool {
	return m.latch.Fault()
}

// SetTestSuccess marks the injected test current as observed.
func (m *Monitor) SetTestSuccess() {
	m.latch.SetTestSuccess()
}

// SelfTestSuccess reports whether the current self-test has seen its trip.
func (m *Monitor) SelfTestSuccess() bool {
	return m.latch.TestSuccess()
}

// SelfTestInProgress reports whether a self-test session is open.
func (m *Monitor) SelfTestInProgress() bool {
	return m.latch.TestInProgress()
}
