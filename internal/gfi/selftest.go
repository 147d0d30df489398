package gfi

import (
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/hal"
)

// SelfTest runs the self-test and returns its result code.
func (m *Monitor) SelfTest() Result {
	return m.RunSelfTest().Result
}

// RunSelfTest verifies that the sense module trips on an injected test
// current and clears again. It blocks the caller for the whole procedure
// (up to a few seconds) and services the watchdog on every wait.
//
// Phases run strictly in order: guard, calibrate, inject, clear, settle.
// Only a fully successful run clears the fault latch; an inconclusive run
// leaves it as it was.
func (m *Monitor) RunSelfTest() Report {
	v := m.variant
	rep := Report{Variant: v.Name}
	m.latch.resetTest()

	if !m.waitClear(v.GuardPolls) {
		rep.Result = ResultNotClearBefore
		m.logger.Warn("gfi self-test: sense line not clear before test")
		return rep
	}

	if v.NeedsCalLine() {
		m.drive(m.pins.Cal, v.Calibration)
	}

	m.latch.beginTest()
	start := m.clock.Millis()
	m.inject(v)
	rep.TripLatency = m.since(start)
	if !m.latch.TestSuccess() {
		m.latch.endTest(false)
		rep.Result = ResultNoTrip
		m.logger.Warn("gfi self-test: sense line did not trip",
			zap.Duration("t3", rep.TripLatency))
		return rep
	}

	start = m.clock.Millis()
	cleared := m.waitClear(v.ClearPolls)
	rep.ClearLatency = m.since(start)
	if !cleared {
		m.latch.endTest(false)
		rep.Result = ResultNotClearAfter
		m.logger.Warn("gfi self-test: sense line not clear after trip",
			zap.Duration("t3", rep.TripLatency),
			zap.Duration("t6", rep.ClearLatency))
		return rep
	}

	// Edges during the settle window still count as test response.
	m.watchdogDelay(v.SettleDelay)

	m.latch.endTest(true)
	rep.Result = ResultOK
	m.logger.Info("gfi self-test passed",
		zap.String("variant", v.Name),
		zap.Duration("t3", rep.TripLatency),
		zap.Duration("t6", rep.ClearLatency))
	return rep
}

func (m *Monitor) inject(v Variant) {
	test := m.pins.Test
	switch v.Strategy {
	case StrategyWaveform:
		for i := 0; !m.latch.TestSuccess() && i < v.Cycles; i++ {
			m.watchdog.Reset()
			test.Write(true)
			m.clock.Delay(v.PulseOn)
			test.Write(false)
			m.clock.Delay(v.PulseOff)
		}
	case StrategyLevel:
		test.Write(true)
		m.pollTrip(v)
		test.Write(false)
	case StrategyPulsedCalibration:
		// TEST-IN stays high afterwards; that is its idle level once calibrated.
		m.drive(test, v.Prelude)
		m.pollTrip(v)
	}
}

func (m *Monitor) pollTrip(v Variant) {
	for i := 0; !m.latch.TestSuccess() && i < v.TripPolls; i++ {
		m.watchdog.Reset()
		m.clock.Delay(v.PollInterval)
	}
}

// waitClear polls the sense line until it reads not tripped. It reports
// false if the line is still tripped after polls attempts.
func (m *Monitor) waitClear(polls int) bool {
	for i := 0; i < polls; i++ {
		m.watchdog.Reset()
		if !m.pins.Sense.Read() {
			return true
		}
		m.clock.Delay(m.variant.PollInterval)
	}
	return false
}

func (m *Monitor) drive(pin hal.OutputPin, seq Sequence) {
	for _, s := range seq.Steps {
		m.watchdogDelay(s.Wait)
		pin.Write(s.Level)
	}
	m.watchdogDelay(seq.Tail)
}

// watchdogDelay waits d in poll-interval slices, feeding the watchdog before
// each slice.
func (m *Monitor) watchdogDelay(d time.Duration) {
	slice := m.variant.PollInterval
	if slice <= 0 {
		slice = defaultPollInterval
	}
	for d > 0 {
		m.watchdog.Reset()
		step := slice
		if d < step {
			step = d
		}
		m.clock.Delay(step)
		d -= step
	}
}

func (m *Monitor) since(startMs uint64) time.Duration {
	return time.Duration(m.clock.Millis()-startMs) * time.Millisecond
}
