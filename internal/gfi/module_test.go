package gfi

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/hal"
)

// simModule simulates a residual-current sense module on virtual time. It
// trips after the test line has carried current for tripAfter in total and
// releases the sense line holdFor after tripping. Negative durations mean
// never.
type simModule struct {
	mu        sync.Mutex
	clock     *hal.FakeClock
	sense     *hal.FakeInput
	test      *hal.FakeOutput
	cal       *hal.FakeOutput
	tripAfter time.Duration
	holdFor   time.Duration

	testHigh  bool
	highSince time.Duration
	carried   time.Duration
	tripped   bool
	released  bool
	trippedAt time.Duration

	// afterRelease, if set, runs once on the first time step after the
	// line has been released.
	afterRelease func()
}

func newSimModule(tripAfter, holdFor time.Duration) *simModule {
	s := &simModule{
		clock:     hal.NewFakeClock(10_000),
		sense:     hal.NewFakeInput(),
		test:      &hal.FakeOutput{},
		cal:       &hal.FakeOutput{},
		tripAfter: tripAfter,
		holdFor:   holdFor,
	}
	s.test.OnWrite = s.onTestWrite
	s.clock.OnAdvance(s.step)
	return s
}

func (s *simModule) onTestWrite(high bool) {
	now := s.clock.Now()
	s.mu.Lock()
	if s.testHigh && !high {
		s.carried += now - s.highSince
	}
	if high && !s.testHigh {
		s.highSince = now
	}
	s.testHigh = high
	s.mu.Unlock()
}

func (s *simModule) step(now time.Duration) {
	s.mu.Lock()
	carried := s.carried
	if s.testHigh {
		carried += now - s.highSince
	}
	trip := !s.tripped && s.tripAfter >= 0 && carried >= s.tripAfter
	if trip {
		s.tripped = true
		s.trippedAt = now
	}
	release := s.tripped && !s.released && s.holdFor >= 0 && now-s.trippedAt >= s.holdFor
	if release {
		s.released = true
	}
	var after func()
	if s.released && !release && s.afterRelease != nil {
		after = s.afterRelease
		s.afterRelease = nil
	}
	s.mu.Unlock()

	if trip {
		s.sense.Set(true)
	}
	if release {
		s.sense.Set(false)
	}
	if after != nil {
		after()
	}
}

func (s *simModule) pins() Pins {
	return Pins{Sense: s.sense, Test: s.test, Cal: s.cal}
}

// stampedWatchdog records the virtual time of every feed.
type stampedWatchdog struct {
	clock *hal.FakeClock
	at    []time.Duration
}

func (w *stampedWatchdog) Reset() {
	w.at = append(w.at, w.clock.Now())
}

func newMonitor(t *testing.T, variant string, sim *simModule) (*Monitor, *stampedWatchdog) {
	t.Helper()
	v, err := LookupVariant(variant, 60)
	require.NoError(t, err)
	wd := &stampedWatchdog{clock: sim.clock}
	m, err := NewMonitor(v, sim.pins(), sim.clock, wd, zap.NewNop())
	require.NoError(t, err)
	m.Init()
	return m, wd
}
