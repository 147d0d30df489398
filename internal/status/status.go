// Package status provides a thread-safe status tracker for the evse-monitor daemon.
// It is read by HTTP handlers, the websocket feed and MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/evse-monitor/internal/gfi"
	"github.com/sweeney/evse-monitor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Variant     string
	LineHz      int
	Storage     string
	ThreePhase  bool
}

// SelfTest is the most recent self-test outcome.
type SelfTest struct {
	Report  gfi.Report
	Trigger string
	At      time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Fault         bool
	InSession     bool
	SessionID     string
	RelayClosed   bool
	SessionWs     uint32
	LastSessionWs uint32
	TotalWh       uint32
	VoltageMv     uint32
	CurrentMa     uint32
	SelfTest      *SelfTest
	Baselined     bool
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu        sync.RWMutex
	snap      Snapshot
	listeners map[chan struct{}]struct{}
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		listeners: make(map[chan struct{}]struct{}),
	}
}

// Update records the latest poll-cycle sample.
// Called from runLoop on every tick.
func (t *Tracker) Update(in logic.Input, sessionID string, counts logic.EventCounts) {
	t.mutate(func(s *Snapshot) {
		s.Fault = in.Fault
		s.InSession = in.InSession
		s.SessionID = sessionID
		s.RelayClosed = in.RelayClosed
		s.SessionWs = in.SessionWs
		s.LastSessionWs = in.LastSessionWs
		s.TotalWh = in.TotalWh
		s.Baselined = true
		s.Counts = counts
	})
}

// SetReadings records the controller's latest voltage and current.
func (t *Tracker) SetReadings(voltageMv, currentMa uint32) {
	t.mutate(func(s *Snapshot) {
		s.VoltageMv = voltageMv
		s.CurrentMa = currentMa
	})
}

// SetSelfTest records a completed self-test.
func (t *Tracker) SetSelfTest(r gfi.Report, trigger string, at time.Time) {
	t.mutate(func(s *Snapshot) {
		s.SelfTest = &SelfTest{Report: r, Trigger: trigger, At: at}
	})
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mutate(func(s *Snapshot) {
		s.MQTTConnected = connected
	})
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Subscribe returns a channel that receives a signal whenever the state
// changes, and a function that cancels the subscription. Signals coalesce.
func (t *Tracker) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	t.listeners[ch] = struct{}{}
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		delete(t.listeners, ch)
		t.mu.Unlock()
	}
}

func (t *Tracker) mutate(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := t.snap
	fn(&t.snap)
	if t.snap == before {
		return
	}
	for ch := range t.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
