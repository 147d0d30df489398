package logic

import (
	"time"

	"github.com/google/uuid"
)

// Detector compares successive samples and reports transitions.
type Detector struct {
	last          Input
	baselined     bool
	sessionID     string
	newID         func() string
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewDetector creates a new transition detector.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(startTime time.Time) *Detector {
	return &Detector{
		newID:         uuid.NewString,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process takes a new input sample and returns any events that should be emitted.
// The first sample establishes the baseline and never produces events; a
// session already running at that point is given an ID silently.
//
// Within one sample events are ordered: fault change, session start, relay
// change, session end.
func (d *Detector) Process(input Input) []Event {
	if !d.baselined {
		d.baselined = true
		d.last = input
		if input.InSession {
			d.sessionID = d.newID()
		}
		return nil
	}

	prev := d.last
	d.last = input

	var events []Event
	emit := func(t EventType) {
		e := Event{
			Timestamp:   input.Time,
			Type:        t,
			SessionID:   d.sessionID,
			Fault:       input.Fault,
			InSession:   input.InSession,
			RelayClosed: input.RelayClosed,
			SessionWs:   input.SessionWs,
			TotalWh:     input.TotalWh,
		}
		if t == EventSessionEnd {
			e.SessionWs = input.LastSessionWs
		}
		events = append(events, e)
		d.count(t)
	}

	if input.Fault != prev.Fault {
		if input.Fault {
			emit(EventFault)
		} else {
			emit(EventFaultCleared)
		}
	}

	if input.InSession && !prev.InSession {
		d.sessionID = d.newID()
		emit(EventSessionStart)
	}

	if input.RelayClosed != prev.RelayClosed {
		if input.RelayClosed {
			emit(EventRelayClosed)
		} else {
			emit(EventRelayOpen)
		}
	}

	if !input.InSession && prev.InSession {
		emit(EventSessionEnd)
		d.sessionID = ""
	}

	return events
}

func (d *Detector) count(t EventType) {
	switch t {
	case EventFault:
		d.eventCounts.Fault++
	case EventFaultCleared:
		d.eventCounts.FaultCleared++
	case EventSessionStart:
		d.eventCounts.SessionStart++
	case EventSessionEnd:
		d.eventCounts.SessionEnd++
	case EventRelayClosed:
		d.eventCounts.RelayClosed++
	case EventRelayOpen:
		d.eventCounts.RelayOpen++
	}
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// Current returns the most recent sample.
func (d *Detector) Current() Input {
	return d.last
}

// SessionID returns the identifier of the running session, or "".
func (d *Detector) SessionID() string {
	return d.sessionID
}

// Counts returns the event counts since startup.
func (d *Detector) Counts() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
