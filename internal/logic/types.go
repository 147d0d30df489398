// Package logic turns poll-cycle snapshots of the safety core into
// publishable transition events.
// This package has NO hardware, MQTT or OS dependencies.
// Time is always injectable via time.Time parameters.
package logic

import "time"

// EventType represents a state transition event.
type EventType string

const (
	EventFault        EventType = "FAULT"
	EventFaultCleared EventType = "FAULT_CLEARED"
	EventSessionStart EventType = "SESSION_START"
	EventSessionEnd   EventType = "SESSION_END"
	EventRelayClosed  EventType = "RELAY_CLOSED"
	EventRelayOpen    EventType = "RELAY_OPEN"
)

// Event represents a state transition to be published.
type Event struct {
	Timestamp   time.Time
	Type        EventType
	SessionID   string // empty outside a session
	Fault       bool
	InSession   bool
	RelayClosed bool
	SessionWs   uint32 // energy of the closed session on SESSION_END
	TotalWh     uint32
}

// Input is one poll-cycle sample of the monitor and meter.
type Input struct {
	Fault         bool
	InSession     bool
	RelayClosed   bool
	SessionWs     uint32
	LastSessionWs uint32
	TotalWh       uint32
	Time          time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Fault        int
	FaultCleared int
	SessionStart int
	SessionEnd   int
	RelayClosed  int
	RelayOpen    int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
