// Package mqtt publishes monitor events to a broker and receives controller
// readings and commands from it, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/evse-monitor/internal/gfi"
	"github.com/sweeney/evse-monitor/internal/logic"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "evse"

// Topics holds every topic the daemon uses, derived from one prefix.
type Topics struct {
	Events   string // transition events
	SelfTest string // self-test reports
	System   string // lifecycle and heartbeat status, retained

	ControllerState string // subscribed: controller readings
	CmdSelfTest     string // subscribed: self-test request
	CmdReset        string // subscribed: fault latch reset
	CmdTotalWh      string // subscribed: meter total sync
}

// NewTopics derives the topic set from prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Events:          prefix + "/events",
		SelfTest:        prefix + "/selftest",
		System:          prefix + "/system",
		ControllerState: prefix + "/controller/state",
		CmdSelfTest:     prefix + "/cmd/selftest",
		CmdReset:        prefix + "/cmd/reset",
		CmdTotalWh:      prefix + "/cmd/total_wh",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a transition event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSelfTest sends the outcome of a self-test.
	PublishSelfTest(event SelfTestEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SelfTestEvent is one completed self-test.
type SelfTestEvent struct {
	Timestamp time.Time
	Report    gfi.Report
	Trigger   string // "BOOT" or "REQUEST"
}

// Payload represents the MQTT message payload for transition events.
type Payload struct {
	EVSE EVSEPayload `json:"evse"`
}

// EVSEPayload contains the transition event details.
type EVSEPayload struct {
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	SessionID   string `json:"session_id,omitempty"`
	Fault       bool   `json:"fault"`
	InSession   bool   `json:"in_session"`
	RelayClosed bool   `json:"relay_closed"`
	SessionWs   uint32 `json:"session_ws"`
	TotalWh     uint32 `json:"total_wh"`
}

// FormatPayload creates the JSON payload for a transition event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		EVSE: EVSEPayload{
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			Event:       string(event.Type),
			SessionID:   event.SessionID,
			Fault:       event.Fault,
			InSession:   event.InSession,
			RelayClosed: event.RelayClosed,
			SessionWs:   event.SessionWs,
			TotalWh:     event.TotalWh,
		},
	}
	return json.Marshal(payload)
}

// SelfTestPayload is the MQTT message payload for self-test reports.
type SelfTestPayload struct {
	SelfTest SelfTestInner `json:"selftest"`
}

// SelfTestInner contains the self-test details.
type SelfTestInner struct {
	Timestamp string `json:"timestamp"`
	Variant   string `json:"variant"`
	Result    string `json:"result"`
	Code      uint8  `json:"code"`
	Trigger   string `json:"trigger,omitempty"`
	T3Ms      int64  `json:"t3_ms"`
	T6Ms      int64  `json:"t6_ms"`
}

// FormatSelfTestPayload creates the JSON payload for a self-test report.
func FormatSelfTestPayload(event SelfTestEvent) ([]byte, error) {
	r := event.Report
	payload := SelfTestPayload{
		SelfTest: SelfTestInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Variant:   r.Variant,
			Result:    r.Result.String(),
			Code:      uint8(r.Result),
			Trigger:   event.Trigger,
			T3Ms:      r.TripLatency.Milliseconds(),
			T6Ms:      r.ClearLatency.Milliseconds(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
