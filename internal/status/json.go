package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Fault         bool          `json:"fault"`
	Ready         bool          `json:"ready"`
	Session       SessionJSON   `json:"session"`
	RelayClosed   bool          `json:"relay_closed"`
	TotalWh       uint32        `json:"total_wh"`
	VoltageMv     uint32        `json:"voltage_mv"`
	CurrentMa     uint32        `json:"current_ma"`
	SelfTest      *SelfTestJSON `json:"selftest,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"event_counts"`
	Config        ConfigJSON    `json:"config"`
}

// SessionJSON describes the current and previous charging session.
type SessionJSON struct {
	Active       bool   `json:"active"`
	ID           string `json:"id,omitempty"`
	WattSeconds  uint32 `json:"watt_seconds"`
	LastWattSecs uint32 `json:"last_watt_seconds"`
}

// SelfTestJSON is the JSON representation of the last self-test.
type SelfTestJSON struct {
	Result    string `json:"result"`
	Code      uint8  `json:"code"`
	Trigger   string `json:"trigger,omitempty"`
	Timestamp string `json:"timestamp"`
	T3Ms      int64  `json:"t3_ms"`
	T6Ms      int64  `json:"t6_ms"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Fault        int `json:"fault"`
	FaultCleared int `json:"fault_cleared"`
	SessionStart int `json:"session_start"`
	SessionEnd   int `json:"session_end"`
	RelayClosed  int `json:"relay_closed"`
	RelayOpen    int `json:"relay_open"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Variant     string `json:"variant"`
	LineHz      int    `json:"line_hz"`
	Storage     string `json:"storage"`
	ThreePhase  bool   `json:"three_phase"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Fault: snap.Fault,
		Ready: snap.Baselined,
		Session: SessionJSON{
			Active:       snap.InSession,
			ID:           snap.SessionID,
			WattSeconds:  snap.SessionWs,
			LastWattSecs: snap.LastSessionWs,
		},
		RelayClosed:   snap.RelayClosed,
		TotalWh:       snap.TotalWh,
		VoltageMv:     snap.VoltageMv,
		CurrentMa:     snap.CurrentMa,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Fault:        snap.Counts.Fault,
			FaultCleared: snap.Counts.FaultCleared,
			SessionStart: snap.Counts.SessionStart,
			SessionEnd:   snap.Counts.SessionEnd,
			RelayClosed:  snap.Counts.RelayClosed,
			RelayOpen:    snap.Counts.RelayOpen,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Variant:     snap.Config.Variant,
			LineHz:      snap.Config.LineHz,
			Storage:     snap.Config.Storage,
			ThreePhase:  snap.Config.ThreePhase,
		},
	}
	if st := snap.SelfTest; st != nil {
		inner.SelfTest = &SelfTestJSON{
			Result:    st.Report.Result.String(),
			Code:      uint8(st.Report.Result),
			Trigger:   st.Trigger,
			Timestamp: st.At.UTC().Format(time.RFC3339),
			T3Ms:      st.Report.TripLatency.Milliseconds(),
			T6Ms:      st.Report.ClearLatency.Milliseconds(),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatCompactJSON returns the status on one line, for the live feed.
func FormatCompactJSON(snap Snapshot) []byte {
	data, _ := json.Marshal(StatusJSON{Status: buildInner(snap)})
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
