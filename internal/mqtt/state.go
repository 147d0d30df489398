package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ControllerState holds the latest readings published by the charge
// controller. It satisfies energy.Controller and is safe for concurrent use.
type ControllerState struct {
	mu      sync.RWMutex
	msg     ControllerMessage
	updated time.Time
}

// ControllerMessage is the JSON body of the controller state topic.
type ControllerMessage struct {
	Connected   bool   `json:"connected"`
	RelayClosed bool   `json:"relay_closed"`
	VoltageMv   uint32 `json:"voltage_mv"`
	CurrentMa   uint32 `json:"current_ma"`
}

// NewControllerState returns a state reporting nothing connected.
func NewControllerState() *ControllerState {
	return &ControllerState{}
}

// Apply decodes payload and replaces the held readings.
func (s *ControllerState) Apply(payload []byte, now time.Time) error {
	var msg ControllerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode controller state: %w", err)
	}
	s.Set(msg, now)
	return nil
}

// Set replaces the held readings.
func (s *ControllerState) Set(msg ControllerMessage, now time.Time) {
	s.mu.Lock()
	s.msg = msg
	s.updated = now
	s.mu.Unlock()
}

// Updated returns when readings were last received; zero if never.
func (s *ControllerState) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

func (s *ControllerState) EvConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msg.Connected
}

func (s *ControllerState) RelayIsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msg.RelayClosed
}

func (s *ControllerState) VoltageMillivolts() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msg.VoltageMv
}

func (s *ControllerState) ChargingCurrentMilliamps() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msg.CurrentMa
}
