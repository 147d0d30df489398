package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Commands queues requests for the control loop. Requests may come from
// any goroutine; only the loop consumes them.
type Commands struct {
	selfTest chan struct{}
	reset    chan struct{}
	totalWh  chan uint32
}

// NewCommands creates an empty command queue.
func NewCommands() *Commands {
	return &Commands{
		selfTest: make(chan struct{}, 1),
		reset:    make(chan struct{}, 1),
		totalWh:  make(chan uint32, 4),
	}
}

// RequestSelfTest queues a self-test. It returns false if one is already
// pending.
func (c *Commands) RequestSelfTest() bool {
	select {
	case c.selfTest <- struct{}{}:
		return true
	default:
		return false
	}
}

// RequestReset queues a fault latch reset. It returns false if one is
// already pending.
func (c *Commands) RequestReset() bool {
	select {
	case c.reset <- struct{}{}:
		return true
	default:
		return false
	}
}

// SetTotalWattHours queues a meter sync. It returns false if the queue is
// full.
func (c *Commands) SetTotalWattHours(wh uint32) bool {
	select {
	case c.totalWh <- wh:
		return true
	default:
		return false
	}
}

// SelfTestRequests delivers queued self-test requests.
func (c *Commands) SelfTestRequests() <-chan struct{} {
	return c.selfTest
}

// ResetRequests delivers queued latch resets.
func (c *Commands) ResetRequests() <-chan struct{} {
	return c.reset
}

// TotalWattHoursRequests delivers queued meter syncs.
func (c *Commands) TotalWattHoursRequests() <-chan uint32 {
	return c.totalWh
}

// ParseTotalWh accepts a bare decimal or {"total_wh": n}.
func ParseTotalWh(payload []byte) (uint32, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var body struct {
			TotalWh *uint32 `json:"total_wh"`
		}
		if err := json.Unmarshal([]byte(text), &body); err != nil {
			return 0, fmt.Errorf("decode total_wh: %w", err)
		}
		if body.TotalWh == nil {
			return 0, fmt.Errorf("decode total_wh: missing field")
		}
		return *body.TotalWh, nil
	}
	v, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse total_wh: %w", err)
	}
	return uint32(v), nil
}

// Router dispatches subscribed messages.
type Router struct {
	topics Topics
	state  *ControllerState
	cmds   *Commands
	logger *zap.Logger
	now    func() time.Time
}

// NewRouter creates a router. A nil state or cmds ignores those topics.
func NewRouter(topics Topics, state *ControllerState, cmds *Commands, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{topics: topics, state: state, cmds: cmds, logger: logger, now: time.Now}
}

// Subscriptions lists the topics the router handles.
func (r *Router) Subscriptions() []string {
	var subs []string
	if r.state != nil {
		subs = append(subs, r.topics.ControllerState)
	}
	if r.cmds != nil {
		subs = append(subs, r.topics.CmdSelfTest, r.topics.CmdReset, r.topics.CmdTotalWh)
	}
	return subs
}

// Handle dispatches one message. Malformed payloads are logged and dropped.
func (r *Router) Handle(topic string, payload []byte) {
	switch {
	case topic == r.topics.ControllerState && r.state != nil:
		if err := r.state.Apply(payload, r.now()); err != nil {
			r.logger.Warn("bad controller state", zap.Error(err))
		}
	case topic == r.topics.CmdSelfTest && r.cmds != nil:
		if !r.cmds.RequestSelfTest() {
			r.logger.Info("self-test already pending")
		}
	case topic == r.topics.CmdReset && r.cmds != nil:
		if !r.cmds.RequestReset() {
			r.logger.Info("reset already pending")
		}
	case topic == r.topics.CmdTotalWh && r.cmds != nil:
		wh, err := ParseTotalWh(payload)
		if err != nil {
			r.logger.Warn("bad total_wh command", zap.Error(err))
			return
		}
		if !r.cmds.SetTotalWattHours(wh) {
			r.logger.Warn("total_wh queue full, dropping", zap.Uint32("wh", wh))
		}
	default:
		r.logger.Debug("unhandled topic", zap.String("topic", topic))
	}
}
