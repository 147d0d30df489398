package internal

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/energy"
	"github.com/sweeney/evse-monitor/internal/gfi"
	"github.com/sweeney/evse-monitor/internal/hal"
	"github.com/sweeney/evse-monitor/internal/logic"
	"github.com/sweeney/evse-monitor/internal/mqtt"
	"github.com/sweeney/evse-monitor/internal/store"
)

// rig wires the safety core to fakes the way the daemon wires it to
// hardware: sense/test lines into a monitor, controller readings routed
// from MQTT into the meter, and transitions published through a fake.
type rig struct {
	t *testing.T

	sense  *hal.FakeInput
	test   *hal.FakeOutput
	clock  *hal.FakeClock
	topics mqtt.Topics
	router *mqtt.Router

	monitor   *gfi.Monitor
	meter     *energy.Meter
	detector  *logic.Detector
	publisher *mqtt.FakePublisher

	start time.Time
	polls int
}

func newRig(t *testing.T, st store.Store) *rig {
	t.Helper()
	r := &rig{
		t:         t,
		sense:     hal.NewFakeInput(),
		test:      &hal.FakeOutput{},
		clock:     hal.NewFakeClock(0),
		topics:    mqtt.NewTopics(""),
		publisher: mqtt.NewFakePublisher(),
		start:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	// A healthy level-injection module trips while TEST is held high.
	r.test.OnWrite = func(high bool) { r.sense.Set(high) }

	v, err := gfi.LookupVariant(gfi.VariantRCM1401, 50)
	if err != nil {
		t.Fatalf("lookup variant: %v", err)
	}
	r.monitor, err = gfi.NewMonitor(v, gfi.Pins{Sense: r.sense, Test: r.test, Cal: &hal.FakeOutput{}}, r.clock, &hal.FakeWatchdog{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	r.monitor.Init()

	ctrl := mqtt.NewControllerState()
	r.router = mqtt.NewRouter(r.topics, ctrl, mqtt.NewCommands(), zap.NewNop())
	r.meter = energy.NewMeter(ctrl, st, r.clock, energy.DefaultConfig(), zap.NewNop())
	r.detector = logic.NewDetector(r.start)
	return r
}

// controller delivers a controller state message as the broker would.
func (r *rig) controller(connected, relay bool, mv, ma uint32) {
	payload, err := json.Marshal(mqtt.ControllerMessage{
		Connected: connected, RelayClosed: relay, VoltageMv: mv, CurrentMa: ma,
	})
	if err != nil {
		r.t.Fatalf("marshal controller message: %v", err)
	}
	r.router.Handle(r.topics.ControllerState, payload)
}

// poll advances the clock by d and runs one control cycle.
func (r *rig) poll(d time.Duration) {
	r.clock.Advance(d)
	r.meter.Update()
	now := r.start.Add(time.Duration(r.polls) * 100 * time.Millisecond)
	r.polls++

	events := r.detector.Process(logic.Input{
		Fault:         r.monitor.Fault(),
		InSession:     r.meter.InSession(),
		RelayClosed:   r.meter.RelayClosed(),
		SessionWs:     r.meter.SessionWattSeconds(),
		LastSessionWs: r.meter.LastSessionWattSeconds(),
		TotalWh:       r.meter.TotalWattHours(),
		Time:          now,
	})
	for _, event := range events {
		// Publish failures are logged by the daemon and never stop the loop.
		_ = r.publisher.Publish(event)
	}
}

func (r *rig) types() []logic.EventType {
	var out []logic.EventType
	for _, e := range r.publisher.Events {
		out = append(out, e.Type)
	}
	return out
}

func expectTypes(t *testing.T, got []logic.EventType, want ...logic.EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

// TestIntegrationChargingSession runs a full session from plug-in to unplug.
func TestIntegrationChargingSession(t *testing.T) {
	st := store.NewMem(store.DefaultSize)
	r := newRig(t, st)

	r.poll(0) // baseline
	r.controller(true, false, 230000, 16000)
	r.poll(100 * time.Millisecond)
	r.controller(true, true, 230000, 16000)
	r.poll(100 * time.Millisecond)

	// 230 V * 16 A = 3680 W; 20 cycles of 1.5 s = 30 s = 110400 Ws.
	for i := 0; i < 20; i++ {
		r.poll(1500 * time.Millisecond)
	}
	if got := r.meter.SessionWattSeconds(); got != 110400 {
		t.Fatalf("session energy: expected 110400 Ws, got %d", got)
	}

	r.controller(false, false, 0, 0)
	r.poll(100 * time.Millisecond)

	expectTypes(t, r.types(),
		logic.EventSessionStart, logic.EventRelayClosed, logic.EventRelayOpen, logic.EventSessionEnd)

	var parsed struct {
		EVSE struct {
			Event     string `json:"event"`
			SessionID string `json:"session_id"`
			InSession bool   `json:"in_session"`
			SessionWs uint32 `json:"session_ws"`
			TotalWh   uint32 `json:"total_wh"`
		} `json:"evse"`
	}
	if err := json.Unmarshal(r.publisher.Payloads[3], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.EVSE.Event != "SESSION_END" {
		t.Errorf("expected event SESSION_END, got %s", parsed.EVSE.Event)
	}
	if parsed.EVSE.SessionID == "" || parsed.EVSE.SessionID != r.publisher.Events[0].SessionID {
		t.Errorf("session id should match SESSION_START, got %q", parsed.EVSE.SessionID)
	}
	if parsed.EVSE.InSession {
		t.Error("expected in_session=false after unplug")
	}
	if parsed.EVSE.SessionWs != 110400 {
		t.Errorf("expected session_ws=110400, got %d", parsed.EVSE.SessionWs)
	}
	// 110400 / 3600 = 30 Wh (truncated).
	if parsed.EVSE.TotalWh != 30 {
		t.Errorf("expected total_wh=30, got %d", parsed.EVSE.TotalWh)
	}

	persisted, err := st.ReadUint32(store.OffsetWattHoursTotal)
	if err != nil {
		t.Fatalf("read total: %v", err)
	}
	if persisted != 30 {
		t.Errorf("expected persisted total 30, got %d", persisted)
	}
}

// TestIntegrationNoEventsAtStartup verifies that a session already running
// when the daemon starts is picked up silently.
func TestIntegrationNoEventsAtStartup(t *testing.T) {
	r := newRig(t, store.NewMem(store.DefaultSize))

	r.controller(true, true, 230000, 10000)
	r.poll(0)
	r.poll(100 * time.Millisecond)
	r.poll(100 * time.Millisecond)

	if len(r.publisher.Events) != 0 {
		t.Fatalf("expected no events at startup, got %v", r.types())
	}
	if r.detector.SessionID() == "" {
		t.Error("running session should have been assigned an id")
	}
}

// TestIntegrationGroundFaultAndRecovery trips the sense line mid-session,
// verifies the latch survives a failing self-test and is released by a
// passing one.
func TestIntegrationGroundFaultAndRecovery(t *testing.T) {
	r := newRig(t, store.NewMem(store.DefaultSize))

	r.poll(0)
	r.controller(true, true, 230000, 16000)
	r.poll(100 * time.Millisecond)
	r.poll(100 * time.Millisecond)

	r.sense.Set(true)
	r.poll(100 * time.Millisecond)

	expectTypes(t, r.types(), logic.EventSessionStart, logic.EventRelayClosed, logic.EventFault)
	if !r.publisher.Events[2].Fault {
		t.Error("FAULT event should carry fault=true")
	}

	// Line still tripped: the test cannot start and the fault stays.
	rep := r.monitor.RunSelfTest()
	if rep.Result != gfi.ResultNotClearBefore {
		t.Fatalf("expected NOT_CLEAR_BEFORE, got %s", rep.Result)
	}
	if !r.monitor.Fault() {
		t.Fatal("inconclusive self-test must not clear the fault")
	}
	r.poll(100 * time.Millisecond)
	if len(r.publisher.Events) != 3 {
		t.Fatalf("no new events expected, got %v", r.types())
	}

	r.sense.Set(false)
	rep = r.monitor.RunSelfTest()
	if rep.Result != gfi.ResultOK {
		t.Fatalf("expected OK, got %s", rep.Result)
	}
	r.poll(100 * time.Millisecond)

	expectTypes(t, r.types(),
		logic.EventSessionStart, logic.EventRelayClosed, logic.EventFault, logic.EventFaultCleared)

	if err := r.publisher.PublishSelfTest(mqtt.SelfTestEvent{Timestamp: r.start, Report: rep, Trigger: "REQUEST"}); err != nil {
		t.Fatalf("publish self-test: %v", err)
	}
	var parsed struct {
		SelfTest struct {
			Variant string `json:"variant"`
			Result  string `json:"result"`
			Code    int    `json:"code"`
		} `json:"selftest"`
	}
	if err := json.Unmarshal(r.publisher.SelfTestPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.SelfTest.Variant != gfi.VariantRCM1401 || parsed.SelfTest.Result != "OK" || parsed.SelfTest.Code != 0 {
		t.Errorf("unexpected self-test payload: %+v", parsed.SelfTest)
	}
}

// TestIntegrationPublishFailureDoesNotCrash verifies publish errors are
// handled and metering carries on.
func TestIntegrationPublishFailureDoesNotCrash(t *testing.T) {
	r := newRig(t, store.NewMem(store.DefaultSize))
	r.publisher.PublishError = errors.New("broker unavailable")

	r.poll(0)
	r.controller(true, true, 230000, 16000)
	r.poll(100 * time.Millisecond)
	r.poll(100 * time.Millisecond)
	r.poll(1500 * time.Millisecond)

	if len(r.publisher.Events) != 0 {
		t.Errorf("expected 0 recorded events, got %d", len(r.publisher.Events))
	}
	if r.detector.Counts().SessionStart != 1 {
		t.Errorf("expected session start counted, got %d", r.detector.Counts().SessionStart)
	}
	if r.meter.SessionWattSeconds() == 0 {
		t.Error("meter should keep accumulating while publishing fails")
	}
}

// TestIntegrationTotalSurvivesRestart persists the lifetime total in a file
// image and reloads it with a fresh meter.
func TestIntegrationTotalSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nv.bin")

	f, err := store.OpenFile(path, store.DefaultSize)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r := newRig(t, f)
	r.poll(0)
	r.controller(true, true, 240000, 30000)
	r.poll(100 * time.Millisecond)
	r.poll(100 * time.Millisecond)
	// 7200 W for 60 s = 432000 Ws = 120 Wh.
	for i := 0; i < 40; i++ {
		r.poll(1500 * time.Millisecond)
	}
	r.controller(false, false, 0, 0)
	r.poll(100 * time.Millisecond)
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err = store.OpenFile(path, store.DefaultSize)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	restarted := newRig(t, f)
	if got := restarted.meter.TotalWattHours(); got != 120 {
		t.Errorf("expected 120 Wh after restart, got %d", got)
	}
}
