package main

import (
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/energy"
	"github.com/sweeney/evse-monitor/internal/gfi"
	"github.com/sweeney/evse-monitor/internal/logic"
	"github.com/sweeney/evse-monitor/internal/mqtt"
	"github.com/sweeney/evse-monitor/internal/status"
)

// Self-test triggers reported with each result.
const (
	triggerBoot    = "BOOT"
	triggerRequest = "REQUEST"
)

// daemon is the control loop state. Only runLoop touches the monitor's
// self-test and the meter; other goroutines queue work through cmds.
type daemon struct {
	monitor    *gfi.Monitor
	meter      *energy.Meter
	ctrl       energy.Controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	cmds       *mqtt.Commands
	heartbeat  time.Duration
	now        func() time.Time
	logger     *zap.Logger

	detector *logic.Detector
}

func (d *daemon) runLoop(tick <-chan time.Time, sig <-chan os.Signal) error {
	d.detector = logic.NewDetector(d.now())

	for {
		select {
		case s := <-sig:
			d.shutdown(s)
			return nil

		case <-d.monitor.Tripped():
			// Publish the fault without waiting for the next tick.
			d.poll(d.now())

		case <-d.cmds.SelfTestRequests():
			d.runSelfTest(triggerRequest)
			d.poll(d.now())

		case <-d.cmds.ResetRequests():
			d.resetFault()
			d.poll(d.now())

		case wh := <-d.cmds.TotalWattHoursRequests():
			d.logger.Info("syncing energy total", zap.Uint32("wh", wh))
			d.meter.SetTotalWattHours(wh)
			d.poll(d.now())

		case <-tick:
			d.poll(d.now())
		}
	}
}

// poll runs one control cycle: meter update, transition events, heartbeat
// and tracker refresh.
func (d *daemon) poll(t time.Time) {
	d.meter.Update()

	in := logic.Input{
		Fault:         d.monitor.Fault(),
		InSession:     d.meter.InSession(),
		RelayClosed:   d.meter.RelayClosed(),
		SessionWs:     d.meter.SessionWattSeconds(),
		LastSessionWs: d.meter.LastSessionWattSeconds(),
		TotalWh:       d.meter.TotalWattHours(),
		Time:          t,
	}

	for _, event := range d.detector.Process(in) {
		fields := []zap.Field{
			zap.String("event", string(event.Type)),
			zap.String("session", event.SessionID),
			zap.Uint32("session_ws", event.SessionWs),
			zap.Uint32("total_wh", event.TotalWh),
		}
		if event.Type == logic.EventFault {
			d.logger.Warn("event", fields...)
		} else {
			d.logger.Info("event", fields...)
		}
		if err := d.publisher.Publish(event); err != nil {
			d.logger.Warn("publish error", zap.Error(err))
			// Don't crash on publish failure
		}
	}

	d.refreshTracker(in)

	if hb := d.detector.CheckHeartbeat(t, d.heartbeat); hb != nil {
		d.logger.Info("heartbeat",
			zap.Duration("uptime", hb.Uptime),
			zap.Int("faults", hb.Counts.Fault),
			zap.Int("sessions", hb.Counts.SessionStart))

		snap := d.tracker.Snapshot()
		hbEvent := mqtt.SystemEvent{
			Timestamp:  hb.Timestamp,
			Event:      "HEARTBEAT",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
		}
		if err := d.publisher.PublishSystem(hbEvent); err != nil {
			d.logger.Warn("heartbeat publish error", zap.Error(err))
		}
	}
}

func (d *daemon) refreshTracker(in logic.Input) {
	d.tracker.Update(in, d.detector.SessionID(), d.detector.Counts())
	d.tracker.SetReadings(d.ctrl.VoltageMillivolts(), d.ctrl.ChargingCurrentMilliamps())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

// runSelfTest runs a self-test on the loop goroutine and reports it.
func (d *daemon) runSelfTest(trigger string) gfi.Report {
	r := d.monitor.RunSelfTest()
	at := d.now()

	if r.Result.Inconclusive() {
		d.logger.Warn("self-test failed", zap.String("result", r.Result.String()), zap.String("trigger", trigger))
	}

	d.tracker.SetSelfTest(r, trigger, at)
	if err := d.publisher.PublishSelfTest(mqtt.SelfTestEvent{Timestamp: at, Report: r, Trigger: trigger}); err != nil {
		d.logger.Warn("self-test publish error", zap.Error(err))
	}
	return r
}

// resetFault re-derives the latch from the sense line. A line that still
// reads tripped keeps the fault.
func (d *daemon) resetFault() {
	was := d.monitor.Fault()
	d.monitor.Reset()
	d.logger.Info("fault latch reset requested",
		zap.Bool("was_fault", was),
		zap.Bool("fault", d.monitor.Fault()))
}

func (d *daemon) shutdown(s os.Signal) {
	d.logger.Info("shutting down", zap.String("signal", s.String()))
	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}

	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      "SHUTDOWN",
		Reason:     signalName,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.logger.Warn("failed to publish shutdown event", zap.Error(err))
	}
}
