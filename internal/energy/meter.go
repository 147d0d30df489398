// Package energy accounts for delivered energy. The meter turns periodic
// voltage and current readings into watt-seconds for the current charging
// session, and rolls finished sessions into a persisted watt-hour total.
//
// All arithmetic is integer-only. The meter is not safe for concurrent use;
// it is driven from the control loop.
package energy

import (
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/hal"
	"github.com/sweeney/evse-monitor/internal/store"
)

// Controller supplies the charging state and measurements.
type Controller interface {
	EvConnected() bool
	RelayIsClosed() bool
	VoltageMillivolts() uint32
	ChargingCurrentMilliamps() uint32
}

// Config tunes the meter.
type Config struct {
	// CalcInterval is the minimum time between usage calculations.
	CalcInterval time.Duration

	// ThreePhase multiplies usage by 3. Voltage is measured phase to
	// ground, so 3 rather than sqrt(3) is the correct factor.
	ThreePhase bool

	// Offset is where the watt-hour total lives in storage.
	Offset int

	// SkipFirstRelayCycle drops the first calculation after the relay
	// closes and only restarts the interval timer, so time spent with the
	// relay open is never charged.
	SkipFirstRelayCycle bool
}

// DefaultConfig returns the settings used by the stock firmware.
func DefaultConfig() Config {
	return Config{
		CalcInterval:        time.Second,
		Offset:              store.OffsetWattHoursTotal,
		SkipFirstRelayCycle: true,
	}
}

// Meter tracks per-session and lifetime energy.
type Meter struct {
	ctrl   Controller
	store  store.Store
	clock  hal.Clock
	cfg    Config
	logger *zap.Logger

	lastUpdateMs   uint64
	wattHoursTotal uint32
	wattSeconds    uint32
	lastSessionWs  uint32

	inSession   bool
	evConnected bool
	relayClosed bool
}

// NewMeter creates a meter and loads the persisted total. An erased total
// is initialised to zero.
func NewMeter(ctrl Controller, st store.Store, clock hal.Clock, cfg Config, logger *zap.Logger) *Meter {
	if cfg.CalcInterval <= 0 {
		cfg.CalcInterval = DefaultConfig().CalcInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meter{
		ctrl:   ctrl,
		store:  st,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	m.initStorage()
	if v, ok := m.readTotal(); ok {
		m.wattHoursTotal = v
	}
	return m
}

// Update runs one control cycle: it detects session start and end from the
// connection state and accumulates usage while the relay stays closed.
func (m *Meter) Update() {
	connected := m.ctrl.EvConnected()

	if !m.evConnected && connected {
		m.startSession()
	} else if m.evConnected && !connected {
		m.endSession()
	}

	relay := m.ctrl.RelayIsClosed()
	if m.inSession && relay {
		if !m.relayClosed && m.cfg.SkipFirstRelayCycle {
			m.lastUpdateMs = m.clock.Millis()
		} else {
			m.calcUsage()
		}
	}

	m.relayClosed = relay
	m.evConnected = connected
}

func (m *Meter) calcUsage() {
	now := m.clock.Millis()
	dms := now - m.lastUpdateMs
	if dms <= uint64(m.cfg.CalcInterval/time.Millisecond) {
		return
	}

	mv := m.ctrl.VoltageMillivolts()
	ma := m.ctrl.ChargingCurrentMilliamps()
	mws := MilliwattSeconds(mv, ma, dms)
	if m.cfg.ThreePhase {
		mws *= 3
	}
	m.wattSeconds += uint32(mws / 1000)
	m.lastUpdateMs = now
}

func (m *Meter) startSession() {
	m.endSession()
	m.wattSeconds = 0
	m.lastUpdateMs = m.clock.Millis()
	m.inSession = true
	m.logger.Debug("session started", zap.Uint32("total_wh", m.wattHoursTotal))
}

func (m *Meter) endSession() {
	if !m.inSession {
		return
	}
	m.inSession = false
	m.lastSessionWs = m.wattSeconds
	if m.wattSeconds != 0 {
		m.wattHoursTotal += m.wattSeconds / 3600
		m.SaveTotal()
	}
	m.logger.Info("session ended",
		zap.Uint32("session_ws", m.wattSeconds),
		zap.Uint32("total_wh", m.wattHoursTotal))
	m.wattSeconds = 0
}

// SaveTotal persists the watt-hour total if it differs from storage.
func (m *Meter) SaveTotal() {
	if v, err := m.store.ReadUint32(m.cfg.Offset); err == nil && v == m.wattHoursTotal {
		return
	} else if err != nil {
		m.logger.Warn("read total before save", zap.Error(err))
	}
	if err := m.store.WriteUint32(m.cfg.Offset, m.wattHoursTotal); err != nil {
		m.logger.Warn("persist total", zap.Error(err))
		return
	}
	m.logger.Debug("persisted total", zap.Uint32("total_wh", m.wattHoursTotal))
}

// SetTotalWattHours synchronises with an external meter. During a session
// the value is taken as the authoritative running total, so the session
// energy becomes its difference to the stored total; outside a session it
// replaces the stored total.
func (m *Meter) SetTotalWattHours(wh uint32) {
	if m.inSession {
		if wh < m.wattHoursTotal {
			m.logger.Warn("external total below stored total, session reset",
				zap.Uint32("external_wh", wh),
				zap.Uint32("total_wh", m.wattHoursTotal))
			m.wattSeconds = 0
			return
		}
		m.wattSeconds = (wh - m.wattHoursTotal) * 3600
		m.logger.Debug("session energy from external total", zap.Uint32("session_ws", m.wattSeconds))
		return
	}
	m.wattHoursTotal = wh
	m.SaveTotal()
	m.logger.Debug("total synchronised", zap.Uint32("total_wh", wh))
}

// TotalWattHours returns the lifetime total. Storage is consulted again
// only while the cached total is zero; a non-zero total never touches it.
func (m *Meter) TotalWattHours() uint32 {
	if m.wattHoursTotal == 0 {
		m.initStorage()
		if v, ok := m.readTotal(); ok {
			m.wattHoursTotal = v
		}
	}
	return m.wattHoursTotal
}

// SessionWattSeconds returns the energy of the session in progress.
func (m *Meter) SessionWattSeconds() uint32 {
	return m.wattSeconds
}

// LastSessionWattSeconds returns the energy of the most recently closed
// session.
func (m *Meter) LastSessionWattSeconds() uint32 {
	return m.lastSessionWs
}

// InSession reports whether a charging session is open.
func (m *Meter) InSession() bool {
	return m.inSession
}

// RelayClosed reports the relay state seen on the last Update.
func (m *Meter) RelayClosed() bool {
	return m.relayClosed
}

// initStorage writes zero over an erased total.
func (m *Meter) initStorage() {
	v, err := m.store.ReadUint32(m.cfg.Offset)
	if err != nil {
		m.logger.Warn("read total", zap.Error(err))
		return
	}
	if v != store.Uninitialized {
		return
	}
	if err := m.store.WriteUint32(m.cfg.Offset, 0); err != nil {
		m.logger.Warn("initialise total", zap.Error(err))
		return
	}
	m.logger.Info("initialised erased energy total")
}

func (m *Meter) readTotal() (uint32, bool) {
	v, err := m.store.ReadUint32(m.cfg.Offset)
	if err != nil {
		m.logger.Warn("read total", zap.Error(err))
		return 0, false
	}
	if v == store.Uninitialized {
		return 0, true
	}
	return v, true
}
