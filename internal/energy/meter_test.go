package energy

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/evse-monitor/internal/hal"
	"github.com/sweeney/evse-monitor/internal/store"
)

type fakeController struct {
	connected bool
	relay     bool
	mv        uint32
	ma        uint32
}

func (f *fakeController) EvConnected() bool                { return f.connected }
func (f *fakeController) RelayIsClosed() bool              { return f.relay }
func (f *fakeController) VoltageMillivolts() uint32        { return f.mv }
func (f *fakeController) ChargingCurrentMilliamps() uint32 { return f.ma }

type fixture struct {
	ctrl  *fakeController
	store *store.Mem
	clock *hal.FakeClock
	meter *Meter
}

// 240 V at 4 A: (240000>>4)*(4000>>2) = 15000*1000, i.e. 960 mWs per ms,
// so each 1500 ms step adds exactly 1440 Ws.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		ctrl:  &fakeController{mv: 240000, ma: 4000},
		store: store.NewMem(store.DefaultSize),
		clock: hal.NewFakeClock(0),
	}
	f.meter = NewMeter(f.ctrl, f.store, f.clock, cfg, zap.NewNop())
	return f
}

// startCharging opens a session and closes the relay.
func (f *fixture) startCharging() {
	f.meter.Update()
	f.ctrl.connected = true
	f.meter.Update()
	f.ctrl.relay = true
	f.meter.Update()
}

func (f *fixture) step(d time.Duration) {
	f.clock.Advance(d)
	f.meter.Update()
}

func TestMilliwattSecondsPrecision(t *testing.T) {
	tests := []struct {
		mv, ma uint32
		dms    uint64
	}{
		{240000, 6000, 60000},
		{240000, 5900, 1000},
		{230000, 16000, 1000},
		{120000, 6000, 5000},
		{208000, 32000, 1500},
		{240000, 80000, 1000},
	}
	for _, tt := range tests {
		exact := float64(tt.mv) * float64(tt.ma) * float64(tt.dms) / 1e9
		got := float64(MilliwattSeconds(tt.mv, tt.ma, tt.dms)) / 1000
		assert.InEpsilon(t, exact, got, 0.01, "mv=%d ma=%d dms=%d", tt.mv, tt.ma, tt.dms)
	}

	// 240 V, 5.9 A for one second: naive truncation gives 1200 Ws.
	assert.Equal(t, uint64(1416000), MilliwattSeconds(240000, 5900, 1000))
	assert.Equal(t, uint64(86400000), MilliwattSeconds(240000, 6000, 60000))
}

func TestSessionCloseRollsIntoTotal(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.Equal(t, 1, f.store.Writes(), "erased total initialised once")

	f.startCharging()
	for i := 0; i < 5; i++ {
		f.step(1500 * time.Millisecond)
	}
	require.Equal(t, uint32(7200), f.meter.SessionWattSeconds())
	require.Equal(t, uint32(0), f.meter.TotalWattHours())

	f.ctrl.connected = false
	f.ctrl.relay = false
	f.meter.Update()

	assert.False(t, f.meter.InSession())
	assert.Equal(t, uint32(2), f.meter.TotalWattHours())
	assert.Equal(t, uint32(0), f.meter.SessionWattSeconds())
	assert.Equal(t, uint32(7200), f.meter.LastSessionWattSeconds())
	assert.Equal(t, 2, f.store.Writes(), "total persisted exactly once")
	v, _ := f.store.ReadUint32(store.OffsetWattHoursTotal)
	assert.Equal(t, uint32(2), v)
}

func TestRelayJustClosedDoesNotAccumulate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.meter.Update()
	f.ctrl.connected = true
	f.meter.Update()

	// Long wait with the relay open must not be charged.
	f.clock.Advance(time.Hour)
	f.ctrl.relay = true
	f.meter.Update()
	assert.Zero(t, f.meter.SessionWattSeconds())

	f.step(1500 * time.Millisecond)
	assert.Equal(t, uint32(1440), f.meter.SessionWattSeconds())
}

func TestRelayJustClosedWithoutSkip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkipFirstRelayCycle = false
	f := newFixture(t, cfg)
	f.meter.Update()
	f.ctrl.connected = true
	f.meter.Update()

	f.clock.Advance(1500 * time.Millisecond)
	f.ctrl.relay = true
	f.meter.Update()
	assert.Equal(t, uint32(1440), f.meter.SessionWattSeconds())
}

func TestNoAccumulationWithRelayOpen(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startCharging()
	f.ctrl.relay = false
	for i := 0; i < 5; i++ {
		f.step(1500 * time.Millisecond)
	}
	assert.Zero(t, f.meter.SessionWattSeconds())
	assert.True(t, f.meter.InSession())
}

func TestNoAccumulationOutsideSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.ctrl.relay = true
	for i := 0; i < 5; i++ {
		f.step(1500 * time.Millisecond)
	}
	assert.Zero(t, f.meter.SessionWattSeconds())
	assert.False(t, f.meter.InSession())
}

func TestCalcIntervalMustBeExceeded(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startCharging()

	f.step(time.Second)
	assert.Zero(t, f.meter.SessionWattSeconds(), "exactly one interval is not enough")

	// The timestamp was not advanced, so the next calculation covers both.
	f.step(500 * time.Millisecond)
	assert.Equal(t, uint32(1440), f.meter.SessionWattSeconds())
}

func TestThreePhase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThreePhase = true
	f := newFixture(t, cfg)
	f.startCharging()
	f.step(1500 * time.Millisecond)
	assert.Equal(t, uint32(3*1440), f.meter.SessionWattSeconds())
}

func TestAccumulationMonotonic(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startCharging()
	rng := rand.New(rand.NewSource(1))

	prev := f.meter.SessionWattSeconds()
	for i := 0; i < 500; i++ {
		f.ctrl.mv = 200000 + uint32(rng.Intn(50000))
		f.ctrl.ma = uint32(rng.Intn(48000))
		f.step(time.Duration(rng.Intn(3000)) * time.Millisecond)
		cur := f.meter.SessionWattSeconds()
		require.GreaterOrEqual(t, cur, prev, "iteration %d", i)
		prev = cur
	}
}

func TestSetTotalOutsideSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.meter.SetTotalWattHours(12345)
	assert.Equal(t, uint32(12345), f.meter.TotalWattHours())
	v, _ := f.store.ReadUint32(store.OffsetWattHoursTotal)
	assert.Equal(t, uint32(12345), v)

	f.meter.SetTotalWattHours(0)
	assert.Equal(t, uint32(0), f.meter.TotalWattHours(), "zero round-trips despite the lazy re-read")
}

func TestSetTotalInSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.meter.SetTotalWattHours(100)
	writes := f.store.Writes()

	f.startCharging()
	f.meter.SetTotalWattHours(103)

	assert.Equal(t, uint32(3*3600), f.meter.SessionWattSeconds())
	assert.Equal(t, uint32(100), f.meter.TotalWattHours(), "stored total unchanged until close")
	assert.Equal(t, writes, f.store.Writes())

	f.ctrl.connected = false
	f.meter.Update()
	assert.Equal(t, uint32(103), f.meter.TotalWattHours())
}

func TestSetTotalInSessionBelowStored(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.meter.SetTotalWattHours(100)
	f.startCharging()
	f.step(1500 * time.Millisecond)

	f.meter.SetTotalWattHours(50)
	assert.Zero(t, f.meter.SessionWattSeconds())
	assert.Equal(t, uint32(100), f.meter.TotalWattHours())
}

func TestUninitializedStorage(t *testing.T) {
	st := store.NewMem(store.DefaultSize)
	m := NewMeter(&fakeController{}, st, hal.NewFakeClock(0), DefaultConfig(), nil)

	assert.Equal(t, uint32(0), m.TotalWattHours())
	assert.Equal(t, 1, st.Writes(), "zero written exactly once")
	assert.Equal(t, uint32(0), m.TotalWattHours())
	assert.Equal(t, 1, st.Writes())

	// Storage erased behind our back is re-initialised on the next read.
	st.Erase()
	assert.Equal(t, uint32(0), m.TotalWattHours())
	assert.Equal(t, 2, st.Writes())
	v, _ := st.ReadUint32(store.OffsetWattHoursTotal)
	assert.Equal(t, uint32(0), v)
}

func TestLoadsPersistedTotal(t *testing.T) {
	st := store.NewMem(store.DefaultSize)
	require.NoError(t, st.WriteUint32(store.OffsetWattHoursTotal, 777))

	m := NewMeter(&fakeController{}, st, hal.NewFakeClock(0), DefaultConfig(), nil)
	assert.Equal(t, uint32(777), m.TotalWattHours())
	assert.Equal(t, 1, st.Writes())
}

func TestTotalRereadWhileCacheZero(t *testing.T) {
	st := store.NewMem(store.DefaultSize)
	m := NewMeter(&fakeController{}, st, hal.NewFakeClock(0), DefaultConfig(), nil)

	require.NoError(t, st.WriteUint32(store.OffsetWattHoursTotal, 55))
	assert.Equal(t, uint32(55), m.TotalWattHours())

	// Once non-zero the cache wins.
	require.NoError(t, st.WriteUint32(store.OffsetWattHoursTotal, 66))
	assert.Equal(t, uint32(55), m.TotalWattHours())
}

func TestShortSessionSkipsWrite(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startCharging()
	f.step(1500 * time.Millisecond)
	writes := f.store.Writes()

	f.ctrl.connected = false
	f.meter.Update()

	assert.Equal(t, uint32(0), f.meter.TotalWattHours())
	assert.Equal(t, writes, f.store.Writes(), "unchanged total is not rewritten")
}

func TestStorageErrorsTolerated(t *testing.T) {
	st := store.NewMem(store.DefaultSize)
	st.ReadErr = errors.New("i2c nack")
	st.WriteErr = errors.New("i2c nack")
	ctrl := &fakeController{mv: 240000, ma: 4000}
	clock := hal.NewFakeClock(0)
	m := NewMeter(ctrl, st, clock, DefaultConfig(), nil)

	assert.Equal(t, uint32(0), m.TotalWattHours())

	m.Update()
	ctrl.connected, ctrl.relay = true, true
	m.Update()
	m.Update()
	for i := 0; i < 5; i++ {
		clock.Advance(1500 * time.Millisecond)
		m.Update()
	}
	ctrl.connected = false
	m.Update()

	assert.Equal(t, uint32(2), m.TotalWattHours(), "in-memory total survives failed writes")
}

func TestReconnectStartsFreshSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.startCharging()
	f.step(1500 * time.Millisecond)

	f.ctrl.connected = false
	f.meter.Update()
	f.ctrl.connected = true
	f.meter.Update()

	assert.True(t, f.meter.InSession())
	assert.Zero(t, f.meter.SessionWattSeconds())
}

// countingStore counts reads so tests can see when the meter goes to storage.
type countingStore struct {
	*store.Mem
	reads int
}

func (c *countingStore) ReadUint32(offset int) (uint32, error) {
	c.reads++
	return c.Mem.ReadUint32(offset)
}

func TestTotalWithCacheDoesNotReadStorage(t *testing.T) {
	st := &countingStore{Mem: store.NewMem(store.DefaultSize)}
	require.NoError(t, st.WriteUint32(store.OffsetWattHoursTotal, 500))

	m := NewMeter(&fakeController{}, st, hal.NewFakeClock(0), DefaultConfig(), nil)
	st.reads = 0

	for i := 0; i < 100; i++ {
		require.Equal(t, uint32(500), m.TotalWattHours())
	}
	assert.Zero(t, st.reads)
}

func TestTotalWithZeroCacheReadsStorage(t *testing.T) {
	st := &countingStore{Mem: store.NewMem(store.DefaultSize)}
	m := NewMeter(&fakeController{}, st, hal.NewFakeClock(0), DefaultConfig(), nil)
	st.reads = 0

	assert.Equal(t, uint32(0), m.TotalWattHours())
	assert.NotZero(t, st.reads)
}
