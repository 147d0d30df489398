package gfi

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownVariant is returned for a sense-module name not in the table.
var ErrUnknownVariant = errors.New("gfi: unknown sense module variant")

// Strategy selects how the test current is injected.
type Strategy uint8

const (
	// StrategyWaveform toggles the test line at a half-cycle period to
	// emulate an AC residual current through a test coil.
	StrategyWaveform Strategy = iota

	// StrategyLevel holds the test line high while polling for the trip.
	StrategyLevel

	// StrategyPulsedCalibration drives the combined calibration/test input
	// through its datasheet timing, then polls for the trip.
	StrategyPulsedCalibration
)

func (s Strategy) String() string {
	switch s {
	case StrategyWaveform:
		return "waveform"
	case StrategyLevel:
		return "level"
	case StrategyPulsedCalibration:
		return "pulsed-calibration"
	}
	return "unknown"
}

// Step waits, then drives a line to Level.
type Step struct {
	Wait  time.Duration
	Level bool
}

// Sequence is a timed series of line writes followed by a final wait.
type Sequence struct {
	Steps []Step
	Tail  time.Duration
}

// Variant holds the timing profile of one sense-module design. A variant is
// chosen once at start-up; the self-test routine is the same for all.
type Variant struct {
	Name     string
	Strategy Strategy

	// Calibration runs on the cal line before injection. Empty means the
	// module has no cal line.
	Calibration Sequence

	// Waveform injection.
	Cycles   int
	PulseOn  time.Duration
	PulseOff time.Duration

	// Prelude runs on the test line before polling (pulsed calibration).
	Prelude Sequence

	// TripPolls bounds the wait for the trip (level and pulsed strategies).
	TripPolls int

	// GuardPolls bounds the wait for a clear line before the test;
	// ClearPolls bounds the wait for it to clear after the trip.
	GuardPolls   int
	ClearPolls   int
	PollInterval time.Duration

	// SettleDelay is waited after the line clears, before the fault is
	// released. Needed where a capacitor on the sense circuit leaves it
	// over-sensitive for a while after a trip.
	SettleDelay time.Duration
}

// NeedsCalLine reports whether the variant drives a separate cal line.
func (v Variant) NeedsCalLine() bool {
	return len(v.Calibration.Steps) > 0
}

// Variant names.
const (
	VariantCT        = "ct"
	VariantRCM1401   = "rcm14-01"
	VariantRCM1403   = "rcm14-03"
	VariantMC003E1E1 = "mc003e1-e1"
	VariantMC003E3C1 = "mc003e3-c1"
	VariantMC003E5C1 = "mc003e5-c1"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultGuardPolls   = 20
	defaultClearPolls   = 40 // MC003E3/5-C1 hold the fault output for up to 1400 ms
	defaultTripPolls    = 40
	defaultSettle       = time.Second
)

// T1 >= 100 ms, 50 ms <= T2 <= 100 ms, T3 >= 500 ms.
var calPulse = Sequence{
	Steps: []Step{
		{Wait: 130 * time.Millisecond, Level: true},
		{Wait: 70 * time.Millisecond, Level: false},
	},
	Tail: 500 * time.Millisecond,
}

// TEST-IN low to prepare calibration, high to start it.
var testInPulse = Sequence{
	Steps: []Step{
		{Wait: 130 * time.Millisecond, Level: false},
		{Wait: 70 * time.Millisecond, Level: true},
	},
}

func base(name string, s Strategy) Variant {
	return Variant{
		Name:         name,
		Strategy:     s,
		TripPolls:    defaultTripPolls,
		GuardPolls:   defaultGuardPolls,
		ClearPolls:   defaultClearPolls,
		PollInterval: defaultPollInterval,
	}
}

func ctVariant(lineHz int) Variant {
	v := base(VariantCT, StrategyWaveform)
	// One second of residual current: lineHz cycles of two half-waves.
	v.Cycles = lineHz
	cycle := (time.Second / time.Duration(lineHz)).Round(time.Microsecond)
	v.PulseOn = (cycle / 2).Truncate(time.Microsecond)
	v.PulseOff = cycle - v.PulseOn
	v.SettleDelay = defaultSettle
	return v
}

func calibratedLevel(name string) Variant {
	v := base(name, StrategyLevel)
	v.Calibration = calPulse
	return v
}

func pulsed(name string) Variant {
	v := base(name, StrategyPulsedCalibration)
	v.Prelude = testInPulse
	return v
}

var variants = map[string]func(lineHz int) Variant{
	VariantCT:        ctVariant,
	VariantRCM1401:   func(int) Variant { return calibratedLevel(VariantRCM1401) },
	VariantRCM1403:   func(int) Variant { return calibratedLevel(VariantRCM1403) },
	VariantMC003E1E1: func(int) Variant { return calibratedLevel(VariantMC003E1E1) },
	VariantMC003E3C1: func(int) Variant { return pulsed(VariantMC003E3C1) },
	VariantMC003E5C1: func(int) Variant { return pulsed(VariantMC003E5C1) },
}

// LookupVariant returns the profile for name. lineHz (50 or 60) sets the
// waveform period of the CT variant and is ignored by the others.
func LookupVariant(name string, lineHz int) (Variant, error) {
	mk, ok := variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	if lineHz != 50 && lineHz != 60 {
		return Variant{}, fmt.Errorf("gfi: line frequency must be 50 or 60 Hz, got %d", lineHz)
	}
	return mk(lineHz), nil
}

// VariantNames lists the known variants in sorted order.
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
