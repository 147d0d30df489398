package gfi

import "time"

// Result is the outcome code of a self-test.
type Result uint8

const (
	ResultOK             Result = 0 // sense module tripped and recovered
	ResultNoTrip         Result = 1 // injected current never tripped the sense line
	ResultNotClearBefore Result = 2 // sense line was tripped before the test
	ResultNotClearAfter  Result = 3 // sense line did not clear after the trip
)

var resultNames = map[Result]string{
	ResultOK:             "OK",
	ResultNoTrip:         "NO_TRIP",
	ResultNotClearBefore: "NOT_CLEAR_BEFORE",
	ResultNotClearAfter:  "NOT_CLEAR_AFTER",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return "UNKNOWN"
}

// Inconclusive reports whether the self-test could not confirm the hardware.
// Inconclusive is not the same as a confirmed fault: the caller should deny
// charging and diagnose, not treat the sense line as tripped.
func (r Result) Inconclusive() bool {
	return r != ResultOK
}

// Report describes one self-test run.
type Report struct {
	Result  Result
	Variant string

	// TripLatency is the time from the start of injection until the trip
	// was observed or injection gave up (T3).
	TripLatency time.Duration

	// ClearLatency is the time the sense line took to clear after the
	// trip (T6). Zero when the test aborted before that phase.
	ClearLatency time.Duration
}
