package gfi

import "github.com/sweeney/evse-monitor/internal/hal"

// Latch is the fault flag shared between the edge handler and the poll loop,
// together with the self-test session flags. Every access, including single
// reads, happens inside the same critical section.
type Latch struct {
	cs             section
	fault          bool
	testInProgress bool
	testSuccess    bool
}

// Set latches a fault.
func (l *Latch) Set() {
	l.cs.enter()
	l.fault = true
	l.cs.exit()
}

// Fault returns the latched state.
func (l *Latch) Fault() bool {
	l.cs.enter()
	v := l.fault
	l.cs.exit()
	return v
}

// Clear unlatches the fault unconditionally.
func (l *Latch) Clear() {
	l.cs.enter()
	l.fault = false
	l.cs.exit()
}

// Resample ends any self-test session and re-derives the fault from the
// sense line: a line that still reads tripped re-latches immediately.
func (l *Latch) Resample(sense hal.InputPin) {
	l.cs.enter()
	l.testInProgress = false
	l.testSuccess = false
	l.fault = sense.Read()
	l.cs.exit()
}

// Trip records a rising edge on the sense line. While a self-test is in
// progress the edge is the expected response to the injected current and
// marks the test successful; otherwise it latches a fault. Reports whether
// the edge was consumed by the self-test.
func (l *Latch) Trip() bool {
	l.cs.enter()
	defer l.cs.exit()
	if l.testInProgress {
		l.testSuccess = true
		return true
	}
	l.fault = true
	return false
}

// SetTestSuccess marks the injected test current as observed.
func (l *Latch) SetTestSuccess() {
	l.cs.enter()
	l.testSuccess = true
	l.cs.exit()
}

// TestSuccess reports whether the injected test current has been observed.
func (l *Latch) TestSuccess() bool {
	l.cs.enter()
	v := l.testSuccess
	l.cs.exit()
	return v
}

// TestInProgress reports whether a self-test session is open.
func (l *Latch) TestInProgress() bool {
	l.cs.enter()
	v := l.testInProgress
	l.cs.exit()
	return v
}

// resetTest closes any session without touching the fault.
func (l *Latch) resetTest() {
	l.cs.enter()
	l.testInProgress = false
	l.testSuccess = false
	l.cs.exit()
}

// beginTest opens a session; from here on edges are routed to testSuccess.
func (l *Latch) beginTest() {
	l.cs.enter()
	l.testInProgress = true
	l.testSuccess = false
	l.cs.exit()
}

// endTest closes the session. Only a passed test clears the fault.
func (l *Latch) endTest(passed bool) {
	l.cs.enter()
	if passed {
		l.fault = false
	}
	l.testInProgress = false
	l.testSuccess = false
	l.cs.exit()
}
