package hal

import (
	"sync"
	"time"
)

// FakeInput is a test double that returns scripted line levels.
type FakeInput struct {
	mu sync.Mutex

	// samples contains scripted levels. Each call to Read consumes the next
	// sample; once exhausted the last sample is returned repeatedly.
	samples []bool
	index   int
	last    bool
	handler EdgeHandler

	// Reads counts calls to Read.
	Reads int
}

// NewFakeInput creates a FakeInput with the given samples. With no samples
// the line reads low.
func NewFakeInput(samples ...bool) *FakeInput {
	return &FakeInput{samples: samples}
}

// Read returns the next scripted level.
func (f *FakeInput) Read() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if len(f.samples) == 0 {
		return false
	}
	v := f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	}
	return v
}

// Set replaces the script with a constant level. A low-to-high change
// relative to the previous Set fires the attached edge handler, as the
// hardware interrupt would.
func (f *FakeInput) Set(high bool) {
	f.mu.Lock()
	f.samples = []bool{high}
	f.index = 0
	rising := high && !f.last
	f.last = high
	h := f.handler
	f.mu.Unlock()
	if rising && h != nil {
		h()
	}
}

// Attach installs the edge handler.
func (f *FakeInput) Attach(h EdgeHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

// Detach removes the edge handler.
func (f *FakeInput) Detach() {
	f.mu.Lock()
	f.handler = nil
	f.mu.Unlock()
}

// Fire invokes the edge handler without changing the level.
func (f *FakeInput) Fire() {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h()
	}
}

// FakeOutput records every write.
type FakeOutput struct {
	mu     sync.Mutex
	level  bool
	writes []bool

	// OnWrite, if set, is called after each write with the new level.
	OnWrite func(high bool)
}

// Write records the level.
func (f *FakeOutput) Write(high bool) {
	f.mu.Lock()
	f.level = high
	f.writes = append(f.writes, high)
	hook := f.OnWrite
	f.mu.Unlock()
	if hook != nil {
		hook(high)
	}
}

// Level returns the last written level.
func (f *FakeOutput) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

// Writes returns a copy of all written levels in order.
func (f *FakeOutput) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.writes))
	copy(out, f.writes)
	return out
}

// FakeClock is a virtual clock. Delay advances time instantly and then runs
// the registered hooks, which lets tests simulate hardware that reacts to
// elapsed time.
type FakeClock struct {
	mu      sync.Mutex
	elapsed time.Duration
	hooks   []func(now time.Duration)

	// Delays records every requested delay.
	Delays []time.Duration
}

// NewFakeClock returns a clock starting at start milliseconds.
func NewFakeClock(startMs uint64) *FakeClock {
	return &FakeClock{elapsed: time.Duration(startMs) * time.Millisecond}
}

// Millis returns the virtual time in milliseconds.
func (c *FakeClock) Millis() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.elapsed / time.Millisecond)
}

// Now returns the virtual time with full resolution.
func (c *FakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Delay advances virtual time by d and runs hooks.
func (c *FakeClock) Delay(d time.Duration) {
	c.mu.Lock()
	c.elapsed += d
	c.Delays = append(c.Delays, d)
	now := c.elapsed
	hooks := append([]func(time.Duration){}, c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h(now)
	}
}

// Advance moves time forward by d without recording a delay.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.elapsed += d
	now := c.elapsed
	hooks := append([]func(time.Duration){}, c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h(now)
	}
}

// OnAdvance registers a hook called after every time step.
func (c *FakeClock) OnAdvance(h func(now time.Duration)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, h)
	c.mu.Unlock()
}

// TotalDelay returns the sum of all recorded delays.
func (c *FakeClock) TotalDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum time.Duration
	for _, d := range c.Delays {
		sum += d
	}
	return sum
}

// FakeWatchdog counts resets.
type FakeWatchdog struct {
	mu     sync.Mutex
	resets int
}

// Reset records a feed.
func (w *FakeWatchdog) Reset() {
	w.mu.Lock()
	w.resets++
	w.mu.Unlock()
}

// Resets returns the number of feeds so far.
func (w *FakeWatchdog) Resets() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resets
}
