package hal

import "time"

// SystemClock is a Clock backed by the Go runtime's monotonic clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock whose origin is the time of the call.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Millis returns milliseconds elapsed since the clock was created.
func (c *SystemClock) Millis() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

// Delay sleeps for d.
func (c *SystemClock) Delay(d time.Duration) {
	time.Sleep(d)
}
