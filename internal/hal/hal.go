// Package hal provides the hardware abstraction used by the safety core:
// digital pins, a rising-edge interrupt on the sense line, a monotonic
// millisecond clock with blocking delays, and the watchdog.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package hal

import "time"

// InputPin is a digital input.
type InputPin interface {
	// Read returns true when the line is at its active (high) level.
	Read() bool
}

// OutputPin is a digital output.
type OutputPin interface {
	Write(high bool)
}

// EdgeHandler is called from the interrupt context on a rising edge.
// It must not block.
type EdgeHandler func()

// InterruptPin is an input whose rising edge can be attached to a handler.
type InterruptPin interface {
	InputPin

	// Attach installs h as the rising-edge handler, replacing any previous one.
	Attach(h EdgeHandler)

	// Detach removes the handler. Edges arriving afterwards are ignored.
	Detach()
}

// Clock is a monotonic millisecond clock with a blocking delay.
type Clock interface {
	// Millis returns milliseconds since an arbitrary fixed origin.
	Millis() uint64

	// Delay blocks for d. Microsecond resolution is honoured where the
	// platform allows it.
	Delay(d time.Duration)
}

// Watchdog is the hardware watchdog. Reset must be called often enough to
// prevent the device from restarting.
type Watchdog interface {
	Reset()
}

// Default BCM line offsets for the sense module connector.
const (
	DefaultPinSense = 17
	DefaultPinTest  = 27
	DefaultPinCal   = 22
)
