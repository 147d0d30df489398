package hal

import (
	"fmt"
	"os"
	"sync"
)

// NopWatchdog is used when no watchdog device is configured.
type NopWatchdog struct{}

// Reset does nothing.
func (NopWatchdog) Reset() {}

// DeviceWatchdog keeps a Linux watchdog device (e.g. /dev/watchdog) alive.
// Once opened, the device must be fed until Close, or the board restarts.
type DeviceWatchdog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenWatchdog opens the watchdog device at path.
func OpenWatchdog(path string) (*DeviceWatchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}
	return &DeviceWatchdog{f: f}, nil
}

// Reset feeds the watchdog. Write errors are ignored: a failing feed ends
// in the restart the watchdog exists for.
func (w *DeviceWatchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		w.f.Write([]byte{0})
	}
}

// Close disarms the watchdog with the magic close character and releases
// the device.
func (w *DeviceWatchdog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	w.f.Write([]byte("V"))
	err := w.f.Close()
	w.f = nil
	return err
}
