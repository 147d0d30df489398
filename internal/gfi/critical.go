//go:build !tinygo

package gfi

import "sync"

// section is the mutual-exclusion domain shared by the edge handler and the
// poll loop. On Linux the edge handler runs on a gpiocdev goroutine, so a
// mutex is the interrupt-safe lock.
type section struct {
	mu sync.Mutex
}

func (s *section) enter() { s.mu.Lock() }
func (s *section) exit()  { s.mu.Unlock() }
