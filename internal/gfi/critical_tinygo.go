//go:build tinygo

package gfi

import "runtime/interrupt"

// section masks interrupts while held. Sections never nest.
type section struct {
	state interrupt.State
}

func (s *section) enter() { s.state = interrupt.Disable() }
func (s *section) exit()  { interrupt.Restore(s.state) }
