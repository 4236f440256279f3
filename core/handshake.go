package core

import "sync/atomic"

// HandshakeMirror keeps the acknowledge output a glitch-free copy of the
// request input while the bridge mode is active. The preferred
// implementation is a one-instruction PIO state machine (sub-100ns); the
// software fallback copies the level from a pin edge interrupt. The engine
// depends only on this contract, not on which implementation is wired.
type HandshakeMirror interface {
	// Enable starts mirroring. The acknowledge line must settle to the
	// current request level before Enable returns.
	Enable() error

	// Disable stops mirroring and tri-states the acknowledge output.
	// Required before any mode transition so the line never floats into
	// a host-visible spurious assertion while ownership changes.
	Disable()
}

// SoftwareMirror is the ISR fallback. The target wires ReadRequest and
// DriveAck to the two pins and calls Edge from the request-pin interrupt
// handler; Edge does nothing but copy the level, keeping the handler to
// the minimum instructions.
type SoftwareMirror struct {
	ReadRequest func() bool      // samples the request input level
	DriveAck    func(level bool) // drives the acknowledge output level
	Tristate    func()           // releases the acknowledge output

	enabled uint32
}

// Enable drives the acknowledge line to the current request level and
// starts tracking edges.
func (m *SoftwareMirror) Enable() error {
	m.DriveAck(m.ReadRequest())
	atomic.StoreUint32(&m.enabled, 1)
	return nil
}

// Disable stops tracking and tri-states the acknowledge output.
func (m *SoftwareMirror) Disable() {
	atomic.StoreUint32(&m.enabled, 0)
	if m.Tristate != nil {
		m.Tristate()
	}
}

// Edge is called from the request-pin interrupt handler.
func (m *SoftwareMirror) Edge() {
	if atomic.LoadUint32(&m.enabled) != 0 {
		m.DriveAck(m.ReadRequest())
	}
}

// Enabled reports whether the mirror is active.
func (m *SoftwareMirror) Enabled() bool {
	return atomic.LoadUint32(&m.enabled) != 0
}
