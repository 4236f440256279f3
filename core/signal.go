package core

import "sync/atomic"

// EdgeLatch is a single-slot pending flag shared between interrupt context
// and the main loop. The interrupt handler signals, the loop consumes and
// clears. Single writer, single reader, no locks.
type EdgeLatch struct {
	pending uint32
}

// Signal marks the latch pending. Safe from interrupt context.
func (l *EdgeLatch) Signal() {
	atomic.StoreUint32(&l.pending, 1)
}

// Take consumes the latch, returning true if it was pending.
func (l *EdgeLatch) Take() bool {
	return atomic.SwapUint32(&l.pending, 0) != 0
}

// Pending reports the latch state without consuming it.
func (l *EdgeLatch) Pending() bool {
	return atomic.LoadUint32(&l.pending) != 0
}

// Clear drops a pending signal without acting on it.
func (l *EdgeLatch) Clear() {
	atomic.StoreUint32(&l.pending, 0)
}
