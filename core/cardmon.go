package core

import "sync/atomic"

// Card-detect debounce window. Mechanical switches bounce for a few
// milliseconds; 50ms also rides out slow card insertions.
const CardDebounceMS = 50

// CardMonitor debounces the card-detect input and signals the host with a
// single interrupt pulse per real presence change.
//
// State machine: Stable(present) -> edge -> Debouncing (further edges in
// the window are coalesced) -> window expiry -> re-sample. If the sample
// differs from the stable state, the state updates and one pulse is
// emitted; otherwise the edge was noise and is discarded.
//
// While a host request is being serviced, presence processing is
// suppressed entirely, not deferred: edges are dropped. The suppressed
// flag is set from the request-edge interrupt handler; everything else
// runs in main-loop context (the debounce expiry comes from the timer
// scheduler, never the ISR).
type CardMonitor struct {
	sample func() bool // raw card-detect sample (true = card seated)
	pulse  func()      // one host interrupt pulse

	suppressed  uint32 // atomic; written from interrupt context
	forceAbsent uint32 // atomic; set by the mode arbiter during a switch

	present    bool
	debouncing bool
	lastChange uint32 // tick of the last accepted change
	timer      Timer
}

// NewCardMonitor builds a monitor over the raw sample and pulse hooks and
// seeds the stable state from the current input level.
func NewCardMonitor(sample func() bool, pulse func()) *CardMonitor {
	m := &CardMonitor{
		sample:  sample,
		pulse:   pulse,
		present: sample(),
	}
	m.timer.Handler = m.expire
	return m
}

// Edge is called from the main loop when the card-detect latch fires.
func (m *CardMonitor) Edge() {
	if m.Suppressed() {
		return // dropped, not deferred
	}
	if m.debouncing {
		return // coalesced into the open window
	}
	m.debouncing = true
	m.timer.WakeTime = GetTime() + TimerFromUS(CardDebounceMS*1000)
	ScheduleTimer(&m.timer)
}

// expire runs from the timer scheduler when the debounce window closes.
func (m *CardMonitor) expire(*Timer) uint8 {
	m.debouncing = false
	now := m.sample()
	if m.Suppressed() {
		// A transfer started inside the window. Track the level silently
		// so the state is right when suppression lifts.
		m.present = now
		return SF_DONE
	}
	if now != m.present {
		m.present = now
		m.lastChange = GetTime()
		statAdd(&stats.CardEvents, 1)
		RecordTrace(EvtCardChange, boolByte(now), GetTime(), 0)
		m.pulse()
	}
	return SF_DONE
}

// SetSuppressed sets or clears the suppression flag. Safe from interrupt
// context; nothing else happens here.
func (m *CardMonitor) SetSuppressed(on bool) {
	if on {
		atomic.StoreUint32(&m.suppressed, 1)
	} else {
		atomic.StoreUint32(&m.suppressed, 0)
	}
}

// Suppressed reports whether presence processing is currently off.
func (m *CardMonitor) Suppressed() bool {
	return atomic.LoadUint32(&m.suppressed) != 0
}

// Resync re-samples and silently adopts the current level. Called from the
// main loop after suppression lifts; never pulses.
func (m *CardMonitor) Resync() {
	m.present = m.sample()
}

// SetForceAbsent makes Present report false regardless of the physical
// state. The mode arbiter sets this before a switch so the host unmounts.
func (m *CardMonitor) SetForceAbsent(on bool) {
	if on {
		atomic.StoreUint32(&m.forceAbsent, 1)
	} else {
		atomic.StoreUint32(&m.forceAbsent, 0)
	}
}

// Present is the debounced state as reported to the host, with the
// arbiter's override applied.
func (m *CardMonitor) Present() bool {
	if atomic.LoadUint32(&m.forceAbsent) != 0 {
		return false
	}
	return m.present
}

// PhysicallyPresent ignores the override.
func (m *CardMonitor) PhysicallyPresent() bool {
	return m.present
}

// LastChange returns the tick of the last accepted presence change.
func (m *CardMonitor) LastChange() uint32 {
	return m.lastChange
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
