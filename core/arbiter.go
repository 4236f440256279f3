package core

import "sync/atomic"

// Mode selects what the host-serving core runs for this boot.
type Mode uint8

const (
	ModeHostBridge Mode = iota
	ModeNetworkService
)

func (m Mode) String() string {
	if m == ModeNetworkService {
		return "network-service"
	}
	return "host-bridge"
}

// Settle interval between telling the host the card is gone and pulling
// the reset. Long enough for the host to finish its unmount.
const ModeSettleMS = 500

// ModeStore persists the desired next mode across a deliberate hardware
// reset. The backing location must survive a watchdog reset and be lost on
// power-on: that makes an unplanned power cycle default back to the bridge,
// the side with strict real-time host expectations.
type ModeStore interface {
	// Load returns the persisted mode and whether a valid record existed.
	Load() (Mode, bool)

	// Store writes a mode record.
	Store(m Mode)

	// Clear removes the record.
	Clear()
}

// BootDecision is the boot-time mode choice, a pure function of the
// persisted record.
type BootDecision struct {
	Mode Mode

	// ResignalInsertion is set when returning to the bridge from the
	// network service: if a card is physically present the host must be
	// pulsed so it remounts.
	ResignalInsertion bool
}

// DecideBootMode reads the persisted record once, clears it immediately,
// and picks the mode. Anything but a valid NetworkService record (absent,
// garbage, cleared) means HostBridge. A persisted HostBridge record only
// exists when the previous boot deliberately switched back from the
// network service, which is what triggers the insertion re-signal.
func DecideBootMode(store ModeStore) BootDecision {
	m, ok := store.Load()
	store.Clear()
	if !ok {
		return BootDecision{Mode: ModeHostBridge}
	}
	switch m {
	case ModeNetworkService:
		return BootDecision{Mode: ModeNetworkService}
	case ModeHostBridge:
		return BootDecision{Mode: ModeHostBridge, ResignalInsertion: true}
	default:
		return BootDecision{Mode: ModeHostBridge}
	}
}

// Arbiter owns the mode-switch sequence. A switch is only ever latched by
// the trigger (button hold or diagnostics command); the owning core's main
// loop notices the latch and runs Execute. There is never a live hand-off:
// the switch always goes through a full reset.
type Arbiter struct {
	cards  *CardMonitor
	mirror HandshakeMirror
	store  ModeStore
	pulse  func()          // one host interrupt pulse
	settle func(ms uint32) // fixed settle wait
	reset  func()          // deliberate hardware reset; does not return

	current Mode
	pending uint32 // atomic: requested next mode + 1, 0 = none
}

// NewArbiter wires the arbiter for the mode selected at boot.
func NewArbiter(current Mode, cards *CardMonitor, mirror HandshakeMirror,
	store ModeStore, pulse func(), settle func(ms uint32), reset func()) *Arbiter {
	return &Arbiter{
		cards:   cards,
		mirror:  mirror,
		store:   store,
		pulse:   pulse,
		settle:  settle,
		reset:   reset,
		current: current,
	}
}

// Current returns the mode this boot is running.
func (a *Arbiter) Current() Mode {
	return a.current
}

// RequestSwitch latches a switch to the other mode. Safe from any context;
// the actual sequence runs later on the owning core.
func (a *Arbiter) RequestSwitch() {
	next := ModeNetworkService
	if a.current == ModeNetworkService {
		next = ModeHostBridge
	}
	atomic.StoreUint32(&a.pending, uint32(next)+1)
}

// Pending reports a latched switch request without consuming it.
func (a *Arbiter) Pending() (Mode, bool) {
	v := atomic.LoadUint32(&a.pending)
	if v == 0 {
		return 0, false
	}
	return Mode(v - 1), true
}

// ExecutePending runs the switch sequence if one is latched. Called from
// the owning core's main loop between requests; does not return if a
// switch was pending (the sequence ends in a hardware reset).
func (a *Arbiter) ExecutePending() {
	next, ok := a.Pending()
	if !ok {
		return
	}
	a.Execute(next)
}

// Execute performs the full switch sequence:
// tell the host the card is gone, pulse it so it unmounts, wait the settle
// interval, drop the acknowledge mirror, persist the next mode, reset.
func (a *Arbiter) Execute(next Mode) {
	RecordTrace(EvtModeSwitch, uint8(next), GetTime(), 0)

	a.cards.SetForceAbsent(true)
	a.pulse()
	a.settle(ModeSettleMS)

	if a.mirror != nil {
		a.mirror.Disable()
	}

	a.store.Store(next)
	a.reset()
}
