package core

// BusSample is one atomic capture of the host-side parallel port: the eight
// data lines plus the REQUEST and CLOCK levels. Request reports the asserted
// state (the line is active-low; the target adapter does the inversion so
// core logic never sees electrical polarity).
type BusSample struct {
	Data    byte
	Request bool // true while the host holds REQUEST asserted
	Clock   bool // raw CLOCK level; transfers trigger on any transition
}

// BusDriver is the abstract host-bus interface that core code uses.
// Platform-specific implementations handle actual hardware control.
//
// Sample must read all ten lines in a single port access so the data byte
// and the handshake levels are coherent. WriteData must not disturb pins
// outside the eight data lines.
type BusDriver interface {
	// Sample captures the data byte and handshake levels atomically.
	Sample() BusSample

	// WriteData drives a value onto the eight data lines. The lines only
	// become visible to the host once DataOutput has been called.
	WriteData(b byte)

	// DataOutput switches the eight data lines to output (driving).
	DataOutput()

	// DataInput tri-states the eight data lines (the idle state).
	DataInput()

	// SelectDevice drives the storage device select line.
	// true selects the device (line low), false deselects it.
	SelectDevice(selected bool)

	// CardPresent samples the raw card-detect input (true = card seated).
	CardPresent() bool

	// PulseHostInterrupt drives the host interrupt line low for the
	// configured pulse width and then releases it back to its
	// open-collector idle state.
	PulseHostInterrupt()

	// ReleaseHostInterrupt tri-states the host interrupt line without
	// pulsing, so a pending pulse cannot smear into a bus response.
	ReleaseHostInterrupt()

	// SetActivityLED drives the activity indicator.
	SetActivityLED(on bool)
}

// Global singleton used by core code.
var busDriver BusDriver

// SetBusDriver is called by target-specific code to register its driver.
func SetBusDriver(d BusDriver) {
	busDriver = d
}

// MustBus returns the configured driver or panics if missing.
func MustBus() BusDriver {
	if busDriver == nil {
		panic("bus driver not configured")
	}
	return busDriver
}
