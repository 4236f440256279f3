package core

// SPISpeed selects one of the two discrete clock presets. The bridge boots
// at the slow preset (card init) and the host switches to the fast preset
// with a control command once the card is up.
type SPISpeed uint8

const (
	SPISpeedSlow SPISpeed = iota
	SPISpeedFast
)

// Clock preset frequencies in Hz.
const (
	SPISlowHz = 400_000
	SPIFastHz = 25_000_000
)

// SPIBus is the abstract storage-side SPI interface. The transfer engine
// exchanges one byte at a time; the target adapter maps this onto the
// hardware peripheral.
type SPIBus interface {
	// Exchange performs one full-duplex byte transfer: tx is shifted out
	// while the received byte is returned.
	Exchange(tx byte) (byte, error)

	// SetSpeed switches between the two clock presets.
	SetSpeed(s SPISpeed) error

	// Drain waits for the peripheral to go idle and discards any stale
	// receive byte, leaving the bus clean for the next owner.
	Drain()
}

// Global singleton used by core code.
var spiBus SPIBus

// SetSPIBus is called by target-specific code to register its SPI bus.
func SetSPIBus(b SPIBus) {
	spiBus = b
}

// MustSPIBus returns the configured bus or panics if missing.
func MustSPIBus() SPIBus {
	if spiBus == nil {
		panic("SPI bus not configured")
	}
	return spiBus
}
