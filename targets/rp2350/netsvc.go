//go:build rp2350

package main

import (
	"machine"
	"time"

	"tinygo.org/x/drivers/sdcard"

	"parbridge/core"
)

// netServiceMain is the core-0 entry for NetworkService mode. It brings
// the SD card up over the shared SPI pins, publishes the block device at
// the storage boundary, and parks. The file-transfer grammar itself is an
// external collaborator; everything it does with the device must run
// under the SPI guard it is handed.
func netServiceMain(guard *core.SPIGuard, arbiter *core.Arbiter) {
	sd := sdcard.New(machine.SPI0, pinSCK, pinMOSI, pinMISO, pinSS)

	guard.Acquire(core.OwnerService)
	err := sd.Configure()
	guard.Release()

	if err != nil {
		// No card or a dead card. Stay in this mode (the operator asked
		// for it) and let the mode button bring us back.
		core.DebugPrintln("netsvc: card init failed: " + err.Error())
		parkNetService(arbiter)
	}

	if core.RunStorageService(&sd, guard) {
		return
	}
	parkNetService(arbiter)
}

// parkNetService idles core 0 with a slow LED blink so the board visibly
// differs from bridge mode, while watching for a latched mode switch.
func parkNetService(arbiter *core.Arbiter) {
	on := false
	for {
		arbiter.ExecutePending()

		on = !on
		pinLED.Set(on)
		time.Sleep(500 * time.Millisecond)
	}
}
