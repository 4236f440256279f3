//go:build rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"parbridge/core"
)

// The desired next mode is persisted in watchdog scratch registers: they
// survive a watchdog reset and are cleared on power-on, which is exactly
// the fail-safe the mode arbiter wants (an unplanned power cycle boots
// back into the bridge).
//
// SCRATCH4-7 belong to the boot ROM's watchdog vector, so the record uses
// SCRATCH0 (magic) and SCRATCH1 (mode).
const (
	watchdogBase     = 0x400D8000
	watchdogScratch0 = watchdogBase + 0x0C
	watchdogScratch1 = watchdogBase + 0x10

	modeRecordMagic = 0x70627269 // "pbri"
)

var (
	scratchMagic = (*volatile.Register32)(unsafe.Pointer(uintptr(watchdogScratch0)))
	scratchMode  = (*volatile.Register32)(unsafe.Pointer(uintptr(watchdogScratch1)))
)

// scratchModeStore implements core.ModeStore on the scratch registers.
type scratchModeStore struct{}

func (scratchModeStore) Load() (core.Mode, bool) {
	if scratchMagic.Get() != modeRecordMagic {
		return 0, false
	}
	m := scratchMode.Get()
	if m > uint32(core.ModeNetworkService) {
		return 0, false // garbage record
	}
	return core.Mode(m), true
}

func (scratchModeStore) Store(m core.Mode) {
	scratchMode.Set(uint32(m))
	scratchMagic.Set(modeRecordMagic)
}

func (scratchModeStore) Clear() {
	scratchMagic.Set(0)
	scratchMode.Set(0)
}
