//go:build rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"parbridge/core"
)

// RP2350 timer peripheral memory map.
// NOTE: RP2350 TIMER0 is at a DIFFERENT address than the RP2040 timer
// (0x40054000); the register layout inside is the same.
//
// timeHW   @ 0x00 - Write to upper 32b
// timeLW   @ 0x04 - Write to lower 32b
// timeHR   @ 0x08 - Latched read from upper 32b
// timeLR   @ 0x0C - Latched read from lower 32b (latches timeHR)
// alarm[4] @ 0x10-0x1C
// armed    @ 0x20
// timeRawH @ 0x24 - Raw read from upper 32b
// timeRawL @ 0x28 - Raw read from lower 32b
const (
	timerBase     = 0x400B0000 // RP2350 TIMER0
	timerTimeRawH = timerBase + 0x24
	timerTimeRawL = timerBase + 0x28
)

var (
	timerRawH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTimeRawH)))
	timerRawL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTimeRawL)))
)

// InitClock hooks the 1MHz hardware timer into the core clock. TinyGo's
// runtime has already brought the tick generators up by the time main runs.
func InitClock() {
	// Discard a few reads so the first real sample is stable.
	_ = timerRawL.Get()
	_ = timerRawL.Get()
	_ = timerRawL.Get()

	core.SetUptimeSource(GetHardwareUptime)

	core.RegisterConstant("MCU", "rp2350")
	core.RegisterConstant("CLOCK_FREQ", uint32(1000000)) // 1MHz
}

// GetHardwareTime returns the low 32 bits of the microsecond counter,
// from the raw (non-latching) register so concurrent readers on the other
// core never interleave a latch sequence.
func GetHardwareTime() uint32 {
	return timerRawL.Get()
}

// GetHardwareUptime reads the full 64-bit counter. High-low-high with a
// retry detects a rollover between the two halves.
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRawH.Get()
		low := timerRawL.Get()
		high2 := timerRawH.Get()
		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// UpdateSystemTime mirrors the hardware timer into the core clock.
// Called once per main-loop iteration.
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
