//go:build rp2350

package main

import (
	"machine"
	"runtime/volatile"
	"unsafe"

	"parbridge/core"
)

// RP2350 SIO GPIO registers. The transfer loop's per-byte budget rules out
// machine.Pin calls (one function call per line); a single register read
// returns all thirty GPIO levels at once and set/clear masks flip the
// whole data byte in one store.
//
// Register offsets from the RP2350 datasheet (SIO base 0xD0000000); note
// the RP2350 layout differs from the RP2040 (GPIO_HI_* registers are
// interleaved).
const (
	sioBase       = 0xD0000000
	sioGPIOIn     = sioBase + 0x004
	sioGPIOOut    = sioBase + 0x010
	sioGPIOOutClr = sioBase + 0x020
	sioGPIOOeSet  = sioBase + 0x038
	sioGPIOOeClr  = sioBase + 0x040
)

var (
	gpioIn     = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOIn)))
	gpioOut    = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOOut)))
	gpioOutClr = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOOutClr)))
	gpioOeSet  = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOOeSet)))
	gpioOeClr  = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOOeClr)))
)

// rp2350Bus implements core.BusDriver over the SIO registers for the hot
// path and machine.Pin for the slow side channels.
type rp2350Bus struct{}

// NewBus configures the bus pins to their idle state and returns the
// driver.
func NewBus() *rp2350Bus {
	// Data lines idle as inputs (tri-state); host side has the pull-ups.
	for i := 0; i < 8; i++ {
		machine.Pin(i).Configure(machine.PinConfig{Mode: machine.PinInput})
	}

	pinCLK.Configure(machine.PinConfig{Mode: machine.PinInput})
	pinREQ.Configure(machine.PinConfig{Mode: machine.PinInput})
	pinCDET.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	// Host interrupt line is open-collector: idle as input, driven low
	// only for the pulse.
	pinIRQ.Configure(machine.PinConfig{Mode: machine.PinInput})

	pinSS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinSS.High() // deselected

	pinLED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinLED.Low()

	return &rp2350Bus{}
}

// Sample captures data, REQUEST and CLOCK in one port read. REQ and CDET
// are active-low; the inversion happens here so core logic sees asserted
// states.
func (b *rp2350Bus) Sample() core.BusSample {
	in := gpioIn.Get()
	return core.BusSample{
		Data:    byte(in & dataMask),
		Request: in&reqMask == 0,
		Clock:   in&clkMask != 0,
	}
}

// WriteData sets the data line levels in one store, so a line holding its
// level never glitches low between a clear and a set. The data lines are
// owned by the bridge core; nothing else writes GPIO_OUT while a transfer
// runs.
func (b *rp2350Bus) WriteData(v byte) {
	out := gpioOut.Get()
	gpioOut.Set((out &^ dataMask) | uint32(v))
}

// DataOutput drives the data lines.
func (b *rp2350Bus) DataOutput() {
	gpioOeSet.Set(dataMask)
}

// DataInput tri-states the data lines and clears their output latches.
func (b *rp2350Bus) DataInput() {
	gpioOeClr.Set(dataMask)
	gpioOutClr.Set(dataMask)
}

// SelectDevice drives the storage select line (active low).
func (b *rp2350Bus) SelectDevice(selected bool) {
	pinSS.Set(!selected)
}

// CardPresent samples the card-detect input (active low, pulled up).
func (b *rp2350Bus) CardPresent() bool {
	return !pinCDET.Get()
}

// PulseHostInterrupt drives the host interrupt line low for the pulse
// width, then releases it back to its pulled-up idle.
func (b *rp2350Bus) PulseHostInterrupt() {
	pinIRQ.Low()
	pinIRQ.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinIRQ.Low()

	busyWaitUS(hostIRQPulseUS)

	pinIRQ.Configure(machine.PinConfig{Mode: machine.PinInput})
}

// ReleaseHostInterrupt tri-states the host interrupt line.
func (b *rp2350Bus) ReleaseHostInterrupt() {
	pinIRQ.Configure(machine.PinConfig{Mode: machine.PinInput})
}

// SetActivityLED drives the activity indicator.
func (b *rp2350Bus) SetActivityLED(on bool) {
	pinLED.Set(on)
}

// busyWaitUS spins on the hardware microsecond counter. Used only for the
// interrupt pulse; time.Sleep granularity is far too coarse.
func busyWaitUS(us uint32) {
	start := GetHardwareTime()
	for GetHardwareTime()-start < us {
	}
}
