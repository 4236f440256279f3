//go:build rp2350

package main

import (
	"machine"

	"parbridge/core"
)

// rp2350SPI implements core.SPIBus on the hardware SPI0 peripheral.
// machine.SPI transfers are synchronous, so Drain only has to cover the
// "stale byte" half of the contract.
type rp2350SPI struct {
	bus   *machine.SPI
	speed core.SPISpeed
}

// NewSPI configures SPI0 at the slow preset (the card-init speed).
func NewSPI() (*rp2350SPI, error) {
	s := &rp2350SPI{bus: machine.SPI0, speed: core.SPISpeedSlow}
	if err := s.configure(core.SPISlowHz); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *rp2350SPI) configure(freq uint32) error {
	return s.bus.Configure(machine.SPIConfig{
		Frequency: freq,
		SCK:       pinSCK,
		SDO:       pinMOSI,
		SDI:       pinMISO,
		Mode:      0,
	})
}

// Exchange performs one full-duplex byte transfer.
func (s *rp2350SPI) Exchange(tx byte) (byte, error) {
	return s.bus.Transfer(tx)
}

// SetSpeed switches between the two clock presets.
func (s *rp2350SPI) SetSpeed(speed core.SPISpeed) error {
	if speed == s.speed {
		return nil
	}
	freq := uint32(core.SPISlowHz)
	if speed == core.SPISpeedFast {
		freq = core.SPIFastHz
	}
	if err := s.configure(freq); err != nil {
		return err
	}
	s.speed = speed
	core.RecordTrace(core.EvtSPISpeed, uint8(speed), core.GetTime(), freq)
	return nil
}

// Drain leaves the peripheral clean for the next owner. Transfers through
// machine.SPI complete before returning, so there is no shift register
// still running; nothing to discard.
func (s *rp2350SPI) Drain() {
}
