//go:build rp2350

package main

import "machine"

// Board pin map. The eight data lines must stay on GPIO0-7 so one SIO
// port access covers the whole byte.
//
//	Pin name  GPIO  Direction  Comment
//	D0-D7     0-7   In/out     Bidirectional data bus
//	IRQ       8     Output     Active low, open-collector
//	ACT       9     Output     Active low (acknowledge mirror)
//	CLK       10    Input      Host-driven strobe
//	REQ       11    Input      Active low
//	MISO      16    Input      Pull-up
//	SS        17    Output     Active low
//	SCK       18    Output
//	MOSI      19    Output
//	CDET      20    Input      Pull-up, card detect
//	BUTTON    22    Input      Pull-up, mode switch (hold 3s)
//	LED       28    Output     Activity indicator
const (
	pinIRQ    = machine.GPIO8
	pinACT    = machine.GPIO9
	pinCLK    = machine.GPIO10
	pinREQ    = machine.GPIO11
	pinMISO   = machine.GPIO16
	pinSS     = machine.GPIO17
	pinSCK    = machine.GPIO18
	pinMOSI   = machine.GPIO19
	pinCDET   = machine.GPIO20
	pinBUTTON = machine.GPIO22
	pinLED    = machine.GPIO28
)

// GPIO numbers for the raw SIO register masks.
const (
	gpioCLK = 10
	gpioREQ = 11
)

const (
	dataMask = 0x000000FF // D0-D7
	clkMask  = 1 << gpioCLK
	reqMask  = 1 << gpioREQ
)

// Host interrupt pulse width in microseconds.
const hostIRQPulseUS = 10

// Mode button hold time before a switch is latched.
const buttonHoldMS = 3000
