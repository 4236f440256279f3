//go:build rp2040 || rp2350

// Package pio holds the hardware acknowledge mirror: a one-instruction
// PIO state machine that copies the request input onto the acknowledge
// output every system clock cycle. Latency is one PIO tick plus pad
// delay, well under the 100ns contract, and the CPU is never involved.
package pio

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// The whole program:
//
//	.program ack_mirror
//	.wrap_target
//	    mov pins, pins   ; OUT pin <- IN pin, every cycle
//	.wrap
func buildMirrorProgram() []uint16 {
	var asm rp2pio.AssemblerV0
	return []uint16{
		asm.Mov(rp2pio.MovDestPins, rp2pio.MovSrcPins).Encode(),
	}
}

// AckMirror implements the core HandshakeMirror contract in hardware.
type AckMirror struct {
	sm     rp2pio.StateMachine
	req    machine.Pin
	ack    machine.Pin
	offset uint8
	loaded bool
}

// NewAckMirror claims a state machine on the given PIO block for the
// request/acknowledge pin pair. The program is loaded on first Enable.
func NewAckMirror(block *rp2pio.PIO, smNum uint8, req, ack machine.Pin) *AckMirror {
	sm := block.StateMachine(smNum)
	sm.TryClaim()
	return &AckMirror{sm: sm, req: req, ack: ack}
}

// Enable loads (once) and starts the mirror. The acknowledge pin settles
// to the current request level within one PIO cycle of SetEnabled.
func (m *AckMirror) Enable() error {
	if !m.loaded {
		program := buildMirrorProgram()
		offset, err := m.sm.PIO().AddProgram(program, -1)
		if err != nil {
			return err
		}
		m.offset = offset

		cfg := rp2pio.DefaultStateMachineConfig()
		cfg.SetWrap(offset, offset)
		cfg.SetInPins(m.req, 1)
		cfg.SetOutPins(m.ack, 1)
		cfg.SetClkDivIntFrac(1, 0) // full system clock

		m.ack.Configure(machine.PinConfig{Mode: m.sm.PIO().PinMode()})
		m.req.Configure(machine.PinConfig{Mode: machine.PinInput})

		m.sm.Init(offset, cfg)

		// Acknowledge is the only pin the state machine drives.
		ackMask := uint32(1) << uint32(m.ack)
		m.sm.SetPindirsMasked(ackMask, ackMask)

		m.loaded = true
	}

	m.sm.SetEnabled(true)
	return nil
}

// Disable stops the state machine and tri-states the acknowledge output
// so the line floats to its external pull-up during a mode transition.
func (m *AckMirror) Disable() {
	m.sm.SetEnabled(false)
	m.ack.Configure(machine.PinConfig{Mode: machine.PinInput})
}
