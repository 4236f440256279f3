//go:build rp2350

package main

import (
	"machine"
	"time"

	"parbridge/core"
)

// buttonState tracks the mode button across auxiliary-loop iterations.
// One switch request per press: the latch clears only on release.
type buttonState struct {
	lastPoll time.Time
	heldMS   int
	latched  bool
}

func newButtonState() *buttonState {
	pinBUTTON.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return &buttonState{lastPoll: time.Now()}
}

// poll accumulates hold time and latches a switch on the arbiter once the
// button has been held continuously for the full hold time. Called from
// the auxiliary loop; wall-clock deltas keep the threshold honest even if
// a loop iteration runs long.
func (b *buttonState) poll(arbiter *core.Arbiter) {
	now := time.Now()
	elapsed := int(now.Sub(b.lastPoll) / time.Millisecond)
	b.lastPoll = now

	if !pinBUTTON.Get() { // active low
		b.heldMS += elapsed
		if b.heldMS >= buttonHoldMS && !b.latched {
			arbiter.RequestSwitch()
			b.latched = true
		}
	} else {
		b.heldMS = 0
		b.latched = false
	}
}
