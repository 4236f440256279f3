//go:build rp2350

package main

import (
	"machine"

	"parbridge/core"
)

// Edge-capture wiring. The pin interrupt handlers are the only code that
// runs above the bridge loop; they do nothing but write the atomic latches
// (and, when the software acknowledge mirror is active, copy one pin).
var (
	reqLatch  core.EdgeLatch
	cardLatch core.EdgeLatch

	cardMonitor *core.CardMonitor
	softMirror  *core.SoftwareMirror
)

// initEdgeCapture wires REQUEST and card-detect edges into the latches.
// monitor may be nil in network-service mode (card edges still latch; the
// service loop ignores them).
func initEdgeCapture(monitor *core.CardMonitor, mirror *core.SoftwareMirror) {
	cardMonitor = monitor
	softMirror = mirror

	err := pinREQ.SetInterrupt(machine.PinRising|machine.PinFalling, onRequestEdge)
	if err != nil {
		fatalBlink(2)
	}
	err = pinCDET.SetInterrupt(machine.PinRising|machine.PinFalling, onCardEdge)
	if err != nil {
		fatalBlink(2)
	}
}

// onRequestEdge runs in interrupt context on every REQUEST transition.
func onRequestEdge(machine.Pin) {
	if softMirror != nil {
		softMirror.Edge()
	}
	if !pinREQ.Get() {
		// Falling edge: request starting. Latch it and suppress
		// presence processing for the duration.
		reqLatch.Signal()
		if cardMonitor != nil {
			cardMonitor.SetSuppressed(true)
		}
	} else {
		// Rising edge: request over. The bridge loop resyncs presence.
		if cardMonitor != nil {
			cardMonitor.SetSuppressed(false)
		}
	}
}

// onCardEdge runs in interrupt context on every card-detect transition.
func onCardEdge(machine.Pin) {
	cardLatch.Signal()
}
