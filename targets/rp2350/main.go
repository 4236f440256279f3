//go:build rp2350

package main

import (
	"machine"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"parbridge/core"
	"parbridge/protocol"
	ackpio "parbridge/targets/pio"
)

var (
	// Diagnostics link buffers (owned by the auxiliary core)
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	msgerrors                uint32
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

// fatalBlink halts with a distinctive fast blink pattern. The protocol's
// timing guarantees cannot be met in a degraded state, so there is no
// degraded operation: count identifies the failed subsystem.
func fatalBlink(count int) {
	pinLED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		for i := 0; i < count; i++ {
			pinLED.High()
			time.Sleep(80 * time.Millisecond)
			pinLED.Low()
			time.Sleep(80 * time.Millisecond)
		}
		time.Sleep(400 * time.Millisecond)
	}
}

func main() {
	InitUSB()

	// Clear any watchdog state left over from the reset that got us here.
	// The scratch-register mode record has already survived; disabling
	// the watchdog does not touch it.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		fatalBlink(5)
	}

	InitClock()

	bus := NewBus()
	core.SetBusDriver(bus)

	spi, err := NewSPI()
	if err != nil {
		fatalBlink(3)
	}
	core.SetSPIBus(spi)

	// Boot-time mode decision: read the persisted record once, clear it,
	// fail safe toward the bridge.
	store := scratchModeStore{}
	decision := core.DecideBootMode(store)

	guard := &core.SPIGuard{}
	monitor := core.NewCardMonitor(bus.CardPresent, bus.PulseHostInterrupt)

	// Acknowledge mirror: PIO state machine preferred, pin-interrupt
	// fallback if PIO program memory is unavailable. Selected up front so
	// the arbiter disables the mirror that is actually active. Stays nil
	// in network-service mode: nothing may answer the host there.
	var mirror core.HandshakeMirror
	var fallback *core.SoftwareMirror
	if decision.Mode == core.ModeHostBridge {
		hwMirror := ackpio.NewAckMirror(rp2pio.PIO0, 0, pinREQ, pinACT)
		if err := hwMirror.Enable(); err != nil {
			fallback = &core.SoftwareMirror{
				ReadRequest: func() bool { return pinREQ.Get() },
				DriveAck: func(level bool) {
					pinACT.Configure(machine.PinConfig{Mode: machine.PinOutput})
					pinACT.Set(level)
				},
				Tristate: func() {
					pinACT.Configure(machine.PinConfig{Mode: machine.PinInput})
				},
			}
			if err := fallback.Enable(); err != nil {
				fatalBlink(4)
			}
			mirror = fallback
		} else {
			mirror = hwMirror
		}
	}

	arbiter := core.NewArbiter(decision.Mode, monitor, mirror, store,
		bus.PulseHostInterrupt,
		func(ms uint32) { time.Sleep(time.Duration(ms) * time.Millisecond) },
		watchdogReset,
	)

	// Debug text rides the same CDC stream; the host transport resyncs
	// past it on the frame sync byte. Off by default (set_debug).
	core.SetDebugWriter(func(s string) { println(s) })

	// Diagnostics command set and dictionary.
	core.InitCoreCommands()
	registerBoardInfo()
	core.SetStatusSource(func() core.BridgeStatus {
		_, pending := arbiter.Pending()
		return core.BridgeStatus{
			Mode:          arbiter.Current(),
			CardPresent:   monitor.Present(),
			Suppressed:    monitor.Suppressed(),
			PendingSwitch: pending,
		}
	})
	core.SetModeSwitchHook(arbiter.RequestSwitch)
	core.SetResetHandler(watchdogReset)

	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()
	transport = protocol.NewTransport(outputBuffer, func(cmdID uint16, data *[]byte) error {
		return core.DispatchCommand(cmdID, data)
	})
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
	})
	// ACK must reach the host before any response; flush immediately.
	transport.SetFlushCallback(writeUSB)
	core.SetGlobalTransport(transport)

	// Auxiliary core: diagnostics link and the mode button. The
	// host-facing work stays on this core, alone.
	machine.Core1.Start(func() { auxMain(arbiter) })

	if decision.Mode == core.ModeNetworkService {
		netServiceMain(guard, arbiter)
		return
	}

	initEdgeCapture(monitor, fallback)

	// Back from the network service with a card seated: tell the host so
	// it remounts.
	if decision.ResignalInsertion && bus.CardPresent() {
		bus.PulseHostInterrupt()
	}

	engine := core.NewEngine(bus, spi, guard, monitor)
	bridgeLoop(engine, monitor, arbiter)
}

// bridgeLoop is the host-facing main loop: idle cheaply until an edge
// latch fires, service it, repeat. Once a request is picked up the
// service runs to completion or abort with no yielding.
func bridgeLoop(engine *core.Engine, monitor *core.CardMonitor, arbiter *core.Arbiter) {
	suppressedSeen := false

	for {
		UpdateSystemTime()

		if reqLatch.Take() {
			core.RecordTrace(core.EvtRequest, 0, core.GetTime(), 0)
			engine.ServiceRequest()
			suppressedSeen = true
			continue // another request may already be latched
		}

		if suppressedSeen && !monitor.Suppressed() {
			// Presence edges were dropped during the transfer; adopt the
			// current level silently.
			monitor.Resync()
			suppressedSeen = false
		}

		if cardLatch.Take() {
			monitor.Edge()
		}

		// Debounce and settle timers run here, in loop context.
		core.ProcessTimers()

		// A latched mode switch ends in a reset and does not return.
		arbiter.ExecutePending()

		// Low-power wait stand-in: the latches are interrupt-fed, so a
		// short sleep bounds wake latency without burning the core.
		time.Sleep(20 * time.Microsecond)
	}
}

// auxMain runs on core 1: USB diagnostics link, mode button and the
// debug heartbeat.
func auxMain(arbiter *core.Arbiter) {
	button := newButtonState()
	lastHeartbeat := time.Now()

	for {
		// Contain a handler panic to the iteration: drop the buffers and
		// keep the link alive.
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			pumpUSB()
			button.poll(arbiter)
			core.CheckPendingReset()

			// Debug-gated heartbeat so an attached console can tell a
			// quiet link from a wedged firmware.
			if time.Since(lastHeartbeat) >= 5*time.Second {
				lastHeartbeat = time.Now()
				core.DebugPrintln("heartbeat clock=" + core.Utoa(core.GetTime()))
			}
		}()

		time.Sleep(time.Millisecond)
	}
}

// pumpUSB moves pending bytes host->firmware and firmware->host.
func pumpUSB() {
	for USBAvailable() > 0 {
		b, err := USBRead()
		if err != nil {
			msgerrors++
			break
		}

		if usbWasDisconnected {
			// First traffic after a disconnect: start the link clean.
			usbWasDisconnected = false
			inputBuffer.Reset()
			outputBuffer.Reset()
			transport.Reset()
			consecutiveWriteFailures = 0
		}

		if inputBuffer.Write([]byte{b}) == 0 {
			msgerrors++ // buffer full
			break
		}
	}

	if inputBuffer.Available() > 0 {
		data := inputBuffer.Data()
		originalLen := len(data)
		inputBuf := protocol.NewSliceInputBuffer(data)

		transport.Receive(inputBuf)

		consumed := originalLen - inputBuf.Available()
		if consumed > 0 {
			inputBuffer.Pop(consumed)
		}
	}

	writeUSB()
}

// registerBoardInfo publishes the pin map and chip identity in the
// dictionary so the host tool can print a meaningful summary.
func registerBoardInfo() {
	core.RegisterConstant("BUS_DATA_BASE", uint32(0))
	core.RegisterConstant("PIN_REQ", uint32(pinREQ))
	core.RegisterConstant("PIN_ACT", uint32(pinACT))
	core.RegisterConstant("PIN_CLK", uint32(pinCLK))
	core.RegisterConstant("PIN_CDET", uint32(pinCDET))

	core.RegisterEnumeration("mode", []string{"host-bridge", "network-service"})
}

// watchdogReset forces a deliberate hardware reset. The watchdog path is
// the reliable one on RP2-class parts and re-enumerates USB cleanly; the
// scratch registers survive it.
func watchdogReset() {
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
		return
	}
	if err := machine.Watchdog.Start(); err != nil {
		return
	}
	for {
		time.Sleep(time.Millisecond)
	}
}

// writeUSB writes available data from the output buffer to USB.
func writeUSB() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}

	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			// Likely disconnect. After repeated failures drop the stale
			// data and wait for the host to come back.
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}

	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
