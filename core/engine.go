package core

// Engine is the host-facing protocol bridge: it decodes the header sampled
// at REQUEST assertion and runs the clocked transfer against the SPI
// device. One instance exists, owned by the bridge core.
//
// The clock waits are deliberate tight busy-polls. The per-byte timing
// budget is smaller than an interrupt round-trip, so the loop must not be
// converted to an interrupt-driven or asynchronous style. Cancellation is
// solely the host deasserting REQUEST, observed synchronously inside the
// wait; there is no timeout. A clock that never comes blocks forever,
// matching host behavior.
type Engine struct {
	bus   BusDriver
	spi   SPIBus
	guard *SPIGuard
	cards *CardMonitor
}

// NewEngine wires the transfer engine over its collaborators.
func NewEngine(bus BusDriver, spi SPIBus, guard *SPIGuard, cards *CardMonitor) *Engine {
	return &Engine{bus: bus, spi: spi, guard: guard, cards: cards}
}

// ServiceRequest runs one full request: acquire the SPI guard, service the
// pending command, then clean up the bus and SPI state before releasing.
// Called from the bridge loop when the request latch fires.
func (e *Engine) ServiceRequest() {
	e.guard.Acquire(OwnerBridge)
	e.bus.SetActivityLED(true)

	e.handleRequest()

	// Idle the bus whether the request completed or aborted: data lines
	// back to input/tri-state, SPI drained of any stale byte.
	e.bus.DataInput()
	e.spi.Drain()

	e.bus.SetActivityLED(false)
	e.guard.Release()
}

// handleRequest decodes and executes the command on the bus. Returning at
// any point means abort: partial data stands, nothing is signaled.
func (e *Engine) handleRequest() {
	s := e.bus.Sample()
	if !s.Request {
		return // lost the race against deassert; nothing to do
	}
	statAdd(&stats.Requests, 1)
	prevClk := s.Clock

	cmd, needSecond := DecodeHeader(s.Data)
	if needSecond {
		// The second header byte arrives on the next clock transition.
		// REQUEST is watched while waiting; abort leaves no side effects.
		s2, ok := e.waitClock(prevClk)
		if !ok {
			statAdd(&stats.Aborts, 1)
			return
		}
		prevClk = s2.Clock
		cmd = DecodeExtended(cmd, s2.Data)
		statAdd(&stats.ExtendedHeaders, 1)
	}
	RecordTrace(EvtDecode, uint8(cmd.Kind), GetTime(), uint32(cmd.Count))

	switch cmd.Kind {
	case CmdData:
		if cmd.Dir == DeviceToHost {
			e.transferToHost(cmd.Count, prevClk)
		} else {
			e.transferFromHost(cmd.Count, prevClk)
		}
	case CmdSelectDevice:
		statAdd(&stats.ControlCommands, 1)
		e.bus.SelectDevice(cmd.Param)
	case CmdQueryCardPresent:
		statAdd(&stats.ControlCommands, 1)
		e.queryCardPresent(prevClk)
	case CmdSetSpeed:
		statAdd(&stats.ControlCommands, 1)
		speed := SPISpeedSlow
		if cmd.Param {
			speed = SPISpeedFast
		}
		_ = e.spi.SetSpeed(speed)
	case CmdIgnore:
		// Undefined control sub-command: no side effect, no signal.
		statAdd(&stats.ControlCommands, 1)
	}

	// Hold until the host releases REQUEST, then return to idle. No
	// end-of-transfer handshake byte exists in the protocol.
	for {
		if s := e.bus.Sample(); !s.Request {
			return
		}
	}
}

// waitClock busy-polls for a CLOCK transition away from prev. It re-checks
// REQUEST on every iteration and gives up the moment the host deasserts.
func (e *Engine) waitClock(prev bool) (BusSample, bool) {
	for {
		s := e.bus.Sample()
		if s.Clock != prev {
			return s, true
		}
		if !s.Request {
			return s, false
		}
	}
}

// transferToHost clocks count bytes device -> host. The next SPI byte is
// prefetched while the host is still consuming the previous one, so the
// exchange cost hides inside the host's inter-byte gap.
func (e *Engine) transferToHost(count uint16, prevClk bool) {
	if count == 0 {
		return
	}
	v, err := e.spi.Exchange(0xFF)
	if err != nil {
		statAdd(&stats.SPIErrors, 1)
		return
	}
	for done := uint16(0); ; {
		s, ok := e.waitClock(prevClk)
		if !ok {
			statAdd(&stats.Aborts, 1)
			RecordTrace(EvtAbort, 1, GetTime(), uint32(done))
			return
		}
		prevClk = s.Clock

		// Value first, then direction, so the host never sees a stale
		// byte driven during the turnaround.
		e.bus.WriteData(v)
		e.bus.DataOutput()
		done++
		statAdd(&stats.BytesToHost, 1)

		if done == count {
			return
		}
		v, err = e.spi.Exchange(0xFF)
		if err != nil {
			statAdd(&stats.SPIErrors, 1)
			return
		}
	}
}

// transferFromHost clocks count bytes host -> device: wait for the edge,
// sample the bus, forward the byte over SPI (receive side discarded).
func (e *Engine) transferFromHost(count uint16, prevClk bool) {
	for done := uint16(0); done < count; done++ {
		s, ok := e.waitClock(prevClk)
		if !ok {
			statAdd(&stats.Aborts, 1)
			RecordTrace(EvtAbort, 0, GetTime(), uint32(done))
			return
		}
		prevClk = s.Clock

		if _, err := e.spi.Exchange(s.Data); err != nil {
			statAdd(&stats.SPIErrors, 1)
			return
		}
		statAdd(&stats.BytesFromHost, 1)
	}
}

// queryCardPresent answers the presence control command: release the host
// interrupt line (a pending pulse must not smear into the response), wait
// one clock transition, then drive the presence state on data bit 0. The
// bus stays driven until REQUEST deasserts.
func (e *Engine) queryCardPresent(prevClk bool) {
	e.bus.ReleaseHostInterrupt()

	s, ok := e.waitClock(prevClk)
	if !ok {
		statAdd(&stats.Aborts, 1)
		return
	}
	_ = s

	var v byte
	if e.cards.Present() {
		v = 1
	}
	e.bus.WriteData(v)
	e.bus.DataOutput()
}
