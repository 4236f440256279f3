package core

import (
	"errors"
	"testing"
)

// mockBus replays a scripted sequence of bus samples. The final sample
// repeats forever and must have Request deasserted so the engine's
// release wait terminates.
type mockBus struct {
	script []BusSample
	pos    int

	writes    []byte
	outputs   int
	inputs    int
	selects   []bool
	pulses    int
	releases  int
	ledStates []bool
}

func (b *mockBus) Sample() BusSample {
	s := b.script[b.pos]
	if b.pos < len(b.script)-1 {
		b.pos++
	}
	return s
}

func (b *mockBus) WriteData(v byte)           { b.writes = append(b.writes, v) }
func (b *mockBus) DataOutput()                { b.outputs++ }
func (b *mockBus) DataInput()                 { b.inputs++ }
func (b *mockBus) SelectDevice(selected bool) { b.selects = append(b.selects, selected) }
func (b *mockBus) CardPresent() bool          { return true }
func (b *mockBus) PulseHostInterrupt()        { b.pulses++ }
func (b *mockBus) ReleaseHostInterrupt()      { b.releases++ }
func (b *mockBus) SetActivityLED(on bool)     { b.ledStates = append(b.ledStates, on) }

// mockSPI serves scripted receive bytes and records everything sent.
type mockSPI struct {
	rx        []byte
	sent      []byte
	exchanges int
	failAt    int // exchange index that fails; -1 = never
	speeds    []SPISpeed
	drains    int
}

func newMockSPI(rx []byte) *mockSPI {
	return &mockSPI{rx: rx, failAt: -1}
}

func (s *mockSPI) Exchange(tx byte) (byte, error) {
	if s.exchanges == s.failAt {
		s.exchanges++
		return 0, errors.New("spi fault")
	}
	idx := s.exchanges
	s.exchanges++
	s.sent = append(s.sent, tx)
	if idx < len(s.rx) {
		return s.rx[idx], nil
	}
	return 0xFF, nil
}

func (s *mockSPI) SetSpeed(sp SPISpeed) error {
	s.speeds = append(s.speeds, sp)
	return nil
}

func (s *mockSPI) Drain() { s.drains++ }

// script builders: REQUEST asserted with the header on the data lines,
// then one clock transition per event, then deassert.

func headerSample(header byte) BusSample {
	return BusSample{Data: header, Request: true, Clock: false}
}

// deassert appends the REQUEST release. The clock level carries over from
// the last sample: dropping REQUEST is not a clock event, and a sample
// that toggled both would read as a data edge.
func deassert(script []BusSample) []BusSample {
	clk := false
	if len(script) > 0 {
		clk = script[len(script)-1].Clock
	}
	return append(script, BusSample{Clock: clk})
}

// clockedBytes appends one toggled-clock sample per byte of data.
func clockedBytes(script []BusSample, data ...byte) []BusSample {
	clk := script[len(script)-1].Clock
	for _, d := range data {
		clk = !clk
		script = append(script, BusSample{Data: d, Request: true, Clock: clk})
	}
	return script
}

// clockedTicks appends n toggled-clock samples with idle data lines.
func clockedTicks(script []BusSample, n int) []BusSample {
	clk := script[len(script)-1].Clock
	for i := 0; i < n; i++ {
		clk = !clk
		script = append(script, BusSample{Request: true, Clock: clk})
	}
	return script
}

func newTestEngine(bus *mockBus, spi *mockSPI) *Engine {
	monitor := NewCardMonitor(func() bool { return true }, func() {})
	return NewEngine(bus, spi, &SPIGuard{}, monitor)
}

func TestShortReadTransfer(t *testing.T) {
	ResetStats()

	payload := []byte{0x11, 0x22, 0x33, 0x44, 0x55}
	script := []BusSample{headerSample(0x40 | 5)}
	script = clockedTicks(script, 5)
	script = deassert(script)

	bus := &mockBus{script: script}
	spi := newMockSPI(payload)
	newTestEngine(bus, spi).ServiceRequest()

	if string(bus.writes) != string(payload) {
		t.Errorf("drove %#v, want %#v", bus.writes, payload)
	}
	if spi.exchanges != 5 {
		t.Errorf("exchanges = %d, want 5", spi.exchanges)
	}
	if bus.inputs == 0 {
		t.Error("data lines not returned to input after transfer")
	}
	if spi.drains != 1 {
		t.Errorf("drains = %d, want 1", spi.drains)
	}

	s := StatsSnapshot()
	if s.BytesToHost != 5 || s.Requests != 1 || s.Aborts != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestShortWriteTransfer(t *testing.T) {
	ResetStats()

	payload := []byte{0xDE, 0xAD, 0xBE}
	script := []BusSample{headerSample(3)}
	script = clockedBytes(script, payload...)
	script = deassert(script)

	bus := &mockBus{script: script}
	spi := newMockSPI(nil)
	newTestEngine(bus, spi).ServiceRequest()

	if string(spi.sent) != string(payload) {
		t.Errorf("forwarded %#v, want %#v", spi.sent, payload)
	}
	if len(bus.writes) != 0 {
		t.Errorf("drove the bus during a host->device transfer: %#v", bus.writes)
	}

	s := StatsSnapshot()
	if s.BytesFromHost != 3 {
		t.Errorf("BytesFromHost = %d, want 3", s.BytesFromHost)
	}
}

// Count zero is a valid command with no data phase: no clock waits, no
// SPI traffic, immediate return to idle.
func TestZeroCountTransfer(t *testing.T) {
	for _, header := range []byte{0x00, 0x40} {
		ResetStats()

		bus := &mockBus{script: deassert([]BusSample{headerSample(header)})}
		spi := newMockSPI(nil)
		newTestEngine(bus, spi).ServiceRequest()

		if spi.exchanges != 0 {
			t.Errorf("header %#02x: exchanges = %d, want 0", header, spi.exchanges)
		}
		if len(bus.writes) != 0 {
			t.Errorf("header %#02x: drove the bus", header)
		}
		if s := StatsSnapshot(); s.Aborts != 0 {
			t.Errorf("header %#02x: aborts = %d", header, s.Aborts)
		}
	}
}

func TestExtendedReadTransfer(t *testing.T) {
	ResetStats()

	const count = 130
	payload := make([]byte, count)
	for i := range payload {
		payload[i] = byte(i)
	}

	// 0x81 0x82: count = (1<<7)|2 = 130, direction = device->host.
	script := []BusSample{headerSample(0x81)}
	script = clockedBytes(script, 0x82) // second header byte
	script = clockedTicks(script, count)
	script = deassert(script)

	bus := &mockBus{script: script}
	spi := newMockSPI(payload)
	newTestEngine(bus, spi).ServiceRequest()

	if string(bus.writes) != string(payload) {
		t.Errorf("drove %d bytes, want %d matching payload", len(bus.writes), count)
	}

	s := StatsSnapshot()
	if s.ExtendedHeaders != 1 || s.BytesToHost != count {
		t.Errorf("stats = %+v", s)
	}
}

// Round trips across the interesting count boundaries: largest short
// form, smallest extended form, largest extended form.
func TestRoundTripCounts(t *testing.T) {
	headerFor := func(count int, read bool) []byte {
		if count <= 63 {
			h := byte(count)
			if read {
				h |= 0x40
			}
			return []byte{h}
		}
		b2 := byte(count & 0x7F)
		if read {
			b2 |= 0x80
		}
		return []byte{0x80 | byte(count>>7), b2}
	}

	for _, count := range []int{1, 63, 64, 8191} {
		for _, read := range []bool{true, false} {
			ResetStats()

			hdr := headerFor(count, read)
			script := []BusSample{headerSample(hdr[0])}
			if len(hdr) > 1 {
				script = clockedBytes(script, hdr[1])
			}

			payload := make([]byte, count)
			for i := range payload {
				payload[i] = byte(i * 7)
			}

			var spi *mockSPI
			if read {
				script = clockedTicks(script, count)
				spi = newMockSPI(payload)
			} else {
				script = clockedBytes(script, payload...)
				spi = newMockSPI(nil)
			}
			script = deassert(script)

			bus := &mockBus{script: script}
			newTestEngine(bus, spi).ServiceRequest()

			if read {
				if string(bus.writes) != string(payload) {
					t.Errorf("count %d read: %d bytes driven, want %d matching",
						count, len(bus.writes), count)
				}
			} else {
				if string(spi.sent) != string(payload) {
					t.Errorf("count %d write: %d bytes forwarded, want %d matching",
						count, len(spi.sent), count)
				}
			}
			if s := StatsSnapshot(); s.Aborts != 0 {
				t.Errorf("count %d read=%v: aborts = %d", count, read, s.Aborts)
			}
		}
	}
}

// Deasserting REQUEST mid-transfer stops everything: no further SPI
// traffic, no signal to the host, bus back to input.
func TestAbortMidReadTransfer(t *testing.T) {
	ResetStats()

	script := []BusSample{headerSample(0x40 | 10)}
	script = clockedTicks(script, 4)
	script = deassert(script)

	bus := &mockBus{script: script}
	spi := newMockSPI([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	newTestEngine(bus, spi).ServiceRequest()

	if len(bus.writes) != 4 {
		t.Errorf("drove %d bytes before abort, want 4", len(bus.writes))
	}
	// One prefetch per driven byte plus the initial one; nothing after
	// the abort.
	if spi.exchanges != 5 {
		t.Errorf("exchanges = %d, want 5", spi.exchanges)
	}
	if bus.inputs == 0 {
		t.Error("data lines not released after abort")
	}
	if bus.pulses != 0 {
		t.Error("abort must not signal the host")
	}

	s := StatsSnapshot()
	if s.Aborts != 1 || s.BytesToHost != 4 {
		t.Errorf("stats = %+v", s)
	}
}

func TestAbortMidWriteTransfer(t *testing.T) {
	ResetStats()

	script := []BusSample{headerSample(10)}
	script = clockedBytes(script, 0xA0, 0xA1, 0xA2)
	script = deassert(script)

	bus := &mockBus{script: script}
	spi := newMockSPI(nil)
	newTestEngine(bus, spi).ServiceRequest()

	if spi.exchanges != 3 {
		t.Errorf("exchanges = %d, want 3", spi.exchanges)
	}

	s := StatsSnapshot()
	if s.Aborts != 1 || s.BytesFromHost != 3 {
		t.Errorf("stats = %+v", s)
	}
}

// A sample carrying both a clock transition and the REQUEST release
// counts as a data edge: the clock check runs first in the wait loop, so
// the byte on that edge is still forwarded and the abort lands on the
// following sample.
func TestClockEdgeWinsOverRelease(t *testing.T) {
	ResetStats()

	script := []BusSample{headerSample(10)}
	script = clockedBytes(script, 0xA0, 0xA1)
	clk := script[len(script)-1].Clock
	script = append(script, BusSample{Data: 0xA2, Clock: !clk})
	script = deassert(script)

	bus := &mockBus{script: script}
	spi := newMockSPI(nil)
	newTestEngine(bus, spi).ServiceRequest()

	if string(spi.sent) != "\xa0\xa1\xa2" {
		t.Errorf("forwarded %#v, want the byte on the releasing edge included", spi.sent)
	}

	s := StatsSnapshot()
	if s.Aborts != 1 || s.BytesFromHost != 3 {
		t.Errorf("stats = %+v", s)
	}
}

// Abort between the two header bytes of an extended command leaves no
// side effects at all.
func TestAbortBeforeSecondHeaderByte(t *testing.T) {
	ResetStats()

	bus := &mockBus{script: deassert([]BusSample{headerSample(0x81)})}
	spi := newMockSPI(nil)
	newTestEngine(bus, spi).ServiceRequest()

	if spi.exchanges != 0 || len(bus.writes) != 0 {
		t.Error("aborted header produced side effects")
	}
	if s := StatsSnapshot(); s.Aborts != 1 || s.ExtendedHeaders != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestSPIErrorStopsTransfer(t *testing.T) {
	ResetStats()

	script := []BusSample{headerSample(0x40 | 8)}
	script = clockedTicks(script, 8)
	script = deassert(script)

	bus := &mockBus{script: script}
	spi := newMockSPI(make([]byte, 8))
	spi.failAt = 3
	newTestEngine(bus, spi).ServiceRequest()

	if len(bus.writes) != 3 {
		t.Errorf("drove %d bytes, want 3", len(bus.writes))
	}
	if s := StatsSnapshot(); s.SPIErrors != 1 {
		t.Errorf("SPIErrors = %d, want 1", s.SPIErrors)
	}
}

func TestSelectDevice(t *testing.T) {
	tests := []struct {
		header byte
		want   bool
	}{
		{0xC0, false},
		{0xC1, true},
	}

	for _, tt := range tests {
		ResetStats()

		bus := &mockBus{script: deassert([]BusSample{headerSample(tt.header)})}
		spi := newMockSPI(nil)
		newTestEngine(bus, spi).ServiceRequest()

		if len(bus.selects) != 1 || bus.selects[0] != tt.want {
			t.Errorf("header %#02x: selects = %v, want [%v]", tt.header, bus.selects, tt.want)
		}
		if s := StatsSnapshot(); s.ControlCommands != 1 {
			t.Errorf("header %#02x: ControlCommands = %d", tt.header, s.ControlCommands)
		}
	}
}

func TestQueryCardPresent(t *testing.T) {
	for _, present := range []bool{true, false} {
		ResetStats()

		script := []BusSample{headerSample(0xC2)}
		script = clockedTicks(script, 1)
		script = deassert(script)

		bus := &mockBus{script: script}
		spi := newMockSPI(nil)
		monitor := NewCardMonitor(func() bool { return present }, func() {})
		engine := NewEngine(bus, spi, &SPIGuard{}, monitor)
		engine.ServiceRequest()

		if bus.releases != 1 {
			t.Errorf("present=%v: host interrupt not released before response", present)
		}

		want := byte(0)
		if present {
			want = 1
		}
		if len(bus.writes) != 1 || bus.writes[0] != want {
			t.Errorf("present=%v: drove %#v, want [%d]", present, bus.writes, want)
		}
		if bus.inputs == 0 {
			t.Error("data lines not released after query")
		}
	}
}

func TestSetSpeed(t *testing.T) {
	tests := []struct {
		header byte
		want   SPISpeed
	}{
		{0xC4, SPISpeedSlow},
		{0xC5, SPISpeedFast},
	}

	for _, tt := range tests {
		bus := &mockBus{script: deassert([]BusSample{headerSample(tt.header)})}
		spi := newMockSPI(nil)
		newTestEngine(bus, spi).ServiceRequest()

		if len(spi.speeds) != 1 || spi.speeds[0] != tt.want {
			t.Errorf("header %#02x: speeds = %v, want [%v]", tt.header, spi.speeds, tt.want)
		}
	}
}

// Undefined control sub-commands are silently ignored; the request still
// completes cleanly.
func TestUndefinedControlIgnored(t *testing.T) {
	for sub := 3; sub < 32; sub++ {
		ResetStats()

		header := byte(0xC0 | sub<<1)
		bus := &mockBus{script: deassert([]BusSample{headerSample(header)})}
		spi := newMockSPI(nil)
		newTestEngine(bus, spi).ServiceRequest()

		if len(bus.writes) != 0 || len(bus.selects) != 0 || len(spi.speeds) != 0 || spi.exchanges != 0 {
			t.Errorf("header %#02x: undefined control had side effects", header)
		}
		if s := StatsSnapshot(); s.ControlCommands != 1 {
			t.Errorf("header %#02x: ControlCommands = %d, want 1", header, s.ControlCommands)
		}
	}
}

// The guard is held exactly for the duration of the request and tagged
// with the bridge owner.
func TestServiceRequestHoldsGuard(t *testing.T) {
	guard := &SPIGuard{}

	bus := &mockBus{script: deassert([]BusSample{headerSample(0xC0)})}
	spi := newMockSPI(nil)
	monitor := NewCardMonitor(func() bool { return true }, func() {})
	engine := NewEngine(bus, spi, guard, monitor)

	engine.ServiceRequest()

	if guard.Owner() != OwnerNone {
		t.Errorf("guard still owned after request: %d", guard.Owner())
	}
	// Guard must be immediately reacquirable.
	guard.Acquire(OwnerService)
	guard.Release()
}

// LED marks busy for exactly the span of the request.
func TestActivityLED(t *testing.T) {
	bus := &mockBus{script: deassert([]BusSample{headerSample(0xC0)})}
	spi := newMockSPI(nil)
	newTestEngine(bus, spi).ServiceRequest()

	if len(bus.ledStates) != 2 || !bus.ledStates[0] || bus.ledStates[1] {
		t.Errorf("led states = %v, want [true false]", bus.ledStates)
	}
}
