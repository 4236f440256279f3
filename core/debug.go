package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures a timing-critical bridge event for post-mortem
// analysis. Records are written from hot paths, so the capture is a plain
// ring store with no locking and no allocation.
type TraceEvent struct {
	EventType uint8
	Value     uint8  // event-dependent small value (kind, direction, level)
	Clock     uint32 // system clock at event
	Arg       uint32 // event-dependent value (byte count, mode)
}

// Event type codes
const (
	EvtRequest    = 1 // REQUEST assertion picked up by the bridge loop
	EvtDecode     = 2 // header decoded (Value = command kind, Arg = count)
	EvtAbort      = 3 // transfer aborted (Value = direction, Arg = bytes done)
	EvtCardChange = 4 // debounced presence change (Value = new state)
	EvtModeSwitch = 5 // mode switch executing (Value = next mode)
	EvtSPISpeed   = 6 // speed preset changed (Value = preset)
)

const (
	TraceRingSize = 32 // last 32 events kept for post-mortem
)

var (
	// debugPrintln is the global debug print function (set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled controls whether debug output is active.
	// Off by default so the transfer timing is unaffected; toggled with
	// the set_debug diagnostics command.
	debugEnabled bool = false

	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8
	traceEnabled  bool = true
)

// SetDebugWriter sets the platform-specific debug output function.
// Platforms redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordTrace captures an event in the ring buffer. Non-blocking, ~20ns.
func RecordTrace(eventType, value uint8, clock, arg uint32) {
	if !traceEnabled {
		return
	}
	idx := traceRingHead
	traceRing[idx] = TraceEvent{
		EventType: eventType,
		Value:     value,
		Clock:     clock,
		Arg:       arg,
	}
	traceRingHead = (idx + 1) % TraceRingSize
}

// TraceSnapshot copies the ring oldest-first into out and returns the
// number of valid entries. Used by the dump_trace diagnostics command.
func TraceSnapshot(out []TraceEvent) int {
	n := 0
	start := traceRingHead
	for i := uint8(0); i < TraceRingSize && n < len(out); i++ {
		idx := (start + i) % TraceRingSize
		if traceRing[idx].EventType == 0 {
			continue // empty slot
		}
		out[n] = traceRing[idx]
		n++
	}
	return n
}

// DumpTraceRing writes the ring through the debug writer, oldest first.
// Call after stopping time-critical work.
func DumpTraceRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TRACE] === Bridge Trace Dump ===")
	start := traceRingHead
	for i := uint8(0); i < TraceRingSize; i++ {
		idx := (start + i) % TraceRingSize
		evt := &traceRing[idx]
		if evt.EventType == 0 {
			continue
		}

		var name string
		switch evt.EventType {
		case EvtRequest:
			name = "REQUEST"
		case EvtDecode:
			name = "DECODE"
		case EvtAbort:
			name = "ABORT"
		case EvtCardChange:
			name = "CARD"
		case EvtModeSwitch:
			name = "MODE"
		case EvtSPISpeed:
			name = "SPEED"
		default:
			name = "UNKNOWN"
		}

		debugPrintln("[TRACE] " + name +
			" v=" + itoa(int(evt.Value)) +
			" clock=" + utoa(evt.Clock) +
			" arg=" + utoa(evt.Arg))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTraceRing clears the trace buffer
func ClearTraceRing() {
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
}
