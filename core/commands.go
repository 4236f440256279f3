package core

import (
	"sync/atomic"

	"parbridge/protocol"
)

// BridgeStatus is the snapshot reported by get_status.
type BridgeStatus struct {
	Mode          Mode
	CardPresent   bool
	Suppressed    bool
	PendingSwitch bool
}

// StatusSource supplies the current status snapshot; wired by main after
// the monitor and arbiter exist.
type StatusSource func() BridgeStatus

var statusSource StatusSource

// SetStatusSource registers the status provider for get_status.
func SetStatusSource(fn StatusSource) {
	statusSource = fn
}

// InitCoreCommands registers the diagnostics command set.
// IMPORTANT: registration order matters for the bootstrap pair; the host
// addresses identify/identify_response by fixed IDs 0 and 1 before it has
// the dictionary.
func InitCoreCommands() {
	// Bootstrap messages - MUST be first
	RegisterCommand("identify_response", "offset=%u data=%*s", nil)   // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	// Query commands
	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_status", "", handleGetStatus)
	RegisterCommand("get_stats", "", handleGetStats)

	// Debug commands
	RegisterCommand("set_debug", "enable=%c", handleSetDebug)
	RegisterCommand("dump_trace", "", handleDumpTrace)

	// Deferred-action commands: latch, ACK first, act from the main loop
	RegisterCommand("request_mode", "mode=%c", handleRequestMode)
	RegisterCommand("reset", "", handleReset)

	// Response messages (firmware -> host)
	RegisterCommand("clock", "clock=%u", nil)
	RegisterCommand("uptime", "high=%u clock=%u", nil)
	RegisterCommand("status", "mode=%c card=%c suppressed=%c pending=%c", nil)
	RegisterCommand("stats",
		"requests=%u to_host=%u from_host=%u aborts=%u extended=%u control=%u spi_errors=%u card_events=%u", nil)
	RegisterCommand("trace", "type=%c value=%c clock=%u arg=%u", nil)

	RegisterConstant("DEBOUNCE_MS", uint32(CardDebounceMS))
	RegisterConstant("SETTLE_MS", uint32(ModeSettleMS))
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	count8, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count := uint8(count8)

	chunk := GetGlobalDictionary().GetChunk(offset, count)

	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})

	return nil
}

// handleGetUptime returns the system uptime
func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()
	high := uint32(uptime >> 32)
	low := uint32(uptime & 0xFFFFFFFF)

	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, high)
		protocol.EncodeVLQUint(output, low)
	})

	return nil
}

// handleGetClock returns the current clock value
func handleGetClock(data *[]byte) error {
	clock := GetTime()

	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})

	return nil
}

// handleGetStatus reports mode, card presence, suppression and any
// pending mode switch.
func handleGetStatus(data *[]byte) error {
	var st BridgeStatus
	if statusSource != nil {
		st = statusSource()
	}

	SendResponse("status", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(st.Mode))
		protocol.EncodeVLQUint(output, flagWord(st.CardPresent))
		protocol.EncodeVLQUint(output, flagWord(st.Suppressed))
		protocol.EncodeVLQUint(output, flagWord(st.PendingSwitch))
	})

	return nil
}

// handleGetStats reports the bridge counters.
func handleGetStats(data *[]byte) error {
	s := StatsSnapshot()

	SendResponse("stats", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, s.Requests)
		protocol.EncodeVLQUint(output, s.BytesToHost)
		protocol.EncodeVLQUint(output, s.BytesFromHost)
		protocol.EncodeVLQUint(output, s.Aborts)
		protocol.EncodeVLQUint(output, s.ExtendedHeaders)
		protocol.EncodeVLQUint(output, s.ControlCommands)
		protocol.EncodeVLQUint(output, s.SPIErrors)
		protocol.EncodeVLQUint(output, s.CardEvents)
	})

	return nil
}

// handleSetDebug toggles the debug writer output.
func handleSetDebug(data *[]byte) error {
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	SetDebugEnabled(enable != 0)
	return nil
}

// handleDumpTrace streams the trace ring as one response per entry.
func handleDumpTrace(data *[]byte) error {
	var buf [TraceRingSize]TraceEvent
	n := TraceSnapshot(buf[:])

	for i := 0; i < n; i++ {
		evt := buf[i]
		SendResponse("trace", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(evt.EventType))
			protocol.EncodeVLQUint(output, uint32(evt.Value))
			protocol.EncodeVLQUint(output, evt.Clock)
			protocol.EncodeVLQUint(output, evt.Arg)
		})
	}

	return nil
}

// Mode-switch hook (set by main once the arbiter exists). The handler only
// latches; the owning core's loop performs the sequence after the ACK has
// gone out.
var modeSwitchRequest func()

// SetModeSwitchHook registers the arbiter's latch function.
func SetModeSwitchHook(fn func()) {
	modeSwitchRequest = fn
}

// handleRequestMode is the command-equivalent of the mode button.
func handleRequestMode(data *[]byte) error {
	// The mode argument is advisory: the arbiter always switches to the
	// other mode. Consume it so framing stays aligned.
	if _, err := protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	if modeSwitchRequest != nil {
		modeSwitchRequest()
	}
	return nil
}

// SendResponse sends a response message using the global transport
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport != nil {
		cmd, ok := globalRegistry.GetCommandByName(responseName)
		if !ok {
			// All responses are pre-registered; missing one is a firmware bug.
			panic("response not registered: " + responseName)
		}

		globalTransport.SendCommand(cmd.ID, args)
	}
}

// GetCommandByName retrieves a command by name
func (r *CommandRegistry) GetCommandByName(name string) (*Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

// Global transport for sending responses (set by main)
var globalTransport *protocol.Transport

// SetGlobalTransport sets the global transport for sending responses
func SetGlobalTransport(transport *protocol.Transport) {
	globalTransport = transport
}

// Global reset handler (set by target-specific code)
var globalResetHandler func()

// resetPending is set when a reset command is received.
// The actual reset happens in the main loop after the ACK is sent.
var resetPending uint32 // atomic bool

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

// handleReset triggers a hardware reset.
// NOTE: deferred until after the ACK has been transmitted.
func handleReset(_ *[]byte) error {
	atomic.StoreUint32(&resetPending, 1)
	return nil
}

// CheckPendingReset checks if a reset was requested and executes it.
// Called from the main loop after all pending messages are sent.
func CheckPendingReset() {
	if atomic.LoadUint32(&resetPending) != 0 {
		if globalResetHandler != nil {
			globalResetHandler()
			// Should never return - the handler resets the MCU
		}
	}
}

func flagWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
