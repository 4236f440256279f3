// Package mcu manages a diagnostics connection to the bridge firmware:
// open the port, pull and parse the dictionary, issue commands and decode
// their typed responses.
package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"parbridge/host/serial"
	"parbridge/protocol"
)

// MCU represents a connection to the bridge firmware.
type MCU struct {
	transport *protocol.HostTransport
	port      serial.Port

	dictionary     *Dictionary
	dictionaryData []byte

	// First-token name -> ID maps derived from the dictionary's format
	// strings ("get_status" from "get_status", "status" from
	// "status mode=%c card=%c ...").
	commandIDs  map[string]uint16
	responseIDs map[string]uint16

	connected bool
}

// Dictionary is the parsed firmware dictionary.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// Status is the decoded get_status response.
type Status struct {
	Mode          uint32
	CardPresent   bool
	Suppressed    bool
	PendingSwitch bool
}

// Stats is the decoded get_stats response.
type Stats struct {
	Requests        uint32
	BytesToHost     uint32
	BytesFromHost   uint32
	Aborts          uint32
	ExtendedHeaders uint32
	ControlCommands uint32
	SPIErrors       uint32
	CardEvents      uint32
}

// TraceEntry is one decoded trace response.
type TraceEntry struct {
	EventType uint32
	Value     uint32
	Clock     uint32
	Arg       uint32
}

// NewMCU creates an MCU instance, not yet connected.
func NewMCU() *MCU {
	return &MCU{}
}

// Connect opens a serial connection with the default configuration.
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens a serial connection.
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.connected = true

	// Give the firmware a moment in case it just enumerated.
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Close closes the connection.
func (m *MCU) Close() error {
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			return err
		}
	}
	m.connected = false
	return nil
}

// RetrieveDictionary pulls the complete dictionary in identify chunks,
// inflates it and parses the JSON.
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return fmt.Errorf("not connected")
	}

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	chunkSize := uint8(40)
	maxIterations := 1000

	for i := 0; i < maxIterations; i++ {
		chunk, err := m.sendIdentify(offset, chunkSize)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}

		if len(chunk) == 0 {
			break
		}

		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		if len(chunk) < int(chunkSize) {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()

	// The firmware compresses with stored-block zlib; standard inflate
	// handles it. An uncompressed dictionary (build fallback) passes
	// through unchanged.
	if decompressed, err := inflate(m.dictionaryData); err == nil {
		m.dictionaryData = decompressed
	}

	if err := m.parseDictionary(); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}

	return nil
}

// sendIdentify requests one dictionary chunk. identify and
// identify_response are the fixed-ID bootstrap pair (1 and 0): they are
// usable before the dictionary exists.
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(1, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send identify: %w", err)
	}

	resp, err := m.transport.ReceiveResponse(1 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to receive identify response: %w", err)
	}

	payload := resp.Payload

	cmdID, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response command ID: %w", err)
	}
	if cmdID != 0 {
		return nil, fmt.Errorf("unexpected response command ID: %d (expected 0)", cmdID)
	}

	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	return protocol.DecodeVLQBytes(&payload)
}

// inflate decompresses zlib data.
func inflate(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return nil, fmt.Errorf("not zlib compressed")
	}

	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// parseDictionary parses the dictionary JSON and builds the name maps.
func (m *MCU) parseDictionary() error {
	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	m.dictionary = dict
	m.commandIDs = nameMap(dict.Commands)
	m.responseIDs = nameMap(dict.Responses)
	return nil
}

// nameMap indexes format strings by their first token.
func nameMap(formats map[string]int) map[string]uint16 {
	out := make(map[string]uint16, len(formats))
	for format, id := range formats {
		name := format
		if sp := strings.IndexByte(format, ' '); sp >= 0 {
			name = format[:sp]
		}
		out[name] = uint16(id)
	}
	return out
}

// GetDictionary returns the parsed dictionary.
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw (inflated) dictionary bytes.
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary prints a dictionary summary.
func (m *MCU) PrintDictionary() {
	if m.dictionary == nil {
		fmt.Println("No dictionary loaded")
		return
	}

	fmt.Println("\n=== Bridge Dictionary ===")
	fmt.Printf("Version: %s\n", m.dictionary.Version)
	fmt.Printf("Build: %s\n", m.dictionary.BuildVersions)

	fmt.Println("\nConfig:")
	for k, v := range m.dictionary.Config {
		fmt.Printf("  %s = %s\n", k, v)
	}

	fmt.Printf("\nCommands (%d):\n", len(m.dictionary.Commands))
	for name, id := range m.dictionary.Commands {
		fmt.Printf("  [%d] %s\n", id, name)
	}

	fmt.Printf("\nResponses (%d):\n", len(m.dictionary.Responses))
	for name, id := range m.dictionary.Responses {
		fmt.Printf("  [%d] %s\n", id, name)
	}

	if len(m.dictionary.Enumerations) > 0 {
		fmt.Printf("\nEnumerations (%d):\n", len(m.dictionary.Enumerations))
		for name, values := range m.dictionary.Enumerations {
			fmt.Printf("  %s: %d values\n", name, len(values))
		}
	}

	fmt.Println("=========================")
}

// SendCommand sends a command looked up by name.
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	if !m.connected {
		return fmt.Errorf("not connected")
	}
	if m.dictionary == nil {
		return fmt.Errorf("dictionary not loaded")
	}

	cmdID, ok := m.commandIDs[name]
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}

	return m.transport.SendCommand(cmdID, args)
}

// query sends a command and waits for a response with the given name,
// returning the payload with the command ID already consumed. Responses
// with other IDs arriving in between are discarded.
func (m *MCU) query(cmdName, respName string, args func(output protocol.OutputBuffer)) ([]byte, error) {
	respID, ok := m.responseIDs[respName]
	if !ok {
		return nil, fmt.Errorf("unknown response: %s", respName)
	}

	if err := m.SendCommand(cmdName, args); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := m.transport.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return nil, err
		}

		payload := resp.Payload
		cmdID, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		if uint16(cmdID) == respID {
			return payload, nil
		}
	}

	return nil, fmt.Errorf("timeout waiting for %s", respName)
}

// decodeUints decodes n VLQ uints from a payload.
func decodeUints(payload []byte, n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		v, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// QueryStatus runs get_status and decodes the reply.
func (m *MCU) QueryStatus() (*Status, error) {
	payload, err := m.query("get_status", "status", nil)
	if err != nil {
		return nil, err
	}

	f, err := decodeUints(payload, 4)
	if err != nil {
		return nil, err
	}

	return &Status{
		Mode:          f[0],
		CardPresent:   f[1] != 0,
		Suppressed:    f[2] != 0,
		PendingSwitch: f[3] != 0,
	}, nil
}

// QueryStats runs get_stats and decodes the reply.
func (m *MCU) QueryStats() (*Stats, error) {
	payload, err := m.query("get_stats", "stats", nil)
	if err != nil {
		return nil, err
	}

	f, err := decodeUints(payload, 8)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Requests:        f[0],
		BytesToHost:     f[1],
		BytesFromHost:   f[2],
		Aborts:          f[3],
		ExtendedHeaders: f[4],
		ControlCommands: f[5],
		SPIErrors:       f[6],
		CardEvents:      f[7],
	}, nil
}

// QueryUptime runs get_uptime and returns the 64-bit microsecond uptime.
func (m *MCU) QueryUptime() (uint64, error) {
	payload, err := m.query("get_uptime", "uptime", nil)
	if err != nil {
		return 0, err
	}

	f, err := decodeUints(payload, 2)
	if err != nil {
		return 0, err
	}

	return uint64(f[0])<<32 | uint64(f[1]), nil
}

// QueryClock runs get_clock and returns the 32-bit tick value.
func (m *MCU) QueryClock() (uint32, error) {
	payload, err := m.query("get_clock", "clock", nil)
	if err != nil {
		return 0, err
	}

	f, err := decodeUints(payload, 1)
	if err != nil {
		return 0, err
	}

	return f[0], nil
}

// DumpTrace runs dump_trace and collects trace responses until the
// firmware goes quiet.
func (m *MCU) DumpTrace() ([]TraceEntry, error) {
	respID, ok := m.responseIDs["trace"]
	if !ok {
		return nil, fmt.Errorf("unknown response: trace")
	}

	if err := m.SendCommand("dump_trace", nil); err != nil {
		return nil, err
	}

	var entries []TraceEntry
	for {
		resp, err := m.transport.ReceiveResponse(300 * time.Millisecond)
		if err != nil {
			// Quiet link means the dump is complete.
			return entries, nil
		}

		payload := resp.Payload
		cmdID, err := protocol.DecodeVLQUint(&payload)
		if err != nil || uint16(cmdID) != respID {
			continue
		}

		f, err := decodeUints(payload, 4)
		if err != nil {
			continue
		}

		entries = append(entries, TraceEntry{
			EventType: f[0],
			Value:     f[1],
			Clock:     f[2],
			Arg:       f[3],
		})
	}
}

// SetDebug toggles the firmware's debug output.
func (m *MCU) SetDebug(enable bool) error {
	return m.SendCommand("set_debug", func(output protocol.OutputBuffer) {
		v := uint32(0)
		if enable {
			v = 1
		}
		protocol.EncodeVLQUint(output, v)
	})
}

// RequestMode latches a mode switch; the firmware resets shortly after
// the ACK.
func (m *MCU) RequestMode(mode uint32) error {
	return m.SendCommand("request_mode", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, mode)
	})
}

// Reset asks the firmware to reset. The ACK arrives before the reset.
func (m *MCU) Reset() error {
	return m.SendCommand("reset", nil)
}

// IsConnected reports whether a connection is open.
func (m *MCU) IsConnected() bool {
	return m.connected
}
