package core

import (
	"bytes"
	"sync"

	"parbridge/tinycompress"
)

// Constant represents a firmware constant exposed to the host
type Constant struct {
	Name  string
	Value interface{} // Can be string, int, etc.
}

// Enumeration represents an enumeration of values (like pin names)
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary manages the data dictionary sent to the diagnostics host
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cachedDict    []byte // Cached compressed dictionary
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a new dictionary
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "parbridge-0.1.0",
		buildVersions: "go-tinygo",
	}
}

// RegisterConstant registers a constant in the dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// AddConstant adds a constant to the dictionary
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{
		Name:  name,
		Value: value,
	}
}

// AddEnumeration adds an enumeration to the dictionary
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Copy the values slice: TinyGo's GC can reclaim the caller's slice
	// after its function returns.
	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)

	d.enumerations[name] = &Enumeration{
		Name:   name,
		Values: valuesCopy,
	}
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
}

// BuildDictionary builds and caches the compressed dictionary.
// Call once after all commands and constants are registered.
func (d *Dictionary) BuildDictionary() {
	// Fetch commands/responses BEFORE taking the dictionary lock so the
	// two registries are never locked in opposite order across cores.
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()

	jsonData := d.buildJSONLocked(commands, responses)

	var buf bytes.Buffer
	w := tinycompress.NewWriter(&buf)
	if _, err := w.Write(jsonData); err != nil {
		d.cachedDict = jsonData
		return
	}
	if err := w.Close(); err != nil {
		d.cachedDict = jsonData
		return
	}

	compressed := buf.Bytes()
	if len(compressed) == 0 {
		d.cachedDict = jsonData
		return
	}

	d.cachedDict = make([]byte, len(compressed))
	copy(d.cachedDict, compressed)
}

// Generate returns the dictionary bytes, compressed if BuildDictionary ran.
func (d *Dictionary) Generate() []byte {
	if d.cachedDict != nil {
		return d.cachedDict
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	commands, responses := d.commandReg.GetCommandsAndResponses()
	return d.buildJSONLocked(commands, responses)
}

// sortStrings is a small in-place sort; avoids pulling the sort package
// into the firmware image for a handful of names.
func sortStrings(names []string) {
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if names[i] > names[j] {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
}

func sortInts(ids []int) {
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[i] > ids[j] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
}

// appendIDMap appends a {"format":id,...} object sorted by ID.
func appendIDMap(result []byte, m map[string]int) []byte {
	ids := make([]int, 0, len(m))
	for _, id := range m {
		ids = append(ids, id)
	}
	sortInts(ids)

	first := true
	for _, id := range ids {
		for format, fid := range m {
			if fid != id {
				continue
			}
			if !first {
				result = append(result, ',')
			}
			result = append(result, '"')
			result = append(result, []byte(format)...)
			result = append(result, []byte(`":`)...)
			result = append(result, []byte(itoa(id))...)
			first = false
			break
		}
	}
	return result
}

// buildJSONLocked builds the JSON dictionary (caller must hold the lock).
// JSON is assembled by hand: the payload is flat and encoding/json would
// drag reflection into the firmware image.
func (d *Dictionary) buildJSONLocked(commands, responses map[string]int) []byte {
	result := make([]byte, 0, 1024)

	result = append(result, []byte(`{"version":"`)...)
	result = append(result, []byte(d.version)...)
	result = append(result, []byte(`","build_versions":"`)...)
	result = append(result, []byte(d.buildVersions)...)
	result = append(result, []byte(`","config":{`)...)

	constNames := make([]string, 0, len(d.constants))
	for name := range d.constants {
		constNames = append(constNames, name)
	}
	sortStrings(constNames)

	first := true
	for _, name := range constNames {
		c := d.constants[name]
		if !first {
			result = append(result, ',')
		}
		result = append(result, '"')
		result = append(result, []byte(name)...)
		result = append(result, []byte(`":"`)...)
		result = append(result, []byte(valueToString(c.Value))...)
		result = append(result, '"')
		first = false
	}

	result = append(result, []byte(`},"commands":{`)...)
	result = appendIDMap(result, commands)
	result = append(result, []byte(`},"responses":{`)...)
	result = appendIDMap(result, responses)
	result = append(result, '}')

	if len(d.enumerations) > 0 {
		result = append(result, []byte(`,"enumerations":{`)...)

		enumNames := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			enumNames = append(enumNames, name)
		}
		sortStrings(enumNames)

		firstEnum := true
		for _, name := range enumNames {
			enum := d.enumerations[name]
			if !firstEnum {
				result = append(result, ',')
			}
			result = append(result, '"')
			result = append(result, []byte(name)...)
			result = append(result, []byte(`":{`)...)

			firstValue := true
			for i, value := range enum.Values {
				if value == "" {
					continue // unnamed slot
				}
				if !firstValue {
					result = append(result, ',')
				}
				result = append(result, '"')
				result = append(result, []byte(value)...)
				result = append(result, []byte(`":`)...)
				result = append(result, []byte(itoa(i))...)
				firstValue = false
			}
			result = append(result, '}')
			firstEnum = false
		}
		result = append(result, '}')
	}

	result = append(result, '}')
	return result
}

// GetChunk returns a chunk of the dictionary starting at offset
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()

	if len(data) == 0 || offset >= uint32(len(data)) {
		return []byte{}
	}

	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	if end <= offset {
		return []byte{}
	}

	// Return a copy, not a slice: the cached dictionary must not be
	// referenced by buffers still in flight over USB when it is rebuilt.
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
