package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"
)

// parsedDict mirrors the structure the host tool expects.
type parsedDict struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]int    `json:"commands"`
	Responses     map[string]int    `json:"responses"`
}

func newTestDictionary() (*CommandRegistry, *Dictionary) {
	reg := NewCommandRegistry()
	reg.Register("identify_response", "offset=%u data=%*s", nil)
	reg.Register("identify", "offset=%u count=%c", func(*[]byte) error { return nil })
	reg.Register("get_status", "", func(*[]byte) error { return nil })
	reg.Register("status", "mode=%c card=%c", nil)

	d := NewDictionary(reg)
	d.AddConstant("DEBOUNCE_MS", uint32(CardDebounceMS))
	d.AddConstant("MCU", "rp2350")
	return reg, d
}

func TestDictionaryJSONWellFormed(t *testing.T) {
	_, d := newTestDictionary()

	var parsed parsedDict
	if err := json.Unmarshal(d.Generate(), &parsed); err != nil {
		t.Fatalf("generated dictionary is not valid JSON: %v", err)
	}

	if parsed.Version == "" {
		t.Error("version missing")
	}
	if parsed.Config["MCU"] != "rp2350" {
		t.Errorf("config MCU = %q", parsed.Config["MCU"])
	}
	if parsed.Config["DEBOUNCE_MS"] != "50" {
		t.Errorf("config DEBOUNCE_MS = %q", parsed.Config["DEBOUNCE_MS"])
	}

	// Handlers split commands from responses; the bootstrap pair keeps
	// its fixed IDs.
	if id, ok := parsed.Commands["identify offset=%u count=%c"]; !ok || id != 1 {
		t.Errorf("identify id = %d/%v, want 1", id, ok)
	}
	if id, ok := parsed.Responses["identify_response offset=%u data=%*s"]; !ok || id != 0 {
		t.Errorf("identify_response id = %d/%v, want 0", id, ok)
	}
}

// The built dictionary is a zlib stream the host inflates with a standard
// reader; the payload must match the uncompressed generation.
func TestDictionaryCompressedRoundTrip(t *testing.T) {
	_, d := newTestDictionary()

	plain := d.Generate()
	d.BuildDictionary()
	compressed := d.Generate()

	if len(compressed) < 2 || compressed[0] != 0x78 {
		t.Fatalf("built dictionary is not zlib: % x", compressed[:2])
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("inflate open: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	r.Close()

	if !bytes.Equal(out, plain) {
		t.Error("compressed dictionary does not inflate to the JSON payload")
	}
}

func TestDictionaryChunking(t *testing.T) {
	_, d := newTestDictionary()
	d.BuildDictionary()
	full := d.Generate()

	// Reassemble through GetChunk the way identify does.
	var got []byte
	offset := uint32(0)
	for {
		chunk := d.GetChunk(offset, 40)
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
		offset += uint32(len(chunk))
	}

	if !bytes.Equal(got, full) {
		t.Errorf("chunked reassembly: %d bytes, want %d", len(got), len(full))
	}

	// Past-the-end and zero-count reads are empty, not errors.
	if len(d.GetChunk(uint32(len(full)), 40)) != 0 {
		t.Error("past-the-end chunk not empty")
	}
	if len(d.GetChunk(0, 0)) != 0 {
		t.Error("zero-count chunk not empty")
	}
}
