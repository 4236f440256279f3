package core

import "testing"

// Every byte value decodes to exactly one well-defined command; there is
// no reject path in the header space.
func TestDecodeHeaderExhaustive(t *testing.T) {
	for b := 0; b < 256; b++ {
		cmd, needSecond := DecodeHeader(byte(b))

		switch {
		case b&0x80 == 0:
			// Short data command.
			if needSecond {
				t.Errorf("byte %#02x: short form wants second byte", b)
			}
			if cmd.Kind != CmdData {
				t.Errorf("byte %#02x: kind = %d, want CmdData", b, cmd.Kind)
			}
			wantDir := HostToDevice
			if b&0x40 != 0 {
				wantDir = DeviceToHost
			}
			if cmd.Dir != wantDir {
				t.Errorf("byte %#02x: dir = %d, want %d", b, cmd.Dir, wantDir)
			}
			if cmd.Count != uint16(b&0x3F) {
				t.Errorf("byte %#02x: count = %d, want %d", b, cmd.Count, b&0x3F)
			}

		case b&0xC0 == 0x80:
			// Extended data command, first byte.
			if !needSecond {
				t.Errorf("byte %#02x: extended form did not want second byte", b)
			}
			if cmd.Kind != CmdData {
				t.Errorf("byte %#02x: kind = %d, want CmdData", b, cmd.Kind)
			}
			if cmd.Count != uint16(b&0x3F)<<7 {
				t.Errorf("byte %#02x: high count = %d, want %d", b, cmd.Count, uint16(b&0x3F)<<7)
			}

		default:
			// Control command.
			if needSecond {
				t.Errorf("byte %#02x: control form wants second byte", b)
			}
			sub := (b >> 1) & 0x1F
			var wantKind CommandKind
			switch sub {
			case 0:
				wantKind = CmdSelectDevice
			case 1:
				wantKind = CmdQueryCardPresent
			case 2:
				wantKind = CmdSetSpeed
			default:
				wantKind = CmdIgnore
			}
			if cmd.Kind != wantKind {
				t.Errorf("byte %#02x: kind = %d, want %d", b, cmd.Kind, wantKind)
			}
			if cmd.Param != (b&1 != 0) {
				t.Errorf("byte %#02x: param = %v, want %v", b, cmd.Param, b&1 != 0)
			}
		}
	}
}

func TestDecodeExtended(t *testing.T) {
	tests := []struct {
		name      string
		b1, b2    byte
		wantCount uint16
		wantDir   TransferDirection
	}{
		{"zero count write", 0x80, 0x00, 0, HostToDevice},
		{"zero count read", 0x80, 0x80, 0, DeviceToHost},
		{"low bits only", 0x80, 0x7F, 127, HostToDevice},
		{"high bits only", 0xBF, 0x00, 63 << 7, HostToDevice},
		{"max count read", 0xBF, 0xFF, 8191, DeviceToHost},
		{"count 130", 0x81, 0x02, 130, HostToDevice},
		{"count 512 read", 0x84, 0x80, 512, DeviceToHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, needSecond := DecodeHeader(tt.b1)
			if !needSecond {
				t.Fatalf("header %#02x did not request a second byte", tt.b1)
			}
			cmd = DecodeExtended(cmd, tt.b2)

			if cmd.Kind != CmdData {
				t.Errorf("kind = %d, want CmdData", cmd.Kind)
			}
			if cmd.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", cmd.Count, tt.wantCount)
			}
			if cmd.Dir != tt.wantDir {
				t.Errorf("dir = %d, want %d", cmd.Dir, tt.wantDir)
			}
		})
	}
}

// The short and extended forms overlap for counts 0-63; both must decode
// to identical commands.
func TestShortExtendedEquivalence(t *testing.T) {
	for count := 0; count <= 63; count++ {
		short, _ := DecodeHeader(byte(0x40 | count)) // read direction
		ext, _ := DecodeHeader(0x80)
		ext = DecodeExtended(ext, byte(0x80|count))

		if short.Count != ext.Count || short.Dir != ext.Dir || short.Kind != ext.Kind {
			t.Errorf("count %d: short %+v != extended %+v", count, short, ext)
		}
	}
}
