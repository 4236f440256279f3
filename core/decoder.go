package core

// TransferDirection says which side drives the data lines during the
// clocked phase of a data command.
type TransferDirection uint8

const (
	HostToDevice TransferDirection = iota // host drives, bridge samples
	DeviceToHost                          // bridge drives, host samples
)

// CommandKind discriminates the decoded operation.
type CommandKind uint8

const (
	CmdData CommandKind = iota
	CmdSelectDevice
	CmdQueryCardPresent
	CmdSetSpeed
	CmdIgnore // undefined control sub-command, no side effects
)

// Command is one decoded host request. Created per REQUEST assertion,
// consumed once by the transfer engine, then discarded.
type Command struct {
	Kind  CommandKind
	Dir   TransferDirection
	Count uint16 // exact byte count of the data phase (0 is valid)
	Param bool   // control-command parameter bit
}

// Header bit layout, first sampled byte:
//
//	0dcccccc  short data command: d = direction, cccccc = count (0-63)
//	10cccccc  extended data command: count high bits, second byte follows
//	11sssssp  control command: sssss = sub-id, p = parameter
const (
	hdrFormMask     = 0xC0
	hdrFormExtended = 0x80
	hdrFormControl  = 0xC0
)

// Control sub-command ids.
const (
	ctlSelectDevice = 0
	ctlCardPresent  = 1
	ctlSetSpeed     = 2
)

// DecodeHeader interprets the first byte sampled at REQUEST assertion.
// For the extended form it returns needSecond=true and a partially filled
// command (high count bits); the caller must clock in the second byte and
// finish with DecodeExtended. Decoding never fails: undefined control
// sub-commands come back as CmdIgnore.
func DecodeHeader(b byte) (cmd Command, needSecond bool) {
	switch b & hdrFormMask {
	case hdrFormControl:
		sub := (b >> 1) & 0x1F
		param := b&1 != 0
		switch sub {
		case ctlSelectDevice:
			return Command{Kind: CmdSelectDevice, Param: param}, false
		case ctlCardPresent:
			return Command{Kind: CmdQueryCardPresent, Param: param}, false
		case ctlSetSpeed:
			return Command{Kind: CmdSetSpeed, Param: param}, false
		default:
			return Command{Kind: CmdIgnore, Param: param}, false
		}
	case hdrFormExtended:
		return Command{Kind: CmdData, Count: uint16(b&0x3F) << 7}, true
	default:
		// Short form: bit 7 clear, bit 6 is the direction.
		dir := HostToDevice
		if b&0x40 != 0 {
			dir = DeviceToHost
		}
		return Command{Kind: CmdData, Dir: dir, Count: uint16(b & 0x3F)}, false
	}
}

// DecodeExtended merges the second header byte into a partially decoded
// extended data command: count = (b1 bits5:0 << 7) | (b2 bits6:0),
// direction = b2 bit7.
func DecodeExtended(cmd Command, b2 byte) Command {
	cmd.Count |= uint16(b2 & 0x7F)
	if b2&0x80 != 0 {
		cmd.Dir = DeviceToHost
	} else {
		cmd.Dir = HostToDevice
	}
	return cmd
}
