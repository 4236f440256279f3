// Package protocol implements the framed diagnostics link shared by the
// firmware and the host tool
package protocol

// Version identifies the protocol revision
const Version = "0.0.1-alpha"

// Protocol constants
const (
	MessageMax     = 512 // Maximum output buffer size (was 64, increased to handle multiple messages)
	MessageMin     = 5   // Minimum message size (header + CRC)
	MessageHeader  = 2   // Message header size
	MessageTrailer = 3   // Message trailer size (CRC)

	// Message sequence masks
	MessageSeqMask  = 0x0F
	MessageSeqShift = 4
)

// MessageBlock represents one framed message
type MessageBlock struct {
	Length   uint8
	Sequence uint8
	Data     []byte
	CRC      uint16
}
