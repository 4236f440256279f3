//go:build rp2350

package main

import (
	"machine"
)

// InitUSB brings up the diagnostics link. On the RP2350 machine.Serial is
// USB CDC-ACM, not a UART; the descriptors come from the TinyGo runtime.
func InitUSB() {
	err := machine.Serial.Configure(machine.UARTConfig{})
	if err != nil {
		return
	}
}

// USBAvailable returns the number of bytes buffered for reading.
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte.
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWrite writes a single byte.
func USBWrite(b byte) error {
	return machine.Serial.WriteByte(b)
}

// USBWriteBytes writes a buffer, returning how much was accepted.
func USBWriteBytes(data []byte) (int, error) {
	n, err := machine.Serial.Write(data)
	return n, err
}
