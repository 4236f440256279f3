// Package tinycompress is a minimal zlib-format writer for firmware use.
// It emits stored (uncompressed) DEFLATE blocks with a real Adler-32
// trailer, so any standard inflate on the host side accepts the stream.
// The data dictionary is small and sent once; compatibility matters more
// than ratio, and a full deflate would cost flash and RAM on the device.
package tinycompress

import (
	"hash"
	"hash/adler32"
	"io"
)

// Stored DEFLATE blocks carry at most 65535 bytes of payload.
const maxStoredBlock = 0xFFFF

// Writer accumulates input and emits a zlib stream on Close.
// It implements io.WriteCloser.
type Writer struct {
	output io.Writer
	buf    []byte
	adler  hash.Hash32
}

// NewWriter creates a zlib Writer over w. The buffer is sized generously
// up front: allocation during Write can stall the multicore scheduler.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		output: w,
		buf:    make([]byte, 0, 8192),
		adler:  adler32.New(),
	}
}

// Write accumulates input data.
func (w *Writer) Write(p []byte) (int, error) {
	if cap(w.buf) < len(w.buf)+len(p) {
		grown := make([]byte, len(w.buf), len(w.buf)+len(p))
		copy(grown, w.buf)
		w.buf = grown
	}
	w.buf = append(w.buf, p...)
	w.adler.Write(p)
	return len(p), nil
}

// Close writes the complete zlib stream: header, stored blocks, checksum.
func (w *Writer) Close() error {
	// zlib header: deflate, 32K window, default level check bits
	if _, err := w.output.Write([]byte{0x78, 0x9C}); err != nil {
		return err
	}

	data := w.buf
	for {
		n := len(data)
		if n > maxStoredBlock {
			n = maxStoredBlock
		}
		final := byte(0)
		if n == len(data) {
			final = 1 // BFINAL on the last block
		}

		// Stored block: BTYPE=00, then LEN and NLEN little-endian
		hdr := [5]byte{
			final,
			byte(n), byte(n >> 8),
			byte(^uint16(n)), byte(^uint16(n) >> 8),
		}
		if _, err := w.output.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := w.output.Write(data[:n]); err != nil {
			return err
		}

		data = data[n:]
		if final == 1 {
			break
		}
	}

	// Adler-32 trailer, big-endian
	sum := w.adler.Sum32()
	trailer := [4]byte{
		byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum),
	}
	_, err := w.output.Write(trailer[:])
	return err
}
