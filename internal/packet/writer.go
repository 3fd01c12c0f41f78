// Package packet provides small fixed-capacity big-endian binary
// reader/writer helpers used to assemble and parse the wire layouts in
// framecodec and redundancy: encrypted-frame envelopes and RFC 2198
// block headers.
package packet

import (
	"fmt"
)

type Writer struct {
	buffer []byte
	offset int
}

func NewWriter(buffer []byte) *Writer {
	return &Writer{buffer, 0}
}

func NewWriterSize(n int) *Writer {
	return NewWriter(make([]byte, n))
}

func (w *Writer) WriteByte(v byte) {
	w.buffer[w.offset] = v
	w.offset++
}

func (w *Writer) WriteUint24(v uint32) {
	w.WriteByte(byte(v >> 16 & 0xff))
	w.WriteByte(byte(v >> 8 & 0xff))
	w.WriteByte(byte(v & 0xff))
}

// Write the given bytes, if there is enough room.
func (w *Writer) WriteSlice(p []byte) error {
	if err := w.CheckCapacity(len(p)); err != nil {
		return err
	}
	w.offset += copy(w.buffer[w.offset:], p)
	return nil
}

// Return the number of bytes that the underlying buffer can hold.
func (w *Writer) Capacity() int {
	return len(w.buffer)
}

func (w *Writer) CheckCapacity(needed int) error {
	if w.Capacity() < needed {
		return fmt.Errorf("%d bytes available, %d needed", w.Capacity(), needed)
	}
	return nil
}

// Return a slice of the bytes written so far.
func (w *Writer) Bytes() []byte {
	return w.buffer[0:w.offset]
}
