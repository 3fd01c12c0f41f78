// Package redundancy implements the RFC 2198 audio redundancy encoder
// (C5): wraps an outgoing opus frame with up to R previous frames so a
// receiver that loses one packet can still recover it from the next.
//
// Grounded in lanikai/alohartc's internal/rtp block-header packing
// idiom (fixed-width bitfields assembled with internal/packet.Writer),
// generalized from an RTP header extension to the RFC 2198 payload
// format.
package redundancy

import (
	"github.com/cascadia-rtc/e2ee/internal/packet"
)

const (
	headerSize     = 4 // (F,PT) + 14-bit offset + 10-bit length
	terminatorSize = 1 // (F,PT) only
	maxOffset      = 1 << 14 // 14-bit timestamp_offset field
	maxBlockLength = 1 << 10 // 10-bit block_length field
)

// frame is one previously encoded frame retained for possible
// redundant retransmission.
type frame struct {
	payload   []byte
	timestamp uint32
}

// Encoder buffers up to Level previous frames and prepends as many of
// them as still fit the RFC 2198 offset field to each outgoing frame.
// Owned by exactly one goroutine (the frame codec worker); no internal
// locking.
type Encoder struct {
	payloadType byte
	level       int
	buffer      []frame // oldest first
}

// New creates an Encoder that prepends up to level previous frames,
// tagging each redundant block with the given inner RFC 2198 payload
// type.
func New(payloadType byte, level int) *Encoder {
	return &Encoder{payloadType: payloadType, level: level}
}

// SetRedundancy resizes the retained-frame capacity to level. Growing
// keeps all currently buffered frames (they occupy the tail, i.e. the
// most-recent positions); shrinking drops the oldest frames first.
func (e *Encoder) SetRedundancy(level int) {
	e.level = level
	if excess := len(e.buffer) - level; excess > 0 {
		e.buffer = append([]frame(nil), e.buffer[excess:]...)
	}
}

// forwardOffset computes the positive 32-bit-wraparound-safe distance
// from older to newest, per §4.5's "(newest_ts - older_ts + 2^32) mod
// 2^32" rule. Go's uint32 subtraction already wraps modulo 2^32.
func forwardOffset(newest, older uint32) uint32 {
	return newest - older
}

// Encode wraps payload (timestamped ts) with as many buffered previous
// frames as still satisfy the 14-bit offset bound, emits the RFC 2198
// packet, and retains payload/ts for future redundancy. The encoder
// never blocks and never drops the current frame — only the amount of
// prepended redundancy varies.
func (e *Encoder) Encode(payload []byte, ts uint32) []byte {
	included := e.buffer[:0:0]
	for _, f := range e.buffer {
		if forwardOffset(ts, f.timestamp) < maxOffset {
			included = append(included, f)
		}
		// Older frames (earlier in e.buffer, since it's oldest-first)
		// that exceed the bound are silently truncated, and so are any
		// frames older than them — but the buffer is small (bounded by
		// the configured redundancy level) so a full scan is cheap and
		// simpler than reasoning about monotonicity short-circuits.
	}

	w := packet.NewWriterSize(e.encodedSize(included, len(payload)))
	for _, f := range included {
		offset := forwardOffset(ts, f.timestamp)
		writeHeader(w, e.payloadType, true, offset, len(f.payload))
	}
	writeHeader(w, e.payloadType, false, 0, 0)
	for _, f := range included {
		_ = w.WriteSlice(f.payload)
	}
	_ = w.WriteSlice(payload)

	e.push(payload, ts)
	return w.Bytes()
}

func (e *Encoder) encodedSize(included []frame, payloadLen int) int {
	size := terminatorSize + payloadLen
	for _, f := range included {
		size += headerSize + len(f.payload)
	}
	return size
}

func (e *Encoder) push(payload []byte, ts uint32) {
	if e.level <= 0 {
		e.buffer = e.buffer[:0]
		return
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	e.buffer = append(e.buffer, frame{payload: stored, timestamp: ts})
	if excess := len(e.buffer) - e.level; excess > 0 {
		e.buffer = e.buffer[excess:]
	}
}

// writeHeader packs a redundant-block header: 4 bytes (F=1, PT:7)
// (timestamp_offset:14, block_length:10) when more is true, or the
// 1-byte terminator (F=0, PT:7) for the newest block when more is
// false.
func writeHeader(w *packet.Writer, pt byte, more bool, offset uint32, blockLength int) {
	flagAndPT := pt & 0x7f
	if !more {
		w.WriteByte(flagAndPT)
		return
	}
	w.WriteByte(flagAndPT | 0x80)
	w.WriteUint24((uint32(offset&(maxOffset-1)) << 10) | uint32(blockLength&(maxBlockLength-1)))
}
