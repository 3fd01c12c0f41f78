// Package metrics holds the frame-drop and failure counters the engine
// increments per the error handling design (§7): one counter per
// AuthenticationFailure and MalformedFrame event. Counters are read
// concurrently by the CLI/operator surface while the worker goroutine
// increments them, so they use atomic operations rather than the
// worker's otherwise lock-free single-owner model.
//
// Grounded in the PipelineMetrics counters from the shadowmesh
// frame-encryption pipeline reference (encryptedCount/decryptedCount/
// droppedCount), generalized to the five-kind error taxonomy.
package metrics

import "sync/atomic"

// Counters tracks frame outcomes for one engine instance.
type Counters struct {
	authFailures    uint64
	malformedFrames uint64
	keyUnavailable  uint64
	framesEncrypted uint64
	framesDecrypted uint64
}

// IncAuthFailure records a dropped frame that failed GCM tag
// verification.
func (c *Counters) IncAuthFailure() {
	atomic.AddUint64(&c.authFailures, 1)
}

// IncMalformedFrame records a dropped frame shorter than the minimum
// ciphertext envelope.
func (c *Counters) IncMalformedFrame() {
	atomic.AddUint64(&c.malformedFrames, 1)
}

// IncKeyUnavailable records a frame passed through unencrypted because
// no key was present at its key index.
func (c *Counters) IncKeyUnavailable() {
	atomic.AddUint64(&c.keyUnavailable, 1)
}

// IncEncrypted records one successfully encrypted outgoing frame.
func (c *Counters) IncEncrypted() {
	atomic.AddUint64(&c.framesEncrypted, 1)
}

// IncDecrypted records one successfully decrypted incoming frame.
func (c *Counters) IncDecrypted() {
	atomic.AddUint64(&c.framesDecrypted, 1)
}

// Snapshot is a point-in-time copy of Counters safe to print or compare.
type Snapshot struct {
	AuthFailures    uint64
	MalformedFrames uint64
	KeyUnavailable  uint64
	FramesEncrypted uint64
	FramesDecrypted uint64
}

// Snapshot reads all counters atomically with respect to each other's
// source field, though not as a single atomic transaction across
// fields — acceptable for observability counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		AuthFailures:    atomic.LoadUint64(&c.authFailures),
		MalformedFrames: atomic.LoadUint64(&c.malformedFrames),
		KeyUnavailable:  atomic.LoadUint64(&c.keyUnavailable),
		FramesEncrypted: atomic.LoadUint64(&c.framesEncrypted),
		FramesDecrypted: atomic.LoadUint64(&c.framesDecrypted),
	}
}
