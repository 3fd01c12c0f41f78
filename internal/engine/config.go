package engine

import (
	"time"

	"github.com/cascadia-rtc/e2ee/internal/frameerror"
)

// Config carries the tunables recognized by the core (§6).
type Config struct {
	// RingSize is the number of simultaneously retained keys per
	// participant. Must be in (0, 256].
	RingSize int

	// RatchetDebounce and RotateDebounce bound how often the Key
	// Handler fires an automatic ratchet or rotation.
	RatchetDebounce time.Duration
	RotateDebounce  time.Duration

	// RedundancyLevel is the number of previous audio frames the RFC
	// 2198 encoder prepends to each outgoing frame.
	RedundancyLevel int

	// InnerOpusPayloadType is the RFC 2198 inner payload type tag.
	InnerOpusPayloadType uint8

	// MaxRemoteParticipants bounds the number of remote KeyRings held
	// at once; 0 means unbounded. When set, the least-recently-touched
	// participant's KeyRing is evicted (and its key material zeroized)
	// to cap memory in a session with many short-lived participants
	// that never send an explicit cleanup.
	MaxRemoteParticipants int
}

// DefaultConfig returns the configuration defaults named in §6.
func DefaultConfig() Config {
	return Config{
		RingSize:        16,
		RatchetDebounce: 5 * time.Second,
		RotateDebounce:  5 * time.Second,
		RedundancyLevel: 1,
	}
}

// Validate reports a ConfigurationError for any value outside the
// bounds the core can operate under; engine.New calls it, so such a
// configuration is rejected at initialization (§7).
func (c Config) Validate() error {
	if c.RingSize <= 0 || c.RingSize > 256 {
		return frameerror.New(frameerror.ConfigurationError, "ring_size must be in (0, 256]")
	}
	if c.RedundancyLevel < 0 {
		return frameerror.New(frameerror.ConfigurationError, "redundancy_level must be >= 0")
	}
	return nil
}
