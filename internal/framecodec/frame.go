// Package framecodec implements per-frame AES-GCM encryption (C3): IV
// construction from SSRC/timestamp/send-counter, codec-aware
// unencrypted-prefix handling, and the on-wire EncryptedFrame layout
//
//	prefix || ciphertext+tag || 12-byte IV || 1-byte key index
//
// Grounded in lanikai/alohartc's internal/srtp (Context.encrypt,
// generateCounter, updateRolloverCount, rtpMsg marshal/unmarshal),
// generalized from AES-CTR-with-separate-auth-tag to AES-GCM, and from
// a single long-lived SRTP key to the rotating keyring.Ring.
package framecodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/cascadia-rtc/e2ee/internal/frameerror"
	"github.com/cascadia-rtc/e2ee/internal/keyderive"
	"github.com/cascadia-rtc/e2ee/internal/keyring"
	"github.com/cascadia-rtc/e2ee/internal/packet"
)

// FrameKind classifies an encoded frame for the purpose of picking its
// unencrypted-prefix length.
type FrameKind uint8

const (
	FrameKeyVideo FrameKind = iota
	FrameDeltaVideo
	FrameAudio
)

// PrefixLen returns the number of leading bytes of the frame that stay
// in the clear (and are fed to AES-GCM as additional authenticated
// data) for this FrameKind.
func (k FrameKind) PrefixLen() int {
	switch k {
	case FrameKeyVideo:
		return 10
	case FrameDeltaVideo:
		return 3
	case FrameAudio:
		return 1
	default:
		return 1
	}
}

func (k FrameKind) String() string {
	switch k {
	case FrameKeyVideo:
		return "key_video"
	case FrameDeltaVideo:
		return "delta_video"
	case FrameAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ClassifyVP8FirstByte is the fallback classifier used when codec
// metadata doesn't say whether a VP8 frame is a keyframe: the low bit
// of the first payload byte is 0 for a key frame, 1 for a delta frame.
func ClassifyVP8FirstByte(firstByte byte) FrameKind {
	if firstByte&1 == 0 {
		return FrameKeyVideo
	}
	return FrameDeltaVideo
}

const (
	ivSize       = 12
	keyIndexSize = 1
	tagSize      = 16 // AES-GCM authentication tag
	// Decrypt's smallest accepted EncryptedFrame is the kind's prefix
	// plus tagSize (an empty plaintext still yields a tagSize-byte
	// ciphertext), ivSize and keyIndexSize.
)

// SendCounter tracks the per-SSRC 16-bit counter mixed into the IV. A
// new SSRC starts from a random offset so that restarting a stream
// never reuses (SSRC, counter) pairs from a crashed prior session at
// counter 0. Mirrors the per-SSRC ssrcState bookkeeping in
// alohartc's internal/srtp.Context.
type SendCounter struct {
	value uint16
}

// NewSendCounter draws a random 16-bit starting offset.
func NewSendCounter() (*SendCounter, error) {
	var b [2]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return nil, frameerror.Wrap(frameerror.CryptoPrimitiveFailure, err, "seed send counter")
	}
	return &SendCounter{value: binary.BigEndian.Uint16(b[:])}, nil
}

// Next returns the counter value to use for the next frame and
// increments it modulo 2^16.
func (c *SendCounter) Next() uint16 {
	v := c.value
	c.value++
	return v
}

// buildIV packs the 96-bit IV: SSRC || RTP timestamp || counter, all
// big-endian, per the interoperability contract (§4.3 / §6).
func buildIV(ssrc uint32, timestamp uint32, counter uint16) [ivSize]byte {
	var iv [ivSize]byte
	binary.BigEndian.PutUint32(iv[0:4], ssrc)
	binary.BigEndian.PutUint32(iv[4:8], timestamp)
	binary.BigEndian.PutUint32(iv[8:12], uint32(counter))
	return iv
}

func newAEAD(key keyderive.EncryptionKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, frameerror.Wrap(frameerror.CryptoPrimitiveFailure, err, "construct AES block cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, frameerror.Wrap(frameerror.CryptoPrimitiveFailure, err, "construct AES-GCM AEAD")
	}
	return aead, nil
}

// Encrypt transforms one outgoing encoded frame per §4.3. If ring has
// no current key (E2EE disabled, or not yet enabled), the frame is
// returned verbatim — transport-level protection only — matching the
// documented "E2EE disabled" fallback.
func Encrypt(ring *keyring.Ring, counter *SendCounter, ssrc uint32, timestamp uint32, kind FrameKind, frame []byte) ([]byte, error) {
	index, key, ok := ring.Current()
	if !ok {
		return frame, nil
	}

	prefixLen := kind.PrefixLen()
	if len(frame) < prefixLen {
		return nil, frameerror.New(frameerror.MalformedFrame, "frame shorter than its unencrypted prefix")
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	prefix := frame[:prefixLen]
	plaintext := frame[prefixLen:]
	iv := buildIV(ssrc, timestamp, counter.Next())
	ciphertext := aead.Seal(nil, iv[:], plaintext, prefix)

	w := packet.NewWriterSize(prefixLen + len(ciphertext) + ivSize + keyIndexSize)
	_ = w.WriteSlice(prefix)
	_ = w.WriteSlice(ciphertext)
	_ = w.WriteSlice(iv[:])
	w.WriteByte(index)

	return w.Bytes(), nil
}

// Decrypt transforms one incoming frame per §4.3. kind is the
// FrameKind as determined by codec metadata, or the VP8 first-byte
// fallback classification when metadata is absent.
//
// Returns (frame, KeyUnavailable-tagged error) for the graceful
// degradation case — the caller should emit the returned bytes
// (identical to the input) to the decoder and log at debug level, not
// treat this as a drop. All other non-nil errors mean "drop the
// frame": do not emit the returned (nil) bytes.
func Decrypt(ring *keyring.Ring, kind FrameKind, frame []byte) ([]byte, error) {
	if len(frame) < keyIndexSize {
		return nil, frameerror.New(frameerror.MalformedFrame, "frame too short to contain a key index")
	}

	index := frame[len(frame)-1]
	key, ok := ring.Get(index)
	if !ok {
		return frame, frameerror.New(frameerror.KeyUnavailable, "no key at the frame's key index")
	}

	prefixLen := kind.PrefixLen()
	minLen := prefixLen + tagSize + ivSize + keyIndexSize
	if len(frame) < minLen {
		return nil, frameerror.New(frameerror.MalformedFrame, "frame shorter than the minimum ciphertext envelope")
	}

	r := packet.NewReader(frame)
	prefix := r.ReadSlice(prefixLen)
	ciphertext := r.ReadSlice(len(frame) - prefixLen - ivSize - keyIndexSize)
	iv := r.ReadSlice(ivSize)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, prefix)
	if err != nil {
		return nil, frameerror.Wrap(frameerror.AuthenticationFailure, err, "GCM tag check failed")
	}

	out := make([]byte, 0, prefixLen+len(plaintext))
	out = append(out, prefix...)
	out = append(out, plaintext...)
	return out, nil
}
