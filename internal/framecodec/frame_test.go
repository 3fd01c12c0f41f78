package framecodec

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadia-rtc/e2ee/internal/frameerror"
	"github.com/cascadia-rtc/e2ee/internal/keyderive"
	"github.com/cascadia-rtc/e2ee/internal/keyring"
)

func incrementingMaterial(t *testing.T) keyderive.Material {
	t.Helper()
	var m keyderive.Material
	for i := range m {
		m[i] = byte(i + 1) // 0x01 .. 0x20
	}
	return m
}

// Scenario 1 from the test-vector table: exact wire bytes for a single
// audio frame encrypted with index 0, send_counter starting at 0.
func TestEncryptScenario1ExactBytes(t *testing.T) {
	ring := keyring.New(16)
	require.NoError(t, ring.Set(0, incrementingMaterial(t)))

	counter := &SendCounter{value: 0}

	out, err := Encrypt(ring, counter, 0x11223344, 0xAABBCCDD, FrameAudio, []byte{0x42, 0x43, 0x44})
	require.NoError(t, err)

	require.Equal(t, byte(0x42), out[0], "unencrypted 1-byte prefix")
	require.Len(t, out, 1+18+12+1, "prefix + ciphertext&tag + iv + key index")

	iv := out[1+18 : 1+18+12]
	require.Equal(t, "11223344aabbccdd00000000", hex.EncodeToString(iv))

	require.Equal(t, byte(0x00), out[len(out)-1], "key index")
}

func TestRoundTripScenario1(t *testing.T) {
	sendRing := keyring.New(16)
	require.NoError(t, sendRing.Set(0, incrementingMaterial(t)))
	recvRing := keyring.New(16)
	require.NoError(t, recvRing.Set(0, incrementingMaterial(t)))

	counter := &SendCounter{value: 0}
	encrypted, err := Encrypt(sendRing, counter, 0x11223344, 0xAABBCCDD, FrameAudio, []byte{0x42, 0x43, 0x44})
	require.NoError(t, err)

	decrypted, err := Decrypt(recvRing, FrameAudio, encrypted)
	require.NoError(t, err)
	require.Equal(t, []byte{0x42, 0x43, 0x44}, decrypted)
}

// P1: round-trip for varying materials, SSRCs, timestamps, payloads and
// frame kinds, as long as both sides agree on (key_index, material).
func TestRoundTripProperty(t *testing.T) {
	kinds := []FrameKind{FrameKeyVideo, FrameDeltaVideo, FrameAudio}
	payloads := [][]byte{
		{0x01},
		{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11, 0x12, 0x13, 0x14},
		make([]byte, 200),
	}

	for _, kind := range kinds {
		for pi, payload := range payloads {
			if len(payload) < kind.PrefixLen() {
				continue
			}
			sendRing := keyring.New(16)
			require.NoError(t, sendRing.Set(7, incrementingMaterial(t)))
			recvRing := keyring.New(16)
			require.NoError(t, recvRing.Set(7, incrementingMaterial(t)))

			counter := &SendCounter{value: 1000}
			encrypted, err := Encrypt(sendRing, counter, 0xCAFEBABE, uint32(pi*960), kind, payload)
			require.NoError(t, err)

			decrypted, err := Decrypt(recvRing, kind, encrypted)
			require.NoError(t, err)
			require.Equal(t, payload, decrypted)
		}
	}
}

// P2: flipping any bit in the unencrypted prefix causes an
// AuthenticationFailure.
func TestAADBindingPreventsPrefixTampering(t *testing.T) {
	sendRing := keyring.New(16)
	require.NoError(t, sendRing.Set(0, incrementingMaterial(t)))
	recvRing := keyring.New(16)
	require.NoError(t, recvRing.Set(0, incrementingMaterial(t)))

	counter := &SendCounter{value: 0}
	encrypted, err := Encrypt(sendRing, counter, 1, 2, FrameDeltaVideo, []byte{0x01, 0x02, 0x03, 0x04, 0x05})
	require.NoError(t, err)

	tampered := append([]byte(nil), encrypted...)
	tampered[0] ^= 0x01

	_, err = Decrypt(recvRing, FrameDeltaVideo, tampered)
	require.Error(t, err)
	require.True(t, frameerror.Is(err, frameerror.AuthenticationFailure))
}

// P3: within a single (key_index, SSRC), the IV must not repeat over
// the full 16-bit counter cycle even as the timestamp varies.
func TestIVUniquenessAcrossCounterCycle(t *testing.T) {
	ring := keyring.New(16)
	require.NoError(t, ring.Set(0, incrementingMaterial(t)))
	counter := &SendCounter{value: 0}

	seen := make(map[[ivSize]byte]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		ts := uint32(i * 3000)
		iv := buildIV(0x11223344, ts, counter.Next())
		_, dup := seen[iv]
		require.False(t, dup, "IV repeated at iteration %d", i)
		seen[iv] = struct{}{}
	}
}

func TestDecryptKeyUnavailablePassesThroughVerbatim(t *testing.T) {
	ring := keyring.New(16)
	// No key ever set.
	frame := []byte{0x01, 0x02, 0x03, 0x09}
	out, err := Decrypt(ring, FrameAudio, frame)
	require.Error(t, err)
	require.True(t, frameerror.Is(err, frameerror.KeyUnavailable))
	require.Equal(t, frame, out)
}

func TestDecryptMalformedFrameIsDropped(t *testing.T) {
	ring := keyring.New(16)
	require.NoError(t, ring.Set(0, incrementingMaterial(t)))

	// Index 0 exists, but the frame is far too short for any envelope.
	frame := []byte{0x00}
	_, err := Decrypt(ring, FrameAudio, frame)
	require.Error(t, err)
	require.True(t, frameerror.Is(err, frameerror.MalformedFrame))
}

func TestEncryptWithoutKeyIsVerbatim(t *testing.T) {
	ring := keyring.New(16)
	counter := &SendCounter{value: 0}
	payload := []byte{0x01, 0x02, 0x03}

	out, err := Encrypt(ring, counter, 1, 2, FrameAudio, payload)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestClassifyVP8FirstByte(t *testing.T) {
	require.Equal(t, FrameKeyVideo, ClassifyVP8FirstByte(0x00))
	require.Equal(t, FrameDeltaVideo, ClassifyVP8FirstByte(0x01))
}

// Key rollover: sender advances to index 1; a receiver holding only
// index 1 cannot decrypt a frame sent while index 0 was current.
func TestKeyRolloverReceiverWithOnlyNewIndex(t *testing.T) {
	sendRing := keyring.New(16)
	require.NoError(t, sendRing.Set(0, incrementingMaterial(t)))
	counter := &SendCounter{value: 0}

	firstFrame, err := Encrypt(sendRing, counter, 1, 100, FrameAudio, []byte{0x01})
	require.NoError(t, err)

	material1, err := keyderive.GenerateRandomKey()
	require.NoError(t, err)
	require.NoError(t, sendRing.Set(1, material1))

	secondFrame, err := Encrypt(sendRing, counter, 1, 200, FrameAudio, []byte{0x02})
	require.NoError(t, err)

	// Receiver only has index 1.
	recvRing := keyring.New(16)
	require.NoError(t, recvRing.Set(1, material1))

	_, err = Decrypt(recvRing, FrameAudio, firstFrame)
	require.True(t, frameerror.Is(err, frameerror.KeyUnavailable))

	decrypted, err := Decrypt(recvRing, FrameAudio, secondFrame)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, decrypted)
}
