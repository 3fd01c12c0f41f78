// Package keyderive implements the HKDF-based key derivation primitives
// (C1): import of raw key material, encryption-key derivation, ratchet,
// and random key generation. The salts below are an interoperability
// contract and must match bit-for-bit across implementations.
//
// Reference: lanikai/alohartc's internal/srtp key derivation (RFC 3711
// §4.3), generalized from an AES-CM master-secret expansion to
// HKDF-SHA-256, and from a single SRTP/SRTCP key pair to an open-ended
// ratchet chain.
package keyderive

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const (
	// MaterialSize is the length, in bytes, of a KeyMaterial value.
	MaterialSize = 32

	// EncryptionKeySize is the length, in bytes, of a derived AES-GCM-128 key.
	EncryptionKeySize = 16

	// saltEncryptionKey and saltRatchet are the fixed HKDF salts from the
	// interoperability contract. They must never change.
	saltEncryptionKey = "JFrameEncryptionKey"
	saltRatchet       = "JFrameRatchetKey"
)

// Material is a 256-bit symmetric secret used as HKDF input. It is
// treated as sensitive and must be zeroized once no longer needed.
type Material [MaterialSize]byte

// Zero overwrites the material in place. Callers that hold the last
// reference to a Material (e.g. a retired keyring.Entry) should call
// this before letting it go.
func (m *Material) Zero() {
	for i := range m {
		m[i] = 0
	}
}

// ImportMaterial wraps 32 raw bytes for use as HKDF input material. The
// caller's slice is copied; it does not alias the returned Material.
func ImportMaterial(raw []byte) (Material, error) {
	var m Material
	if len(raw) != MaterialSize {
		return m, errors.Errorf("key material must be %d bytes, got %d", MaterialSize, len(raw))
	}
	copy(m[:], raw)
	return m, nil
}

// GenerateRandomKey draws 32 bytes from a cryptographically secure RNG.
func GenerateRandomKey() (Material, error) {
	var m Material
	if _, err := io.ReadFull(rand.Reader, m[:]); err != nil {
		return m, errors.Wrap(err, "generate random key material")
	}
	return m, nil
}

// EncryptionKey is a 128-bit AES-GCM key derived from a Material. It is
// a plain byte array: any holder can read the raw key bytes (framecodec
// hands them straight to crypto/aes), so non-extractability is not
// enforced.
type EncryptionKey [EncryptionKeySize]byte

// DeriveEncryptionKey runs HKDF-SHA-256 over material with the fixed
// "JFrameEncryptionKey" salt and empty info, producing a 128-bit AES-GCM
// key. Failure here is a CryptoPrimitiveFailure and must be treated as
// fatal by the caller.
func DeriveEncryptionKey(material Material) (EncryptionKey, error) {
	var key EncryptionKey
	reader := hkdf.New(sha256.New, material[:], []byte(saltEncryptionKey), nil)
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, errors.Wrap(err, "derive encryption key")
	}
	return key, nil
}

// Ratchet derives the next KeyMaterial in a one-way forward chain via
// HKDF-SHA-256 with the fixed "JFrameRatchetKey" salt, empty info, and a
// 256-bit output reinterpreted as the next Material. Ratcheting cannot
// be reversed: a later Material gives no feasible path back to an
// earlier one.
func Ratchet(material Material) (Material, error) {
	var next Material
	reader := hkdf.New(sha256.New, material[:], []byte(saltRatchet), nil)
	if _, err := io.ReadFull(reader, next[:]); err != nil {
		return next, errors.Wrap(err, "ratchet key material")
	}
	return next, nil
}
