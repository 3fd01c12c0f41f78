// Package frameerror defines the five error kinds from the core's error
// handling design (KeyUnavailable, AuthenticationFailure, MalformedFrame,
// CryptoPrimitiveFailure, ConfigurationError) and the policy each one
// carries: the first three concern a single frame, are counted and
// logged by the worker and returned to the caller of that frame's
// transform, and are never reported on the engine's fatal-error
// channel; the last two are fatal and propagate to the conference layer.
package frameerror

import (
	"errors"
	"fmt"
)

// Kind identifies one of the five error categories the core recognizes.
type Kind int

const (
	// KeyUnavailable: decrypt requested with no key at the stated index.
	// Policy: pass the frame through unchanged; log at debug level.
	KeyUnavailable Kind = iota

	// AuthenticationFailure: the GCM tag check failed.
	// Policy: drop the frame; increment a counter.
	AuthenticationFailure

	// MalformedFrame: shorter than the minimum possible ciphertext envelope.
	// Policy: drop; increment a counter.
	MalformedFrame

	// CryptoPrimitiveFailure: HKDF or AES-GCM unexpectedly errored.
	// Policy: fatal for the pipeline; surfaces upward.
	CryptoPrimitiveFailure

	// ConfigurationError: inconsistent ring size or invalid key index.
	// Policy: fatal at initialization.
	ConfigurationError
)

func (k Kind) String() string {
	switch k {
	case KeyUnavailable:
		return "KeyUnavailable"
	case AuthenticationFailure:
		return "AuthenticationFailure"
	case MalformedFrame:
		return "MalformedFrame"
	case CryptoPrimitiveFailure:
		return "CryptoPrimitiveFailure"
	case ConfigurationError:
		return "ConfigurationError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Fatal reports whether this kind must propagate to the conference
// layer (engine-level) rather than stay local to one frame.
func (k Kind) Fatal() bool {
	return k == CryptoPrimitiveFailure || k == ConfigurationError
}

// Error wraps an underlying cause with one of the five Kinds.
type Error struct {
	Kind Kind
	msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap builds a Kind-tagged error around an underlying cause.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, msg: msg, Err: err}
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// needed so callers can use frameerror.Is(err, frameerror.MalformedFrame).
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
