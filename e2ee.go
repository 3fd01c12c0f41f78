// Package e2ee is the public facade over the frame cryptography engine
// and key-management lifecycle (internal/engine, internal/keyhandler):
// everything else in this module lives under internal/ and is not
// importable outside it, so Client is the only thing a host
// application actually links against.
package e2ee

import (
	"context"

	"github.com/cascadia-rtc/e2ee/internal/engine"
	"github.com/cascadia-rtc/e2ee/internal/framecodec"
	"github.com/cascadia-rtc/e2ee/internal/keyderive"
	"github.com/cascadia-rtc/e2ee/internal/keyhandler"
	"github.com/cascadia-rtc/e2ee/internal/logging"
	"github.com/cascadia-rtc/e2ee/internal/metrics"
	"github.com/cascadia-rtc/e2ee/internal/signaling"
)

type (
	// ParticipantID identifies a conference participant; SelfParticipant
	// denotes the local sender.
	ParticipantID = engine.ParticipantID
	SSRC           = engine.SSRC
	RTPTimestamp   = engine.RTPTimestamp
	KeyIndex       = engine.KeyIndex
	FrameKind      = framecodec.FrameKind
	KeyMaterial    = keyderive.Material
	Config         = engine.Config
	Metrics        = metrics.Snapshot
	State          = keyhandler.State

	RemoteKeySource  = signaling.RemoteKeySource
	MembershipSource = signaling.MembershipSource
	KeyAnnouncer     = signaling.KeyAnnouncer
)

const (
	SelfParticipant = engine.SelfParticipant

	FrameKeyVideo   = framecodec.FrameKeyVideo
	FrameDeltaVideo = framecodec.FrameDeltaVideo
	FrameAudio      = framecodec.FrameAudio

	Disabled  = keyhandler.Disabled
	Enabling  = keyhandler.Enabling
	Enabled   = keyhandler.Enabled
	Disabling = keyhandler.Disabling
)

// DefaultConfig returns the recommended tunables (§6): ring_size 16,
// 5-second ratchet/rotate debounce, redundancy level 1.
func DefaultConfig() Config {
	return engine.DefaultConfig()
}

// GenerateRandomKey draws fresh local key material from a
// cryptographically secure RNG.
func GenerateRandomKey() (KeyMaterial, error) {
	return keyderive.GenerateRandomKey()
}

// Client is the per-conference handle: it owns the Engine/Worker and
// the Key Handler that drives it, and is the only type a host
// application needs to construct.
type Client struct {
	eng *engine.Engine
	kh  *keyhandler.KeyHandler
}

// New wires a Client to the host's signaling layer and starts its
// worker goroutine. The Client subscribes to membership and remote-key
// events immediately; call Enable to start encrypting.
func New(membership MembershipSource, keys RemoteKeySource, announcer KeyAnnouncer, config Config, logger *logging.Logger) (*Client, error) {
	eng, err := engine.New(config, logger)
	if err != nil {
		return nil, err
	}
	kh := keyhandler.New(eng, membership, keys, announcer, config, logger)
	return &Client{eng: eng, kh: kh}, nil
}

// Enable generates a fresh local key, announces it to the signaling
// layer, and blocks until that announcement succeeds before the
// engine starts encrypting (§4.4, §9).
func (c *Client) Enable(ctx context.Context) error {
	return c.kh.Enable(ctx)
}

// SetLocalKey and SetRemoteKey install key material directly, bypassing
// the Key Handler's generate-announce-enable lifecycle. Most hosts
// should drive key material through Enable and a real
// signaling.KeyAnnouncer/RemoteKeySource instead; these exist for
// callers that already manage key distribution themselves.
func (c *Client) SetLocalKey(material KeyMaterial, index KeyIndex) error {
	return c.eng.SetKey(SelfParticipant, material, index)
}

func (c *Client) SetRemoteKey(participant ParticipantID, material KeyMaterial, index KeyIndex) error {
	return c.eng.SetKey(participant, material, index)
}

// SetEnabled directly toggles frame encryption without going through
// Enable/Disable's announce step. See SetLocalKey.
func (c *Client) SetEnabled(enabled bool) error {
	return c.eng.SetEnabled(enabled)
}

// Disable clears every KeyRing and stops encrypting.
func (c *Client) Disable() error {
	return c.kh.Disable()
}

// State reports the Key Handler's current lifecycle state.
func (c *Client) State() State {
	return c.kh.State()
}

// InstallSendPipeline registers ssrc as an outgoing stream to encrypt.
func (c *Client) InstallSendPipeline(ssrc SSRC) error {
	return c.eng.InstallSendPipeline(ssrc)
}

// InstallReceivePipeline registers participant as an incoming stream
// to decrypt.
func (c *Client) InstallReceivePipeline(participant ParticipantID) error {
	return c.eng.InstallReceivePipeline(participant)
}

// EncryptFrame transforms one outgoing encoded frame per §4.3.
func (c *Client) EncryptFrame(ssrc SSRC, timestamp RTPTimestamp, kind FrameKind, frame []byte) ([]byte, error) {
	return c.eng.EncryptFrame(ssrc, timestamp, kind, frame)
}

// DecryptFrame transforms one incoming encoded frame per §4.3.
func (c *Client) DecryptFrame(participant ParticipantID, kind FrameKind, frame []byte) ([]byte, error) {
	return c.eng.DecryptFrame(participant, kind, frame)
}

// WrapAudioRedundancy applies the RFC 2198 redundancy encoder (§4.5)
// to one outgoing Opus frame.
func (c *Client) WrapAudioRedundancy(ssrc SSRC, timestamp RTPTimestamp, payload []byte) ([]byte, error) {
	return c.eng.WrapAudioRedundancy(ssrc, timestamp, payload)
}

// SetRedundancyLevel reconfigures every SSRC's redundancy encoder.
func (c *Client) SetRedundancyLevel(level int) error {
	return c.eng.SetRedundancyLevel(level)
}

// Cleanup removes one participant's KeyRing, e.g. on an explicit
// removal outside the normal participant_left flow.
func (c *Client) Cleanup(participant ParticipantID) error {
	return c.eng.Cleanup(participant)
}

// Metrics reports the engine's accrued frame-outcome counters (§7).
func (c *Client) Metrics() Metrics {
	return c.eng.Metrics()
}

// Errors delivers fatal engine failures (CryptoPrimitiveFailure,
// ConfigurationError).
func (c *Client) Errors() <-chan error {
	return c.eng.Errors()
}

// KeyHandlerErrors delivers fatal failures from ratchet/rotate
// derivation, distinct from Errors since they originate on the Key
// Handler's own debounce-timer goroutines rather than the worker.
func (c *Client) KeyHandlerErrors() <-chan error {
	return c.kh.Errors()
}

// Stop terminates the worker goroutine and unblocks any call
// in flight.
func (c *Client) Stop() {
	c.eng.Stop()
}
