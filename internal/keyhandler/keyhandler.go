// Package keyhandler implements the Key Handler lifecycle state machine
// (C4): disabled/enabling/enabled/disabling, join/leave-triggered
// ratchet and rotate with debouncing, and the "announce then install"
// ordering contract that closes the race where a sender could encrypt
// with a key before any receiver has it.
//
// The Key Handler never touches KeyRing memory directly (§5): it keeps
// its own copy of the local key material so it can derive the next
// ratchet/rotate step, and hands the result to the Engine/Worker (C6)
// through SetKey, which owns the actual ring.
package keyhandler

import (
	"context"
	"sync"
	"time"

	"github.com/cascadia-rtc/e2ee/internal/engine"
	"github.com/cascadia-rtc/e2ee/internal/frameerror"
	"github.com/cascadia-rtc/e2ee/internal/keyderive"
	"github.com/cascadia-rtc/e2ee/internal/logging"
	"github.com/cascadia-rtc/e2ee/internal/signaling"
)

// State is one of the four lifecycle states from §4.4.
type State int

const (
	Disabled State = iota
	Enabling
	Enabled
	Disabling
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabling:
		return "enabling"
	case Enabled:
		return "enabled"
	case Disabling:
		return "disabling"
	default:
		return "unknown"
	}
}

// KeyHandler drives local key lifecycle and reacts to membership and
// remote key events. Enable, Disable, State, ParticipantJoined,
// ParticipantLeft and the debounce timer callbacks share kh.mu and hold
// it for their whole run, including their calls to the Engine and, in
// Enable, the blocking announce. RemoteKeyAnnounced does not take it,
// and the announcements sent after a ratchet or rotate run on their own
// goroutine without it.
type KeyHandler struct {
	eng       *engine.Engine
	announcer signaling.KeyAnnouncer
	config    engine.Config
	logger    *logging.Logger

	errc chan error

	mu           sync.Mutex
	state        State
	localJoined  bool
	current      keyderive.Material
	currentIndex engine.KeyIndex
	ratchetTimer *time.Timer
	rotateTimer  *time.Timer
}

// New creates a KeyHandler in the Disabled state and subscribes to
// membership and remote-key events.
func New(eng *engine.Engine, membership signaling.MembershipSource, keys signaling.RemoteKeySource, announcer signaling.KeyAnnouncer, config engine.Config, logger *logging.Logger) *KeyHandler {
	if logger == nil {
		logger = logging.DefaultLogger
	}
	kh := &KeyHandler{
		eng:       eng,
		announcer: announcer,
		config:    config,
		logger:    logger.Named("keyhandler"),
		errc:      make(chan error, 1),
	}
	membership.OnJoin(kh.ParticipantJoined)
	membership.OnLeave(kh.ParticipantLeft)
	keys.OnRemoteKey(kh.RemoteKeyAnnounced)
	return kh
}

// Errors delivers fatal (CryptoPrimitiveFailure/ConfigurationError)
// failures from ratchet/rotate derivation, per §7.
func (kh *KeyHandler) Errors() <-chan error {
	return kh.errc
}

// State reports the current lifecycle state.
func (kh *KeyHandler) State() State {
	kh.mu.Lock()
	defer kh.mu.Unlock()
	return kh.state
}

func (kh *KeyHandler) fail(err error) {
	ferr, ok := err.(*frameerror.Error)
	if !ok {
		ferr = frameerror.Wrap(frameerror.CryptoPrimitiveFailure, err, "key handler")
	}
	kh.logger.Error("%v", ferr)
	select {
	case kh.errc <- ferr:
	default:
	}
}

// Enable transitions disabled → enabling → enabled: a fresh local key
// is generated, installed at index 0, and announced to the signaling
// layer — which must succeed — before the engine actually starts
// encrypting with it. This ordering is a hard contract (§9): it is an
// error to let install_send_pipeline encrypt with a key no receiver
// has had the chance to learn yet.
func (kh *KeyHandler) Enable(ctx context.Context) error {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if kh.state != Disabled {
		return frameerror.New(frameerror.ConfigurationError, "enable called outside the disabled state")
	}
	kh.state = Enabling

	material, err := keyderive.GenerateRandomKey()
	if err != nil {
		kh.state = Disabled
		ferr := frameerror.Wrap(frameerror.CryptoPrimitiveFailure, err, "generate local key")
		kh.fail(ferr)
		return ferr
	}

	if err := kh.eng.SetKey(engine.SelfParticipant, material, 0); err != nil {
		kh.state = Disabled
		return err
	}

	if err := kh.announcer.AnnounceLocalKey(ctx, material, 0); err != nil {
		// Transient signaling failure: state reverts to disabled but
		// the engine's current key, never activated, is harmless.
		kh.state = Disabled
		return err
	}

	if err := kh.eng.SetEnabled(true); err != nil {
		kh.state = Disabled
		return err
	}

	kh.current = material
	kh.currentIndex = 0
	kh.localJoined = false
	kh.state = Enabled
	return nil
}

// Disable transitions enabled → disabling → disabled: every KeyRing is
// cleared and pending debounce timers are cancelled.
func (kh *KeyHandler) Disable() error {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if kh.state != Enabled {
		return nil
	}
	kh.state = Disabling
	kh.cancelTimersLocked()

	if err := kh.eng.CleanupAll(); err != nil {
		kh.state = Disabled
		return err
	}
	if err := kh.eng.SetEnabled(false); err != nil {
		kh.state = Disabled
		return err
	}

	kh.current.Zero()
	kh.state = Disabled
	return nil
}

func (kh *KeyHandler) cancelTimersLocked() {
	if kh.ratchetTimer != nil {
		kh.ratchetTimer.Stop()
		kh.ratchetTimer = nil
	}
	if kh.rotateTimer != nil {
		kh.rotateTimer.Stop()
		kh.rotateTimer = nil
	}
}

func (kh *KeyHandler) nextIndexLocked() engine.KeyIndex {
	return engine.KeyIndex((int(kh.currentIndex) + 1) % kh.config.RingSize)
}

// ParticipantJoined marks the local participant as joined (when id is
// engine.SelfParticipant) or, for a remote participant while enabled
// and after the local participant has joined, schedules a debounced
// ratchet of the local key (§4.4).
func (kh *KeyHandler) ParticipantJoined(id engine.ParticipantID) {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if id == engine.SelfParticipant {
		kh.localJoined = true
		return
	}
	if kh.state != Enabled || !kh.localJoined {
		return
	}

	if kh.ratchetTimer != nil {
		kh.ratchetTimer.Stop()
	}
	kh.ratchetTimer = time.AfterFunc(kh.config.RatchetDebounce, kh.performRatchet)
}

// ParticipantLeft clears the remote's KeyRing immediately and, while
// enabled, schedules a debounced rotation of the local key (§4.4).
func (kh *KeyHandler) ParticipantLeft(id engine.ParticipantID) {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if err := kh.eng.Cleanup(id); err != nil {
		kh.fail(err)
	}
	if kh.state != Enabled {
		return
	}

	if kh.rotateTimer != nil {
		kh.rotateTimer.Stop()
	}
	kh.rotateTimer = time.AfterFunc(kh.config.RotateDebounce, kh.performRotate)
}

// RemoteKeyAnnounced forwards a remote_key_update straight to the
// engine's KeyRing for that participant (§4.4: "forward to C2").
func (kh *KeyHandler) RemoteKeyAnnounced(participant engine.ParticipantID, material keyderive.Material, index engine.KeyIndex) {
	if err := kh.eng.SetKey(participant, material, index); err != nil {
		kh.fail(err)
	}
}

// performRatchet runs on the debounce timer's own goroutine; only one
// fires per debounce window since a new join restarts the timer rather
// than starting a second one.
func (kh *KeyHandler) performRatchet() {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if kh.state != Enabled {
		return
	}
	next, err := keyderive.Ratchet(kh.current)
	if err != nil {
		kh.fail(err)
		return
	}
	index := kh.nextIndexLocked()
	if err := kh.eng.SetKey(engine.SelfParticipant, next, index); err != nil {
		kh.fail(err)
		return
	}
	kh.announceAsync(next, index)
	kh.current = next
	kh.currentIndex = index
	kh.logger.Debug("ratcheted local key to index %d", index)
}

// performRotate runs on the debounce timer's own goroutine.
func (kh *KeyHandler) performRotate() {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if kh.state != Enabled {
		return
	}
	next, err := keyderive.GenerateRandomKey()
	if err != nil {
		kh.fail(err)
		return
	}
	index := kh.nextIndexLocked()
	if err := kh.eng.SetKey(engine.SelfParticipant, next, index); err != nil {
		kh.fail(err)
		return
	}
	kh.announceAsync(next, index)
	kh.current = next
	kh.currentIndex = index
	kh.logger.Debug("rotated local key to index %d", index)
}

// announceAsync tells the signaling layer about a ratcheted/rotated
// key without blocking the worker or holding kh.mu — unlike the
// initial enable() announcement, a momentary delay here only widens
// the "glitchy until key propagates" window §7 already documents as
// expected, rather than creating the encrypt-before-announce race.
func (kh *KeyHandler) announceAsync(material keyderive.Material, index engine.KeyIndex) {
	go func() {
		if err := kh.announcer.AnnounceLocalKey(context.Background(), material, index); err != nil {
			kh.logger.Warn("announce key at index %d: %v", index, err)
		}
	}()
}
