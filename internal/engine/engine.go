// Package engine implements the Engine/Worker (C6): a single-goroutine
// message-passing worker owning every participant's KeyRing, the
// per-SSRC send counters, and the RFC 2198 redundancy encoders. The Key
// Handler talks to it exclusively through the methods below, each of
// which enqueues a command and — where the operation is fallible —
// waits for the worker to process it, preserving strict send order
// between key-management commands and frame transforms (§5: "set_key
// messages are applied in the order received relative to frame
// processing on the same worker").
//
// Grounded in the goroutine-pipeline idiom of the shadowmesh
// frame-encryption pipeline reference (channels, context/cancel
// lifecycle, atomic-backed metrics), adapted from a two-goroutine
// encrypt/decrypt split to a single worker goroutine so that ordering
// between set_key and frame processing holds without extra locking.
package engine

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/cascadia-rtc/e2ee/internal/frameerror"
	"github.com/cascadia-rtc/e2ee/internal/framecodec"
	"github.com/cascadia-rtc/e2ee/internal/keyderive"
	"github.com/cascadia-rtc/e2ee/internal/keyring"
	"github.com/cascadia-rtc/e2ee/internal/logging"
	"github.com/cascadia-rtc/e2ee/internal/metrics"
	"github.com/cascadia-rtc/e2ee/internal/redundancy"
)

// command is the marker interface for every message the worker
// goroutine accepts on its single channel.
type command interface{ isCommand() }

type installSendCmd struct {
	ssrc SSRC
	done chan<- error
}

func (installSendCmd) isCommand() {}

type installReceiveCmd struct {
	participant ParticipantID
	done        chan<- error
}

func (installReceiveCmd) isCommand() {}

type setKeyCmd struct {
	participant ParticipantID
	material    keyderive.Material
	index       KeyIndex
	done        chan<- error
}

func (setKeyCmd) isCommand() {}

type cleanupCmd struct {
	participant ParticipantID
}

func (cleanupCmd) isCommand() {}

type cleanupAllCmd struct{}

func (cleanupAllCmd) isCommand() {}

type setEnabledCmd struct {
	enabled bool
}

func (setEnabledCmd) isCommand() {}

type setRedundancyCmd struct {
	level int
}

func (setRedundancyCmd) isCommand() {}

type encryptCmd struct {
	ssrc      SSRC
	timestamp RTPTimestamp
	kind      framecodec.FrameKind
	frame     []byte
	result    chan<- encryptResult
}

func (encryptCmd) isCommand() {}

type encryptResult struct {
	frame []byte
	err   error
}

type wrapRedundancyCmd struct {
	ssrc      SSRC
	timestamp RTPTimestamp
	payload   []byte
	result    chan<- []byte
}

func (wrapRedundancyCmd) isCommand() {}

type decryptCmd struct {
	participant ParticipantID
	kind        framecodec.FrameKind
	frame       []byte
	result      chan<- decryptResult
}

func (decryptCmd) isCommand() {}

type decryptResult struct {
	frame []byte
	err   error
}

// Engine is the worker. All fields below the channel/lifecycle section
// are touched only from the run() goroutine — no mutex guards them.
type Engine struct {
	config  Config
	logger  *logging.Logger
	metrics *metrics.Counters

	cmds chan command
	errc chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	enabled  bool
	selfRing *keyring.Ring

	// remoteRings is the source of truth for per-participant state — it
	// supports enumeration, which groupcache/lru's Cache does not.
	// ringLRU tracks recency over the same key set purely to drive
	// bounded eviction; its OnEvicted hook is what actually removes an
	// entry from remoteRings and zeroizes its key material.
	remoteRings map[ParticipantID]*keyring.Ring
	ringLRU     *lru.Cache

	sendCounters       map[SSRC]*framecodec.SendCounter
	redundancyEncoders map[SSRC]*redundancy.Encoder
}

// New validates config, starts the worker goroutine, and returns the
// running Engine.
func New(config Config, logger *logging.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:             config,
		logger:             logger.Named("engine"),
		metrics:            new(metrics.Counters),
		cmds:               make(chan command, 64),
		errc:               make(chan error, 1),
		ctx:                ctx,
		cancel:             cancel,
		selfRing:           keyring.New(config.RingSize),
		remoteRings:        make(map[ParticipantID]*keyring.Ring),
		sendCounters:       make(map[SSRC]*framecodec.SendCounter),
		redundancyEncoders: make(map[SSRC]*redundancy.Encoder),
	}
	e.ringLRU = &lru.Cache{
		MaxEntries: config.MaxRemoteParticipants,
		OnEvicted: func(key lru.Key, _ interface{}) {
			participant := key.(ParticipantID)
			if ring, ok := e.remoteRings[participant]; ok {
				ring.ClearAll()
				delete(e.remoteRings, participant)
			}
		},
	}

	e.wg.Add(1)
	go e.run()
	return e, nil
}

// Errors delivers engine-level (CryptoPrimitiveFailure,
// ConfigurationError) failures, per §7: "may disable E2EE for the
// session" is the caller's decision, not this package's.
func (e *Engine) Errors() <-chan error {
	return e.errc
}

// Metrics returns a snapshot of frame outcome counters.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.metrics.Snapshot()
}

// Stop cancels the worker goroutine and waits for it to exit. Any
// commands still queued are dropped; KeyRing memory is released with
// the Engine, satisfying §9's "no explicit finalization is needed from
// the outside besides cleanup_all" — Stop is the final such step.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case cmd := <-e.cmds:
			e.dispatch(cmd)
		}
	}
}

func (e *Engine) fail(err *frameerror.Error) {
	if err == nil || !err.Kind.Fatal() {
		return
	}
	e.logger.Error("%v", err)
	select {
	case e.errc <- err:
	default:
	}
}

func (e *Engine) ringFor(participant ParticipantID) *keyring.Ring {
	if participant == SelfParticipant {
		return e.selfRing
	}
	if ring, ok := e.remoteRings[participant]; ok {
		e.ringLRU.Add(participant, ring) // touch: mark recently used
		return ring
	}
	ring := keyring.New(e.config.RingSize)
	e.remoteRings[participant] = ring
	e.ringLRU.Add(participant, ring)
	return ring
}

func (e *Engine) clearAllRings() {
	e.selfRing.ClearAll()
	for participant, ring := range e.remoteRings {
		ring.ClearAll()
		e.ringLRU.Remove(participant)
	}
	e.remoteRings = make(map[ParticipantID]*keyring.Ring)
	e.sendCounters = make(map[SSRC]*framecodec.SendCounter)
	e.redundancyEncoders = make(map[SSRC]*redundancy.Encoder)
}

func (e *Engine) dispatch(cmd command) {
	switch c := cmd.(type) {
	case installSendCmd:
		e.handleInstallSend(c)
	case installReceiveCmd:
		e.ringFor(c.participant)
		c.done <- nil
	case setKeyCmd:
		e.handleSetKey(c)
	case cleanupCmd:
		if c.participant == SelfParticipant {
			e.selfRing.ClearAll()
			return
		}
		// ringLRU.Remove triggers OnEvicted, which clears the ring and
		// removes it from remoteRings — a no-op if never installed.
		e.ringLRU.Remove(c.participant)
	case cleanupAllCmd:
		e.clearAllRings()
	case setEnabledCmd:
		e.enabled = c.enabled
		if !c.enabled {
			e.clearAllRings()
		}
	case setRedundancyCmd:
		e.config.RedundancyLevel = c.level
		for _, enc := range e.redundancyEncoders {
			enc.SetRedundancy(c.level)
		}
	case encryptCmd:
		e.handleEncrypt(c)
	case wrapRedundancyCmd:
		c.result <- e.redundancyEncoderFor(c.ssrc).Encode(c.payload, uint32(c.timestamp))
	case decryptCmd:
		e.handleDecrypt(c)
	}
}

func (e *Engine) handleInstallSend(c installSendCmd) {
	if _, exists := e.sendCounters[c.ssrc]; exists {
		c.done <- nil
		return
	}
	counter, err := framecodec.NewSendCounter()
	if err != nil {
		ferr, _ := err.(*frameerror.Error)
		e.fail(ferr)
		c.done <- err
		return
	}
	e.sendCounters[c.ssrc] = counter
	c.done <- nil
}

func (e *Engine) handleSetKey(c setKeyCmd) {
	ring := e.ringFor(c.participant)
	if err := ring.Set(uint8(c.index), c.material); err != nil {
		ferr := frameerror.Wrap(frameerror.CryptoPrimitiveFailure, err, "derive key for ring slot")
		e.fail(ferr)
		c.done <- ferr
		return
	}
	c.done <- nil
}

func (e *Engine) redundancyEncoderFor(ssrc SSRC) *redundancy.Encoder {
	if enc, ok := e.redundancyEncoders[ssrc]; ok {
		return enc
	}
	enc := redundancy.New(e.config.InnerOpusPayloadType, e.config.RedundancyLevel)
	e.redundancyEncoders[ssrc] = enc
	return enc
}

func (e *Engine) handleEncrypt(c encryptCmd) {
	if !e.enabled {
		c.result <- encryptResult{frame: c.frame}
		return
	}

	counter, ok := e.sendCounters[c.ssrc]
	if !ok {
		var err error
		counter, err = framecodec.NewSendCounter()
		if err != nil {
			ferr, _ := err.(*frameerror.Error)
			e.fail(ferr)
			c.result <- encryptResult{err: err}
			return
		}
		e.sendCounters[c.ssrc] = counter
	}

	out, err := framecodec.Encrypt(e.selfRing, counter, uint32(c.ssrc), uint32(c.timestamp), c.kind, c.frame)
	if err != nil {
		if ferr, ok := err.(*frameerror.Error); ok && ferr.Kind.Fatal() {
			e.fail(ferr)
		}
		c.result <- encryptResult{err: err}
		return
	}
	e.metrics.IncEncrypted()
	c.result <- encryptResult{frame: out}
}

func (e *Engine) handleDecrypt(c decryptCmd) {
	ring := e.ringFor(c.participant)
	out, err := framecodec.Decrypt(ring, c.kind, c.frame)
	if err != nil {
		ferr, _ := err.(*frameerror.Error)
		if ferr != nil {
			switch ferr.Kind {
			case frameerror.KeyUnavailable:
				e.metrics.IncKeyUnavailable()
				e.logger.Debug("%v", ferr)
			case frameerror.AuthenticationFailure:
				e.metrics.IncAuthFailure()
				e.logger.Warn("%v", ferr)
			case frameerror.MalformedFrame:
				e.metrics.IncMalformedFrame()
				e.logger.Warn("%v", ferr)
			default:
				e.fail(ferr)
			}
		}
		c.result <- decryptResult{frame: out, err: err}
		return
	}
	e.metrics.IncDecrypted()
	c.result <- decryptResult{frame: out}
}

// send enqueues cmd, returning ctx.Err() if the engine has already
// stopped rather than blocking forever.
func (e *Engine) send(cmd command) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	select {
	case e.cmds <- cmd:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// InstallSendPipeline registers a fresh send counter for ssrc, the
// encoder's own outgoing media stream.
func (e *Engine) InstallSendPipeline(ssrc SSRC) error {
	done := make(chan error, 1)
	if err := e.send(installSendCmd{ssrc: ssrc, done: done}); err != nil {
		return err
	}
	return <-done
}

// InstallReceivePipeline ensures a KeyRing exists for participant
// before frames from them start arriving.
func (e *Engine) InstallReceivePipeline(participant ParticipantID) error {
	done := make(chan error, 1)
	if err := e.send(installReceiveCmd{participant: participant, done: done}); err != nil {
		return err
	}
	return <-done
}

// SetKey installs material at index in participant's KeyRing.
// SelfParticipant designates the local sender's own ring.
func (e *Engine) SetKey(participant ParticipantID, material keyderive.Material, index KeyIndex) error {
	done := make(chan error, 1)
	if err := e.send(setKeyCmd{participant: participant, material: material, index: index, done: done}); err != nil {
		return err
	}
	return <-done
}

// Cleanup invalidates participant's KeyRing immediately; in-flight
// decrypt calls for that participant may still finish, per §5, with
// their results simply discarded by the caller.
func (e *Engine) Cleanup(participant ParticipantID) error {
	return e.send(cleanupCmd{participant: participant})
}

// CleanupAll invalidates every KeyRing, local and remote.
func (e *Engine) CleanupAll() error {
	return e.send(cleanupAllCmd{})
}

// SetEnabled toggles E2EE. Disabling clears every KeyRing immediately.
func (e *Engine) SetEnabled(enabled bool) error {
	return e.send(setEnabledCmd{enabled: enabled})
}

// SetRedundancyLevel reconfigures every active RFC 2198 encoder and the
// level used for ones created afterward.
func (e *Engine) SetRedundancyLevel(level int) error {
	return e.send(setRedundancyCmd{level: level})
}

// WrapAudioRedundancy prepends up to RedundancyLevel previous frames on
// ssrc to payload per the RFC 2198 encoder (§4.5), returning the
// wrapped payload to be passed to EncryptFrame as FrameAudio.
func (e *Engine) WrapAudioRedundancy(ssrc SSRC, timestamp RTPTimestamp, payload []byte) ([]byte, error) {
	result := make(chan []byte, 1)
	if err := e.send(wrapRedundancyCmd{ssrc: ssrc, timestamp: timestamp, payload: payload, result: result}); err != nil {
		return nil, err
	}
	return <-result, nil
}

// EncryptFrame transforms one outgoing frame. When E2EE is disabled the
// frame is returned unchanged.
func (e *Engine) EncryptFrame(ssrc SSRC, timestamp RTPTimestamp, kind framecodec.FrameKind, frame []byte) ([]byte, error) {
	result := make(chan encryptResult, 1)
	if err := e.send(encryptCmd{ssrc: ssrc, timestamp: timestamp, kind: kind, frame: frame, result: result}); err != nil {
		return nil, err
	}
	r := <-result
	return r.frame, r.err
}

// DecryptFrame transforms one incoming frame from participant. On
// KeyUnavailable the returned frame equals the input and the error
// must be treated as "pass through, log debug" rather than a drop; any
// other non-nil error means drop the (nil) frame.
func (e *Engine) DecryptFrame(participant ParticipantID, kind framecodec.FrameKind, frame []byte) ([]byte, error) {
	result := make(chan decryptResult, 1)
	if err := e.send(decryptCmd{participant: participant, kind: kind, frame: frame, result: result}); err != nil {
		return nil, err
	}
	r := <-result
	return r.frame, r.err
}
