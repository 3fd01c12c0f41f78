package keyhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cascadia-rtc/e2ee/internal/engine"
	"github.com/cascadia-rtc/e2ee/internal/framecodec"
	"github.com/cascadia-rtc/e2ee/internal/frameerror"
	"github.com/cascadia-rtc/e2ee/internal/keyderive"
)

type fakeMembership struct {
	join  func(engine.ParticipantID)
	leave func(engine.ParticipantID)
}

func (f *fakeMembership) OnJoin(fn func(engine.ParticipantID))  { f.join = fn }
func (f *fakeMembership) OnLeave(fn func(engine.ParticipantID)) { f.leave = fn }

type fakeKeySource struct {
	fn func(engine.ParticipantID, keyderive.Material, engine.KeyIndex)
}

func (f *fakeKeySource) OnRemoteKey(fn func(engine.ParticipantID, keyderive.Material, engine.KeyIndex)) {
	f.fn = fn
}

type announceCall struct {
	material keyderive.Material
	index    engine.KeyIndex
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	calls []announceCall
	err   error
}

func (f *fakeAnnouncer) AnnounceLocalKey(ctx context.Context, material keyderive.Material, index engine.KeyIndex) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, announceCall{material, index})
	return f.err
}

func (f *fakeAnnouncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAnnouncer) lastIndex() engine.KeyIndex {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1].index
}

func newTestHandler(t *testing.T, cfg engine.Config) (*KeyHandler, *engine.Engine, *fakeMembership, *fakeKeySource, *fakeAnnouncer) {
	t.Helper()
	eng, err := engine.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(eng.Stop)

	membership := &fakeMembership{}
	keys := &fakeKeySource{}
	announcer := &fakeAnnouncer{}
	kh := New(eng, membership, keys, announcer, cfg, nil)
	return kh, eng, membership, keys, announcer
}

func testConfig(debounce time.Duration) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.RatchetDebounce = debounce
	cfg.RotateDebounce = debounce
	return cfg
}

func TestEnableAnnouncesBeforeActivatingEncryption(t *testing.T) {
	kh, eng, _, _, announcer := newTestHandler(t, testConfig(time.Hour))
	require.NoError(t, eng.InstallSendPipeline(1))

	require.NoError(t, kh.Enable(context.Background()))
	require.Equal(t, Enabled, kh.State())
	require.Equal(t, 1, announcer.callCount())
	require.Equal(t, engine.KeyIndex(0), announcer.lastIndex())

	out, err := eng.EncryptFrame(1, 0, framecodec.FrameAudio, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.NotEqual(t, []byte{0x01, 0x02, 0x03}, out, "engine must actually be encrypting after Enable")
}

func TestEnableFailsAndStaysDisabledWhenAnnounceErrors(t *testing.T) {
	kh, eng, _, _, announcer := newTestHandler(t, testConfig(time.Hour))
	announcer.err = errors.New("signaling unavailable")
	require.NoError(t, eng.InstallSendPipeline(1))

	err := kh.Enable(context.Background())
	require.Error(t, err)
	require.Equal(t, Disabled, kh.State())

	out, err := eng.EncryptFrame(1, 0, framecodec.FrameAudio, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, out, "a failed enable must not start encrypting")
}

func TestDisableClearsRingsAndStopsEncrypting(t *testing.T) {
	kh, eng, _, _, _ := newTestHandler(t, testConfig(time.Hour))
	require.NoError(t, eng.InstallSendPipeline(1))
	require.NoError(t, kh.Enable(context.Background()))

	require.NoError(t, kh.Disable())
	require.Equal(t, Disabled, kh.State())

	out, err := eng.EncryptFrame(1, 0, framecodec.FrameAudio, []byte{0x09})
	require.NoError(t, err)
	require.Equal(t, []byte{0x09}, out)
}

func TestParticipantJoinedSchedulesDebouncedRatchet(t *testing.T) {
	kh, eng, membership, _, announcer := newTestHandler(t, testConfig(20*time.Millisecond))
	require.NoError(t, eng.InstallSendPipeline(1))
	require.NoError(t, kh.Enable(context.Background()))

	membership.join(engine.SelfParticipant)
	membership.join("bob")

	require.Eventually(t, func() bool {
		return announcer.callCount() == 2
	}, time.Second, 5*time.Millisecond, "ratchet should announce the advanced key")
	require.Equal(t, engine.KeyIndex(1), announcer.lastIndex())
}

// Multiple joins within the debounce window must coalesce into exactly
// one ratchet, mirroring §4.4's "only one ratchet fires per debounce
// window".
func TestRapidJoinsCoalesceIntoOneRatchet(t *testing.T) {
	kh, eng, membership, _, announcer := newTestHandler(t, testConfig(40*time.Millisecond))
	require.NoError(t, eng.InstallSendPipeline(1))
	require.NoError(t, kh.Enable(context.Background()))

	membership.join(engine.SelfParticipant)
	membership.join("bob")
	time.Sleep(10 * time.Millisecond)
	membership.join("carol")
	time.Sleep(10 * time.Millisecond)
	membership.join("dave")

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, announcer.callCount(), "enable + exactly one coalesced ratchet")
	require.Equal(t, engine.KeyIndex(1), announcer.lastIndex())
}

// Scenario 6: a participant leaving clears their ring immediately and
// schedules a rotation that fires after the debounce window.
func TestParticipantLeftClearsImmediatelyThenRotatesAfterDebounce(t *testing.T) {
	kh, eng, membership, _, announcer := newTestHandler(t, testConfig(20*time.Millisecond))
	require.NoError(t, eng.InstallSendPipeline(1))
	require.NoError(t, kh.Enable(context.Background()))
	require.NoError(t, eng.SetKey("bob", keyderive.Material{1}, 0))

	probe := make([]byte, 30) // prefix(1) + tag(16) + iv(12) + key index(1), index 0
	_, err := eng.DecryptFrame("bob", framecodec.FrameAudio, probe)
	require.True(t, frameerror.Is(err, frameerror.AuthenticationFailure), "sanity: bob's ring has a key before leaving")

	membership.leave("bob")

	_, err = eng.DecryptFrame("bob", framecodec.FrameAudio, probe)
	require.True(t, frameerror.Is(err, frameerror.KeyUnavailable), "leave clears the ring immediately")

	require.Eventually(t, func() bool {
		return announcer.callCount() == 2
	}, time.Second, 5*time.Millisecond, "rotate should fire after the debounce window")
	require.Equal(t, engine.KeyIndex(1), announcer.lastIndex())
}

func TestRemoteKeyAnnouncedForwardsToEngine(t *testing.T) {
	_, eng, _, keys, _ := newTestHandler(t, testConfig(time.Hour))
	keys.fn("alice", keyderive.Material{7}, 3)

	probe := make([]byte, 30)
	probe[len(probe)-1] = 3
	out, err := eng.DecryptFrame("alice", framecodec.FrameAudio, probe)
	// Whatever the outcome, it must not be KeyUnavailable: the key at
	// index 3 now exists (authentication will fail on this garbage
	// frame, which is expected and fine for this test).
	if err != nil {
		require.False(t, frameerror.Is(err, frameerror.KeyUnavailable))
	}
	_ = out
}
