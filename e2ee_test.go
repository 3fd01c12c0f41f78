package e2ee

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMembership struct{}

func (fakeMembership) OnJoin(func(ParticipantID))  {}
func (fakeMembership) OnLeave(func(ParticipantID)) {}

type fakeKeySource struct{}

func (fakeKeySource) OnRemoteKey(func(ParticipantID, KeyMaterial, KeyIndex)) {}

type fakeAnnouncer struct{}

func (fakeAnnouncer) AnnounceLocalKey(ctx context.Context, material KeyMaterial, index KeyIndex) error {
	return nil
}

// TestClientRoundTripsOneFrame exercises the public contract end to
// end between two Clients sharing the same key material. It reaches
// into each Client's unexported engine handle to install the shared
// key directly rather than through Enable, since that's the simplest
// way to get two independent Clients onto the same key without
// standing up real signaling; Enable's own announce-then-install
// contract is exercised in internal/keyhandler's tests.
func TestClientRoundTripsOneFrame(t *testing.T) {
	material, err := GenerateRandomKey()
	require.NoError(t, err)

	sender, err := New(fakeMembership{}, fakeKeySource{}, fakeAnnouncer{}, DefaultConfig(), nil)
	require.NoError(t, err)
	defer sender.Stop()
	require.NoError(t, sender.eng.SetKey(SelfParticipant, material, 0))
	require.NoError(t, sender.eng.SetEnabled(true))
	require.NoError(t, sender.InstallSendPipeline(1))

	receiver, err := New(fakeMembership{}, fakeKeySource{}, fakeAnnouncer{}, DefaultConfig(), nil)
	require.NoError(t, err)
	defer receiver.Stop()
	require.NoError(t, receiver.eng.SetKey("peer", material, 0))
	require.NoError(t, receiver.InstallReceivePipeline("peer"))

	payload := []byte{0x01, 0x02, 0x03}
	wire, err := sender.EncryptFrame(1, 0, FrameAudio, payload)
	require.NoError(t, err)
	require.NotEqual(t, payload, wire)

	out, err := receiver.DecryptFrame("peer", FrameAudio, wire)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestClientDisableStopsEncrypting(t *testing.T) {
	client, err := New(fakeMembership{}, fakeKeySource{}, fakeAnnouncer{}, DefaultConfig(), nil)
	require.NoError(t, err)
	defer client.Stop()

	require.NoError(t, client.InstallSendPipeline(1))
	require.NoError(t, client.Enable(context.Background()))
	require.NoError(t, client.Disable())
	require.Equal(t, Disabled, client.State())

	wire, err := client.EncryptFrame(1, 0, FrameAudio, []byte{0x09})
	require.NoError(t, err)
	require.Equal(t, []byte{0x09}, wire)
}
