package demotransport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopbackPairCarriesFramesBothWays(t *testing.T) {
	server, client, err := NewLoopbackPair()
	require.NoError(t, err)
	defer server.Close()
	defer client.Close()

	require.NoError(t, client.SendFrame([]byte{0x01, 0x02, 0x03}))
	got, err := server.ReceiveFrame()
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, got)

	require.NoError(t, server.SendFrame([]byte{0xaa}))
	got, err = client.ReceiveFrame()
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa}, got)
}

func TestLoopbackPairClosePropagatesToPeer(t *testing.T) {
	server, client, err := NewLoopbackPair()
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, server.Close())

	errc := make(chan error, 1)
	go func() {
		_, err := client.ReceiveFrame()
		errc <- err
	}()

	select {
	case err := <-errc:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReceiveFrame did not observe peer close")
	}
}
