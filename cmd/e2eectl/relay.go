package main

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/cascadia-rtc/e2ee"
	"github.com/cascadia-rtc/e2ee/internal/demotransport"
	"github.com/cascadia-rtc/e2ee/internal/logging"
)

const relaySSRC e2ee.SSRC = 0xc0ffee

// runRelay joins two in-process Clients over a loopback demotransport
// connection and streams frameCount synthetic audio frames from the
// sender to the receiver, printing each decrypted payload and the
// receiver's accrued counters at the end. It goes through the public
// Client API rather than poking engine.Engine directly, installing key
// material with SetLocalKey/SetRemoteKey since there's no signaling
// peer here to drive Enable's announce step.
func runRelay(config e2ee.Config, logger *logging.Logger, frameCount int) error {
	sender, err := e2ee.New(noopMembership{}, noopKeySource{}, noopAnnouncer{}, config, logger.Named("sender"))
	if err != nil {
		return errors.Wrap(err, "create sender client")
	}
	defer sender.Stop()

	receiver, err := e2ee.New(noopMembership{}, noopKeySource{}, noopAnnouncer{}, config, logger.Named("receiver"))
	if err != nil {
		return errors.Wrap(err, "create receiver client")
	}
	defer receiver.Stop()

	server, client, err := demotransport.NewLoopbackPair()
	if err != nil {
		return errors.Wrap(err, "start loopback transport")
	}
	defer server.Close()
	defer client.Close()

	material, err := e2ee.GenerateRandomKey()
	if err != nil {
		return errors.Wrap(err, "generate local key")
	}
	if err := sender.SetLocalKey(material, 0); err != nil {
		return errors.Wrap(err, "install local key")
	}
	if err := sender.SetEnabled(true); err != nil {
		return errors.Wrap(err, "enable sender")
	}
	if err := sender.InstallSendPipeline(relaySSRC); err != nil {
		return errors.Wrap(err, "install send pipeline")
	}
	if err := receiver.SetRemoteKey("peer", material, 0); err != nil {
		return errors.Wrap(err, "install remote key")
	}

	done := make(chan error, 1)
	go func() {
		for i := 0; i < frameCount; i++ {
			wire, err := server.ReceiveFrame()
			if err != nil {
				done <- errors.Wrap(err, "receive")
				return
			}
			out, err := receiver.DecryptFrame("peer", e2ee.FrameAudio, wire)
			if err != nil {
				logger.Warn("frame %d: %v", i, err)
				continue
			}
			fmt.Printf("frame %d: %s\n", i, hex.EncodeToString(out))
		}
		done <- nil
	}()

	for i := 0; i < frameCount; i++ {
		payload := []byte{byte(i)}
		wire, err := sender.EncryptFrame(relaySSRC, e2ee.RTPTimestamp(i*960), e2ee.FrameAudio, payload)
		if err != nil {
			return errors.Wrap(err, "encrypt")
		}
		if err := client.SendFrame(wire); err != nil {
			return errors.Wrap(err, "send")
		}
	}

	if err := <-done; err != nil {
		return err
	}

	snap := receiver.Metrics()
	fmt.Printf("decrypted=%d auth_failures=%d malformed=%d key_unavailable=%d\n",
		snap.FramesDecrypted, snap.AuthFailures, snap.MalformedFrames, snap.KeyUnavailable)
	return nil
}
