package main

import (
	"context"

	"github.com/cascadia-rtc/e2ee"
)

// The relay demo has no real signaling peer to join or leave, and
// announces its local key to nobody: e2ee.New needs a membership
// source, a remote-key source and an announcer, but relay installs its
// keys directly with SetLocalKey/SetRemoteKey and never calls Enable,
// so these are no-ops rather than a second loopback roundtrip through
// demotransport.

type noopMembership struct{}

func (noopMembership) OnJoin(func(e2ee.ParticipantID))  {}
func (noopMembership) OnLeave(func(e2ee.ParticipantID)) {}

type noopKeySource struct{}

func (noopKeySource) OnRemoteKey(func(e2ee.ParticipantID, e2ee.KeyMaterial, e2ee.KeyIndex)) {}

type noopAnnouncer struct{}

func (noopAnnouncer) AnnounceLocalKey(ctx context.Context, material e2ee.KeyMaterial, index e2ee.KeyIndex) error {
	return nil
}
