// Package signaling defines the narrow output contract the core
// expects from the external signaling layer (§6): delivery of remote
// key announcements, participant membership events, and a way to
// announce the local key. No transport, authentication, or key
// wrapping is implemented here — those remain the signaling layer's
// responsibility, an external collaborator per §1's scope boundary.
package signaling

import (
	"context"

	"github.com/cascadia-rtc/e2ee/internal/engine"
	"github.com/cascadia-rtc/e2ee/internal/keyderive"
)

// RemoteKeySource delivers remote_key_update events (§6) once the
// signaling layer has authenticated and unwrapped them.
type RemoteKeySource interface {
	OnRemoteKey(func(participant engine.ParticipantID, material keyderive.Material, index engine.KeyIndex))
}

// MembershipSource delivers participant_joined/participant_left
// events (§6).
type MembershipSource interface {
	OnJoin(func(participant engine.ParticipantID))
	OnLeave(func(participant engine.ParticipantID))
}

// KeyAnnouncer carries the local participant's key material to the
// signaling layer for distribution to the rest of the conference. The
// Key Handler blocks enable() on this call returning so that no sender
// ever encrypts with a key before any receiver could have it (§9).
type KeyAnnouncer interface {
	AnnounceLocalKey(ctx context.Context, material keyderive.Material, index engine.KeyIndex) error
}
