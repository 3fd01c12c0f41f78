package engine

// ParticipantID names a conference participant. The value is opaque to
// this package; the signaling layer defines what it actually contains.
type ParticipantID string

// SelfParticipant is the reserved ParticipantID denoting the local
// sender's own key ring, never a value a remote signaling message may
// legitimately claim.
const SelfParticipant ParticipantID = "\x00self"

// SSRC is the 32-bit RTP synchronization source identifier, stable per
// media stream.
type SSRC uint32

// RTPTimestamp is the 32-bit RTP media-clock timestamp.
type RTPTimestamp uint32

// KeyIndex identifies a slot in a participant's key ring; carried in
// the last byte of every encrypted frame.
type KeyIndex uint8
