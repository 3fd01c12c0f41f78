// Package keyring implements the bounded per-participant key ring (C2):
// a fixed-size circular buffer mapping a KeyIndex (mod 256) to the
// derived AES-GCM key active at that index.
//
// A Ring is owned by exactly one goroutine — the frame codec worker
// (see internal/engine) — and performs no internal locking, matching
// the "no locks in the steady-state hot path" rule. This mirrors the
// single-owner, per-SSRC state map in lanikai/alohartc's internal/srtp
// (Context.ssrcStates / getSSRCState), generalized from one permanent
// key to an evicting ring of keys.
package keyring

import (
	"github.com/cascadia-rtc/e2ee/internal/keyderive"
)

// DefaultSize is the ring size used unless a Config overrides it.
const DefaultSize = 16

// Entry is a single slot: the raw material (retained so it can be
// ratcheted further or zeroized) plus the key derived from it.
type Entry struct {
	Index    uint8
	Material keyderive.Material
	Derived  keyderive.EncryptionKey
}

// Ring is a bounded mod-256 KeyIndex space, backed by a size-N slice of
// slots (size typically 16). Slot occupancy is tracked by comparing the
// full KeyIndex stored in a slot against the requested index: once a
// slot is overwritten by a later index, the evicted index is reported
// as absent even though the slot number still "exists".
type Ring struct {
	size    int
	slots   []*Entry
	current uint8
	valid   bool // whether `current` refers to a real entry yet
}

// New creates a Ring with the given capacity. size must be in (0, 256].
func New(size int) *Ring {
	if size <= 0 || size > 256 {
		panic("keyring: size must be in (0, 256]")
	}
	return &Ring{
		size:  size,
		slots: make([]*Entry, size),
	}
}

func (r *Ring) slot(index uint8) int {
	return int(index) % r.size
}

// Set derives the AES-GCM key for material and stores it at index,
// evicting whatever previously lived in that slot. The cursor
// (Current()) advances to index when index is "newer" than the cursor
// in modular-forward distance no greater than half the ring size — a
// jitter-tolerant heuristic in the same spirit as SRTP's
// rollover-counter disorder window (maxROCDisorder).
func (r *Ring) Set(index uint8, material keyderive.Material) error {
	derived, err := keyderive.DeriveEncryptionKey(material)
	if err != nil {
		return err
	}

	if old := r.slots[r.slot(index)]; old != nil {
		old.Material.Zero()
	}
	r.slots[r.slot(index)] = &Entry{Index: index, Material: material, Derived: derived}

	if !r.valid {
		r.current = index
		r.valid = true
		return nil
	}

	// Forward distance must be computed over ring slots, not over the
	// full mod-256 KeyIndex space: with a ring smaller than 256, the
	// index sequence wraps inside the ring (e.g. 15->0 at size 16) long
	// before it wraps mod 256, and a mod-256 distance sees that as a
	// huge backward jump instead of one step forward.
	cur := r.slot(r.current)
	next := r.slot(index)
	forward := (next - cur + r.size) % r.size
	if forward != 0 && forward <= r.size/2 {
		r.current = index
	}

	return nil
}

// Get returns the derived key stored at index, or false if that index
// has since been evicted by ring rollover or explicitly cleared.
func (r *Ring) Get(index uint8) (keyderive.EncryptionKey, bool) {
	e := r.slots[r.slot(index)]
	if e == nil || e.Index != index {
		var zero keyderive.EncryptionKey
		return zero, false
	}
	return e.Derived, true
}

// Current returns the cursor's index and key, or false if nothing has
// ever been Set.
func (r *Ring) Current() (uint8, keyderive.EncryptionKey, bool) {
	if !r.valid {
		return 0, keyderive.EncryptionKey{}, false
	}
	key, ok := r.Get(r.current)
	return r.current, key, ok
}

// CurrentMaterial returns the raw material backing the cursor entry.
// False if nothing has been Set or the cursor's entry is gone.
func (r *Ring) CurrentMaterial() (keyderive.Material, bool) {
	if !r.valid {
		return keyderive.Material{}, false
	}
	e := r.slots[r.slot(r.current)]
	if e == nil || e.Index != r.current {
		return keyderive.Material{}, false
	}
	return e.Material, true
}

// Clear wipes the entry at index, if any.
func (r *Ring) Clear(index uint8) {
	if e := r.slots[r.slot(index)]; e != nil && e.Index == index {
		e.Material.Zero()
		r.slots[r.slot(index)] = nil
	}
}

// ClearAll wipes every entry and resets the cursor.
func (r *Ring) ClearAll() {
	for i, e := range r.slots {
		if e != nil {
			e.Material.Zero()
			r.slots[i] = nil
		}
	}
	r.current = 0
	r.valid = false
}

// Size returns the ring's configured capacity.
func (r *Ring) Size() int {
	return r.size
}
