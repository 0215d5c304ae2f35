package models

import "time"

// CounterEntry is the per-key request counter with its window and block
// state. It is pure data; the store guarantees per-key atomicity and the
// governor applies policy.
type CounterEntry struct {
	Key            string    `json:"key"`
	Count          int64     `json:"count"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	WindowResetAt  time.Time `json:"window_reset_at"`
	Blocked        bool      `json:"blocked"`
	BlockExpiresAt time.Time `json:"block_expires_at,omitempty"`
}

// Expired reports whether the entry is logically absent at the given
// instant. While an entry is blocked its block expiry alone governs its
// lifetime; the window reset only matters for unblocked entries.
func (e *CounterEntry) Expired(now time.Time) bool {
	if e.Blocked {
		return !now.Before(e.BlockExpiresAt)
	}
	return !now.Before(e.WindowResetAt)
}

// Clone returns an independent copy.
func (e *CounterEntry) Clone() *CounterEntry {
	clone := *e
	return &clone
}
