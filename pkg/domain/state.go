package domain

import "time"

// State is the application-defined payload of a session.
// Stores always receive and return full snapshots, never partial patches.
type State map[string]string

// Clone returns a deep copy of the state. A nil state clones to an empty map.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Equal reports whether both states hold exactly the same keys and values.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Record is what a store keeps under one session identifier.
type Record struct {
	State State `json:"state"`

	// TTL is the lifetime the session middleware asked for.
	// Whether it is enforced depends on the store's ExpiryPolicy.
	TTL time.Duration `json:"ttl"`

	// TouchedAt is the last time State or TTL was written.
	TouchedAt time.Time `json:"touched_at"`
}

// ExpiresAt returns the instant the record stops being valid.
func (r Record) ExpiresAt() time.Time {
	return r.TouchedAt.Add(r.TTL)
}

// Expired reports whether the record has outlived its TTL at now.
// A non-positive TTL never expires.
func (r Record) Expired(now time.Time) bool {
	if r.TTL <= 0 {
		return false
	}
	return !now.Before(r.ExpiresAt())
}

// Clone returns a copy of the record that shares no memory with r.
func (r Record) Clone() Record {
	r.State = r.State.Clone()
	return r
}

// Entry is a Record paired with its identifier.
type Entry struct {
	ID string `json:"id"`
	Record
}
