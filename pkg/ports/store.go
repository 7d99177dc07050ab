package ports

import (
	"context"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
)

// SessionStore defines the storage contract consumed by the session middleware.
// Stores own identifier generation: callers never choose the ID of a new session.
type SessionStore interface {
	// Save stores a new session and returns its freshly generated ID.
	// Returns domain.ErrKeyEncoding if no valid identifier could be produced.
	Save(ctx context.Context, state domain.State, ttl time.Duration) (string, error)

	// Load retrieves the state for a given session ID.
	// A missing session is reported as found == false with a nil error.
	Load(ctx context.Context, sessionID string) (state domain.State, found bool, err error)

	// Update replaces the state and TTL of an existing session and returns the same ID.
	// Returns domain.ErrSessionNotFound if the session does not exist; it never creates one.
	Update(ctx context.Context, sessionID string, state domain.State, ttl time.Duration) (string, error)

	// UpdateTTL changes only the TTL of an existing session.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	UpdateTTL(ctx context.Context, sessionID string, ttl time.Duration) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// Lister exposes every stored session for introspection (debug dumps, CLI).
type Lister interface {
	// List returns snapshots of all live sessions, sorted by ID.
	List(ctx context.Context) ([]domain.Entry, error)
}

// InspectableStore is a SessionStore that can also enumerate its sessions.
type InspectableStore interface {
	SessionStore
	Lister
}
