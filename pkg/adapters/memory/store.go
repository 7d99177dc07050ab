package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/filedrop/internal/logging"
	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
	"github.com/google/uuid"
)

// maxSaveAttempts bounds identifier regeneration when a fresh ID collides with a stored one.
const maxSaveAttempts = 3

// DefaultSweepInterval is how often Run evicts expired sessions under domain.ExpiryActive.
const DefaultSweepInterval = 30 * time.Second

var _ ports.InspectableStore = (*Store)(nil)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use.
//
// The whole table is guarded by a single mutex: every operation holds it for its
// complete read-modify-write, so no two operations run their critical sections
// at the same time, even on different sessions. A panic inside a critical
// section poisons the store; from then on every operation fails with
// domain.ErrStoreUnavailable instead of touching possibly inconsistent data.
type Store struct {
	mu       sync.Mutex
	data     map[string]domain.Record
	poisoned bool

	newID    func() (string, error)
	now      func() time.Time
	policy   domain.ExpiryPolicy
	interval time.Duration
	logger   *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithKeyGenerator replaces the UUIDv4 identifier generator.
func WithKeyGenerator(gen func() (string, error)) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// WithClock sets the time source used to stamp and expire records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithExpiryPolicy selects whether the TTL carried by each record is enforced.
// The default, domain.ExpiryNone, stores TTLs without acting on them.
func WithExpiryPolicy(policy domain.ExpiryPolicy) Option {
	return func(s *Store) {
		s.policy = policy
	}
}

// WithSweepInterval sets the tick of the background sweeper started by Run.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger configures a logger for internal events (collisions, poisoning, sweeps).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a new in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data:     make(map[string]domain.Record),
		newID:    newUUID,
		now:      time.Now,
		policy:   domain.ExpiryNone,
		interval: DefaultSweepInterval,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// withLock runs fn while holding the table lock and converts a panic inside fn
// into a poisoned store.
func (s *Store) withLock(op string, fn func() error) (err error) {
	s.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			s.poisoned = true
			s.logger.Error("Session table poisoned", "op", op, "panic", r)
			err = fmt.Errorf("%w: panic during %s: %v", domain.ErrStoreUnavailable, op, r)
		}
		s.mu.Unlock()
	}()

	if s.poisoned {
		return fmt.Errorf("%w: table poisoned by an earlier panic", domain.ErrStoreUnavailable)
	}
	return fn()
}

// live returns the record for id, evicting it first if the policy says it has expired.
// Callers must hold s.mu.
func (s *Store) live(id string) (domain.Record, bool) {
	rec, ok := s.data[id]
	if !ok {
		return domain.Record{}, false
	}
	if s.policy.Enforced() && rec.Expired(s.now()) {
		delete(s.data, id)
		return domain.Record{}, false
	}
	return rec, true
}

// Save stores a copy of state under a newly generated identifier.
func (s *Store) Save(ctx context.Context, state domain.State, ttl time.Duration) (string, error) {
	snapshot := state.Clone()

	var id string
	err := s.withLock("save", func() error {
		for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
			candidate, err := s.newID()
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrKeyEncoding, err)
			}
			if err := domain.ValidateID(candidate); err != nil {
				return err
			}
			if _, taken := s.data[candidate]; taken {
				s.logger.Warn("Session ID collision, regenerating", "attempt", attempt)
				continue
			}

			s.data[candidate] = domain.Record{State: snapshot, TTL: ttl, TouchedAt: s.now()}
			id = candidate
			return nil
		}
		return fmt.Errorf("%w: no unused identifier after %d attempts", domain.ErrKeyEncoding, maxSaveAttempts)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Load retrieves a copy of the session state.
func (s *Store) Load(ctx context.Context, sessionID string) (domain.State, bool, error) {
	var (
		state domain.State
		found bool
	)
	err := s.withLock("load", func() error {
		rec, ok := s.live(sessionID)
		if ok {
			// Copy on read so callers can't mutate the table through the returned map.
			state, found = rec.State.Clone(), true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return state, found, nil
}

// Update replaces state and TTL of an existing session in one step.
func (s *Store) Update(ctx context.Context, sessionID string, state domain.State, ttl time.Duration) (string, error) {
	snapshot := state.Clone()

	err := s.withLock("update", func() error {
		if _, ok := s.live(sessionID); !ok {
			return fmt.Errorf("update %q: %w", sessionID, domain.ErrSessionNotFound)
		}
		s.data[sessionID] = domain.Record{State: snapshot, TTL: ttl, TouchedAt: s.now()}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// UpdateTTL changes the TTL of an existing session, leaving its state untouched.
func (s *Store) UpdateTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	return s.withLock("update_ttl", func() error {
		rec, ok := s.live(sessionID)
		if !ok {
			return fmt.Errorf("update ttl %q: %w", sessionID, domain.ErrSessionNotFound)
		}
		rec.TTL = ttl
		rec.TouchedAt = s.now()
		s.data[sessionID] = rec
		return nil
	})
}

// Delete removes the session if present.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.withLock("delete", func() error {
		delete(s.data, sessionID)
		return nil
	})
}

// List returns snapshots of the live sessions, sorted by ID.
func (s *Store) List(ctx context.Context) ([]domain.Entry, error) {
	var entries []domain.Entry
	err := s.withLock("list", func() error {
		now := s.now()
		entries = make([]domain.Entry, 0, len(s.data))
		for id, rec := range s.data {
			if s.policy.Enforced() && rec.Expired(now) {
				continue
			}
			entries = append(entries, domain.Entry{ID: id, Record: rec.Clone()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Len returns the number of stored records, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Sweep evicts every expired record and reports how many were removed.
// It does nothing under domain.ExpiryNone.
func (s *Store) Sweep() (int, error) {
	if !s.policy.Enforced() {
		return 0, nil
	}

	removed := 0
	err := s.withLock("sweep", func() error {
		now := s.now()
		for id, rec := range s.data {
			if rec.Expired(now) {
				delete(s.data, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Run sweeps expired sessions periodically until ctx is canceled.
// It returns immediately unless the policy is domain.ExpiryActive.
// A poisoned table stops the sweeps but Run still waits for ctx; callers
// keep seeing domain.ErrStoreUnavailable from the regular operations.
func (s *Store) Run(ctx context.Context) error {
	if s.policy != domain.ExpiryActive {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := s.Sweep()
			if errors.Is(err, domain.ErrStoreUnavailable) {
				s.logger.Error("Session sweeper stopped", "err", err)
				<-ctx.Done()
				return nil
			}
			if err != nil {
				return err
			}
			if removed > 0 {
				s.logger.Debug("Swept expired sessions", "removed", removed)
			}
		}
	}
}
