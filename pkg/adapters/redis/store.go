package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

const (
	defaultPrefix   = "filedrop:session:"
	maxSaveAttempts = 3

	// noExpiryScore ranks sessions without TTL in the index: 2100-01-01 in milliseconds.
	noExpiryScore = 4102444800000
)

var _ ports.InspectableStore = (*Store)(nil)

// saveScript creates the session hash only if the key is free.
// KEYS: session, index. ARGV: state, ttl ms, touched ms, index score, id.
var saveScript = backend.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "state", ARGV[1], "ttl", ARGV[2], "touched", ARGV[3])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[5])
return 1
`)

// updateScript overwrites state and ttl of an existing session only.
var updateScript = backend.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "state", ARGV[1], "ttl", ARGV[2], "touched", ARGV[3])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
else
  redis.call("PERSIST", KEYS[1])
end
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[5])
return 1
`)

// touchScript changes only the ttl of an existing session.
// KEYS: session, index. ARGV: ttl ms, touched ms, index score, id.
var touchScript = backend.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "ttl", ARGV[1], "touched", ARGV[2])
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
else
  redis.call("PERSIST", KEYS[1])
end
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// Store implements ports.SessionStore using Redis.
//
// Each session is a hash holding the JSON state, the TTL and the last touch time.
// Unlike the in-memory table, a positive TTL is also applied as the key's Redis
// expiry, so Redis evicts sessions on its own.
type Store struct {
	client backend.UniversalClient
	prefix string
	newID  func() (string, error)
	now    func() time.Time
}

type Option func(*Store)

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithKeyGenerator replaces the UUIDv4 identifier generator.
func WithKeyGenerator(gen func() (string, error)) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// WithClock sets the time source used for touch timestamps and index scores.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: defaultPrefix,
		newID: func() (string, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client exposes the underlying client so a Locker can share the connection pool.
func (s *Store) Client() backend.UniversalClient {
	return s.client
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

// indexKey contains ':', which no session ID may, so it never shadows a session.
func (s *Store) indexKey() string {
	return s.prefix + ":index"
}

// ttlMillis is the Redis expiry for ttl. Zero means none; positive values round up to 1ms.
func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return max(ttl.Milliseconds(), 1)
}

// score is the index rank of a session: its expiry instant in Unix milliseconds.
func (s *Store) score(now time.Time, ttl time.Duration) float64 {
	ms := ttlMillis(ttl)
	if ms == 0 {
		return noExpiryScore
	}
	return float64(now.UnixMilli() + ms)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", domain.ErrStoreUnavailable, op, err)
}

// Save persists a new session under a freshly generated ID.
func (s *Store) Save(ctx context.Context, state domain.State, ttl time.Duration) (string, error) {
	data, err := json.Marshal(state.Clone())
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrKeyEncoding, err)
		}
		if err := domain.ValidateID(id); err != nil {
			return "", err
		}

		now := s.now()
		created, err := saveScript.Run(ctx, s.client,
			[]string{s.key(id), s.indexKey()},
			data, ttlMillis(ttl), now.UnixMilli(), s.score(now, ttl), id,
		).Int()
		if err != nil {
			return "", unavailable("save", err)
		}
		if created == 1 {
			return id, nil
		}
	}

	return "", fmt.Errorf("%w: no unused identifier after %d attempts", domain.ErrKeyEncoding, maxSaveAttempts)
}

// Load retrieves the state from Redis.
func (s *Store) Load(ctx context.Context, sessionID string) (domain.State, bool, error) {
	val, err := s.client.HGet(ctx, s.key(sessionID), "state").Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, false, nil
		}
		return nil, false, unavailable("load", err)
	}

	var state domain.State
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state == nil {
		state = domain.State{}
	}

	return state, true, nil
}

// Update overwrites an existing session.
func (s *Store) Update(ctx context.Context, sessionID string, state domain.State, ttl time.Duration) (string, error) {
	data, err := json.Marshal(state.Clone())
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	now := s.now()
	updated, err := updateScript.Run(ctx, s.client,
		[]string{s.key(sessionID), s.indexKey()},
		data, ttlMillis(ttl), now.UnixMilli(), s.score(now, ttl), sessionID,
	).Int()
	if err != nil {
		return "", unavailable("update", err)
	}
	if updated == 0 {
		return "", fmt.Errorf("update %q: %w", sessionID, domain.ErrSessionNotFound)
	}

	return sessionID, nil
}

// UpdateTTL refreshes the TTL of an existing session without rewriting its state.
func (s *Store) UpdateTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	now := s.now()
	touched, err := touchScript.Run(ctx, s.client,
		[]string{s.key(sessionID), s.indexKey()},
		ttlMillis(ttl), now.UnixMilli(), s.score(now, ttl), sessionID,
	).Int()
	if err != nil {
		return unavailable("update ttl", err)
	}
	if touched == 0 {
		return fmt.Errorf("update ttl %q: %w", sessionID, domain.ErrSessionNotFound)
	}
	return nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()

	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// List returns live sessions using the ZSET index with lazy cleanup.
func (s *Store) List(ctx context.Context) ([]domain.Entry, error) {
	// Lazy Cleanup: Remove expired members from the index.
	// Sessions without TTL carry a far-future score and are never pruned here.
	bound := "(" + strconv.FormatInt(s.now().UnixMilli(), 10)
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", bound).Err()
	if err != nil {
		return nil, unavailable("prune index", err)
	}

	// ZRANGE returns members ordered by score; re-sort by ID below.
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}
	if len(ids) == 0 {
		return []domain.Entry{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*backend.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, unavailable("list", err)
	}

	entries := make([]domain.Entry, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, unavailable("list", err)
		}
		if len(fields) == 0 {
			// Key expired in Redis before the index caught up.
			continue
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", ids[i], err)
		}
		entries = append(entries, domain.Entry{ID: ids[i], Record: rec})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decodeRecord(fields map[string]string) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal([]byte(fields["state"]), &rec.State); err != nil {
		return rec, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if rec.State == nil {
		rec.State = domain.State{}
	}

	ttl, err := strconv.ParseInt(fields["ttl"], 10, 64)
	if err != nil {
		return rec, fmt.Errorf("invalid ttl field: %w", err)
	}
	rec.TTL = time.Duration(ttl) * time.Millisecond

	touched, err := strconv.ParseInt(fields["touched"], 10, 64)
	if err != nil {
		return rec, fmt.Errorf("invalid touched field: %w", err)
	}
	rec.TouchedAt = time.UnixMilli(touched)

	return rec, nil
}
