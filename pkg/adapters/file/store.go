package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
	"github.com/google/uuid"
)

const maxSaveAttempts = 3

var _ ports.InspectableStore = (*Store)(nil)

// Store implements ports.SessionStore using the local filesystem.
// It stores each session as a JSON record in a configured directory.
// One mutex serializes all operations of this process; the TTL is stored but not enforced.
type Store struct {
	BasePath string

	mu    sync.Mutex
	newID func() (string, error)
	now   func() time.Time
}

type Option func(*Store)

// WithKeyGenerator replaces the UUIDv4 identifier generator.
func WithKeyGenerator(gen func() (string, error)) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// WithClock sets the time source used for touch timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".filedrop/sessions".
func New(basePath string, opts ...Option) *Store {
	if basePath == "" {
		basePath = filepath.Join(".filedrop", "sessions")
	}
	s := &Store{
		BasePath: basePath,
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
		opt(s)
	}
	return s
}

// path maps a session ID to its file. IDs that could escape BasePath are rejected.
func (s *Store) path(sessionID string) (string, bool) {
	if domain.ValidateID(sessionID) != nil || strings.Trim(sessionID, ".") == "" {
		return "", false
	}
	return filepath.Join(s.BasePath, sessionID+".json"), true
}

// Save writes a new session file under a freshly generated ID.
func (s *Store) Save(ctx context.Context, state domain.State, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrKeyEncoding, err)
		}
		if err := domain.ValidateID(id); err != nil {
			return "", err
		}
		dest, ok := s.path(id)
		if !ok {
			return "", fmt.Errorf("%w: identifier %q is not a valid file name", domain.ErrKeyEncoding, id)
		}

		if _, err := os.Stat(dest); err == nil {
			continue
		}

		rec := domain.Record{State: state.Clone(), TTL: ttl, TouchedAt: s.now()}
		if err := s.write(id, dest, rec); err != nil {
			return "", err
		}
		return id, nil
	}

	return "", fmt.Errorf("%w: no unused identifier after %d attempts", domain.ErrKeyEncoding, maxSaveAttempts)
}

// Load retrieves the session state from its JSON file.
func (s *Store) Load(ctx context.Context, sessionID string) (domain.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found, err := s.read(sessionID)
	if err != nil || !found {
		return nil, false, err
	}
	return rec.State, true, nil
}

// Update overwrites the state and TTL of an existing session file.
func (s *Store) Update(ctx context.Context, sessionID string, state domain.State, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, found, err := s.read(sessionID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("update %q: %w", sessionID, domain.ErrSessionNotFound)
	}

	dest, _ := s.path(sessionID)
	rec := domain.Record{State: state.Clone(), TTL: ttl, TouchedAt: s.now()}
	if err := s.write(sessionID, dest, rec); err != nil {
		return "", err
	}
	return sessionID, nil
}

// UpdateTTL rewrites only the TTL of an existing session file.
func (s *Store) UpdateTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found, err := s.read(sessionID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("update ttl %q: %w", sessionID, domain.ErrSessionNotFound)
	}

	rec.TTL = ttl
	rec.TouchedAt = s.now()
	dest, _ := s.path(sessionID)
	return s.write(sessionID, dest, rec)
}

// Delete removes the session file.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath, ok := s.path(sessionID)
	if !ok {
		return nil
	}

	err := os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	return nil
}

// List returns all stored sessions, sorted by ID.
func (s *Store) List(ctx context.Context) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirEntries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Entry{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	entries := make([]domain.Entry, 0, len(dirEntries))
	for _, entry := range dirEntries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		// Remove .json extension
		id := name[:len(name)-len(".json")]
		rec, found, err := s.read(id)
		if err != nil {
			return nil, err
		}
		if found {
			entries = append(entries, domain.Entry{ID: id, Record: rec})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// read loads a record. Callers must hold s.mu.
func (s *Store) read(sessionID string) (domain.Record, bool, error) {
	filePath, ok := s.path(sessionID)
	if !ok {
		return domain.Record{}, false, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, fmt.Errorf("%w: failed to read session file: %v", domain.ErrStoreUnavailable, err)
	}

	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Record{}, false, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	if rec.State == nil {
		rec.State = domain.State{}
	}
	return rec, true, nil
}

// write persists the record atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
// Callers must hold s.mu.
func (s *Store) write(sessionID, destPath string, rec domain.Record) error {
	// Ensure directory exists
	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("%w: failed to ensure session directory: %v", domain.ErrStoreUnavailable, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	// Same directory as the destination, so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+sessionID+"-*.json")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", domain.ErrStoreUnavailable, err)
	}
	tmpPath := tmpFile.Name()

	// Cleanup temp file in case of failure; after a successful rename Remove is a no-op.
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("%w: failed to write to temp file: %v", domain.ErrStoreUnavailable, err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("%w: failed to fsync temp file: %v", domain.ErrStoreUnavailable, err)
	}
	// Close before rename (cannot rename open file on Windows)
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: failed to close temp file: %v", domain.ErrStoreUnavailable, err)
	}

	// Rename replaces destPath in one step, so readers see the old or the new record.
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("%w: failed to rename temp file to session file: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
