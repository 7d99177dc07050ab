package session

import (
	"sync"

	"github.com/aretw0/filedrop/pkg/domain"
)

// Status describes what a handler did to its session during one request.
type Status int

const (
	// Unchanged means the state was only read.
	Unchanged Status = iota
	// Changed means at least one key was inserted, removed or cleared.
	Changed
	// Purged means the session must be deleted and its cookie removed.
	Purged
	// Renewed means the session must move to a fresh identifier.
	Renewed
)

func (s Status) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Purged:
		return "purged"
	case Renewed:
		return "renewed"
	default:
		return "unknown"
	}
}

// Session is the per-request view of a stored session.
// It is safe for concurrent use by the goroutines serving one request.
type Session struct {
	mu     sync.Mutex
	id     string
	state  domain.State
	status Status
}

func newSession(id string, state domain.State) *Session {
	return &Session{id: id, state: state.Clone()}
}

// ID returns the identifier the session was loaded under, or "" for a new session.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok
}

// Insert stores value under key.
func (s *Session) Insert(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	s.markChanged()
}

// Remove deletes key and returns its previous value.
func (s *Session) Remove(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	if ok {
		delete(s.state, key)
		s.markChanged()
	}
	return v, ok
}

// Clear removes every key while keeping the session itself.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = domain.State{}
	s.markChanged()
}

// Purge clears the state and marks the session for deletion, as on logout.
// Later changes in the same request are discarded.
func (s *Session) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = domain.State{}
	s.status = Purged
}

// Renew keeps the state but moves it to a new identifier when the request commits.
func (s *Session) Renew() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Purged {
		s.status = Renewed
	}
}

// Entries returns a copy of the whole state.
func (s *Session) Entries() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Status reports what happened to the session so far.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// markChanged must be called with s.mu held.
func (s *Session) markChanged() {
	if s.status == Unchanged {
		s.status = Changed
	}
}

// snapshot returns the status and a copy of the state in one critical section.
func (s *Session) snapshot() (Status, domain.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.state.Clone()
}
