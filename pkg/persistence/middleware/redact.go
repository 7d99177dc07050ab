package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
)

// Mask replaces the value of every redacted key.
const Mask = "***"

type redactMiddleware struct {
	ports.InspectableStore
	patterns []*regexp.Regexp
}

// NewRedactMiddleware creates a middleware that masks values of keys matching the patterns
// in List output. Stored sessions and Load results are left intact, since the
// application still needs the real values.
func NewRedactMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.InspectableStore) ports.InspectableStore {
		return &redactMiddleware{InspectableStore: next, patterns: patterns}
	}
}

func (m *redactMiddleware) List(ctx context.Context) ([]domain.Entry, error) {
	entries, err := m.InspectableStore.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].State = maskState(entries[i].State, m.patterns)
	}
	return entries, nil
}

// maskState returns a masked copy so the caller's snapshot is never modified.
func maskState(state domain.State, patterns []*regexp.Regexp) domain.State {
	out := state.Clone()
	for k := range out {
		for _, p := range patterns {
			if p.MatchString(k) {
				out[k] = Mask
				break
			}
		}
	}
	return out
}
