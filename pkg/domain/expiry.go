package domain

import (
	"fmt"
	"strings"
)

// ExpiryPolicy controls whether a store acts on the TTL it carries.
type ExpiryPolicy int

const (
	// ExpiryNone stores the TTL but never enforces it. Records live until deleted.
	ExpiryNone ExpiryPolicy = iota
	// ExpiryLazy treats expired records as absent on read and evicts them.
	ExpiryLazy
	// ExpiryActive behaves like ExpiryLazy and additionally sweeps in the background.
	ExpiryActive
)

func (p ExpiryPolicy) String() string {
	switch p {
	case ExpiryNone:
		return "none"
	case ExpiryLazy:
		return "lazy"
	case ExpiryActive:
		return "active"
	default:
		return fmt.Sprintf("ExpiryPolicy(%d)", int(p))
	}
}

// Enforced reports whether expired records must be hidden from readers.
func (p ExpiryPolicy) Enforced() bool {
	return p == ExpiryLazy || p == ExpiryActive
}

// ParseExpiryPolicy parses "none", "lazy" or "active" (case-insensitive).
// An empty string yields ExpiryNone.
func ParseExpiryPolicy(s string) (ExpiryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ExpiryNone, nil
	case "lazy":
		return ExpiryLazy, nil
	case "active":
		return ExpiryActive, nil
	default:
		return ExpiryNone, fmt.Errorf("unknown expiry policy %q", s)
	}
}
