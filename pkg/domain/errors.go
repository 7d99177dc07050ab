package domain

import "errors"

// ErrSessionNotFound is returned when an update targets a session ID that is not in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrKeyEncoding is returned when a generated session ID cannot be represented
// in the identifier format required by the session transport.
var ErrKeyEncoding = errors.New("session key encoding failed")

// ErrStoreUnavailable is returned when the store cannot be trusted or reached:
// a poisoned in-memory table or an unreachable backend.
var ErrStoreUnavailable = errors.New("session store unavailable")
