package session

import (
	"context"
	"net/http"
)

type contextKey struct{}

func newContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored in ctx by Middleware, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}

// FromRequest returns the session attached to r by Middleware, or nil.
func FromRequest(r *http.Request) *Session {
	return FromContext(r.Context())
}
