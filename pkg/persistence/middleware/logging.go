package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
)

type loggingMiddleware struct {
	next   ports.InspectableStore
	logger *slog.Logger
}

// NewLoggingMiddleware logs every store operation at debug level and failures at warn.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next ports.InspectableStore) ports.InspectableStore {
		return &loggingMiddleware{next: next, logger: logger}
	}
}

func (m *loggingMiddleware) log(ctx context.Context, op, sessionID string, start time.Time, err error) {
	attrs := []any{"op", op, "duration", time.Since(start)}
	if sessionID != "" {
		attrs = append(attrs, "session_id", sessionID)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "Session store operation failed", append(attrs, "err", err)...)
		return
	}
	m.logger.DebugContext(ctx, "Session store operation", attrs...)
}

func (m *loggingMiddleware) Save(ctx context.Context, state domain.State, ttl time.Duration) (string, error) {
	start := time.Now()
	id, err := m.next.Save(ctx, state, ttl)
	m.log(ctx, "save", id, start, err)
	return id, err
}

func (m *loggingMiddleware) Load(ctx context.Context, sessionID string) (domain.State, bool, error) {
	start := time.Now()
	state, found, err := m.next.Load(ctx, sessionID)
	m.log(ctx, "load", sessionID, start, err)
	return state, found, err
}

func (m *loggingMiddleware) Update(ctx context.Context, sessionID string, state domain.State, ttl time.Duration) (string, error) {
	start := time.Now()
	id, err := m.next.Update(ctx, sessionID, state, ttl)
	m.log(ctx, "update", sessionID, start, err)
	return id, err
}

func (m *loggingMiddleware) UpdateTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	start := time.Now()
	err := m.next.UpdateTTL(ctx, sessionID, ttl)
	m.log(ctx, "update_ttl", sessionID, start, err)
	return err
}

func (m *loggingMiddleware) Delete(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := m.next.Delete(ctx, sessionID)
	m.log(ctx, "delete", sessionID, start, err)
	return err
}

func (m *loggingMiddleware) List(ctx context.Context) ([]domain.Entry, error) {
	start := time.Now()
	entries, err := m.next.List(ctx)
	m.log(ctx, "list", "", start, err)
	return entries, err
}
