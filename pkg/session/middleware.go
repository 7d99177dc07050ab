package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = time.Minute

// TTLPolicy decides when a session's TTL is extended.
type TTLPolicy int

const (
	// OnStateChanges extends the TTL only when the state is written.
	OnStateChanges TTLPolicy = iota
	// OnEveryRequest also extends the TTL of sessions that were only read.
	OnEveryRequest
)

func (p TTLPolicy) String() string {
	if p == OnEveryRequest {
		return "on-every-request"
	}
	return "on-state-changes"
}

// ParseTTLPolicy parses "on-state-changes" or "on-every-request".
func ParseTTLPolicy(s string) (TTLPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "on-state-changes":
		return OnStateChanges, nil
	case "on-every-request":
		return OnEveryRequest, nil
	default:
		return OnStateChanges, fmt.Errorf("unknown ttl policy %q", s)
	}
}

// ErrorHandler answers a request whose session could not be loaded or committed.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type middlewareConfig struct {
	ttl          time.Duration
	policy       TTLPolicy
	cookie       CookieOptions
	manager      *Manager
	errorHandler ErrorHandler
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithTTL sets the session lifetime sent to the store and the cookie Max-Age.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.ttl = ttl
	}
}

// WithTTLPolicy selects when the TTL is extended.
func WithTTLPolicy(p TTLPolicy) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.policy = p
	}
}

// WithCookieOptions replaces DefaultCookieOptions.
func WithCookieOptions(o CookieOptions) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.cookie = o
	}
}

// WithManager shares a Manager (and its locker and logger) with the middleware.
// The manager must wrap the same store.
func WithManager(m *Manager) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.manager = m
	}
}

// WithErrorHandler replaces the default plain 500 response.
func WithErrorHandler(h ErrorHandler) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.errorHandler = h
	}
}

// Middleware attaches a *Session to every request and persists it before the
// response headers are written.
func Middleware(store ports.SessionStore, codec Codec, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		ttl:    DefaultTTL,
		policy: OnStateChanges,
		cookie: DefaultCookieOptions(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.manager == nil {
		cfg.manager = NewManager(store)
	}
	if cfg.errorHandler == nil {
		logger := cfg.manager.logger
		cfg.errorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Session handling failed", "path", r.URL.Path, "err", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, hadCookie := "", false
			if c, err := r.Cookie(cfg.cookie.Name); err == nil {
				hadCookie = true
				if id, err := codec.Decode(c.Value); err == nil {
					sessionID = id
				} else {
					cfg.manager.logger.Debug("Ignoring session cookie", "err", err)
				}
			}

			h := &requestHandler{cfg: &cfg, store: store, codec: codec, next: next, hadCookie: hadCookie}
			if sessionID == "" {
				// Nobody else can know a session that does not exist yet.
				h.serve(w, r, "")
				return
			}

			err := cfg.manager.WithLock(r.Context(), sessionID, func(ctx context.Context) error {
				h.serve(w, r, sessionID)
				return nil
			})
			if err != nil {
				cfg.errorHandler(w, r, err)
			}
		})
	}
}

// requestHandler carries one request through load, handler and commit.
type requestHandler struct {
	cfg       *middlewareConfig
	store     ports.SessionStore
	codec     Codec
	next      http.Handler
	hadCookie bool
}

func (h *requestHandler) serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()

	state := domain.State{}
	if sessionID != "" {
		loaded, found, err := h.store.Load(ctx, sessionID)
		if err != nil {
			h.cfg.errorHandler(w, r, fmt.Errorf("load session: %w", err))
			return
		}
		if found {
			state = loaded
		} else {
			sessionID = ""
		}
	}

	sess := newSession(sessionID, state)
	cw := &commitWriter{ResponseWriter: w}
	cw.commit = func() bool {
		if err := h.commit(ctx, cw.ResponseWriter, sess); err != nil {
			h.cfg.errorHandler(cw.ResponseWriter, r, fmt.Errorf("commit session: %w", err))
			return false
		}
		return true
	}

	h.next.ServeHTTP(cw, r.WithContext(newContext(ctx, sess)))
	cw.finish()
}

// commit writes the session back to the store and sets the matching cookie on w.
func (h *requestHandler) commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	status, state := sess.snapshot()
	id := sess.id
	ttl := h.cfg.ttl

	switch status {
	case Purged:
		if id != "" {
			if err := h.store.Delete(ctx, id); err != nil {
				return err
			}
		}
		if id != "" || h.hadCookie {
			http.SetCookie(w, h.cfg.cookie.removal())
		}
		return nil

	case Renewed:
		if id != "" {
			if err := h.store.Delete(ctx, id); err != nil {
				return err
			}
		}
		if len(state) == 0 {
			if id != "" || h.hadCookie {
				http.SetCookie(w, h.cfg.cookie.removal())
			}
			return nil
		}
		return h.saveNew(ctx, w, state)

	case Changed:
		if id == "" {
			if len(state) == 0 {
				return nil
			}
			return h.saveNew(ctx, w, state)
		}
		_, err := h.store.Update(ctx, id, state, ttl)
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Deleted or expired while the request ran.
			return h.saveNew(ctx, w, state)
		}
		if err != nil {
			return err
		}
		return h.setCookie(w, id)

	default:
		if id == "" || h.cfg.policy != OnEveryRequest {
			return nil
		}
		err := h.store.UpdateTTL(ctx, id, ttl)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return h.setCookie(w, id)
	}
}

func (h *requestHandler) saveNew(ctx context.Context, w http.ResponseWriter, state domain.State) error {
	id, err := h.store.Save(ctx, state, h.cfg.ttl)
	if err != nil {
		return err
	}
	return h.setCookie(w, id)
}

func (h *requestHandler) setCookie(w http.ResponseWriter, id string) error {
	value, err := h.codec.Encode(id, h.cfg.ttl)
	if err != nil {
		return err
	}
	http.SetCookie(w, h.cfg.cookie.cookie(value, h.cfg.ttl))
	return nil
}

// commitWriter runs commit exactly once, right before the first header write.
// If commit fails, the error response replaces whatever the handler writes.
type commitWriter struct {
	http.ResponseWriter
	commit    func() bool
	committed bool
	failed    bool
}

func (w *commitWriter) ensureCommitted() {
	if w.committed {
		return
	}
	w.committed = true
	w.failed = !w.commit()
}

func (w *commitWriter) WriteHeader(code int) {
	w.ensureCommitted()
	if w.failed {
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.ensureCommitted()
	if w.failed {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher when the underlying writer does.
func (w *commitWriter) Flush() {
	w.ensureCommitted()
	if f, ok := w.ResponseWriter.(http.Flusher); ok && !w.failed {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// finish commits sessions whose handler wrote nothing.
func (w *commitWriter) finish() {
	w.ensureCommitted()
}
