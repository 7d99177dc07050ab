package session_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/filedrop/pkg/adapters/memory"
	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
	"github.com/aretw0/filedrop/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t       *testing.T
	store   ports.InspectableStore
	handler http.Handler
}

// newHarness wires Middleware around a handler that acts on the "action" query parameter.
func newHarness(t *testing.T, store ports.InspectableStore, opts ...session.MiddlewareOption) *harness {
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromRequest(r)
		require.NotNil(t, sess)

		switch r.URL.Query().Get("action") {
		case "set":
			sess.Insert(r.URL.Query().Get("key"), r.URL.Query().Get("value"))
		case "clear":
			sess.Clear()
		case "purge":
			sess.Purge()
		case "renew":
			sess.Renew()
		}
		v, _ := sess.Get("user")
		fmt.Fprintf(w, "user=%s", v)
	})
	codec := session.NewJWTCodec([]byte("test-secret"))
	return &harness{t: t, store: store, handler: session.Middleware(store, codec, opts...)(app)}
}

func (h *harness) do(query string, cookie *http.Cookie) *http.Response {
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec.Result()
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "id" {
			return c
		}
	}
	return nil
}

func (h *harness) entries() []domain.Entry {
	entries, err := h.store.List(context.Background())
	require.NoError(h.t, err)
	return entries
}

func TestMiddleware_NewSessionIsSavedOnChange(t *testing.T) {
	h := newHarness(t, memory.NewStore())

	resp := h.do("action=set&key=user&value=alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cookie := sessionCookie(resp)
	require.NotNil(t, cookie, "a changed session must set the cookie")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 60, cookie.MaxAge)

	entries := h.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].State["user"])
	assert.Equal(t, time.Minute, entries[0].TTL)

	// The cookie round-trips to the stored state.
	resp = h.do("", cookie)
	body := make([]byte, 64)
	n, _ := resp.Body.Read(body)
	assert.Equal(t, "user=alice", string(body[:n]))
	assert.Nil(t, sessionCookie(resp), "read-only requests do not refresh the cookie by default")
}

func TestMiddleware_EmptySessionIsNeverPersisted(t *testing.T) {
	h := newHarness(t, memory.NewStore())

	resp := h.do("", nil)
	assert.Nil(t, sessionCookie(resp))

	resp = h.do("action=clear", nil)
	assert.Nil(t, sessionCookie(resp))
	assert.Empty(t, h.entries())
}

func TestMiddleware_TamperedCookieStartsFresh(t *testing.T) {
	h := newHarness(t, memory.NewStore())

	cookie := sessionCookie(h.do("action=set&key=user&value=alice", nil))
	require.NotNil(t, cookie)
	cookie.Value += "x"

	resp := h.do("action=set&key=user&value=mallory", cookie)
	fresh := sessionCookie(resp)
	require.NotNil(t, fresh)
	assert.NotEqual(t, cookie.Value, fresh.Value)
	assert.Len(t, h.entries(), 2, "the original session is untouched")
}

func TestMiddleware_Purge(t *testing.T) {
	h := newHarness(t, memory.NewStore())

	cookie := sessionCookie(h.do("action=set&key=user&value=alice", nil))
	require.NotNil(t, cookie)

	removal := sessionCookie(h.do("action=purge", cookie))
	require.NotNil(t, removal)
	assert.Less(t, removal.MaxAge, 0)
	assert.Empty(t, h.entries())
}

func TestMiddleware_RenewMovesState(t *testing.T) {
	h := newHarness(t, memory.NewStore())

	cookie := sessionCookie(h.do("action=set&key=user&value=alice", nil))
	require.NotNil(t, cookie)
	before := h.entries()
	require.Len(t, before, 1)

	renewed := sessionCookie(h.do("action=renew", cookie))
	require.NotNil(t, renewed)

	after := h.entries()
	require.Len(t, after, 1)
	assert.NotEqual(t, before[0].ID, after[0].ID)
	assert.Equal(t, "alice", after[0].State["user"])
}

func TestMiddleware_UpdateFallsBackToSave(t *testing.T) {
	store := memory.NewStore()
	h := newHarness(t, store)

	cookie := sessionCookie(h.do("action=set&key=user&value=alice", nil))
	require.NotNil(t, cookie)

	// Make Load succeed but the following Update miss, as when a session is deleted mid-request.
	racy := &vanishingStore{InspectableStore: store}
	h = newHarness(t, racy)

	resp := h.do("action=set&key=user&value=bob", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, sessionCookie(resp))

	entries := h.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].State["user"])
}

// vanishingStore deletes the session right after loading it.
type vanishingStore struct {
	ports.InspectableStore
}

func (s *vanishingStore) Load(ctx context.Context, id string) (domain.State, bool, error) {
	state, found, err := s.InspectableStore.Load(ctx, id)
	if found {
		_ = s.InspectableStore.Delete(ctx, id)
	}
	return state, found, err
}

func TestMiddleware_OnEveryRequestExtendsTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore(memory.WithClock(func() time.Time { return now }))
	h := newHarness(t, store, session.WithTTLPolicy(session.OnEveryRequest), session.WithTTL(time.Hour))

	cookie := sessionCookie(h.do("action=set&key=user&value=alice", nil))
	require.NotNil(t, cookie)
	assert.Equal(t, 3600, cookie.MaxAge)

	now = now.Add(10 * time.Minute)
	refreshed := sessionCookie(h.do("", cookie))
	require.NotNil(t, refreshed, "every request refreshes the cookie")

	entries := h.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, now, entries[0].TouchedAt)
	assert.Equal(t, time.Hour, entries[0].TTL)
}

// failingStore rejects every write.
type failingStore struct {
	ports.InspectableStore
}

func (s *failingStore) Save(ctx context.Context, state domain.State, ttl time.Duration) (string, error) {
	return "", domain.ErrStoreUnavailable
}

func TestMiddleware_StoreErrorIs500(t *testing.T) {
	h := newHarness(t, &failingStore{InspectableStore: memory.NewStore()})

	resp := h.do("action=set&key=user&value=alice", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Nil(t, sessionCookie(resp))
}

func TestMiddleware_CustomErrorHandler(t *testing.T) {
	var got error
	h := newHarness(t, &failingStore{InspectableStore: memory.NewStore()},
		session.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
	)

	resp := h.do("action=set&key=user&value=alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, errors.Is(got, domain.ErrStoreUnavailable))
}

func TestMiddleware_CookieName(t *testing.T) {
	opts := session.DefaultCookieOptions()
	opts.Name = "sid"
	opts.Secure = true
	h := newHarness(t, memory.NewStore(), session.WithCookieOptions(opts))

	resp := h.do("action=set&key=user&value=alice", nil)
	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, "sid", resp.Cookies()[0].Name)
	assert.True(t, resp.Cookies()[0].Secure)
}

func TestParseTTLPolicy(t *testing.T) {
	p, err := session.ParseTTLPolicy("on-every-request")
	require.NoError(t, err)
	assert.Equal(t, session.OnEveryRequest, p)

	p, err = session.ParseTTLPolicy("")
	require.NoError(t, err)
	assert.Equal(t, session.OnStateChanges, p)

	_, err = session.ParseTTLPolicy("sometimes")
	assert.Error(t, err)
}
