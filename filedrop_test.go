package filedrop_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/filedrop"
	"github.com/aretw0/filedrop/internal/config"
	"github.com/aretw0/filedrop/internal/logging"
	"github.com/aretw0/filedrop/pkg/adapters/memory"
	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/persistence/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Server.BaseURL = "http://files.test"
	cfg.Upload.Dir = t.TempDir()
	cfg.Session.CookieSecret = "test-secret"
	return cfg
}

func newApp(t *testing.T, cfg config.Config, opts ...filedrop.Option) *filedrop.App {
	t.Helper()
	opts = append([]filedrop.Option{
		filedrop.WithLogger(logging.NewNop()),
		filedrop.WithRegisterer(prometheus.NewRegistry()),
	}, opts...)
	app, err := filedrop.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func visit(t *testing.T, app *filedrop.App) *http.Response {
	t.Helper()
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec.Result()
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "etcd"

	_, err := filedrop.New(cfg, filedrop.WithLogger(logging.NewNop()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestApp_MemoryBackend(t *testing.T) {
	app := newApp(t, testConfig(t))

	resp := visit(t, app)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, "id", resp.Cookies()[0].Name)

	entries, err := app.Store().List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].State["session_id"])
	assert.Equal(t, time.Minute, entries[0].TTL)
}

func TestApp_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.Redis.Addr = mr.Addr()

	app := newApp(t, cfg)
	resp := visit(t, app)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries, err := app.Store().List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, mr.Exists(cfg.Store.Redis.Prefix+entries[0].ID))
}

func TestApp_FileBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendFile
	cfg.Store.File.Dir = t.TempDir()

	visit(t, newApp(t, cfg))

	// A second instance over the same directory sees the session.
	entries, err := newApp(t, cfg).Store().List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestApp_EncryptionAndRedaction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.EncryptionKey = strings.Repeat("ab", 32)
	cfg.Store.RedactPatterns = []string{"^session_id$"}

	raw := memory.NewStore()
	app := newApp(t, cfg, filedrop.WithStore(raw))
	visit(t, app)

	stored, err := raw.List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0].State, middleware.EnvelopeKey)
	assert.NotContains(t, stored[0].State, "session_id")

	listed, err := app.Store().List(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, middleware.Mask, listed[0].State["session_id"])
}

func TestApp_RunSweepsExpiredSessions(t *testing.T) {
	raw := memory.NewStore(
		memory.WithExpiryPolicy(domain.ExpiryActive),
		memory.WithSweepInterval(10*time.Millisecond),
	)
	app := newApp(t, testConfig(t), filedrop.WithStore(raw))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	_, err := app.Store().Save(ctx, domain.State{"k": "v"}, time.Millisecond)
	require.NoError(t, err)

	// Len counts records without evicting, so only the sweeper can bring it to zero.
	assert.Eventually(t, func() bool { return raw.Len() == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestApp_RunSurvivesPoisonedStore(t *testing.T) {
	raw := memory.NewStore(
		memory.WithExpiryPolicy(domain.ExpiryActive),
		memory.WithSweepInterval(5*time.Millisecond),
		memory.WithKeyGenerator(func() (string, error) { panic("generator failure") }),
	)
	app := newApp(t, testConfig(t), filedrop.WithStore(raw))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := app.Store().Save(ctx, domain.State{"k": "v"}, time.Minute)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Run returned before cancel: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// The store keeps reporting the typed error instead of taking the process down.
	_, err = app.Store().List(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestApp_RunWithoutSweeperBlocksUntilCancel(t *testing.T) {
	app := newApp(t, testConfig(t))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, app.Run(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestApp_MetricsEndpoint(t *testing.T) {
	app := newApp(t, testConfig(t))
	visit(t, app)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "filedrop_sessions 1")
}
