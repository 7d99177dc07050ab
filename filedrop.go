package filedrop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	httpadapter "github.com/aretw0/filedrop/internal/adapters/http"
	"github.com/aretw0/filedrop/internal/config"
	"github.com/aretw0/filedrop/internal/logging"
	"github.com/aretw0/filedrop/internal/upload"
	"github.com/aretw0/filedrop/pkg/adapters/file"
	"github.com/aretw0/filedrop/pkg/adapters/memory"
	"github.com/aretw0/filedrop/pkg/adapters/redis"
	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/persistence/middleware"
	"github.com/aretw0/filedrop/pkg/ports"
	"github.com/aretw0/filedrop/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Version is the filedrop release.
const Version = "0.1.0"

// App is a fully wired filedrop instance.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	base    ports.InspectableStore
	store   ports.InspectableStore
	sweeper sweeper
	closers []func() error
	handler http.Handler
}

// sweeper is a store with background maintenance, such as *memory.Store.
type sweeper interface {
	Run(ctx context.Context) error
}

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	store      ports.InspectableStore
}

// Option defines a functional option for configuring the App.
type Option func(*options)

// WithLogger sets a custom structured logger instead of the one described by the config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers metrics on reg. When reg is also a prometheus.Gatherer
// (as *prometheus.Registry is), it is served on /metrics.
// Defaults to a fresh registry with Go and process collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithStore bypasses the configured backend. The middleware chain still applies,
// and App.Run drives the store's own Run method when it has one.
func WithStore(store ports.InspectableStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// New validates cfg and builds the store, the session handling and the HTTP handler.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		level, _ := logging.ParseLevel(cfg.Log.Level)
		format, _ := logging.ParseFormat(cfg.Log.Format)
		o.logger = logging.New(level, format)
	}
	if o.registerer == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		o.registerer = reg
	}

	app := &App{cfg: cfg, logger: o.logger}

	var locker ports.DistributedLocker
	if o.store != nil {
		app.base = o.store
		if sw, ok := o.store.(sweeper); ok {
			app.sweeper = sw
		}
	} else {
		var err error
		locker, err = app.openBackend()
		if err != nil {
			return nil, err
		}
	}

	mws, err := app.middlewares(o.registerer)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.store = middleware.Chain(app.base, mws...)

	if err := middleware.RegisterSessionGauge(o.registerer, app.base); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to register session gauge: %w", err)
	}

	secret := []byte(cfg.Session.CookieSecret)
	if len(secret) == 0 {
		secret, err = session.RandomSecret()
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.logger.Warn("No cookie secret configured; sessions will not survive a restart")
	}

	managerOpts := []session.Option{session.WithLogger(app.logger)}
	if locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(locker))
	}
	manager := session.NewManager(app.store, managerOpts...)

	policy, _ := session.ParseTTLPolicy(cfg.Session.TTLPolicy)
	cookie := session.DefaultCookieOptions()
	cookie.Name = cfg.Session.CookieName
	cookie.Secure = cfg.Session.CookieSecure

	var gatherer prometheus.Gatherer
	if g, ok := o.registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}

	app.handler = httpadapter.NewHandler(httpadapter.Options{
		Store: app.store,
		Codec: session.NewJWTCodec(secret),
		SessionOptions: []session.MiddlewareOption{
			session.WithTTL(cfg.Session.TTL),
			session.WithTTLPolicy(policy),
			session.WithCookieOptions(cookie),
			session.WithManager(manager),
		},
		Uploads:        upload.Storage{Dir: cfg.Upload.Dir},
		MaxUploadBytes: cfg.Upload.MaxBytes,
		BaseURL:        cfg.Server.BaseURL,
		Version:        Version,
		Gatherer:       gatherer,
		Logger:         app.logger,
	})

	app.logger.Info("filedrop initialized",
		"backend", app.backendName(o.store != nil),
		"expiry", cfg.Store.Expiry,
		"ttl", cfg.Session.TTL,
	)
	return app, nil
}

// openBackend creates the configured store. Only redis returns a locker.
func (a *App) openBackend() (ports.DistributedLocker, error) {
	switch a.cfg.Store.Backend {
	case config.BackendRedis:
		rc := a.cfg.Store.Redis
		store := redis.New(rc.Addr, rc.Password, rc.DB, redis.WithPrefix(rc.Prefix))
		a.base = store
		a.closers = append(a.closers, store.Close)
		return redis.NewLocker(store.Client(), rc.Prefix), nil

	case config.BackendFile:
		a.base = file.New(a.cfg.Store.File.Dir)
		return nil, nil

	default:
		policy, _ := domain.ParseExpiryPolicy(a.cfg.Store.Expiry)
		store := memory.NewStore(
			memory.WithExpiryPolicy(policy),
			memory.WithSweepInterval(a.cfg.Store.SweepInterval),
			memory.WithLogger(a.logger),
		)
		a.base = store
		a.sweeper = store
		return nil, nil
	}
}

// middlewares returns the decorators, outermost first: metrics, logging, redaction, encryption.
func (a *App) middlewares(reg prometheus.Registerer) ([]middleware.Middleware, error) {
	metrics, err := middleware.NewStoreMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register store metrics: %w", err)
	}
	mws := []middleware.Middleware{
		middleware.NewMetricsMiddleware(metrics),
		middleware.NewLoggingMiddleware(a.logger),
	}

	if len(a.cfg.Store.RedactPatterns) > 0 {
		mws = append(mws, middleware.NewRedactMiddleware(a.cfg.Store.RedactPatterns))
	}

	active, fallbacks, err := a.cfg.EncryptionKeys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallbacks,
		}))
	}
	return mws, nil
}

func (a *App) backendName(injected bool) string {
	if injected {
		return "custom"
	}
	return strings.ToLower(a.cfg.Store.Backend)
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Store returns the decorated session store used by the handlers.
func (a *App) Store() ports.InspectableStore {
	return a.store
}

// Run performs background maintenance, currently active expiry sweeps, until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.sweeper != nil {
		if err := a.sweeper.Run(ctx); err != nil {
			return fmt.Errorf("session sweeper stopped: %w", err)
		}
	}
	<-ctx.Done()
	return nil
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}
