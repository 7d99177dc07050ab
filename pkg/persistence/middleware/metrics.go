package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// Operation results reported in the "result" label.
const (
	resultOK          = "ok"
	resultNotFound    = "not_found"
	resultUnavailable = "unavailable"
	resultError       = "error"
)

// StoreMetrics holds the collectors shared by every store wrapped with NewMetricsMiddleware.
type StoreMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewStoreMetrics creates the store collectors and registers them on reg.
func NewStoreMetrics(reg prometheus.Registerer) (*StoreMetrics, error) {
	m := &StoreMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedrop_store_operations_total",
				Help: "Total number of session store operations",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filedrop_store_operation_duration_seconds",
				Help:    "Duration of session store operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
	for _, c := range []prometheus.Collector{m.operations, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterSessionGauge exposes the number of listed sessions as the filedrop_sessions gauge.
// The lister is queried on every scrape.
func RegisterSessionGauge(reg prometheus.Registerer, lister ports.Lister) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "filedrop_sessions",
			Help: "Number of sessions currently held by the store",
		},
		func() float64 {
			entries, err := lister.List(context.Background())
			if err != nil {
				return -1
			}
			return float64(len(entries))
		},
	))
}

type metricsMiddleware struct {
	next    ports.InspectableStore
	metrics *StoreMetrics
}

// NewMetricsMiddleware records a counter and a latency histogram per store operation.
func NewMetricsMiddleware(metrics *StoreMetrics) Middleware {
	return func(next ports.InspectableStore) ports.InspectableStore {
		return &metricsMiddleware{next: next, metrics: metrics}
	}
}

func (m *metricsMiddleware) observe(op string, start time.Time, err error) {
	m.metrics.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.metrics.operations.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, domain.ErrSessionNotFound):
		return resultNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		return resultUnavailable
	default:
		return resultError
	}
}

func (m *metricsMiddleware) Save(ctx context.Context, state domain.State, ttl time.Duration) (string, error) {
	start := time.Now()
	id, err := m.next.Save(ctx, state, ttl)
	m.observe("save", start, err)
	return id, err
}

func (m *metricsMiddleware) Load(ctx context.Context, sessionID string) (domain.State, bool, error) {
	start := time.Now()
	state, found, err := m.next.Load(ctx, sessionID)
	m.observe("load", start, err)
	return state, found, err
}

func (m *metricsMiddleware) Update(ctx context.Context, sessionID string, state domain.State, ttl time.Duration) (string, error) {
	start := time.Now()
	id, err := m.next.Update(ctx, sessionID, state, ttl)
	m.observe("update", start, err)
	return id, err
}

func (m *metricsMiddleware) UpdateTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	start := time.Now()
	err := m.next.UpdateTTL(ctx, sessionID, ttl)
	m.observe("update_ttl", start, err)
	return err
}

func (m *metricsMiddleware) Delete(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := m.next.Delete(ctx, sessionID)
	m.observe("delete", start, err)
	return err
}

func (m *metricsMiddleware) List(ctx context.Context) ([]domain.Entry, error) {
	start := time.Now()
	entries, err := m.next.List(ctx)
	m.observe("list", start, err)
	return entries, err
}
