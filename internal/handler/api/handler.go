package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"Calibra/internal/domain/models"
	"Calibra/internal/service/metrics"
	"Calibra/internal/service/ratelimit"
	"Calibra/internal/usecase"
	pkgcache "Calibra/pkg/cache"
	applogger "Calibra/pkg/logger"
)

// RetrainService is the part of the retrain manager the API drives.
type RetrainService interface {
	Status() models.RetrainStatus
	Trigger(reason string) error
}

// Enqueuer hands work to the background job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the signal, tick and operator endpoints.
type Handler struct {
	logger    *applogger.Logger
	evaluator *usecase.SignalEvaluator
	recorder  *usecase.OutcomeRecorder
	monitor   *usecase.OutcomeMonitor
	ticks     usecase.TickProcessor
	retrain   RetrainService
	queue     Enqueuer
	cache     pkgcache.Service
	cacheTTL  time.Duration
	limiter   *ratelimit.Limiter
	checks    []HealthCheck
	started   time.Time
}

type Option func(*Handler)

func WithLogger(l *applogger.Logger) Option { return func(h *Handler) { h.logger = l } }

// WithRetrain enables the retrain endpoints. q may be nil, in which case
// manual triggers go straight to the manager.
func WithRetrain(r RetrainService, q Enqueuer) Option {
	return func(h *Handler) { h.retrain, h.queue = r, q }
}

// WithSnapshotCache caches read-only aggregate responses for ttl.
func WithSnapshotCache(c pkgcache.Service, ttl time.Duration) Option {
	return func(h *Handler) { h.cache, h.cacheTTL = c, ttl }
}

// WithRateLimit guards the write endpoints.
func WithRateLimit(l *ratelimit.Limiter) Option { return func(h *Handler) { h.limiter = l } }

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(h *Handler) { h.checks = append(h.checks, checks...) }
}

func NewHandler(
	evaluator *usecase.SignalEvaluator,
	recorder *usecase.OutcomeRecorder,
	monitor *usecase.OutcomeMonitor,
	ticks usecase.TickProcessor,
	opts ...Option,
) *Handler {
	metrics.Register()
	h := &Handler{
		logger:    applogger.NewNop(),
		evaluator: evaluator,
		recorder:  recorder,
		monitor:   monitor,
		ticks:     ticks,
		cacheTTL:  2 * time.Second,
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	g := e.Group("/api")
	w := g.Group("")
	if h.limiter != nil {
		w.Use(h.limiter.Middleware())
	}
	w.POST("/signals/evaluate", h.Evaluate)
	w.POST("/ticks", h.Ticks)
	w.POST("/patterns/:pattern/reset", h.ResetPattern)

	g.GET("/signals/open", h.OpenSignals)
	g.GET("/patterns", h.Patterns)
	g.GET("/patterns/:pattern", h.Pattern)
	g.GET("/pairs", h.Pairs)
	g.GET("/sessions", h.Sessions)

	if h.retrain != nil {
		g.GET("/retrain/status", h.RetrainStatus)
		w.POST("/retrain/trigger", h.RetrainTrigger)
	}
}

// observe records endpoint latency; call as defer h.observe(name, time.Now()).
func (h *Handler) observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (h *Handler) fail(endpoint string, err error) {
	metrics.APIErrors.WithLabelValues(endpoint).Inc()
	h.logger.Error("api "+endpoint+" failed", applogger.Error(err))
}

// cached serves key from the snapshot cache or builds and stores it.
func (h *Handler) cached(ctx context.Context, endpoint, key string, dest interface{}, build func() interface{}) interface{} {
	if h.cache == nil {
		return build()
	}
	if err := h.cache.Get(ctx, key, dest); err == nil {
		metrics.SnapshotCache.WithLabelValues(endpoint, "hit").Inc()
		return dest
	}
	metrics.SnapshotCache.WithLabelValues(endpoint, "miss").Inc()
	v := build()
	if err := h.cache.Set(ctx, key, v, h.cacheTTL); err != nil {
		h.logger.Warn("snapshot cache set failed", applogger.String("key", key), applogger.Error(err))
	}
	return v
}

// invalidate drops cached snapshots after a state change.
func (h *Handler) invalidate(ctx context.Context, keys ...string) {
	if h.cache == nil {
		return
	}
	_ = h.cache.Delete(ctx, keys...)
}
