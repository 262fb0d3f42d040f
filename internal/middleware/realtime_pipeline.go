package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	applogger "Calibra/pkg/logger"
	"Calibra/pkg/util"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// RealtimePipeline sits between the quote feeds and the tick router.
// It validates, drops out-of-order quotes, optionally throttles, and buffers
// ticks when downstream fails.
type RealtimePipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	logger   *applogger.Logger
	maxRPS   int
	maxSkew  time.Duration
	bufSize  int
	bufCh    chan *models.Tick
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted quote time
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS caps forwarded ticks per second per symbol. Zero disables the
// throttle; outcome resolution wants every quote so that is the default.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMaxSkew rejects quotes stamped further than d in the future.
func WithMaxSkew(d time.Duration) PipelineOption {
	return func(p *RealtimePipeline) { p.maxSkew = d }
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *RealtimePipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func withClock(now func() time.Time) PipelineOption {
	return func(p *RealtimePipeline) { p.now = now }
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		logger:   applogger.NewNop(),
		maxSkew:  5 * time.Second,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	return p
}

// Start launches background flushing of buffered ticks. It returns when ctx
// is done or Stop is called.
func (p *RealtimePipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	backoff := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		case t := <-p.bufCh:
			if err := p.proc.Process(ctx, t); err != nil {
				if backoff < 2*time.Second {
					backoff *= 2
				}
				p.metrics.RecordDroppedTick("flush_retry")
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil
				}
				select {
				case p.bufCh <- t:
				default:
					p.metrics.RecordDroppedTick("buffer_full")
				}
				continue
			}
			backoff = 50 * time.Millisecond
		}
	}
}

// Stop stops the background flushing.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Buffered returns the number of ticks waiting for downstream.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates and forwards a tick, buffering it if downstream fails.
// Invalid ticks return models.ErrInvalidTick; stale or throttled ones are
// dropped silently.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Tick) error {
	start := p.now()
	if t == nil {
		p.metrics.RecordDroppedTick("nil")
		p.logger.Warn("dropping nil tick")
		return models.ErrInvalidTick
	}
	t.Symbol = util.NormalizeSymbol(t.Symbol)
	if !t.Valid() {
		p.metrics.RecordDroppedTick("invalid")
		p.logger.Warn("dropping malformed tick",
			applogger.String("symbol", t.Symbol),
			applogger.Float64("bid", t.Bid),
			applogger.Float64("ask", t.Ask),
			applogger.Time("ts", t.Timestamp))
		return fmt.Errorf("%w: %s", models.ErrInvalidTick, t.Symbol)
	}
	if p.maxSkew > 0 && t.Timestamp.Sub(start) > p.maxSkew {
		p.metrics.RecordDroppedTick("future")
		p.logger.Warn("dropping tick stamped in the future",
			applogger.String("symbol", t.Symbol),
			applogger.Duration("ahead_ms", t.Timestamp.Sub(start)))
		return fmt.Errorf("%w: timestamp ahead of clock", models.ErrInvalidTick)
	}
	if !p.admit(t, start) {
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		if isInvalid(err) {
			return err
		}
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordDroppedTick("buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
	return nil
}

func (p *RealtimePipeline) admit(t *models.Tick, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastSeen[t.Symbol]; ok && t.Timestamp.Before(last) {
		p.metrics.RecordDroppedTick("stale")
		return false
	}
	if p.maxRPS > 0 {
		lim, ok := p.limiters[t.Symbol]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(p.maxRPS), 1)
			p.limiters[t.Symbol] = lim
		}
		if !lim.AllowN(now, 1) {
			p.metrics.RecordDroppedTick("throttle")
			return false
		}
	}
	p.lastSeen[t.Symbol] = t.Timestamp
	return true
}
