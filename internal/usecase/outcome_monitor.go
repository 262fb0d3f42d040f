package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	applogger "Calibra/pkg/logger"
)

// OutcomeSink receives every resolved outcome exactly once.
type OutcomeSink interface {
	OnOutcome(ctx context.Context, o models.Outcome)
}

// symbolShard holds the open signals of one symbol. Ticks for different
// symbols never contend on the same lock.
type symbolShard struct {
	mu   sync.Mutex
	open map[string]*models.TrackedSignal
}

// OutcomeMonitor tracks open signals and resolves them against ticks as WIN,
// LOSS or TIMEOUT.
type OutcomeMonitor struct {
	mu     sync.RWMutex
	shards map[string]*symbolShard
	count  atomic.Int64

	// Last quote per symbol, bounded by maxPrices. Only Track creates shards.
	pmu       sync.Mutex
	prices    map[string]models.Tick
	maxPrices int

	sink     OutcomeSink
	metrics  domrepo.Metrics
	logger   *applogger.Logger
	horizon  time.Duration
	pipSizes map[string]float64
}

type MonitorOption func(*OutcomeMonitor)

// WithHorizon sets the default horizon for signals tracked without one.
func WithHorizon(d time.Duration) MonitorOption {
	return func(m *OutcomeMonitor) {
		if d > 0 {
			m.horizon = d
		}
	}
}

// WithPipSizes overrides the pip size for specific symbols.
func WithPipSizes(sizes map[string]float64) MonitorOption {
	return func(m *OutcomeMonitor) {
		for k, v := range sizes {
			if v > 0 {
				m.pipSizes[strings.ToUpper(k)] = v
			}
		}
	}
}

// WithPriceCapacity bounds how many symbols keep a last quote. When full,
// the stalest symbol is evicted.
func WithPriceCapacity(n int) MonitorOption {
	return func(m *OutcomeMonitor) {
		if n > 0 {
			m.maxPrices = n
		}
	}
}

func WithMonitorLogger(l *applogger.Logger) MonitorOption {
	return func(m *OutcomeMonitor) { m.logger = l }
}

func NewOutcomeMonitor(sink OutcomeSink, metrics domrepo.Metrics, opts ...MonitorOption) *OutcomeMonitor {
	m := &OutcomeMonitor{
		shards:    make(map[string]*symbolShard),
		prices:    make(map[string]models.Tick),
		maxPrices: 4096,
		sink:      sink,
		metrics:   metrics,
		logger:    applogger.NewNop(),
		horizon:   4 * time.Hour,
		pipSizes:  make(map[string]float64),
	}
	if m.metrics == nil {
		m.metrics = nopMetrics{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *OutcomeMonitor) shard(symbol string, create bool) *symbolShard {
	m.mu.RLock()
	s := m.shards[symbol]
	m.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s = m.shards[symbol]; s == nil {
		s = &symbolShard{open: make(map[string]*models.TrackedSignal)}
		m.shards[symbol] = s
	}
	return s
}

// Track adds a signal to the open set.
func (m *OutcomeMonitor) Track(sig models.TrackedSignal) error {
	if err := models.ValidateTracked(&sig); err != nil {
		return err
	}
	return m.TrackWith(sig.Symbol, func([]models.TrackedSignal) (*models.TrackedSignal, error) {
		return &sig, nil
	})
}

// TrackWith calls build with copies of the open signals on symbol and tracks
// the signal it returns, all under the symbol's lock. Concurrent callers on
// one symbol therefore each see the signals the others tracked. A nil signal
// tracks nothing.
func (m *OutcomeMonitor) TrackWith(symbol string, build func(open []models.TrackedSignal) (*models.TrackedSignal, error)) error {
	s := m.shard(symbol, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, err := build(copyOpen(s.open))
	if err != nil || sig == nil {
		return err
	}
	if err := models.ValidateTracked(sig); err != nil {
		return err
	}
	if sig.Symbol != symbol {
		return fmt.Errorf("%w: signal %s is for %s, not %s", models.ErrInvalidSignal, sig.ID, sig.Symbol, symbol)
	}
	if _, dup := s.open[sig.ID]; dup {
		return fmt.Errorf("%w: signal %s already tracked", models.ErrInvalidSignal, sig.ID)
	}
	tracked := *sig
	if tracked.Horizon <= 0 {
		tracked.Horizon = m.horizon
	}
	s.open[tracked.ID] = &tracked

	m.metrics.SetOpenSignals(int(m.count.Add(1)))
	return nil
}

// Process adapts the monitor to the tick pipeline.
func (m *OutcomeMonitor) Process(ctx context.Context, t *models.Tick) error {
	_, err := m.OnTick(ctx, *t)
	return err
}

// OnTick resolves every open signal on the tick's symbol whose stop, target
// or horizon has been reached. Removal and emission happen under the shard
// lock, so each signal resolves once even under concurrent ticks.
func (m *OutcomeMonitor) OnTick(ctx context.Context, t models.Tick) (int, error) {
	if !t.Valid() {
		m.metrics.RecordDroppedTick("malformed")
		m.logger.Warn("dropping malformed tick",
			applogger.String("symbol", t.Symbol),
			applogger.Float64("bid", t.Bid),
			applogger.Float64("ask", t.Ask))
		return 0, models.ErrInvalidTick
	}

	m.recordPrice(t)
	s := m.shard(t.Symbol, false)
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.open) == 0 {
		return 0, nil
	}

	resolved := 0
	for _, id := range sortedIDs(s.open) {
		sig := s.open[id]
		result, exit, ok := m.evaluate(sig, t)
		if !ok {
			continue
		}
		delete(s.open, id)
		m.metrics.SetOpenSignals(int(m.count.Add(-1)))
		m.emit(ctx, sig, result, exit, t.Timestamp)
		resolved++
	}
	return resolved, nil
}

// evaluate decides whether sig resolves on tick t. A tick satisfying both
// stop and target counts as a LOSS.
func (m *OutcomeMonitor) evaluate(sig *models.TrackedSignal, t models.Tick) (models.Result, float64, bool) {
	switch sig.Direction {
	case models.Buy:
		if t.Bid <= sig.Stop {
			return models.ResultLoss, t.Bid, true
		}
		if t.Bid >= sig.Target {
			return models.ResultWin, t.Bid, true
		}
		if sig.Expired(t.Timestamp) {
			return models.ResultTimeout, t.Bid, true
		}
	case models.Sell:
		if t.Ask >= sig.Stop {
			return models.ResultLoss, t.Ask, true
		}
		if t.Ask <= sig.Target {
			return models.ResultWin, t.Ask, true
		}
		if sig.Expired(t.Timestamp) {
			return models.ResultTimeout, t.Ask, true
		}
	}
	return "", 0, false
}

// Sweep times out signals on symbols that have gone quiet. The exit price is
// the last quote seen for the symbol, or the entry when none was seen.
func (m *OutcomeMonitor) Sweep(ctx context.Context, now time.Time) int {
	m.mu.RLock()
	shards := make(map[string]*symbolShard, len(m.shards))
	for sym, s := range m.shards {
		shards[sym] = s
	}
	m.mu.RUnlock()

	resolved := 0
	for sym, s := range shards {
		s.mu.Lock()
		for _, id := range sortedIDs(s.open) {
			sig := s.open[id]
			if !sig.Expired(now) {
				continue
			}
			exit := sig.Entry
			if last, ok := m.lastTick(sym); ok {
				exit = last.Bid
				if sig.Direction == models.Sell {
					exit = last.Ask
				}
			}
			delete(s.open, id)
			m.metrics.SetOpenSignals(int(m.count.Add(-1)))
			m.emit(ctx, sig, models.ResultTimeout, exit, now)
			resolved++
		}
		s.mu.Unlock()
	}
	return resolved
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *OutcomeMonitor) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := m.Sweep(ctx, now.UTC()); n > 0 {
				m.logger.Info("timed out quiet signals", applogger.Int("count", n))
			}
		}
	}
}

func (m *OutcomeMonitor) emit(ctx context.Context, sig *models.TrackedSignal, result models.Result, exit float64, at time.Time) {
	pip := m.PipSize(sig.Symbol)
	pips := (exit - sig.Entry) * sig.Direction.Sign() / pip
	riskPips := math.Abs(sig.Entry-sig.Stop) / pip
	var r float64
	if riskPips > 0 {
		r = pips / riskPips
	}

	o := models.Outcome{
		SignalID:             sig.ID,
		Pattern:              sig.Pattern,
		Symbol:               sig.Symbol,
		Direction:            sig.Direction,
		Session:              sig.Session,
		Regime:               sig.Regime,
		Timeframe:            sig.Timeframe,
		Result:               result,
		Pips:                 round(pips, 1),
		RMultiple:            round(r, 3),
		Duration:             at.Sub(sig.GeneratedAt),
		OpenedAt:             sig.GeneratedAt,
		ResolvedAt:           at,
		RawConfidence:        sig.RawConfidence,
		CalibratedConfidence: sig.CalibratedConfidence,
		Shadow:               sig.Shadow,
	}
	m.metrics.RecordOutcome(string(result), sig.Pattern)
	if m.sink != nil {
		m.sink.OnOutcome(ctx, o)
	}
}

// PipSize is 0.01 for JPY quotes and 0.0001 otherwise unless overridden.
func (m *OutcomeMonitor) PipSize(symbol string) float64 {
	if v, ok := m.pipSizes[symbol]; ok {
		return v
	}
	if strings.HasSuffix(symbol, "JPY") {
		return 0.01
	}
	return 0.0001
}

// Open returns copies of all open signals ordered by generation time.
func (m *OutcomeMonitor) Open() []models.TrackedSignal {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.shards))
	for sym := range m.shards {
		symbols = append(symbols, sym)
	}
	m.mu.RUnlock()

	var out []models.TrackedSignal
	for _, sym := range symbols {
		out = append(out, m.OpenFor(sym)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.Before(out[j].GeneratedAt) })
	return out
}

// OpenFor returns copies of the open signals on symbol.
func (m *OutcomeMonitor) OpenFor(symbol string) []models.TrackedSignal {
	s := m.shard(symbol, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOpen(s.open)
}

func copyOpen(open map[string]*models.TrackedSignal) []models.TrackedSignal {
	out := make([]models.TrackedSignal, 0, len(open))
	for _, id := range sortedIDs(open) {
		out = append(out, *open[id])
	}
	return out
}

// LastPrice returns the last mid price seen for symbol.
func (m *OutcomeMonitor) LastPrice(symbol string) (float64, bool) {
	t, ok := m.lastTick(symbol)
	if !ok {
		return 0, false
	}
	return t.Mid(), true
}

func (m *OutcomeMonitor) lastTick(symbol string) (models.Tick, bool) {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	t, ok := m.prices[symbol]
	return t, ok
}

func (m *OutcomeMonitor) recordPrice(t models.Tick) {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	if _, ok := m.prices[t.Symbol]; !ok && len(m.prices) >= m.maxPrices {
		var stalest string
		for sym, p := range m.prices {
			if stalest == "" || p.Timestamp.Before(m.prices[stalest].Timestamp) {
				stalest = sym
			}
		}
		delete(m.prices, stalest)
	}
	m.prices[t.Symbol] = t
}

// Symbols reports how many symbols hold a shard and how many a last quote.
func (m *OutcomeMonitor) Symbols() (shards, quotes int) {
	m.mu.RLock()
	shards = len(m.shards)
	m.mu.RUnlock()
	m.pmu.Lock()
	quotes = len(m.prices)
	m.pmu.Unlock()
	return shards, quotes
}

// Count returns the number of open signals.
func (m *OutcomeMonitor) Count() int { return int(m.count.Load()) }

func sortedIDs(open map[string]*models.TrackedSignal) []string {
	ids := make([]string, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
