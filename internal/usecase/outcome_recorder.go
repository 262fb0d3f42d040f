package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	"Calibra/internal/services/lifecycle"
	"Calibra/internal/services/performance"
	applogger "Calibra/pkg/logger"
)

// OutcomeRecorder is the single writer of engine state. Each outcome is
// appended to the outcome log, folded into the aggregator, run through the
// lifecycle rules and mirrored, in that order, under one lock.
type OutcomeRecorder struct {
	mu sync.Mutex

	outcomes  domrepo.OutcomeLog
	decisions domrepo.DecisionLog
	state     domrepo.StateStore
	agg       *performance.Aggregator
	lifecycle *lifecycle.Manager

	publisher domrepo.EventPublisher
	archive   domrepo.OutcomeArchive
	mirror    domrepo.SnapshotMirror
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	now       func() time.Time
}

type RecorderOption func(*OutcomeRecorder)

func WithPublisher(p domrepo.EventPublisher) RecorderOption {
	return func(r *OutcomeRecorder) { r.publisher = p }
}

func WithArchive(a domrepo.OutcomeArchive) RecorderOption {
	return func(r *OutcomeRecorder) { r.archive = a }
}

func WithSnapshotMirror(m domrepo.SnapshotMirror) RecorderOption {
	return func(r *OutcomeRecorder) { r.mirror = m }
}

func WithRecorderLogger(l *applogger.Logger) RecorderOption {
	return func(r *OutcomeRecorder) { r.logger = l }
}

func WithClock(now func() time.Time) RecorderOption {
	return func(r *OutcomeRecorder) { r.now = now }
}

func NewOutcomeRecorder(
	outcomes domrepo.OutcomeLog,
	decisions domrepo.DecisionLog,
	state domrepo.StateStore,
	agg *performance.Aggregator,
	lc *lifecycle.Manager,
	metrics domrepo.Metrics,
	opts ...RecorderOption,
) *OutcomeRecorder {
	r := &OutcomeRecorder{
		outcomes:  outcomes,
		decisions: decisions,
		state:     state,
		agg:       agg,
		lifecycle: lc,
		metrics:   metrics,
		logger:    applogger.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnOutcome implements OutcomeSink.
func (r *OutcomeRecorder) OnOutcome(ctx context.Context, o models.Outcome) {
	start := time.Now()
	if err := r.Record(ctx, o); err != nil {
		r.logger.Error("record outcome failed",
			applogger.String("signal_id", o.SignalID),
			applogger.String("pattern", o.Pattern),
			applogger.Error(err))
	}
	r.metrics.RecordLatency("record_outcome", time.Since(start).Seconds())
}

// Record persists and applies one outcome. A log append that fails twice is
// reported but the in-memory state still advances, so live decisions keep
// reflecting what actually happened.
func (r *OutcomeRecorder) Record(ctx context.Context, o models.Outcome) error {
	if err := models.ValidateOutcome(&o); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var persistErr error
	if err := r.outcomes.Append(ctx, &o); err != nil {
		if retryErr := r.outcomes.Append(ctx, &o); retryErr != nil {
			persistErr = fmt.Errorf("append outcome log: %w", retryErr)
			r.logger.Error("outcome log append failed twice", applogger.String("signal_id", o.SignalID), applogger.Error(retryErr))
		}
	}

	rec, err := r.agg.RecordOutcome(o)
	if err != nil {
		return err
	}
	pp, _ := r.agg.PatternPair(o.Pattern, o.Symbol)
	for _, d := range r.lifecycle.Evaluate(rec, pp, o.ResolvedAt) {
		r.persistDecisionLocked(ctx, d)
	}

	if r.archive != nil {
		if err := r.archive.Store(ctx, &o); err != nil {
			r.logger.Warn("archive outcome failed", applogger.String("signal_id", o.SignalID), applogger.Error(err))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishOutcome(ctx, &o); err != nil {
			r.logger.Warn("publish outcome failed", applogger.String("signal_id", o.SignalID), applogger.Error(err))
		}
	}

	r.logger.Info("outcome recorded",
		applogger.String("signal_id", o.SignalID),
		applogger.String("pattern", o.Pattern),
		applogger.String("symbol", o.Symbol),
		applogger.String("result", string(o.Result)),
		applogger.Float64("pips", o.Pips),
		applogger.Float64("expectancy", rec.Expectancy))
	return persistErr
}

func (r *OutcomeRecorder) persistDecisionLocked(ctx context.Context, d models.LifecycleDecision) {
	r.metrics.RecordTransition(d.From, d.To)
	r.logger.Info("lifecycle transition",
		applogger.String("pattern", d.Pattern),
		applogger.String("symbol", d.Symbol),
		applogger.String("from", d.From),
		applogger.String("to", d.To),
		applogger.String("reason", d.Reason))

	if err := r.decisions.Append(ctx, &d); err != nil {
		if retryErr := r.decisions.Append(ctx, &d); retryErr != nil {
			r.logger.Error("decision log append failed twice", applogger.String("pattern", d.Pattern), applogger.Error(retryErr))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishLifecycle(ctx, &d); err != nil {
			r.logger.Warn("publish lifecycle decision failed", applogger.String("pattern", d.Pattern), applogger.Error(err))
		}
	}
}

// Restore rebuilds the engine at startup. Aggregates always come from
// replaying the outcome log. Lifecycle state comes from the last snapshot,
// and outcomes the snapshot has not seen are run through the lifecycle rules
// again so their transitions are not lost.
func (r *OutcomeRecorder) Restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.state.Load(ctx)
	if err != nil {
		r.logger.Warn("lifecycle snapshot unreadable, deriving state from log", applogger.Error(err))
		snap = nil
	}
	all, err := r.outcomes.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read outcome log: %w", err)
	}

	valid := make([]models.Outcome, 0, len(all))
	for i := range all {
		if models.ValidateOutcome(&all[i]) == nil {
			valid = append(valid, all[i])
		}
	}

	seen := 0
	if snap != nil {
		seen = snap.EntryCount
		if seen > len(valid) {
			r.logger.Warn("snapshot ahead of outcome log", applogger.Int("snapshot", seen), applogger.Int("log", len(valid)))
			seen = len(valid)
		}
	}
	r.lifecycle.Restore(snap)
	r.agg.Rebuild(valid[:seen])

	replayed := 0
	for _, o := range valid[seen:] {
		rec, err := r.agg.RecordOutcome(o)
		if err != nil {
			continue
		}
		pp, _ := r.agg.PatternPair(o.Pattern, o.Symbol)
		for _, d := range r.lifecycle.Evaluate(rec, pp, o.ResolvedAt) {
			// Without a snapshot every transition was already logged once.
			if snap != nil {
				r.persistDecisionLocked(ctx, d)
			}
		}
		replayed++
	}
	// Combos cover the whole log, not just the snapshot prefix.
	r.agg.SetCombos(performance.BuildCombos(valid))

	r.logger.Info("engine state restored",
		applogger.Int("log_entries", len(all)),
		applogger.Int("skipped", len(all)-len(valid)),
		applogger.Int("from_snapshot", seen),
		applogger.Int("replayed", replayed))
	return nil
}

// Persist writes the lifecycle snapshot and publishes aggregate snapshots to
// the mirror when configured.
func (r *OutcomeRecorder) Persist(ctx context.Context) error {
	r.mu.Lock()
	snap := r.lifecycle.Snapshot(r.agg.EntryCount(), r.now())
	r.mu.Unlock()

	if err := r.state.Save(ctx, snap); err != nil {
		return fmt.Errorf("save lifecycle snapshot: %w", err)
	}

	if r.mirror != nil {
		agg := r.agg.Snapshot()
		for i := range agg.Patterns {
			r.lifecycle.Annotate(&agg.Patterns[i])
		}
		if err := r.mirror.Publish(ctx, "patterns", agg.Patterns); err != nil {
			r.logger.Warn("mirror patterns failed", applogger.Error(err))
		}
		if err := r.mirror.Publish(ctx, "pairs", agg.Pairs); err != nil {
			r.logger.Warn("mirror pairs failed", applogger.Error(err))
		}
		if err := r.mirror.Publish(ctx, "sessions", agg.Sessions); err != nil {
			r.logger.Warn("mirror sessions failed", applogger.Error(err))
		}
	}
	return nil
}

// Reset returns a pattern to ACTIVE on operator request.
func (r *OutcomeRecorder) Reset(ctx context.Context, pattern, operator string) (models.LifecycleDecision, error) {
	r.mu.Lock()
	rec, ok := r.agg.Pattern(pattern)
	if !ok {
		r.mu.Unlock()
		return models.LifecycleDecision{}, fmt.Errorf("%w: %s", models.ErrUnknownPattern, pattern)
	}
	d := r.lifecycle.Reset(rec, r.agg.PatternPairs(pattern), operator, r.now())
	r.persistDecisionLocked(ctx, d)
	r.mu.Unlock()

	if err := r.Persist(ctx); err != nil {
		r.logger.Error("persist after reset failed", applogger.String("pattern", pattern), applogger.Error(err))
	}
	return d, nil
}

// RebuildCombos recomputes the combo index from the archive when available,
// else from the outcome log.
func (r *OutcomeRecorder) RebuildCombos(ctx context.Context) error {
	var combos []models.ComboRecord
	if r.archive != nil {
		var err error
		combos, err = r.archive.ComboStats(ctx)
		if err != nil {
			r.logger.Warn("archive combo query failed, using outcome log", applogger.Error(err))
			combos = nil
		}
	}
	if combos == nil {
		all, err := r.outcomes.ReadAll(ctx)
		if err != nil {
			return fmt.Errorf("read outcome log: %w", err)
		}
		combos = performance.BuildCombos(all)
	}
	r.agg.SetCombos(combos)
	return nil
}

// RunPersister saves snapshots on a fixed interval and once more on exit.
func (r *OutcomeRecorder) RunPersister(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; give the final save its own deadline.
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.Persist(saveCtx); err != nil {
				r.logger.Error("final snapshot failed", applogger.Error(err))
			}
			return nil
		case <-ticker.C:
			if err := r.Persist(ctx); err != nil {
				r.logger.Error("snapshot failed", applogger.Error(err))
			}
		}
	}
}

// RunComboRebuilder refreshes the combo index on a fixed interval.
func (r *OutcomeRecorder) RunComboRebuilder(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.RebuildCombos(ctx); err != nil {
				r.logger.Warn("combo rebuild failed", applogger.Error(err))
			}
		}
	}
}

// Aggregator exposes read access for handlers.
func (r *OutcomeRecorder) Aggregator() *performance.Aggregator { return r.agg }

// Lifecycle exposes read access for handlers.
func (r *OutcomeRecorder) Lifecycle() *lifecycle.Manager { return r.lifecycle }
