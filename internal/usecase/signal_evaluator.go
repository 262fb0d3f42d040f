package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	"Calibra/internal/services/calibration"
	"Calibra/internal/services/convergence"
	"Calibra/internal/services/lifecycle"
	"Calibra/internal/services/regime"
	applogger "Calibra/pkg/logger"
)

// RegimeSource classifies a symbol's current trend and volatility.
type RegimeSource interface {
	Classify(ctx context.Context, symbol string) (models.TrendVolatility, error)
}

// SignalEvaluator answers candidate signals with accept-with-confidence or
// reject-with-reason, and hands accepted ones to the outcome monitor.
type SignalEvaluator struct {
	monitor     *OutcomeMonitor
	regimes     RegimeSource
	convergence *convergence.Detector
	calibrator  *calibration.Calibrator
	lifecycle   *lifecycle.Manager
	publisher   domrepo.EventPublisher
	metrics     domrepo.Metrics
	logger      *applogger.Logger
	horizon     time.Duration
	now         func() time.Time
}

func NewSignalEvaluator(
	monitor *OutcomeMonitor,
	regimes RegimeSource,
	detector *convergence.Detector,
	calibrator *calibration.Calibrator,
	lc *lifecycle.Manager,
	metrics domrepo.Metrics,
	horizon time.Duration,
) *SignalEvaluator {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &SignalEvaluator{
		monitor:     monitor,
		regimes:     regimes,
		convergence: detector,
		calibrator:  calibrator,
		lifecycle:   lc,
		metrics:     metrics,
		logger:      applogger.NewNop(),
		horizon:     horizon,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (e *SignalEvaluator) SetLogger(l *applogger.Logger)         { e.logger = l }
func (e *SignalEvaluator) SetPublisher(p domrepo.EventPublisher) { e.publisher = p }
func (e *SignalEvaluator) SetClock(now func() time.Time)         { e.now = now }

// Evaluate returns an error only for malformed candidates. Business
// rejections (killed pattern, session deny, disabled pair) are decisions.
func (e *SignalEvaluator) Evaluate(ctx context.Context, c models.CandidateSignal) (models.EvaluationDecision, error) {
	start := time.Now()
	defer func() { e.metrics.RecordLatency("evaluate_signal", time.Since(start).Seconds()) }()

	if err := models.NormalizeCandidate(&c); err != nil {
		e.metrics.RecordEvaluation(false, "invalid")
		return models.EvaluationDecision{}, err
	}
	if c.GeneratedAt.IsZero() {
		c.GeneratedAt = e.now()
	}
	if c.Entry == 0 {
		mid, ok := e.monitor.LastPrice(c.Symbol)
		if !ok {
			e.metrics.RecordEvaluation(false, "no_price")
			return models.EvaluationDecision{}, fmt.Errorf("%w for %s", models.ErrNoReference, c.Symbol)
		}
		c.Entry = mid
	}
	if err := models.CheckGeometry(c.Direction, c.Entry, c.Stop, c.Target); err != nil {
		e.metrics.RecordEvaluation(false, "invalid")
		return models.EvaluationDecision{}, err
	}

	session := c.Session
	if session == "" {
		session = regime.SessionFor(c.GeneratedAt)
	}
	tv, err := e.regimes.Classify(ctx, c.Symbol)
	if err != nil {
		e.logger.Debug("regime unavailable", applogger.String("symbol", c.Symbol), applogger.Error(err))
	}

	d := models.EvaluationDecision{
		Symbol:    c.Symbol,
		Pattern:   c.Pattern,
		Direction: c.Direction,
		Session:   session,
		Regime:    tv.Label(),
		DecidedAt: e.now(),
	}

	el := e.lifecycle.Eligible(c.Pattern, c.Symbol, session)
	d.LifecycleState = el.State
	d.PairState = el.PairState
	d.SizeMultiplier = el.Multiplier

	// Convergence is checked and the signal tracked under the symbol lock,
	// so concurrent candidates on one symbol see each other.
	track := el.Allowed || el.Shadow
	id := c.ID
	if id == "" && track {
		id = uuid.NewString()
	}
	var b models.Breakdown
	err = e.monitor.TrackWith(c.Symbol, func(open []models.TrackedSignal) (*models.TrackedSignal, error) {
		boost, count := e.convergence.Check(c.Symbol, c.Pattern, c.GeneratedAt, open)
		d.ConvergenceBoost = boost
		d.ConvergenceCount = count
		b = e.calibrator.Calibrate(calibration.Input{
			Symbol:           c.Symbol,
			Pattern:          c.Pattern,
			Session:          session,
			Timeframe:        c.Timeframe,
			RawConfidence:    c.RawConfidence,
			ConvergenceBoost: boost,
		})
		if !track {
			return nil, nil
		}
		return &models.TrackedSignal{
			ID:                   id,
			Symbol:               c.Symbol,
			Direction:            c.Direction,
			Pattern:              c.Pattern,
			Session:              session,
			Regime:               d.Regime,
			Timeframe:            c.Timeframe,
			RawConfidence:        c.RawConfidence,
			CalibratedConfidence: b.Final,
			Entry:                c.Entry,
			Stop:                 c.Stop,
			Target:               c.Target,
			GeneratedAt:          c.GeneratedAt,
			Horizon:              e.horizon,
			ConvergenceBoost:     boost,
			ConvergenceCount:     count,
			SizeMultiplier:       el.Multiplier,
			Shadow:               el.Shadow,
		}, nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidSignal) {
			e.metrics.RecordEvaluation(false, "invalid")
			return models.EvaluationDecision{}, err
		}
		return models.EvaluationDecision{}, fmt.Errorf("track signal: %w", err)
	}
	d.CalibratedConfidence = b.Final
	d.Breakdown = &b

	if !track {
		d.Reason = el.Reason
		e.finish(ctx, &d, el.Code)
		return d, nil
	}

	d.SignalID = id
	if el.Shadow {
		d.Shadow = true
		d.Reason = el.Reason + " (shadow tracked)"
	} else {
		d.Accepted = true
	}
	e.finish(ctx, &d, el.Code)
	return d, nil
}

func (e *SignalEvaluator) finish(ctx context.Context, d *models.EvaluationDecision, code string) {
	e.metrics.RecordEvaluation(d.Accepted, code)
	if d.Accepted {
		e.metrics.ObserveConfidence(d.CalibratedConfidence)
	}

	e.logger.Info("candidate evaluated",
		applogger.String("symbol", d.Symbol),
		applogger.String("pattern", d.Pattern),
		applogger.Bool("accepted", d.Accepted),
		applogger.String("reason", d.Reason),
		applogger.Float64("confidence", d.CalibratedConfidence),
		applogger.Int("convergence", d.ConvergenceCount))

	if e.publisher != nil {
		if err := e.publisher.PublishDecision(ctx, d); err != nil {
			e.logger.Warn("publish decision failed", applogger.String("symbol", d.Symbol), applogger.Error(err))
		}
	}
}
