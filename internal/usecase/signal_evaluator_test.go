package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Calibra/internal/domain/models"
	"Calibra/internal/services/calibration"
	"Calibra/internal/services/convergence"
	"Calibra/internal/services/lifecycle"
	"Calibra/internal/services/performance"
)

type evaluatorFixture struct {
	monitor *OutcomeMonitor
	lc      *lifecycle.Manager
	pub     *capturePublisher
	eval    *SignalEvaluator
}

func newEvaluatorFixture(t *testing.T, lcCfg lifecycle.Config) *evaluatorFixture {
	t.Helper()
	agg := performance.NewAggregator(performance.DefaultConfig())
	f := &evaluatorFixture{
		monitor: NewOutcomeMonitor(nil, nil),
		lc:      lifecycle.NewManager(lcCfg),
		pub:     &capturePublisher{},
	}
	f.eval = NewSignalEvaluator(
		f.monitor,
		staticRegime{tv: models.TrendVolatility{Trend: models.TrendTrend, Volatility: models.VolHigh}},
		convergence.NewDetector(convergence.DefaultConfig()),
		calibration.NewCalibrator(calibration.DefaultConfig(), agg),
		f.lc,
		nil,
		4*time.Hour,
	)
	f.eval.SetPublisher(f.pub)
	f.eval.SetClock(func() time.Time { return t0 })
	_, err := f.monitor.OnTick(context.Background(), models.Tick{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001, Timestamp: t0})
	require.NoError(t, err)
	return f
}

func candidate(pattern string) models.CandidateSignal {
	return models.CandidateSignal{
		Symbol:        "eurusd",
		Direction:     "buy",
		Pattern:       pattern,
		RawConfidence: 88,
		Stop:          1.0980,
		Target:        1.1030,
		GeneratedAt:   t0,
	}
}

func TestEvaluateAcceptsAndTracks(t *testing.T) {
	f := newEvaluatorFixture(t, lifecycle.DefaultConfig())

	d, err := f.eval.Evaluate(context.Background(), candidate("breakout"))
	require.NoError(t, err)

	assert.True(t, d.Accepted)
	assert.NotEmpty(t, d.SignalID)
	assert.Equal(t, "EURUSD", d.Symbol)
	assert.Equal(t, "BREAKOUT", d.Pattern)
	assert.Equal(t, models.SessionOverlap, d.Session)
	assert.Equal(t, "TREND_HIGH", d.Regime)
	assert.InDelta(t, 88, d.CalibratedConfidence, 1e-9)
	require.NotNil(t, d.Breakdown)
	assert.Equal(t, 1.0, d.SizeMultiplier)

	open := f.monitor.OpenFor("EURUSD")
	require.Len(t, open, 1)
	assert.InDelta(t, 1.1000, open[0].Entry, 1e-9)
	assert.Equal(t, "15m", open[0].Timeframe)
	assert.Len(t, f.pub.decisions, 1)
}

func TestEvaluateConvergenceBoost(t *testing.T) {
	f := newEvaluatorFixture(t, lifecycle.DefaultConfig())
	ctx := context.Background()

	for _, p := range []string{"BREAKOUT", "MOMENTUM", "ENGULFING"} {
		_, err := f.eval.Evaluate(ctx, candidate(p))
		require.NoError(t, err)
	}
	d, err := f.eval.Evaluate(ctx, candidate("PINBAR"))
	require.NoError(t, err)

	assert.Equal(t, 3, d.ConvergenceCount)
	assert.InDelta(t, 30, d.ConvergenceBoost, 1e-9)
	// 88 + 30 clamps to the ceiling.
	assert.InDelta(t, 95, d.CalibratedConfidence, 1e-9)
}

func TestEvaluateRejectsKilledPattern(t *testing.T) {
	f := newEvaluatorFixture(t, lifecycle.DefaultConfig())
	f.lc.Restore(&models.LifecycleSnapshot{Patterns: map[string]models.PatternLifecycle{
		"BREAKOUT": {State: models.StateKilled},
	}})

	d, err := f.eval.Evaluate(context.Background(), candidate("BREAKOUT"))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.False(t, d.Shadow)
	assert.Equal(t, "pattern killed", d.Reason)
	assert.Equal(t, models.StateKilled, d.LifecycleState)
	assert.Zero(t, f.monitor.Count())
	require.Len(t, f.pub.decisions, 1)
	assert.False(t, f.pub.decisions[0].Accepted)
}

func TestEvaluateShadowTracksQuarantinedPattern(t *testing.T) {
	f := newEvaluatorFixture(t, lifecycle.DefaultConfig())
	f.lc.Restore(&models.LifecycleSnapshot{Patterns: map[string]models.PatternLifecycle{
		"BREAKOUT": {State: models.StateQuarantined, Multiplier: 1},
	}})

	d, err := f.eval.Evaluate(context.Background(), candidate("BREAKOUT"))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.True(t, d.Shadow)
	assert.Contains(t, d.Reason, "quarantined")

	open := f.monitor.OpenFor("EURUSD")
	require.Len(t, open, 1)
	assert.True(t, open[0].Shadow)
}

func TestEvaluateShadowTracksDisabledPair(t *testing.T) {
	f := newEvaluatorFixture(t, lifecycle.DefaultConfig())
	f.lc.Restore(&models.LifecycleSnapshot{Pairs: map[string]models.PairState{
		"BREAKOUT|EURUSD": models.PairDisabled,
	}})

	d, err := f.eval.Evaluate(context.Background(), candidate("BREAKOUT"))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.True(t, d.Shadow)
	assert.Equal(t, models.PairDisabled, d.PairState)
	assert.Contains(t, d.Reason, "disabled on EURUSD")

	open := f.monitor.OpenFor("EURUSD")
	require.Len(t, open, 1)
	assert.True(t, open[0].Shadow)
}

func TestEvaluateConcurrentCandidatesSeeEachOther(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newEvaluatorFixture(t, lifecycle.DefaultConfig())

		var wg sync.WaitGroup
		decisions := make([]models.EvaluationDecision, 2)
		for i, p := range []string{"BREAKOUT", "MOMENTUM"} {
			wg.Add(1)
			go func(i int, p string) {
				defer wg.Done()
				d, err := f.eval.Evaluate(context.Background(), candidate(p))
				assert.NoError(t, err)
				decisions[i] = d
			}(i, p)
		}
		wg.Wait()

		// Whichever ran second saw the first.
		assert.Equal(t, 1, decisions[0].ConvergenceCount+decisions[1].ConvergenceCount)
		assert.Equal(t, 2, f.monitor.Count())
	}
}

func TestEvaluateSessionDeny(t *testing.T) {
	cfg := lifecycle.DefaultConfig()
	cfg.Sessions = map[models.Session]lifecycle.SessionRule{
		models.SessionOverlap: {Deny: []string{"BREAKOUT"}},
	}
	f := newEvaluatorFixture(t, cfg)

	d, err := f.eval.Evaluate(context.Background(), candidate("BREAKOUT"))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "OVERLAP")
	assert.Zero(t, f.monitor.Count())
}

func TestEvaluateWithoutReferencePrice(t *testing.T) {
	f := newEvaluatorFixture(t, lifecycle.DefaultConfig())
	c := candidate("BREAKOUT")
	c.Symbol = "GBPUSD"

	_, err := f.eval.Evaluate(context.Background(), c)
	assert.ErrorIs(t, err, models.ErrNoReference)
	assert.Empty(t, f.pub.decisions)
}

func TestEvaluateRejectsBadGeometry(t *testing.T) {
	f := newEvaluatorFixture(t, lifecycle.DefaultConfig())
	c := candidate("BREAKOUT")
	c.Stop, c.Target = c.Target, c.Stop

	_, err := f.eval.Evaluate(context.Background(), c)
	assert.ErrorIs(t, err, models.ErrInvalidSignal)
	assert.Zero(t, f.monitor.Count())
}
