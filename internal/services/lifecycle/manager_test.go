package lifecycle

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Calibra/internal/domain/models"
	"Calibra/internal/services/performance"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type harness struct {
	t   *testing.T
	agg *performance.Aggregator
	mgr *Manager
	n   int
	log []models.LifecycleDecision
}

func newHarness(t *testing.T, cfg Config) *harness {
	return &harness{t: t, agg: performance.NewAggregator(performance.DefaultConfig()), mgr: NewManager(cfg)}
}

func (h *harness) record(pattern, symbol string, r models.Result, pips float64) []models.LifecycleDecision {
	h.n++
	at := t0.Add(time.Duration(h.n) * time.Minute)
	rec, err := h.agg.RecordOutcome(models.Outcome{
		SignalID: fmt.Sprint(h.n), Pattern: pattern, Symbol: symbol, Direction: models.Buy,
		Session: models.SessionLondon, Result: r, Pips: pips, ResolvedAt: at,
	})
	require.NoError(h.t, err)
	pp, _ := h.agg.PatternPair(pattern, symbol)
	ds := h.mgr.Evaluate(rec, pp, at)
	h.log = append(h.log, ds...)
	return ds
}

func (h *harness) repeat(n int, pattern, symbol string, r models.Result, pips float64) {
	for i := 0; i < n; i++ {
		h.record(pattern, symbol, r, pips)
	}
}

func TestBreakoutQuarantinedAtFiftyTrades(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(15, "BREAKOUT", "EURUSD", models.ResultWin, 18)
	h.repeat(34, "BREAKOUT", "EURUSD", models.ResultLoss, 10)
	assert.Equal(t, models.StateActive, h.mgr.State("BREAKOUT").State)

	ds := h.record("BREAKOUT", "EURUSD", models.ResultLoss, 10)

	var pattern []models.LifecycleDecision
	for _, d := range ds {
		if d.Symbol == "" {
			pattern = append(pattern, d)
		}
	}
	require.Len(t, pattern, 1)
	assert.Equal(t, "ACTIVE", pattern[0].From)
	assert.Equal(t, "QUARANTINED", pattern[0].To)
	assert.Equal(t, 50, pattern[0].Total)
	assert.InDelta(t, -0.16, pattern[0].Expectancy, 1e-9)
	assert.Equal(t, models.StateQuarantined, h.mgr.State("BREAKOUT").State)

	el := h.mgr.Eligible("BREAKOUT", "GBPUSD", models.SessionLondon)
	assert.False(t, el.Allowed)
	assert.True(t, el.Shadow)
}

func TestQuarantinedPatternIsKilled(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(10, "P", "EURUSD", models.ResultWin, 10)
	h.repeat(40, "P", "EURUSD", models.ResultLoss, 10)
	require.Equal(t, models.StateQuarantined, h.mgr.State("P").State)

	h.repeat(50, "P", "EURUSD", models.ResultLoss, 10)
	assert.Equal(t, models.StateKilled, h.mgr.State("P").State)

	// Absorbing: a long winning run changes nothing.
	h.repeat(300, "P", "EURUSD", models.ResultWin, 30)
	assert.Equal(t, models.StateKilled, h.mgr.State("P").State)

	el := h.mgr.Eligible("P", "EURUSD", models.SessionLondon)
	assert.False(t, el.Allowed)
	assert.False(t, el.Shadow)
	assert.Equal(t, "pattern killed", el.Reason)
}

func TestResetRevivesKilledPattern(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(100, "P", "EURUSD", models.ResultLoss, 10)
	require.Equal(t, models.StateKilled, h.mgr.State("P").State)

	rec, _ := h.agg.Pattern("P")
	d := h.mgr.Reset(rec, h.agg.PatternPairs("P"), "alice", t0)
	assert.Equal(t, "KILLED", d.From)
	assert.Equal(t, "ACTIVE", d.To)
	assert.Equal(t, "alice", d.Operator)

	// Post-reset thresholds count from zero again.
	h.repeat(49, "P", "EURUSD", models.ResultLoss, 10)
	assert.Equal(t, models.StateActive, h.mgr.State("P").State)
	h.record("P", "EURUSD", models.ResultLoss, 10)
	assert.Equal(t, models.StateQuarantined, h.mgr.State("P").State)
}

func TestPromotion(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(40, "P", "EURUSD", models.ResultWin, 10)
	h.repeat(10, "P", "EURUSD", models.ResultLoss, 10)

	st := h.mgr.State("P")
	assert.Equal(t, models.StatePromoted, st.State)
	assert.Equal(t, 1.25, st.Multiplier)

	el := h.mgr.Eligible("P", "GBPUSD", models.SessionLondon)
	assert.True(t, el.Allowed)
	assert.LessOrEqual(t, el.Multiplier, 2.0)
}

func TestRecoveryThroughTesting(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(10, "P", "EURUSD", models.ResultWin, 10)
	h.repeat(40, "P", "EURUSD", models.ResultLoss, 10)
	require.Equal(t, models.StateQuarantined, h.mgr.State("P").State)

	// 20 strong trades after quarantine, mixed so all-time stays above the kill line.
	for i := 0; i < 20; i++ {
		if i%4 == 0 {
			h.record("P", "EURUSD", models.ResultLoss, 10)
		} else {
			h.record("P", "EURUSD", models.ResultWin, 15)
		}
	}
	st := h.mgr.State("P")
	require.Equal(t, models.StateTesting, st.State)
	assert.Equal(t, 0.5, st.Multiplier)
	assert.True(t, h.mgr.Eligible("P", "EURUSD", models.SessionLondon).Allowed)

	h.repeat(20, "P", "EURUSD", models.ResultWin, 15)
	assert.Equal(t, models.StateActive, h.mgr.State("P").State)
}

func TestNoEarlyQuarantineOrKill(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 50; trial++ {
		h := newHarness(t, DefaultConfig())
		for i := 0; i < 49; i++ {
			r := models.ResultLoss
			if rng.Float64() < 0.2 {
				r = models.ResultWin
			}
			h.record("P", "EURUSD", r, 1+rng.Float64()*20)
			st := h.mgr.State("P").State
			assert.NotEqual(t, models.StateQuarantined, st)
			assert.NotEqual(t, models.StateKilled, st)
		}
	}
}

func TestPairDisableAndBoost(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(2, "P", "USDJPY", models.ResultWin, 10)
	h.repeat(8, "P", "USDJPY", models.ResultLoss, 10)
	assert.Equal(t, models.PairDisabled, h.mgr.PairState("P", "USDJPY"))

	el := h.mgr.Eligible("P", "USDJPY", models.SessionLondon)
	assert.False(t, el.Allowed)
	assert.Equal(t, "pattern disabled on USDJPY", el.Reason)
	assert.True(t, h.mgr.Eligible("P", "EURUSD", models.SessionLondon).Allowed)

	h.repeat(9, "P", "EURUSD", models.ResultWin, 10)
	h.record("P", "EURUSD", models.ResultLoss, 10)
	assert.Equal(t, models.PairBoosted, h.mgr.PairState("P", "EURUSD"))
	assert.InDelta(t, 1.2, h.mgr.Eligible("P", "EURUSD", models.SessionLondon).Multiplier, 1e-9)
}

func TestDisabledPairIsShadowTrackedAndCanRecover(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(2, "P", "EURUSD", models.ResultWin, 10)
	h.repeat(8, "P", "EURUSD", models.ResultLoss, 10)
	require.Equal(t, models.PairDisabled, h.mgr.PairState("P", "EURUSD"))

	el := h.mgr.Eligible("P", "EURUSD", models.SessionLondon)
	assert.False(t, el.Allowed)
	assert.True(t, el.Shadow)
	assert.Equal(t, "pair_disabled", el.Code)

	// Shadow outcomes keep feeding the pair record.
	h.record("P", "EURUSD", models.ResultWin, 10)
	assert.Equal(t, models.PairDisabled, h.mgr.PairState("P", "EURUSD"))
	h.record("P", "EURUSD", models.ResultWin, 10)
	assert.Equal(t, models.PairNormal, h.mgr.PairState("P", "EURUSD"))
	assert.True(t, h.mgr.Eligible("P", "EURUSD", models.SessionLondon).Allowed)
}

func TestResetClearsPairStates(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(2, "P", "EURUSD", models.ResultWin, 10)
	h.repeat(8, "P", "EURUSD", models.ResultLoss, 10)
	h.repeat(2, "Q", "EURUSD", models.ResultWin, 10)
	h.repeat(8, "Q", "EURUSD", models.ResultLoss, 10)
	require.Equal(t, models.PairDisabled, h.mgr.PairState("P", "EURUSD"))

	rec, _ := h.agg.Pattern("P")
	h.mgr.Reset(rec, h.agg.PatternPairs("P"), "ops", t0)

	el := h.mgr.Eligible("P", "EURUSD", models.SessionLondon)
	assert.True(t, el.Allowed)
	assert.Equal(t, models.PairNormal, el.PairState)
	assert.Equal(t, models.PairDisabled, h.mgr.PairState("Q", "EURUSD"))

	// Pair rules count from the reset: 3 of 10 since then is in range even
	// though 5 of 20 all-time is not.
	h.repeat(3, "P", "EURUSD", models.ResultWin, 10)
	h.repeat(6, "P", "EURUSD", models.ResultLoss, 10)
	assert.Equal(t, models.PairNormal, h.mgr.PairState("P", "EURUSD"))
	ds := h.record("P", "EURUSD", models.ResultLoss, 10)
	assert.Empty(t, ds)
	assert.Equal(t, models.PairNormal, h.mgr.PairState("P", "EURUSD"))

	m := NewManager(DefaultConfig())
	m.Restore(h.mgr.Snapshot(h.n, t0))
	pp, _ := h.agg.PatternPair("P", "EURUSD")
	m.Evaluate(mustPattern(t, h, "P"), pp, t0)
	assert.Equal(t, models.PairNormal, m.PairState("P", "EURUSD"))
}

func mustPattern(t *testing.T, h *harness, pattern string) models.PatternRecord {
	t.Helper()
	rec, ok := h.agg.Pattern(pattern)
	require.True(t, ok)
	return rec
}

func TestReactivatedPatternIsJudgedOnNewOutcomes(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(15, "BREAKOUT", "EURUSD", models.ResultWin, 18)
	h.repeat(35, "BREAKOUT", "EURUSD", models.ResultLoss, 10)
	require.Equal(t, models.StateQuarantined, h.mgr.State("BREAKOUT").State)

	h.repeat(8, "BREAKOUT", "EURUSD", models.ResultWin, 18)
	h.repeat(12, "BREAKOUT", "EURUSD", models.ResultLoss, 10)
	require.Equal(t, models.StateTesting, h.mgr.State("BREAKOUT").State)

	for i := 0; i < 10; i++ {
		h.record("BREAKOUT", "EURUSD", models.ResultWin, 10)
		h.record("BREAKOUT", "EURUSD", models.ResultLoss, 10)
	}
	require.Equal(t, models.StateActive, h.mgr.State("BREAKOUT").State)
	require.Equal(t, 90, h.n)

	// All-time expectancy is still below the quarantine line here.
	h.record("BREAKOUT", "EURUSD", models.ResultWin, 10)
	assert.Equal(t, models.StateActive, h.mgr.State("BREAKOUT").State)

	// A fresh losing run of the full sample size still quarantines.
	h.repeat(48, "BREAKOUT", "EURUSD", models.ResultLoss, 10)
	assert.Equal(t, models.StateActive, h.mgr.State("BREAKOUT").State)
	h.record("BREAKOUT", "EURUSD", models.ResultLoss, 10)
	st := h.mgr.State("BREAKOUT")
	assert.Equal(t, models.StateQuarantined, st.State)
	assert.Equal(t, 140, st.Entered.Total)
}

func TestSessionMatrix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions = map[models.Session]SessionRule{
		models.SessionAsian: {Deny: []string{"BREAKOUT"}},
		models.SessionOther: {Allow: []string{"REVERSAL"}},
	}
	m := NewManager(cfg)

	assert.False(t, m.Eligible("BREAKOUT", "EURUSD", models.SessionAsian).Allowed)
	assert.True(t, m.Eligible("REVERSAL", "EURUSD", models.SessionAsian).Allowed)
	assert.False(t, m.Eligible("BREAKOUT", "EURUSD", models.SessionOther).Allowed)
	assert.True(t, m.Eligible("REVERSAL", "EURUSD", models.SessionOther).Allowed)
	assert.True(t, m.Eligible("BREAKOUT", "EURUSD", models.SessionLondon).Allowed)
}

func TestSnapshotRestore(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.repeat(100, "P", "EURUSD", models.ResultLoss, 10)
	snap := h.mgr.Snapshot(100, t0)

	m := NewManager(DefaultConfig())
	m.Restore(snap)
	assert.Equal(t, models.StateKilled, m.State("P").State)
	assert.Equal(t, models.PairDisabled, m.PairState("P", "EURUSD"))
	assert.Equal(t, 100, snap.EntryCount)
}
