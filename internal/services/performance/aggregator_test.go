package performance

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Calibra/internal/domain/models"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func outcome(pattern, symbol string, r models.Result, pips float64, at time.Time) models.Outcome {
	return models.Outcome{
		SignalID:   fmt.Sprintf("%s-%d", pattern, at.UnixNano()),
		Pattern:    pattern,
		Symbol:     symbol,
		Direction:  models.Buy,
		Session:    models.SessionLondon,
		Regime:     "TREND_LOW",
		Timeframe:  "15m",
		Result:     r,
		Pips:       pips,
		OpenedAt:   at.Add(-time.Hour),
		ResolvedAt: at,
	}
}

func TestExpectancyBreakoutScenario(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	for i := 0; i < 15; i++ {
		_, err := a.RecordOutcome(outcome("BREAKOUT", "EURUSD", models.ResultWin, 18, t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	var rec models.PatternRecord
	for i := 0; i < 35; i++ {
		var err error
		rec, err = a.RecordOutcome(outcome("BREAKOUT", "EURUSD", models.ResultLoss, -10, t0.Add(time.Duration(15+i)*time.Minute)))
		require.NoError(t, err)
	}

	assert.Equal(t, 50, rec.Total)
	assert.InDelta(t, 0.30, rec.WinRate, 1e-9)
	assert.InDelta(t, -0.16, rec.Expectancy, 1e-9)
}

func TestExpectancyZeroWithoutLosses(t *testing.T) {
	assert.Equal(t, 0.0, Expectancy(10, 0, 120, 0))
	assert.InDelta(t, -1.0, Expectancy(0, 4, 0, 40), 1e-9)
	assert.InDelta(t, 0.5, Expectancy(1, 1, 20, 10), 1e-9)
}

func TestTimeoutsCountTowardTotalOnly(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	_, _ = a.RecordOutcome(outcome("P", "EURUSD", models.ResultWin, 10, t0))
	rec, err := a.RecordOutcome(outcome("P", "EURUSD", models.ResultTimeout, 3, t0.Add(time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, 2, rec.Total)
	assert.Equal(t, 1, rec.Wins)
	assert.Equal(t, 0, rec.Losses)
	assert.Equal(t, 1, rec.Timeouts)
	assert.Equal(t, 10.0, rec.PipsWon)
	assert.Equal(t, 1.0, rec.WinRate)
}

func TestRecordOutcomeRejectsInvalid(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	_, err := a.RecordOutcome(models.Outcome{Pattern: "P", Symbol: "X", Result: "MAYBE"})
	assert.Error(t, err)
	assert.Equal(t, 0, a.EntryCount())
}

func TestPairStreakAndWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PairWindow = 4
	a := NewAggregator(cfg)

	results := []models.Result{models.ResultLoss, models.ResultWin, models.ResultWin, models.ResultWin, models.ResultTimeout, models.ResultLoss, models.ResultLoss}
	for i, r := range results {
		_, err := a.RecordOutcome(outcome("P", "GBPUSD", r, 5, t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	pair, ok := a.Pair("GBPUSD")
	require.True(t, ok)
	assert.Equal(t, -2, pair.Streak)
	assert.Equal(t, 7, pair.Trades)
	// Window holds W, TIMEOUT, L, L: 1 win and 2 losses decided.
	assert.Equal(t, 3, pair.Samples)
	assert.InDelta(t, 1.0/3.0, pair.WinRate, 1e-9)
}

func TestPairWindowAgesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PairMaxAge = 2 * time.Hour
	a := NewAggregator(cfg)

	_, _ = a.RecordOutcome(outcome("P", "USDJPY", models.ResultLoss, 5, t0))
	_, _ = a.RecordOutcome(outcome("P", "USDJPY", models.ResultWin, 5, t0.Add(3*time.Hour)))

	pair, _ := a.Pair("USDJPY")
	assert.Equal(t, 1, pair.Samples)
	assert.Equal(t, 1.0, pair.WinRate)
}

func TestInvariantsHoldForRandomHistories(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := NewAggregator(DefaultConfig())
	patterns := []string{"A", "B", "C"}
	results := []models.Result{models.ResultWin, models.ResultLoss, models.ResultTimeout}

	for i := 0; i < 500; i++ {
		o := outcome(patterns[rng.Intn(3)], "EURUSD", results[rng.Intn(3)], rng.Float64()*30, t0.Add(time.Duration(i)*time.Minute))
		rec, err := a.RecordOutcome(o)
		require.NoError(t, err)
		assert.LessOrEqual(t, rec.Wins+rec.Losses, rec.Total)
		assert.Equal(t, Expectancy(rec.Wins, rec.Losses, rec.PipsWon, rec.PipsLost), rec.Expectancy)
		assert.LessOrEqual(t, len(rec.Recent), DefaultConfig().PatternWindow)
	}
}

func TestRebuildMatchesIncremental(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"EURUSD", "GBPUSD", "USDJPY"}
	sessions := models.Sessions
	var log []models.Outcome
	live := NewAggregator(DefaultConfig())

	for i := 0; i < 300; i++ {
		o := outcome(fmt.Sprintf("P%d", rng.Intn(4)), symbols[rng.Intn(3)], []models.Result{models.ResultWin, models.ResultLoss, models.ResultTimeout}[rng.Intn(3)], 1+rng.Float64()*20, t0.Add(time.Duration(i)*17*time.Minute))
		o.Session = sessions[rng.Intn(len(sessions))]
		log = append(log, o)
		_, err := live.RecordOutcome(o)
		require.NoError(t, err)
	}

	replayed := NewAggregator(DefaultConfig())
	assert.Equal(t, 0, replayed.Rebuild(log))

	a, b := live.Snapshot(), replayed.Snapshot()
	assert.Equal(t, a.Entries, b.Entries)
	assert.Equal(t, a.Patterns, b.Patterns)
	assert.Equal(t, a.Pairs, b.Pairs)
	assert.Equal(t, a.Sessions, b.Sessions)
	assert.Equal(t, a.PatternPairs, b.PatternPairs)
}

func TestRebuildSkipsInvalidEntries(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	skipped := a.Rebuild([]models.Outcome{
		outcome("P", "EURUSD", models.ResultWin, 5, t0),
		{Pattern: "", Symbol: "EURUSD", Result: models.ResultWin},
	})
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, a.EntryCount())
}

func TestBuildCombos(t *testing.T) {
	log := []models.Outcome{
		outcome("P", "EURUSD", models.ResultWin, 5, t0),
		outcome("P", "EURUSD", models.ResultWin, 5, t0.Add(time.Minute)),
		outcome("P", "EURUSD", models.ResultLoss, 5, t0.Add(2*time.Minute)),
		outcome("Q", "EURUSD", models.ResultWin, 5, t0.Add(3*time.Minute)),
	}
	combos := BuildCombos(log)
	require.Len(t, combos, 2)
	assert.Equal(t, "P", combos[0].Key.Pattern)
	assert.Equal(t, 3, combos[0].Trades)
	assert.InDelta(t, 2.0/3.0, combos[0].WinRate(), 1e-9)

	a := NewAggregator(DefaultConfig())
	a.SetCombos(combos)
	c, ok := a.Combo(models.ComboKey{Symbol: "EURUSD", Pattern: "Q", Session: models.SessionLondon, Timeframe: "15m"})
	require.True(t, ok)
	assert.Equal(t, 1, c.Wins)
}

func TestConcurrentRecordOutcome(t *testing.T) {
	a := NewAggregator(DefaultConfig())
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = a.RecordOutcome(outcome("P", "EURUSD", models.ResultWin, 1, t0.Add(time.Duration(w*1000+i)*time.Second)))
				_, _ = a.Pattern("P")
			}
		}(w)
	}
	wg.Wait()

	rec, ok := a.Pattern("P")
	require.True(t, ok)
	assert.Equal(t, 800, rec.Total)
}
