package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Calibra/internal/domain/models"
)

var t0 = time.Date(2024, 5, 6, 13, 0, 0, 0, time.UTC)

func buySignal(id string) models.TrackedSignal {
	return models.TrackedSignal{
		ID: id, Symbol: "EURUSD", Direction: models.Buy, Pattern: "BREAKOUT",
		Session: models.SessionOverlap, Timeframe: "15m",
		Entry: 1.1000, Stop: 1.0980, Target: 1.1030,
		GeneratedAt: t0, Horizon: time.Hour,
	}
}

func sellSignal(id string) models.TrackedSignal {
	return models.TrackedSignal{
		ID: id, Symbol: "EURUSD", Direction: models.Sell, Pattern: "REVERSAL",
		Session: models.SessionOverlap, Timeframe: "15m",
		Entry: 1.1000, Stop: 1.1020, Target: 1.0960,
		GeneratedAt: t0, Horizon: time.Hour,
	}
}

func tick(bid, ask float64, at time.Time) models.Tick {
	return models.Tick{Symbol: "EURUSD", Bid: bid, Ask: ask, Timestamp: at}
}

func TestMonitorBuyWinsOnBid(t *testing.T) {
	sink := &captureSink{}
	m := NewOutcomeMonitor(sink, nil)
	require.NoError(t, m.Track(buySignal("a")))

	// Ask reaches the target first; BUY resolves on the bid only.
	n, err := m.OnTick(context.Background(), tick(1.1028, 1.1031, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.OnTick(context.Background(), tick(1.1031, 1.1033, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out := sink.all()
	require.Len(t, out, 1)
	assert.Equal(t, models.ResultWin, out[0].Result)
	assert.InDelta(t, 31.0, out[0].Pips, 1e-9)
	assert.InDelta(t, 1.55, out[0].RMultiple, 1e-9)
	assert.Equal(t, 2*time.Minute, out[0].Duration)
	assert.Zero(t, m.Count())
}

func TestMonitorSellLosesOnAsk(t *testing.T) {
	sink := &captureSink{}
	m := NewOutcomeMonitor(sink, nil)
	require.NoError(t, m.Track(sellSignal("s")))

	_, err := m.OnTick(context.Background(), tick(1.1017, 1.1021, t0.Add(time.Minute)))
	require.NoError(t, err)

	out := sink.all()
	require.Len(t, out, 1)
	assert.Equal(t, models.ResultLoss, out[0].Result)
	assert.InDelta(t, -21.0, out[0].Pips, 1e-9)
	assert.InDelta(t, -1.05, out[0].RMultiple, 1e-9)
}

func TestMonitorTimesOutOnLateTick(t *testing.T) {
	sink := &captureSink{}
	m := NewOutcomeMonitor(sink, nil)
	require.NoError(t, m.Track(buySignal("a")))

	_, err := m.OnTick(context.Background(), tick(1.1005, 1.1007, t0.Add(time.Hour)))
	require.NoError(t, err)

	out := sink.all()
	require.Len(t, out, 1)
	assert.Equal(t, models.ResultTimeout, out[0].Result)
	assert.InDelta(t, 5.0, out[0].Pips, 1e-9)
}

func TestMonitorSweepTimesOutQuietSymbols(t *testing.T) {
	sink := &captureSink{}
	m := NewOutcomeMonitor(sink, nil)
	require.NoError(t, m.Track(buySignal("quiet")))

	assert.Zero(t, m.Sweep(context.Background(), t0.Add(30*time.Minute)))
	assert.Equal(t, 1, m.Sweep(context.Background(), t0.Add(61*time.Minute)))

	out := sink.all()
	require.Len(t, out, 1)
	assert.Equal(t, models.ResultTimeout, out[0].Result)
	// No tick ever arrived, so the exit is the entry.
	assert.Zero(t, out[0].Pips)
	assert.Zero(t, m.Count())
}

func TestMonitorDropsMalformedTicks(t *testing.T) {
	sink := &captureSink{}
	m := NewOutcomeMonitor(sink, nil)
	require.NoError(t, m.Track(buySignal("a")))

	bad := []models.Tick{
		{Symbol: "EURUSD", Bid: math.NaN(), Ask: 1.1, Timestamp: t0},
		{Symbol: "EURUSD", Bid: 1.2, Ask: 1.1, Timestamp: t0},
		{Symbol: "EURUSD", Bid: 0, Ask: 1.1, Timestamp: t0},
		{Symbol: "", Bid: 1.1, Ask: 1.1, Timestamp: t0},
		{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1},
	}
	for _, tk := range bad {
		_, err := m.OnTick(context.Background(), tk)
		assert.ErrorIs(t, err, models.ErrInvalidTick)
	}
	assert.Empty(t, sink.all())
	assert.Equal(t, 1, m.Count())
	_, ok := m.LastPrice("EURUSD")
	assert.False(t, ok)
}

func TestMonitorResolvesEachSignalOnceUnderConcurrency(t *testing.T) {
	sink := &captureSink{}
	m := NewOutcomeMonitor(sink, nil)
	const signals = 200
	for i := 0; i < signals; i++ {
		require.NoError(t, m.Track(buySignal(fmt.Sprintf("sig-%03d", i))))
	}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, _ = m.OnTick(context.Background(), tick(1.1040, 1.1042, t0.Add(time.Duration(g*20+i)*time.Second)))
			}
		}(g)
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, o := range sink.all() {
		seen[o.SignalID]++
	}
	assert.Len(t, seen, signals)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	assert.Zero(t, m.Count())
}

func TestMonitorTrackWithSerializesPerSymbol(t *testing.T) {
	m := NewOutcomeMonitor(nil, nil)
	const callers = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen []int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := m.TrackWith("EURUSD", func(open []models.TrackedSignal) (*models.TrackedSignal, error) {
				mu.Lock()
				seen = append(seen, len(open))
				mu.Unlock()
				sig := buySignal(fmt.Sprintf("c-%d", i))
				return &sig, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, seen)
	assert.Equal(t, callers, m.Count())
}

func TestMonitorTrackWithEdgeCases(t *testing.T) {
	m := NewOutcomeMonitor(nil, nil)

	require.NoError(t, m.TrackWith("EURUSD", func([]models.TrackedSignal) (*models.TrackedSignal, error) {
		return nil, nil
	}))
	assert.Zero(t, m.Count())

	err := m.TrackWith("GBPUSD", func([]models.TrackedSignal) (*models.TrackedSignal, error) {
		sig := buySignal("x")
		return &sig, nil
	})
	assert.ErrorIs(t, err, models.ErrInvalidSignal)
	assert.Zero(t, m.Count())
}

func TestMonitorQuotesDoNotCreateShards(t *testing.T) {
	m := NewOutcomeMonitor(nil, nil, WithPriceCapacity(10))
	for i := 0; i < 100; i++ {
		sym := fmt.Sprintf("SYM%03d", i)
		_, err := m.OnTick(context.Background(), models.Tick{Symbol: sym, Bid: 1, Ask: 1.0002, Timestamp: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	shards, quotes := m.Symbols()
	assert.Zero(t, shards)
	assert.Equal(t, 10, quotes)
	_, ok := m.LastPrice("SYM000")
	assert.False(t, ok)
	mid, ok := m.LastPrice("SYM099")
	require.True(t, ok)
	assert.InDelta(t, 1.0001, mid, 1e-9)

	require.NoError(t, m.Track(buySignal("a")))
	shards, _ = m.Symbols()
	assert.Equal(t, 1, shards)
}

func TestMonitorRejectsDuplicateIDs(t *testing.T) {
	m := NewOutcomeMonitor(nil, nil)
	require.NoError(t, m.Track(buySignal("a")))
	assert.ErrorIs(t, m.Track(buySignal("a")), models.ErrInvalidSignal)
	assert.Equal(t, 1, m.Count())
}

func TestPipSize(t *testing.T) {
	m := NewOutcomeMonitor(nil, nil, WithPipSizes(map[string]float64{"xauusd": 0.1}))
	assert.Equal(t, 0.01, m.PipSize("USDJPY"))
	assert.Equal(t, 0.0001, m.PipSize("EURUSD"))
	assert.Equal(t, 0.1, m.PipSize("XAUUSD"))
}
