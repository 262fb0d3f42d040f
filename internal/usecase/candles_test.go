package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	applogger "Calibra/pkg/logger"
)

func TestCandleBookAggregatesMidPrices(t *testing.T) {
	b := NewCandleBook(domrepo.TF1m, 10)
	base := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	for _, tk := range []models.Tick{
		{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001, Timestamp: base.Add(5 * time.Second)},
		{Symbol: "EURUSD", Bid: 1.1009, Ask: 1.1011, Timestamp: base.Add(20 * time.Second)},
		{Symbol: "EURUSD", Bid: 1.0989, Ask: 1.0991, Timestamp: base.Add(40 * time.Second)},
		{Symbol: "EURUSD", Bid: 1.0994, Ask: 1.0996, Timestamp: base.Add(70 * time.Second)},
	} {
		b.OnTick(tk)
	}

	cs, err := b.GetLatestNCandles(context.Background(), "EURUSD", 5, domrepo.TF1m)
	require.NoError(t, err)
	require.Len(t, cs, 2)

	first := cs[0]
	assert.Equal(t, base, first.Bucket)
	assert.InDelta(t, 1.1000, first.Open, 1e-9)
	assert.InDelta(t, 1.1010, first.High, 1e-9)
	assert.InDelta(t, 1.0990, first.Low, 1e-9)
	assert.InDelta(t, 1.0990, first.Close, 1e-9)
	assert.Equal(t, 3.0, first.Volume)
	assert.Equal(t, base.Add(time.Minute), cs[1].Bucket)
}

func TestCandleBookBoundsHistoryAndIgnoresLateTicks(t *testing.T) {
	b := NewCandleBook(domrepo.TF1m, 3)
	base := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		b.OnTick(models.Tick{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1002, Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	b.OnTick(models.Tick{Symbol: "EURUSD", Bid: 2, Ask: 2, Timestamp: base})

	cs, err := b.GetLatestNCandles(context.Background(), "EURUSD", 0, domrepo.TF1m)
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.Equal(t, base.Add(3*time.Minute), cs[0].Bucket)
	for _, c := range cs {
		assert.Less(t, c.High, 2.0)
	}

	none, err := b.GetLatestNCandles(context.Background(), "GBPUSD", 5, domrepo.TF1m)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTicksHandlerFeedsPipeline(t *testing.T) {
	sink := &captureSink{}
	monitor := NewOutcomeMonitor(sink, nil)
	book := NewCandleBook(domrepo.TF1m, 10)
	h := NewKafkaTicksHandler("ticks", NewTickRouter(book, monitor), nil)
	logPath := filepath.Join(t.TempDir(), "ticks.log")
	l, err := applogger.New(&applogger.Config{Level: "info", Format: "json", Output: logPath})
	require.NoError(t, err)
	h.SetLogger(l)
	require.NoError(t, monitor.Track(buySignal("a")))

	assert.Equal(t, "ticks", h.Topic())
	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"eurusd","bid":1.1031,"ask":1.1033,"t":`+itoa(t0.Add(time.Minute).UnixMilli())+`}`)))
	require.Len(t, sink.all(), 1)

	// Poison and invalid messages are dropped, not retried.
	assert.NoError(t, h.Handle(context.Background(), []byte(`not json`)))
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"EURUSD","bid":2,"ask":1,"t":1700000000}`)))
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"EURUSD","bid":1.1,"ask":1.1002}`)))

	out, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"message":"dropping undecodable tick"`)
	assert.Contains(t, string(out), `"message":"dropping tick without timestamp"`)

	cs, err := book.GetLatestNCandles(context.Background(), "EURUSD", 5, domrepo.TF1m)
	require.NoError(t, err)
	assert.Len(t, cs, 1)
}

func itoa(v int64) string {
	return fmt.Sprint(v)
}
