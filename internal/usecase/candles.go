package usecase

import (
	"context"
	"sync"
	"time"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	"Calibra/pkg/util"
)

// CandleBook aggregates ticks into fixed-width mid-price candles and keeps a
// bounded history per symbol. It serves as the regime classifier's candle
// source when no external store is configured.
type CandleBook struct {
	mu      sync.RWMutex
	width   time.Duration
	tf      domrepo.Timeframe
	history int
	series  map[string][]models.Candle
}

func NewCandleBook(tf domrepo.Timeframe, history int) *CandleBook {
	width, err := util.ParseTimeframe(string(tf))
	if err != nil {
		tf, width = domrepo.TF1m, time.Minute
	}
	if history <= 0 {
		history = 200
	}
	return &CandleBook{width: width, tf: tf, history: history, series: make(map[string][]models.Candle)}
}

// OnTick folds a tick into the current candle of its symbol. Ticks older
// than the current bucket are ignored.
func (b *CandleBook) OnTick(t models.Tick) {
	if !t.Valid() {
		return
	}
	px := t.Mid()
	bucket := util.BucketStart(t.Timestamp, b.width)

	b.mu.Lock()
	defer b.mu.Unlock()

	series := b.series[t.Symbol]
	if n := len(series); n > 0 {
		last := &series[n-1]
		switch {
		case bucket.Equal(last.Bucket):
			if px > last.High {
				last.High = px
			}
			if px < last.Low {
				last.Low = px
			}
			last.Close = px
			last.Volume++
			return
		case bucket.Before(last.Bucket):
			return
		}
	}

	series = append(series, models.Candle{Bucket: bucket, Symbol: t.Symbol, Open: px, High: px, Low: px, Close: px, Volume: 1})
	if len(series) > b.history {
		series = append(series[:0:0], series[len(series)-b.history:]...)
	}
	b.series[t.Symbol] = series
}

// Process adapts the book to the tick pipeline.
func (b *CandleBook) Process(_ context.Context, t *models.Tick) error {
	b.OnTick(*t)
	return nil
}

// GetLatestNCandles returns up to n candles, oldest first. The timeframe
// argument must match the book's own; the book keeps a single resolution.
func (b *CandleBook) GetLatestNCandles(_ context.Context, symbol string, n int, _ domrepo.Timeframe) ([]models.Candle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	series := b.series[symbol]
	if n <= 0 || n > len(series) {
		n = len(series)
	}
	out := make([]models.Candle, n)
	copy(out, series[len(series)-n:])
	return out, nil
}

var _ domrepo.CandleSource = (*CandleBook)(nil)
