package regime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Calibra/internal/domain/models"
	"Calibra/internal/domain/repository"
)

func TestSessionFor(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		hour int
		want models.Session
	}{
		{0, models.SessionAsian},
		{6, models.SessionAsian},
		{7, models.SessionLondon},
		{11, models.SessionLondon},
		{12, models.SessionOverlap},
		{15, models.SessionOverlap},
		{16, models.SessionNY},
		{20, models.SessionNY},
		{21, models.SessionOther},
		{23, models.SessionOther},
	}
	for _, tc := range cases {
		got := SessionFor(day.Add(time.Duration(tc.hour)*time.Hour + 30*time.Minute))
		assert.Equal(t, tc.want, got, "hour %d", tc.hour)
	}
}

func TestSessionForConvertsToUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 17:00 JST is 08:00 UTC.
	assert.Equal(t, models.SessionLondon, SessionFor(time.Date(2024, 3, 4, 17, 0, 0, 0, tokyo)))
}

func flatCandles(n int) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Bucket: start.Add(time.Duration(i) * time.Minute), Open: 1.1, High: 1.1005, Low: 1.0995, Close: 1.1}
	}
	return out
}

func TestTrendVolatilityUnknownWithFewCandles(t *testing.T) {
	c := NewClassifier(DefaultConfig(), nil)
	got := c.TrendVolatility(flatCandles(19))
	assert.Equal(t, models.TrendUnknown, got.Trend)
	assert.Equal(t, models.VolUnknown, got.Volatility)
	assert.Equal(t, "UNKNOWN", got.Label())
}

func TestTrendVolatilityTrending(t *testing.T) {
	candles := make([]models.Candle, 40)
	price := 1.1
	for i := range candles {
		price += 0.001
		candles[i] = models.Candle{Open: price - 0.001, High: price + 0.0002, Low: price - 0.0012, Close: price}
	}
	got := NewClassifier(DefaultConfig(), nil).TrendVolatility(candles)
	assert.Equal(t, models.TrendTrend, got.Trend)
	assert.Greater(t, got.ADX, 25.0)
}

func TestTrendVolatilityRanging(t *testing.T) {
	candles := make([]models.Candle, 40)
	for i := range candles {
		px := 1.1
		if i%2 == 1 {
			px = 1.101
		}
		candles[i] = models.Candle{Open: px, High: px + 0.0005, Low: px - 0.0005, Close: px}
	}
	got := NewClassifier(DefaultConfig(), nil).TrendVolatility(candles)
	assert.Equal(t, models.TrendRange, got.Trend)
	assert.Equal(t, models.VolLow, got.Volatility)
}

func TestTrendVolatilityHighOnSpike(t *testing.T) {
	candles := flatCandles(30)
	candles[29].High = 1.11
	candles[29].Low = 1.09

	got := NewClassifier(DefaultConfig(), nil).TrendVolatility(candles)
	assert.Equal(t, models.VolHigh, got.Volatility)
	assert.Greater(t, got.ATR, 1.5*got.AvgATR)
}

type stubSource struct {
	candles []models.Candle
	err     error
}

func (s stubSource) GetLatestNCandles(context.Context, string, int, repository.Timeframe) ([]models.Candle, error) {
	return s.candles, s.err
}

func TestClassifyUsesSource(t *testing.T) {
	c := NewClassifier(DefaultConfig(), stubSource{candles: flatCandles(30)})
	got, err := c.Classify(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "RANGE_LOW", got.Label())
}

func TestClassifyDegradesOnSourceError(t *testing.T) {
	c := NewClassifier(DefaultConfig(), stubSource{err: errors.New("down")})
	got, err := c.Classify(context.Background(), "EURUSD")
	assert.Error(t, err)
	assert.Equal(t, Unknown, got)
}
