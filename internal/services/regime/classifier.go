package regime

import (
	"context"
	"fmt"
	"math"

	"Calibra/internal/domain/models"
	"Calibra/internal/domain/repository"
	applogger "Calibra/pkg/logger"
)

type Config struct {
	Period            int
	MinCandles        int
	ADXTrendThreshold float64
	ATRHighRatio      float64
	Timeframe         repository.Timeframe
	History           int
}

func DefaultConfig() Config {
	return Config{
		Period:            14,
		MinCandles:        20,
		ADXTrendThreshold: 25,
		ATRHighRatio:      1.5,
		Timeframe:         repository.TF1m,
		History:           200,
	}
}

// Classifier labels symbols TREND/RANGE by ADX and HIGH/LOW by ATR against
// its own rolling average.
type Classifier struct {
	cfg    Config
	source repository.CandleSource
	logger *applogger.Logger
}

func NewClassifier(cfg Config, source repository.CandleSource) *Classifier {
	if cfg.Period < 2 {
		cfg.Period = 14
	}
	if cfg.MinCandles <= cfg.Period {
		cfg.MinCandles = cfg.Period + 1
	}
	if cfg.History < cfg.MinCandles {
		cfg.History = cfg.MinCandles
	}
	return &Classifier{cfg: cfg, source: source, logger: applogger.NewNop()}
}

func (c *Classifier) SetLogger(l *applogger.Logger) { c.logger = l }

// Unknown is returned whenever there is not enough data to classify.
var Unknown = models.TrendVolatility{Trend: models.TrendUnknown, Volatility: models.VolUnknown}

// Classify loads recent candles for symbol and classifies them. A candle
// source failure degrades to Unknown.
func (c *Classifier) Classify(ctx context.Context, symbol string) (models.TrendVolatility, error) {
	if c.source == nil {
		return Unknown, nil
	}
	candles, err := c.source.GetLatestNCandles(ctx, symbol, c.cfg.History, c.cfg.Timeframe)
	if err != nil {
		c.logger.Warn("candle source failed", applogger.String("symbol", symbol), applogger.Error(err))
		return Unknown, fmt.Errorf("load candles for %s: %w", symbol, err)
	}
	return c.TrendVolatility(candles), nil
}

// TrendVolatility classifies candles ordered oldest first.
func (c *Classifier) TrendVolatility(candles []models.Candle) models.TrendVolatility {
	if len(candles) < c.cfg.MinCandles {
		return Unknown
	}

	adx := averageDX(candles, c.cfg.Period)
	atrSeries := atrSeries(candles, c.cfg.Period)
	if len(atrSeries) == 0 {
		return Unknown
	}
	current := atrSeries[len(atrSeries)-1]
	avg := mean(atrSeries)

	out := models.TrendVolatility{
		Trend:      models.TrendRange,
		Volatility: models.VolLow,
		ADX:        adx,
		ATR:        current,
		AvgATR:     avg,
	}
	if adx > c.cfg.ADXTrendThreshold {
		out.Trend = models.TrendTrend
	}
	if avg > 0 && current > c.cfg.ATRHighRatio*avg {
		out.Volatility = models.VolHigh
	}
	return out
}

func trueRange(cur, prev models.Candle) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// atrSeries returns the simple ATR ending at every bar that has a full
// period of predecessors.
func atrSeries(candles []models.Candle, period int) []float64 {
	if len(candles) < period+1 {
		return nil
	}
	out := make([]float64, 0, len(candles)-period)
	for end := period; end < len(candles); end++ {
		var sum float64
		for i := end - period + 1; i <= end; i++ {
			sum += trueRange(candles[i], candles[i-1])
		}
		out = append(out, sum/float64(period))
	}
	return out
}

// dx computes the directional index over the period ending at end.
func dx(candles []models.Candle, end, period int) float64 {
	var plusDMSum, minusDMSum, trSum float64
	for i := end - period + 1; i <= end; i++ {
		cur, prev := candles[i], candles[i-1]
		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low

		if upMove > downMove && upMove > 0 {
			plusDMSum += upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDMSum += downMove
		}
		trSum += trueRange(cur, prev)
	}
	if trSum == 0 {
		return 0
	}
	plusDI := plusDMSum / trSum * 100
	minusDI := minusDMSum / trSum * 100
	if plusDI+minusDI == 0 {
		return 0
	}
	return math.Abs(plusDI-minusDI) / (plusDI + minusDI) * 100
}

// averageDX smooths DX over up to one period of trailing endpoints.
func averageDX(candles []models.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}
	first := len(candles) - period
	if first < period {
		first = period
	}
	var sum float64
	var n int
	for end := first; end < len(candles); end++ {
		sum += dx(candles, end, period)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
