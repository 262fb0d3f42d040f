package repository

import (
	"context"

	"Calibra/internal/domain/models"
)

// CandleSource provides the most recent candles for regime classification.
type CandleSource interface {
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
}
