package repository

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	pkgch "Calibra/pkg/clickhouse"
	applogger "Calibra/pkg/logger"
	"Calibra/pkg/util"
)

// CHCandleStore reads candles from a ClickHouse table of 1m buckets. Wider
// timeframes are rolled up in the query.
type CHCandleStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, database, table string) *CHCandleStore {
	return &CHCandleStore{db: ch.DB(), table: database + "." + table, l: applogger.NewNop()}
}

func (s *CHCandleStore) SetLogger(l *applogger.Logger) { s.l = l }

// candleQuery returns the newest n candles of width tf, newest first.
func candleQuery(table string, tf domrepo.Timeframe) (string, error) {
	if tf == domrepo.TF1m {
		return fmt.Sprintf(`
        SELECT bucket, symbol, open, high, low, close, vol
        FROM %s
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?`, table), nil
	}
	width, err := util.ParseTimeframe(string(tf))
	if err != nil || width < time.Minute {
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
	return fmt.Sprintf(`
        SELECT toStartOfInterval(bucket, INTERVAL %d SECOND) AS b, any(symbol),
               argMin(open, bucket), max(high), min(low), argMax(close, bucket), sum(vol)
        FROM %s
        WHERE symbol = ?
        GROUP BY b
        ORDER BY b DESC
        LIMIT ?`, int(width.Seconds()), table), nil
}

// GetLatestNCandles returns up to n candles in ascending time order.
func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	q, err := candleQuery(s.table, tf)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, symbol, n)
	if err != nil {
		s.l.Error("latest candles query",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Error(err))
		return nil, fmt.Errorf("latest candles %s %s: %w", symbol, tf, err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, n)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	s.l.Debug("latest candles",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

var _ domrepo.CandleSource = (*CHCandleStore)(nil)
