package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	pkgch "Calibra/pkg/clickhouse"
	applogger "Calibra/pkg/logger"
)

// CHOutcomeArchive copies resolved outcomes into ClickHouse for analytical
// queries. The JSONL log remains the source of truth.
type CHOutcomeArchive struct {
	db       *sql.DB
	client   *pkgch.Client
	database string
	table    string
	l        *applogger.Logger
}

func NewCHOutcomeArchive(ch *pkgch.Client, database string) *CHOutcomeArchive {
	return &CHOutcomeArchive{
		db:       ch.DB(),
		client:   ch,
		database: database,
		table:    database + ".outcomes",
		l:        applogger.NewNop(),
	}
}

// SetLogger injects a structured logger.
func (s *CHOutcomeArchive) SetLogger(l *applogger.Logger) { s.l = l }

// OutcomeSchema returns the idempotent DDL for the outcomes table.
func OutcomeSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.outcomes (
    signal_id String,
    pattern LowCardinality(String),
    symbol LowCardinality(String),
    direction LowCardinality(String),
    session LowCardinality(String),
    regime LowCardinality(String),
    timeframe LowCardinality(String),
    result LowCardinality(String),
    pips Float64,
    r_multiple Float64,
    duration_ms Int64,
    opened_at DateTime64(3, 'UTC'),
    resolved_at DateTime64(3, 'UTC'),
    raw_confidence Float64,
    calibrated_confidence Float64,
    shadow UInt8
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, pattern, resolved_at, signal_id)`, database),
	}
}

func (s *CHOutcomeArchive) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, OutcomeSchema(s.database))
}

func (s *CHOutcomeArchive) Store(ctx context.Context, o *models.Outcome) error {
	return s.StoreBatch(ctx, []*models.Outcome{o})
}

// StoreBatch inserts outcomes with multi-row VALUES in chunks.
func (s *CHOutcomeArchive) StoreBatch(ctx context.Context, outcomes []*models.Outcome) error {
	const chunkSize = 1000
	const cols = "(signal_id, pattern, symbol, direction, session, regime, timeframe, result, pips, r_multiple, duration_ms, opened_at, resolved_at, raw_confidence, calibrated_confidence, shadow)"
	for start := 0; start < len(outcomes); start += chunkSize {
		end := start + chunkSize
		if end > len(outcomes) {
			end = len(outcomes)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*16)
		for _, o := range outcomes[start:end] {
			if o == nil || o.Pattern == "" || o.Symbol == "" {
				continue
			}
			var shadow uint8
			if o.Shadow {
				shadow = 1
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				o.SignalID, o.Pattern, o.Symbol, string(o.Direction), string(o.Session),
				o.Regime, o.Timeframe, string(o.Result), o.Pips, o.RMultiple,
				o.Duration.Milliseconds(), o.OpenedAt.UTC(), o.ResolvedAt.UTC(),
				o.RawConfidence, o.CalibratedConfidence, shadow,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s %s VALUES %s", s.table, cols, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert outcomes: %w", err)
		}
	}
	return nil
}

// ComboStats groups every archived outcome by symbol, pattern, session and
// timeframe.
func (s *CHOutcomeArchive) ComboStats(ctx context.Context) ([]models.ComboRecord, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT symbol, pattern, session, timeframe,
               count() AS trades,
               countIf(result = 'WIN') AS wins,
               countIf(result = 'LOSS') AS losses
        FROM %s FINAL
        GROUP BY symbol, pattern, session, timeframe
        ORDER BY symbol, pattern, session, timeframe
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		s.l.Error("clickhouse combo_stats query error", applogger.String("table", s.table), applogger.Error(err))
		return nil, fmt.Errorf("combo stats: %w", err)
	}
	defer rows.Close()

	var out []models.ComboRecord
	for rows.Next() {
		var (
			c                    models.ComboRecord
			session              string
			trades, wins, losses uint64
		)
		if err := rows.Scan(&c.Key.Symbol, &c.Key.Pattern, &session, &c.Key.Timeframe, &trades, &wins, &losses); err != nil {
			return nil, fmt.Errorf("scan combo: %w", err)
		}
		c.Key.Session = models.Session(session)
		c.Trades, c.Wins, c.Losses = int(trades), int(wins), int(losses)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Info("clickhouse combo_stats ok",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

func (s *CHOutcomeArchive) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHOutcomeArchive) Close() error {
	return nil // pool owned by pkg/clickhouse
}

var _ domrepo.OutcomeArchive = (*CHOutcomeArchive)(nil)
