package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/neurastock/internal/database"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"go.uber.org/zap"
)

const ohlcvSchema = `CREATE TABLE IF NOT EXISTS ohlcv_bars (
	stock_code  TEXT NOT NULL,
	timeframe   TEXT NOT NULL,
	ts          BIGINT NOT NULL,
	open        DOUBLE PRECISION NOT NULL,
	high        DOUBLE PRECISION NOT NULL,
	low         DOUBLE PRECISION NOT NULL,
	close       DOUBLE PRECISION NOT NULL,
	volume      BIGINT NOT NULL,
	value       DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (stock_code, timeframe, ts)
)`

// SQLBarStore keeps bars in the ohlcv_bars table of a SQLite or PostgreSQL database.
// Timestamps are stored as Unix milliseconds and loaded back in UTC.
type SQLBarStore struct {
	db      database.DBPool
	dialect database.DBType
	logger  *zap.Logger
}

var _ BarStore = (*SQLBarStore)(nil)

func NewSQLBarStore(db database.DBPool, dialect database.DBType, logger *zap.Logger) *SQLBarStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialect == "" {
		dialect = database.DBTypeSQLite
	}
	return &SQLBarStore{db: db, dialect: dialect, logger: logger}
}

func (s *SQLBarStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, ohlcvSchema); err != nil {
		return fmt.Errorf("create ohlcv_bars: %w", err)
	}
	return nil
}

func (s *SQLBarStore) ph(n int) string { return s.dialect.Placeholder(n) }

func (s *SQLBarStore) SaveOHLCV(ctx context.Context, code, timeframe string, bars []interfaces.Bar) (err error) {
	if len(bars) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO ohlcv_bars (stock_code, timeframe, ts, open, high, low, close, volume, value)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)
ON CONFLICT (stock_code, timeframe, ts) DO UPDATE SET
	open = excluded.open, high = excluded.high, low = excluded.low,
	close = excluded.close, volume = excluded.volume, value = excluded.value`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin bar upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, b := range bars {
		if _, err = tx.Exec(ctx, query, code, timeframe, b.Timestamp.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Value); err != nil {
			return fmt.Errorf("upsert bar %s %s: %w", code, b.Timestamp.Format(time.RFC3339), err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bar upsert: %w", err)
	}

	s.logger.Info("saved bars",
		zap.String("stock_code", code),
		zap.String("timeframe", timeframe),
		zap.Int("bars", len(bars)),
		zap.String("dialect", string(s.dialect)))
	return nil
}

func (s *SQLBarStore) LoadOHLCV(ctx context.Context, code, timeframe string, start, end time.Time) ([]interfaces.Bar, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ts, open, high, low, close, volume, value FROM ohlcv_bars WHERE stock_code = ")
	sb.WriteString(s.ph(1))
	sb.WriteString(" AND timeframe = ")
	sb.WriteString(s.ph(2))
	args := []any{code, timeframe}
	if !start.IsZero() {
		args = append(args, start.UnixMilli())
		sb.WriteString(" AND ts >= " + s.ph(len(args)))
	}
	if !end.IsZero() {
		args = append(args, end.UnixMilli())
		sb.WriteString(" AND ts <= " + s.ph(len(args)))
	}
	sb.WriteString(" ORDER BY ts")

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", seriesKey(code, timeframe), err)
	}
	defer rows.Close()

	var bars []interfaces.Bar
	for rows.Next() {
		var (
			ts  int64
			bar interfaces.Bar
		)
		if err := rows.Scan(&ts, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume, &bar.Value); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bar.Timestamp = time.UnixMilli(ts).UTC()
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	return bars, nil
}

func (s *SQLBarStore) AvailableStocks(ctx context.Context, timeframe string) ([]string, error) {
	query := "SELECT DISTINCT stock_code FROM ohlcv_bars"
	var args []any
	if timeframe != "" {
		query += " WHERE timeframe = " + s.ph(1)
		args = append(args, timeframe)
	}
	query += " ORDER BY stock_code"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan stock code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *SQLBarStore) DateRange(ctx context.Context, code, timeframe string) (time.Time, time.Time, error) {
	query := fmt.Sprintf("SELECT COUNT(*), COALESCE(MIN(ts), 0), COALESCE(MAX(ts), 0) FROM ohlcv_bars WHERE stock_code = %s AND timeframe = %s",
		s.ph(1), s.ph(2))
	var count, first, last int64
	if err := s.db.QueryRow(ctx, query, code, timeframe).Scan(&count, &first, &last); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("date range %s: %w", seriesKey(code, timeframe), err)
	}
	if count == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s", ErrNoData, seriesKey(code, timeframe))
	}
	return time.UnixMilli(first).UTC(), time.UnixMilli(last).UTC(), nil
}
