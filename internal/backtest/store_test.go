package backtest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/irfndi/neurastock/internal/database"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
}

func flatBar(ts time.Time, price float64) interfaces.Bar {
	return interfaces.Bar{Timestamp: ts, Open: price, High: price, Low: price, Close: price, Volume: 1000}
}

func TestJSONBarStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewJSONBarStore(dir, nil)

	bars := []interfaces.Bar{flatBar(day(6), 50200), flatBar(day(4), 50000), flatBar(day(5), 50100)}
	require.NoError(t, store.SaveOHLCV(ctx, "005930", "1d", bars))
	require.NoError(t, store.SaveOHLCV(ctx, "000660", "1m", []interfaces.Bar{flatBar(day(4), 100000)}))

	_, err := os.Stat(filepath.Join(dir, "005930_1d.json"))
	require.NoError(t, err)

	fresh := NewJSONBarStore(dir, nil)
	loaded, err := fresh.LoadOHLCV(ctx, "005930", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.True(t, loaded[0].Timestamp.Equal(day(4)))
	assert.True(t, loaded[2].Timestamp.Equal(day(6)))
	assert.Equal(t, 50100.0, loaded[1].Close)

	ranged, err := fresh.LoadOHLCV(ctx, "005930", "1d", day(5), day(5))
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, 50100.0, ranged[0].Close)

	first, last, err := fresh.DateRange(ctx, "005930", "1d")
	require.NoError(t, err)
	assert.True(t, first.Equal(day(4)))
	assert.True(t, last.Equal(day(6)))

	codes, err := fresh.AvailableStocks(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"000660", "005930"}, codes)

	codes, err = fresh.AvailableStocks(ctx, "1d")
	require.NoError(t, err)
	assert.Equal(t, []string{"005930"}, codes)
}

func TestJSONBarStore_MissingSeries(t *testing.T) {
	ctx := context.Background()
	store := NewJSONBarStore(filepath.Join(t.TempDir(), "absent"), nil)

	bars, err := store.LoadOHLCV(ctx, "005930", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, bars)

	codes, err := store.AvailableStocks(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, codes)

	_, _, err = store.DateRange(ctx, "005930", "1d")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestJSONBarStore_ClearCacheRereadsFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewJSONBarStore(dir, nil)
	require.NoError(t, store.SaveOHLCV(ctx, "005930", "1d", []interfaces.Bar{flatBar(day(4), 50000)}))

	other := NewJSONBarStore(dir, nil)
	require.NoError(t, other.SaveOHLCV(ctx, "005930", "1d", []interfaces.Bar{flatBar(day(4), 50000), flatBar(day(5), 51000)}))

	cached, err := store.LoadOHLCV(ctx, "005930", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	store.ClearCache()
	reloaded, err := store.LoadOHLCV(ctx, "005930", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, reloaded, 2)
}

func TestJSONBarStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "005930_1d.json"), []byte("{not json"), 0o644))

	_, err := NewJSONBarStore(dir, nil).LoadOHLCV(context.Background(), "005930", "1d", time.Time{}, time.Time{})
	assert.ErrorContains(t, err, "decode bars 005930_1d")
}

func newSQLiteBarStore(t *testing.T) *SQLBarStore {
	t.Helper()
	db, err := database.NewSQLiteConnection(filepath.Join(t.TempDir(), "bars.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewSQLBarStore(db, db.Dialect(), nil)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func TestSQLBarStore_SQLite(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteBarStore(t)

	require.NoError(t, store.SaveOHLCV(ctx, "005930", "1d", []interfaces.Bar{
		flatBar(day(4), 50000), flatBar(day(5), 50100), flatBar(day(6), 50200),
	}))
	require.NoError(t, store.SaveOHLCV(ctx, "000660", "1m", []interfaces.Bar{flatBar(day(4), 100000)}))

	// upsert replaces the existing row
	require.NoError(t, store.SaveOHLCV(ctx, "005930", "1d", []interfaces.Bar{flatBar(day(5), 50150)}))

	bars, err := store.LoadOHLCV(ctx, "005930", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, 50150.0, bars[1].Close)
	assert.Equal(t, int64(1000), bars[1].Volume)
	assert.True(t, bars[0].Timestamp.Equal(day(4)))

	ranged, err := store.LoadOHLCV(ctx, "005930", "1d", day(5), day(6))
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	codes, err := store.AvailableStocks(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"000660", "005930"}, codes)

	codes, err = store.AvailableStocks(ctx, "1m")
	require.NoError(t, err)
	assert.Equal(t, []string{"000660"}, codes)

	first, last, err := store.DateRange(ctx, "005930", "1d")
	require.NoError(t, err)
	assert.True(t, first.Equal(day(4)))
	assert.True(t, last.Equal(day(6)))

	_, _, err = store.DateRange(ctx, "035720", "1d")
	assert.ErrorIs(t, err, ErrNoData)

	empty, err := store.LoadOHLCV(ctx, "035720", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLBarStore_PostgresUpsert(t *testing.T) {
	pool, mock, err := database.NewMockDBPoolFromNewPool()
	require.NoError(t, err)
	defer pool.Close()

	store := NewSQLBarStore(pool, database.DBTypePostgres, nil)
	bar := interfaces.Bar{Timestamp: day(4), Open: 50000, High: 50500, Low: 49500, Close: 50200, Volume: 1000, Value: 50200000}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)")).
		WithArgs("005930", "1d", day(4).UnixMilli(), 50000.0, 50500.0, 49500.0, 50200.0, int64(1000), 50200000.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveOHLCV(context.Background(), "005930", "1d", []interfaces.Bar{bar}))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSQLBarStore_PostgresRollbackOnError(t *testing.T) {
	pool, mock, err := database.NewMockDBPoolFromNewPool()
	require.NoError(t, err)
	defer pool.Close()

	store := NewSQLBarStore(pool, database.DBTypePostgres, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ohlcv_bars").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.SaveOHLCV(context.Background(), "005930", "1d", []interfaces.Bar{flatBar(day(4), 50000)})
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSQLBarStore_PostgresLoad(t *testing.T) {
	pool, mock, err := database.NewMockDBPoolFromNewPool()
	require.NoError(t, err)
	defer pool.Close()

	store := NewSQLBarStore(pool, database.DBTypePostgres, nil)
	rows := pgxmock.NewRows([]string{"ts", "open", "high", "low", "close", "volume", "value"}).
		AddRow(day(4).UnixMilli(), 50000.0, 50500.0, 49500.0, 50200.0, int64(1000), 0.0).
		AddRow(day(5).UnixMilli(), 50200.0, 50900.0, 50100.0, 50800.0, int64(1200), 0.0)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE stock_code = $1 AND timeframe = $2 AND ts >= $3 ORDER BY ts")).
		WithArgs("005930", "1d", day(4).UnixMilli()).
		WillReturnRows(rows)

	bars, err := store.LoadOHLCV(context.Background(), "005930", "1d", day(4), time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[1].Timestamp.Equal(day(5)))
	assert.Equal(t, 50800.0, bars[1].Close)
	assert.Equal(t, int64(1200), bars[1].Volume)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSQLBarStore_PostgresDateRangeEmpty(t *testing.T) {
	pool, mock, err := database.NewMockDBPoolFromNewPool()
	require.NoError(t, err)
	defer pool.Close()

	store := NewSQLBarStore(pool, database.DBTypePostgres, nil)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("005930", "1d").
		WillReturnRows(pgxmock.NewRows([]string{"count", "min", "max"}).AddRow(int64(0), int64(0), int64(0)))

	_, _, err = store.DateRange(context.Background(), "005930", "1d")
	assert.ErrorIs(t, err, ErrNoData)
	assert.NoError(t, pool.ExpectationsWereMet())
}
