package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/irfndi/neurastock/internal/config"
	_ "github.com/mattn/go-sqlite3"
)

var errSQLiteClosed = errors.New("sqlite database is not initialized")

// SQLiteOptions tunes the bar-history file. Zero values fall back to the defaults in
// withDefaults.
type SQLiteOptions struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
	// CacheKiB is the page cache per connection.
	CacheKiB int
}

func (o SQLiteOptions) withDefaults() SQLiteOptions {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 8
	}
	if o.MaxIdleConns <= 0 || o.MaxIdleConns > o.MaxOpenConns {
		o.MaxIdleConns = min(4, o.MaxOpenConns)
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.CacheKiB <= 0 {
		o.CacheKiB = 64 * 1024
	}
	return o
}

// dsn carries the pragmas as driver parameters so every pooled connection gets them, not only
// the first one.
func (o SQLiteOptions) dsn() string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", strconv.FormatInt(o.BusyTimeout.Milliseconds(), 10))
	q.Set("_cache_size", strconv.Itoa(-o.CacheKiB))
	q.Set("_txlock", "immediate")
	return "file:" + o.Path + "?" + q.Encode()
}

func sqliteOptionsFromConfig(cfg *config.DatabaseConfig) (SQLiteOptions, error) {
	opts := SQLiteOptions{
		Path:         cfg.SQLitePath,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	}
	if opts.Path == "" {
		opts.Path = "neurastock.db"
	}
	if cfg.ConnMaxLifetime != "" {
		d, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return SQLiteOptions{}, fmt.Errorf("invalid conn_max_lifetime %q: %w", cfg.ConnMaxLifetime, err)
		}
		opts.ConnMaxLifetime = d
	}
	return opts, nil
}

// SQLiteDB is the single-file store used for local bar history and backtests.
type SQLiteDB struct {
	DB   *sql.DB
	path string
}

var _ Database = (*SQLiteDB)(nil)

// NewSQLiteConnection opens path with the default tuning.
func NewSQLiteConnection(path string) (*SQLiteDB, error) {
	return OpenSQLite(context.Background(), SQLiteOptions{Path: path})
}

// OpenSQLite opens the file described by opts and pings it before returning.
func OpenSQLite(ctx context.Context, opts SQLiteOptions) (*SQLiteDB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	opts = opts.withDefaults()

	db, err := sql.Open("sqlite3", opts.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", opts.Path, err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, opts.BusyTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %s: %w", opts.Path, err)
	}
	return &SQLiteDB{DB: db, path: opts.Path}, nil
}

func (db *SQLiteDB) conn() (*sql.DB, error) {
	if db == nil || db.DB == nil {
		return nil, errSQLiteClosed
	}
	return db.DB, nil
}

func (db *SQLiteDB) Dialect() DBType { return DBTypeSQLite }

// Path reports the file the connection was opened on.
func (db *SQLiteDB) Path() string {
	if db == nil {
		return ""
	}
	return db.path
}

func (db *SQLiteDB) Close() error {
	conn, err := db.conn()
	if err != nil {
		return nil
	}
	return conn.Close()
}

func (db *SQLiteDB) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	conn, err := db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLRows{Rows: rows}, nil
}

func (db *SQLiteDB) QueryRow(ctx context.Context, query string, args ...any) Row {
	conn, err := db.conn()
	if err != nil {
		return SQLRow{}
	}
	return SQLRow{Row: conn.QueryRowContext(ctx, query, args...)}
}

func (db *SQLiteDB) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	conn, err := db.conn()
	if err != nil {
		return nil, err
	}
	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLResult{Result: res}, nil
}

func (db *SQLiteDB) Begin(ctx context.Context) (Tx, error) {
	conn, err := db.conn()
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return SQLTx{Tx: tx}, nil
}

func (db *SQLiteDB) HealthCheck(ctx context.Context) error {
	conn, err := db.conn()
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}
