package database

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close()
	Err() error
}

type Row interface {
	Scan(dest ...any) error
}

type Result interface {
	RowsAffected() (int64, error)
}

type Tx interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBPool is the driver-neutral query surface the bar stores are written against.
type DBPool interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	Begin(ctx context.Context) (Tx, error)
}

// pgxQuerier is what *pgxpool.Pool, pgx.Tx and the pgxmock pool have in common.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pgxBeginner interface {
	pgxQuerier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// pgxResult reports the affected row count of a command tag.
type pgxResult pgconn.CommandTag

func (r pgxResult) RowsAffected() (int64, error) { return pgconn.CommandTag(r).RowsAffected(), nil }

// pgxAdapter lifts any pgx querier onto DBPool. pgx.Rows and pgx.Row already satisfy Rows and
// Row, so only results and transactions need wrapping.
type pgxAdapter struct {
	q pgxBeginner
}

func (a pgxAdapter) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return a.q.Query(ctx, query, args...)
}

func (a pgxAdapter) QueryRow(ctx context.Context, query string, args ...any) Row {
	return a.q.QueryRow(ctx, query, args...)
}

func (a pgxAdapter) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	tag, err := a.q.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult(tag), nil
}

func (a pgxAdapter) Begin(ctx context.Context) (Tx, error) {
	tx, err := a.q.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgxTx{pgxAdapter: pgxAdapter{q: tx}, tx: tx}, nil
}

type pgxTx struct {
	pgxAdapter
	tx pgx.Tx
}

func (t pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// SQLRows drops the error from (*sql.Rows).Close so it fits Rows.
type SQLRows struct{ *sql.Rows }

func (r SQLRows) Close() { _ = r.Rows.Close() }

// SQLRow reports sql.ErrConnDone when the database was never opened.
type SQLRow struct{ *sql.Row }

func (r SQLRow) Scan(dest ...any) error {
	if r.Row == nil {
		return sql.ErrConnDone
	}
	return r.Row.Scan(dest...)
}

type SQLResult struct{ sql.Result }

type SQLTx struct{ *sql.Tx }

func (t SQLTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := t.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLRows{Rows: rows}, nil
}

func (t SQLTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return SQLRow{Row: t.QueryRowContext(ctx, query, args...)}
}

func (t SQLTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := t.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLResult{Result: res}, nil
}

func (t SQLTx) Commit(context.Context) error   { return t.Tx.Commit() }
func (t SQLTx) Rollback(context.Context) error { return t.Tx.Rollback() }
