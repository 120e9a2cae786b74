// Package database opens the SQLite and PostgreSQL connections that back OHLCV history, and the
// Redis client shared by the ledger store, daily limits, pub/sub and the trader lease.
package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/irfndi/neurastock/internal/config"
	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
)

// Database abstracts both PostgreSQL and SQLite connections.
type Database interface {
	DBPool
	Close() error
	HealthCheck(ctx context.Context) error
	Dialect() DBType
}

// DBType enumerates supported database drivers.
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
)

// Placeholder returns the n-th (1-based) bind parameter in the driver's syntax.
func (t DBType) Placeholder(n int) string {
	if t == DBTypePostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// NewDatabaseConnection opens the database named by cfg.Driver, defaulting to SQLite.
func NewDatabaseConnection(ctx context.Context, cfg *config.DatabaseConfig, logger *zaplogrus.Logger) (Database, error) {
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}

	switch DetectDBType(cfg.Driver) {
	case DBTypeSQLite:
		opts, err := sqliteOptionsFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		logger.Infof("Connecting to SQLite database: %s", opts.Path)
		return OpenSQLite(ctx, opts)
	case DBTypePostgres:
		logger.Infof("Connecting to PostgreSQL database: %s@%s:%d/%s", cfg.User, cfg.Host, cfg.Port, cfg.DBName)
		return NewPostgresConnection(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", cfg.Driver)
	}
}

// DetectDBType maps a driver name to its canonical type. Empty means SQLite; an unknown name
// returns the empty type.
func DetectDBType(driver string) DBType {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DBTypeSQLite
	case "postgres", "postgresql", "pgx":
		return DBTypePostgres
	default:
		return ""
	}
}
