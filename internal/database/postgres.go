package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/neurastock/internal/config"
	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postgresDialAttempts  = 3
	postgresConnectBudget = 30 * time.Second
	// maxPoolConns caps configured pool sizes before they reach pgx's int32 fields.
	maxPoolConns = 512
)

// PostgresDB serves bar history from a shared PostgreSQL instance.
type PostgresDB struct {
	pgxAdapter
	Pool   *pgxpool.Pool
	logger *zaplogrus.Logger
}

var _ Database = (*PostgresDB)(nil)

// NewPostgresConnection dials the pool with exponential backoff between attempts and pings it.
func NewPostgresConnection(ctx context.Context, cfg *config.DatabaseConfig, logger *zaplogrus.Logger) (*PostgresDB, error) {
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}
	poolConfig, err := postgresPoolConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresConnectBudget)
	defer cancel()

	pool, err := dialPostgres(ctx, poolConfig, logger)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"max_conns": poolConfig.MaxConns,
		"database":  poolConfig.ConnConfig.Database,
	}).Info("Connected to PostgreSQL")
	return &PostgresDB{pgxAdapter: pgxAdapter{q: pool}, Pool: pool, logger: logger}, nil
}

func dialPostgres(ctx context.Context, poolConfig *pgxpool.Config, logger *zaplogrus.Logger) (*pgxpool.Pool, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 1; attempt <= postgresDialAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			return pool, nil
		}
		lastErr = err
		logger.WithError(err).WithField("attempt", attempt).Warn("PostgreSQL dial failed")
		if attempt == postgresDialAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed to create connection pool after %d attempts: %w", postgresDialAttempts, lastErr)
}

func (db *PostgresDB) Dialect() DBType { return DBTypePostgres }

func (db *PostgresDB) Close() error {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("PostgreSQL connection closed")
	}
	return nil
}

func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	if db.Pool == nil {
		return fmt.Errorf("postgres pool is not initialized")
	}
	return db.Pool.Ping(ctx)
}

// postgresDSN prefers a full URL and otherwise assembles a keyword/value string.
func postgresDSN(cfg *config.DatabaseConfig) string {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host
	}
	if cfg.DatabaseURL != "" {
		return cfg.DatabaseURL
	}
	parts := []string{
		"host=" + cfg.Host,
		fmt.Sprintf("port=%d", cfg.Port),
		"user=" + cfg.User,
		"dbname=" + cfg.DBName,
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+cfg.Password)
	}
	if cfg.SSLMode != "" {
		parts = append(parts, "sslmode="+cfg.SSLMode)
	}
	if cfg.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", cfg.ConnectTimeout))
	}
	return strings.Join(parts, " ")
}

func postgresPoolConfig(cfg *config.DatabaseConfig, logger *zaplogrus.Logger) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = poolSize(cfg.MaxOpenConns, logger)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = poolSize(cfg.MaxIdleConns, logger)
	}
	if poolConfig.MinConns > poolConfig.MaxConns {
		return nil, fmt.Errorf("invalid pool sizing: max_idle_conns (%d) > max_open_conns (%d)", poolConfig.MinConns, poolConfig.MaxConns)
	}

	for _, d := range []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"conn_max_lifetime", cfg.ConnMaxLifetime, &poolConfig.MaxConnLifetime},
		{"conn_max_idle_time", cfg.ConnMaxIdleTime, &poolConfig.MaxConnIdleTime},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.key, d.value, err)
		}
		*d.dst = parsed
	}

	if cfg.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	poolConfig.ConnConfig.Tracer = &PostgresSentryTracer{}
	return poolConfig, nil
}

func poolSize(value int, logger *zaplogrus.Logger) int32 {
	if value > maxPoolConns {
		logger.Warnf("Configured pool size %d exceeds %d; clamping", value, maxPoolConns)
		return maxPoolConns
	}
	return int32(value)
}
