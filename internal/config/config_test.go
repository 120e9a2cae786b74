package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "redis.example.com", Port: 6380}
	assert.Equal(t, "redis.example.com:6380", cfg.Addr())
}

func TestConfigError_Message(t *testing.T) {
	err := &ConfigError{Key: "trading.style", Reason: "must be one of SCALPING, DAYTRADING, SWING"}
	assert.Equal(t, "config: trading.style must be one of SCALPING, DAYTRADING, SWING", err.Error())
}

func TestLoad_WithDefaults(t *testing.T) {
	os.Clearenv()
	t.Chdir(t.TempDir())

	config, err := Load()
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, config.Server.AllowedOrigins)

	assert.Equal(t, "sqlite", config.Database.Driver)
	assert.Equal(t, "localhost", config.Database.Host)
	assert.Equal(t, 5432, config.Database.Port)
	assert.Equal(t, "neurastock", config.Database.DBName)
	assert.Equal(t, "disable", config.Database.SSLMode)
	assert.Equal(t, 25, config.Database.MaxOpenConns)
	assert.Equal(t, 5, config.Database.MaxIdleConns)
	assert.Equal(t, "300s", config.Database.ConnMaxLifetime)
	assert.Equal(t, "neurastock.db", config.Database.SQLitePath)

	assert.Equal(t, "localhost:6379", config.Redis.Addr())
	assert.Equal(t, "neurastock", config.Redis.KeyPrefix)

	assert.Equal(t, "DAYTRADING", config.Trading.Style)
	assert.Equal(t, 10_000_000.0, config.Trading.TotalCapital)
	assert.Equal(t, 5, config.Trading.MaxPositions)
	assert.False(t, config.Trading.AutoTrade)
	assert.Equal(t, 0.5, config.Trading.PartialCloseRatio)

	assert.Equal(t, "Asia/Seoul", config.Orchestrator.Timezone)
	assert.Equal(t, "09:00", config.Orchestrator.MarketOpen)
	assert.Equal(t, "15:30", config.Orchestrator.MarketClose)
	assert.Equal(t, 60*time.Second, config.Orchestrator.TradingInterval)
	assert.Equal(t, 10*time.Second, config.Orchestrator.MonitorInterval)
	assert.Equal(t, 5*time.Minute, config.Orchestrator.DiscoveryInterval)
	assert.Equal(t, 10, config.Orchestrator.MaxDailyTrades)
	assert.Equal(t, []string{"STRONG_BUY", "BUY"}, config.Orchestrator.SignalTypes)

	assert.Equal(t, 0.00015, config.Backtest.CommissionRate)
	assert.Equal(t, 0.001, config.Backtest.SlippageRate)
	assert.Equal(t, 20.0, config.Backtest.PositionSizePct)
	assert.Equal(t, "json", config.Backtest.Store)

	assert.Equal(t, "paper", config.Broker.Mode)
	assert.Equal(t, 10*time.Second, config.Broker.Timeout)
	assert.Equal(t, uint32(5), config.Broker.MaxConsecutiveFailures)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Chdir(t.TempDir())

	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_HOST", "prod-db.example.com")
	t.Setenv("DATABASE_PORT", "5433")
	t.Setenv("DATABASE_USER", "prod_user")
	t.Setenv("DATABASE_PASSWORD", "prod_pass")
	t.Setenv("DATABASE_DBNAME", "prod_db")
	t.Setenv("DATABASE_SSLMODE", "require")
	t.Setenv("REDIS_HOST", "prod-redis.example.com")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "1")
	t.Setenv("TRADING_STYLE", "SWING")
	t.Setenv("TRADING_AUTO_TRADE", "true")
	t.Setenv("ORCHESTRATOR_MONITOR_INTERVAL", "5s")
	t.Setenv("BROKER_TIMEOUT", "3s")
	t.Setenv("SENTRY_DSN", "https://key@sentry.example.com/1")

	config, err := Load()
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, "error", config.LogLevel)
	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "postgres", config.Database.Driver)
	assert.Equal(t, "prod-db.example.com", config.Database.Host)
	assert.Equal(t, 5433, config.Database.Port)
	assert.Equal(t, "prod_user", config.Database.User)
	assert.Equal(t, "prod_pass", config.Database.Password)
	assert.Equal(t, "prod_db", config.Database.DBName)
	assert.Equal(t, "require", config.Database.SSLMode)
	assert.Equal(t, "prod-redis.example.com:6380", config.Redis.Addr())
	assert.Equal(t, 1, config.Redis.DB)
	assert.Equal(t, "SWING", config.Trading.Style)
	assert.True(t, config.Trading.AutoTrade)
	assert.Equal(t, 5*time.Second, config.Orchestrator.MonitorInterval)
	assert.Equal(t, 3*time.Second, config.Broker.Timeout)
	assert.Equal(t, "https://key@sentry.example.com/1", config.Sentry.DSN)
}

func TestLoad_SQLitePathAlias(t *testing.T) {
	os.Clearenv()
	t.Chdir(t.TempDir())
	t.Setenv("SQLITE_PATH", "/tmp/neurastock-test.db")

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/neurastock-test.db", config.Database.SQLitePath)
}

func TestLoad_WithInvalidDatabaseDriver(t *testing.T) {
	os.Clearenv()
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_DRIVER", "mysql")

	config, err := Load()
	assert.Nil(t, config)
	assert.ErrorContains(t, err, "database.driver must be one of")
}

func TestLoad_SQLiteDriverRejectsWhitespacePath(t *testing.T) {
	os.Clearenv()
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "   ")

	config, err := Load()
	assert.Nil(t, config)
	assert.ErrorContains(t, err, "database.sqlite_path is required")
}

func TestLoad_RejectsInvalidTradingValues(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
		key  string
	}{
		{name: "unknown style", env: "TRADING_STYLE", val: "POSITION", key: "trading.style"},
		{name: "partial ratio of one", env: "TRADING_PARTIAL_CLOSE_RATIO", val: "1", key: "trading.partial_close_ratio"},
		{name: "bad market open", env: "ORCHESTRATOR_MARKET_OPEN", val: "9am", key: "orchestrator.market_open"},
		{name: "unknown timezone", env: "ORCHESTRATOR_TIMEZONE", val: "Mars/Olympus", key: "orchestrator.timezone"},
		{name: "unknown bar store", env: "BACKTEST_STORE", val: "csv", key: "backtest.store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			t.Chdir(t.TempDir())
			t.Setenv(tt.env, tt.val)

			config, err := Load()
			assert.Nil(t, config)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestLoad_ConfigFileInWorkingDirectory(t *testing.T) {
	os.Clearenv()
	dir := t.TempDir()
	t.Chdir(dir)

	content := `
server:
  port: 9999
trading:
  style: SCALPING
  max_positions: 3
orchestrator:
  watch_list: ["005930", "000660"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0o644))

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "SCALPING", config.Trading.Style)
	assert.Equal(t, 3, config.Trading.MaxPositions)
	assert.Equal(t, []string{"005930", "000660"}, config.Orchestrator.WatchList)
}

func TestLoad_EnvTakesPrecedenceOverFile(t *testing.T) {
	os.Clearenv()
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("database:\n  host: file-host\n"), 0o644))
	t.Setenv("DATABASE_HOST", "env-host")

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-host", config.Database.Host)
}
