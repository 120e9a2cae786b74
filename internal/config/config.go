// Package config loads service settings from config.yml and the environment through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// ConfigError reports an invalid configuration value. Load never returns a partially valid config.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Key, e.Reason)
}

type Config struct {
	Environment  string             `mapstructure:"environment"`
	LogLevel     string             `mapstructure:"log_level"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Sentry       SentryConfig       `mapstructure:"sentry"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Backtest     BacktestConfig     `mapstructure:"backtest"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Strategy     StrategyConfig     `mapstructure:"strategy"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
	ApplicationName string `mapstructure:"application_name"`
	ConnectTimeout  int    `mapstructure:"connect_timeout"`
	SQLitePath      string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// KeyPrefix namespaces every key this service writes
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr is the host:port pair go-redis expects.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	Release          string  `mapstructure:"release"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

type TradingConfig struct {
	Style             string  `mapstructure:"style"`
	TotalCapital      float64 `mapstructure:"total_capital"`
	MaxPositions      int     `mapstructure:"max_positions"`
	AutoTrade         bool    `mapstructure:"auto_trade"`
	PartialClose      bool    `mapstructure:"partial_close"`
	PartialCloseRatio float64 `mapstructure:"partial_close_ratio"`
	Account           string  `mapstructure:"account"`
}

type OrchestratorConfig struct {
	Timezone          string        `mapstructure:"timezone"`
	MarketOpen        string        `mapstructure:"market_open"`
	MarketClose       string        `mapstructure:"market_close"`
	PreMarket         string        `mapstructure:"pre_market"`
	TradingInterval   time.Duration `mapstructure:"trading_interval"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	MaxDailyTrades    int           `mapstructure:"max_daily_trades"`
	MaxDailyLossPct   float64       `mapstructure:"max_daily_loss_pct"`
	MaxDailyProfitPct float64       `mapstructure:"max_daily_profit_pct"`
	MinScore          float64       `mapstructure:"min_score"`
	SignalTypes       []string      `mapstructure:"signal_types"`
	WatchList         []string      `mapstructure:"watch_list"`
	Market            string        `mapstructure:"market"`
	AutoDiscover      bool          `mapstructure:"auto_discover"`
	DiscoveryLimit    int           `mapstructure:"discovery_limit"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
}

type BacktestConfig struct {
	InitialCapital    float64 `mapstructure:"initial_capital"`
	CommissionRate    float64 `mapstructure:"commission_rate"`
	SlippageRate      float64 `mapstructure:"slippage_rate"`
	PositionSizePct   float64 `mapstructure:"position_size_pct"`
	MaxPositions      int     `mapstructure:"max_positions"`
	UseTrailingStop   bool    `mapstructure:"use_trailing_stop"`
	TrailingStopPct   float64 `mapstructure:"trailing_stop_pct"`
	PartialCloseRatio float64 `mapstructure:"partial_close_ratio"`
	DataDir           string  `mapstructure:"data_dir"`

	// Store selects where OHLCV history lives: json, sqlite or postgres
	Store string `mapstructure:"store"`
}

type BrokerConfig struct {
	Mode                   string        `mapstructure:"mode"`
	Timeout                time.Duration `mapstructure:"timeout"`
	RequestsPerSecond      float64       `mapstructure:"requests_per_second"`
	Burst                  int           `mapstructure:"burst"`
	MaxConsecutiveFailures uint32        `mapstructure:"max_consecutive_failures"`
	OpenTimeout            time.Duration `mapstructure:"open_timeout"`
	PaperCash              float64       `mapstructure:"paper_cash"`
	PaperSlippagePct       float64       `mapstructure:"paper_slippage_pct"`
	PaperCommissionRate    float64       `mapstructure:"paper_commission_rate"`
}

type StrategyConfig struct {
	// OverrideFile is an optional YAML file replacing parts of the built-in style tables
	OverrideFile string `mapstructure:"override_file"`
}

// Load reads config.yml from the working directory or $HOME/.neurastock, then the environment.
// Nested keys map to env vars with "." replaced by "_", e.g. TRADING_STYLE.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".neurastock"))
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	_ = v.BindEnv("database.sqlite_path", "DATABASE_SQLITE_PATH", "SQLITE_PATH")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("sentry.dsn", "SENTRY_DSN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "neurastock")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")
	v.SetDefault("database.conn_max_idle_time", "60s")
	v.SetDefault("database.application_name", "neurastock")
	v.SetDefault("database.connect_timeout", 10)
	v.SetDefault("database.sqlite_path", "neurastock.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "neurastock")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.release", "")
	v.SetDefault("sentry.traces_sample_rate", 0.1)

	v.SetDefault("trading.style", "DAYTRADING")
	v.SetDefault("trading.total_capital", 10_000_000)
	v.SetDefault("trading.max_positions", 5)
	v.SetDefault("trading.auto_trade", false)
	v.SetDefault("trading.partial_close", true)
	v.SetDefault("trading.partial_close_ratio", 0.5)
	v.SetDefault("trading.account", "default")

	v.SetDefault("orchestrator.timezone", "Asia/Seoul")
	v.SetDefault("orchestrator.market_open", "09:00")
	v.SetDefault("orchestrator.market_close", "15:30")
	v.SetDefault("orchestrator.pre_market", "08:30")
	v.SetDefault("orchestrator.trading_interval", 60*time.Second)
	v.SetDefault("orchestrator.monitor_interval", 10*time.Second)
	v.SetDefault("orchestrator.discovery_interval", 5*time.Minute)
	v.SetDefault("orchestrator.max_daily_trades", 10)
	v.SetDefault("orchestrator.max_daily_loss_pct", 3.0)
	v.SetDefault("orchestrator.max_daily_profit_pct", 10.0)
	v.SetDefault("orchestrator.min_score", 65.0)
	v.SetDefault("orchestrator.signal_types", []string{"STRONG_BUY", "BUY"})
	v.SetDefault("orchestrator.watch_list", []string{})
	v.SetDefault("orchestrator.market", "")
	v.SetDefault("orchestrator.auto_discover", true)
	v.SetDefault("orchestrator.discovery_limit", 10)
	v.SetDefault("orchestrator.lease_ttl", 30*time.Second)

	v.SetDefault("backtest.initial_capital", 10_000_000)
	v.SetDefault("backtest.commission_rate", 0.00015)
	v.SetDefault("backtest.slippage_rate", 0.001)
	v.SetDefault("backtest.position_size_pct", 20.0)
	v.SetDefault("backtest.max_positions", 5)
	v.SetDefault("backtest.use_trailing_stop", true)
	v.SetDefault("backtest.trailing_stop_pct", 0.0)
	v.SetDefault("backtest.partial_close_ratio", 0.5)
	v.SetDefault("backtest.data_dir", "data/backtest")
	v.SetDefault("backtest.store", "json")

	v.SetDefault("broker.mode", "paper")
	v.SetDefault("broker.timeout", 10*time.Second)
	v.SetDefault("broker.requests_per_second", 15.0)
	v.SetDefault("broker.burst", 5)
	v.SetDefault("broker.max_consecutive_failures", 5)
	v.SetDefault("broker.open_timeout", 30*time.Second)
	v.SetDefault("broker.paper_cash", 10_000_000)
	v.SetDefault("broker.paper_slippage_pct", 0.1)
	v.SetDefault("broker.paper_commission_rate", 0.00015)

	v.SetDefault("strategy.override_file", "")
}

// Validate checks every value a component would otherwise reject at startup.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "sqlite":
		if strings.TrimSpace(c.Database.SQLitePath) == "" {
			return &ConfigError{Key: "database.sqlite_path", Reason: "is required for the sqlite driver"}
		}
	case "postgres", "postgresql":
	default:
		return &ConfigError{Key: "database.driver", Reason: "must be one of sqlite, postgres"}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigError{Key: "server.port", Reason: "must be between 1 and 65535"}
	}

	switch strings.ToUpper(c.Trading.Style) {
	case "SCALPING", "DAYTRADING", "SWING":
	default:
		return &ConfigError{Key: "trading.style", Reason: "must be one of SCALPING, DAYTRADING, SWING"}
	}
	if c.Trading.TotalCapital <= 0 {
		return &ConfigError{Key: "trading.total_capital", Reason: "must be positive"}
	}
	if c.Trading.MaxPositions <= 0 {
		return &ConfigError{Key: "trading.max_positions", Reason: "must be positive"}
	}
	if c.Trading.PartialCloseRatio <= 0 || c.Trading.PartialCloseRatio >= 1 {
		return &ConfigError{Key: "trading.partial_close_ratio", Reason: "must be between 0 and 1 exclusive"}
	}

	if _, err := time.LoadLocation(c.Orchestrator.Timezone); err != nil {
		return &ConfigError{Key: "orchestrator.timezone", Reason: err.Error()}
	}
	for key, val := range map[string]string{
		"orchestrator.market_open":  c.Orchestrator.MarketOpen,
		"orchestrator.market_close": c.Orchestrator.MarketClose,
		"orchestrator.pre_market":   c.Orchestrator.PreMarket,
	} {
		if _, err := time.Parse("15:04", val); err != nil {
			return &ConfigError{Key: key, Reason: "must be HH:MM"}
		}
	}
	if c.Orchestrator.TradingInterval <= 0 || c.Orchestrator.MonitorInterval <= 0 {
		return &ConfigError{Key: "orchestrator.intervals", Reason: "must be positive"}
	}

	if c.Backtest.CommissionRate < 0 || c.Backtest.SlippageRate < 0 {
		return &ConfigError{Key: "backtest.rates", Reason: "must not be negative"}
	}
	if c.Backtest.PositionSizePct <= 0 || c.Backtest.PositionSizePct > 100 {
		return &ConfigError{Key: "backtest.position_size_pct", Reason: "must be in (0, 100]"}
	}
	switch c.Backtest.Store {
	case "json", "sqlite", "postgres":
	default:
		return &ConfigError{Key: "backtest.store", Reason: "must be one of json, sqlite, postgres"}
	}

	switch c.Broker.Mode {
	case "paper":
	default:
		return &ConfigError{Key: "broker.mode", Reason: "must be paper"}
	}
	if c.Broker.Timeout <= 0 {
		return &ConfigError{Key: "broker.timeout", Reason: "must be positive"}
	}
	return nil
}
