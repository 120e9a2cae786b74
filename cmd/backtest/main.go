// Command backtest replays stored OHLCV history through the exit policy and the indicator
// signal, and prints or exports the performance report.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/irfndi/neurastock/internal/backtest"
	"github.com/irfndi/neurastock/internal/config"
	"github.com/irfndi/neurastock/internal/database"
	"github.com/irfndi/neurastock/internal/logging"
	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/observability"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	storeFlags := []cli.Flag{
		&cli.StringFlag{Name: "store", Usage: "bar store: json, sqlite or postgres (default from config)"},
		&cli.StringFlag{Name: "data-dir", Usage: "directory of the json bar store (default from config)"},
		&cli.StringFlag{Name: "timeframe", Value: "1d"},
	}
	rangeFlags := []cli.Flag{
		&cli.StringSliceFlag{Name: "codes", Usage: "stock codes; all stored stocks when empty"},
		&cli.StringFlag{Name: "start", Usage: "first day, YYYY-MM-DD"},
		&cli.StringFlag{Name: "end", Usage: "last day, YYYY-MM-DD"},
		&cli.Float64Flag{Name: "capital", Usage: "initial capital (default from config)"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "suppress progress output"},
	}

	return &cli.App{
		Name:  "backtest",
		Usage: "replay stored history through the trading rules",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "replay one trading style and print its report",
				Flags: concatFlags(storeFlags, rangeFlags, []cli.Flag{
					&cli.StringFlag{Name: "style", Value: string(strategy.DayTrading), Usage: "SCALPING, DAYTRADING or SWING"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the full result to a .json or .yaml file"},
				}),
				Action: runCommand,
			},
			{
				Name:   "compare",
				Usage:  "replay every trading style over the same data and rank them",
				Flags:  concatFlags(storeFlags, rangeFlags),
				Action: compareCommand,
			},
			{
				Name:  "generate",
				Usage: "write synthetic bars for testing",
				Flags: concatFlags(storeFlags, []cli.Flag{
					&cli.StringSliceFlag{Name: "codes", Value: cli.NewStringSlice("005930", "000660", "035420")},
					&cli.StringFlag{Name: "start", Value: time.Now().AddDate(-1, 0, 0).Format(dateLayout)},
					&cli.StringFlag{Name: "end", Value: time.Now().Format(dateLayout)},
					&cli.Uint64Flag{Name: "seed", Value: 42},
					&cli.BoolFlag{Name: "intraday", Usage: "one day of 1-minute bars at --end instead of daily bars"},
				}),
				Action: generateCommand,
			},
		},
	}
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// environment bundles what every command needs from the service config.
type environment struct {
	cfg    *config.Config
	logger *zap.Logger
	store  backtest.BarStore
	close  func()
}

func openEnvironment(c *cli.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if v := c.String("store"); v != "" {
		cfg.Backtest.Store = v
	}
	if v := c.String("data-dir"); v != "" {
		cfg.Backtest.DataDir = v
	}

	std := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	env := &environment{cfg: cfg, logger: std.WithComponent("backtest"), close: func() { _ = std.Sync() }}

	if err := observability.InitSentry(cfg.Sentry, cfg.Sentry.Release, cfg.Environment); err != nil {
		env.logger.Warn("Failed to initialize Sentry", zap.Error(err))
	}

	switch cfg.Backtest.Store {
	case "json":
		env.store = backtest.NewJSONBarStore(cfg.Backtest.DataDir, env.logger)
	case "sqlite", "postgres":
		cfg.Database.Driver = cfg.Backtest.Store
		db, err := database.NewDatabaseConnection(c.Context, &cfg.Database, zaplogrus.FromZap(env.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		sqlStore := backtest.NewSQLBarStore(db, db.Dialect(), env.logger)
		if err := sqlStore.EnsureSchema(c.Context); err != nil {
			_ = db.Close()
			return nil, err
		}
		env.store = sqlStore
		prev := env.close
		env.close = func() { _ = db.Close(); prev() }
	default:
		return nil, fmt.Errorf("unknown bar store %q", cfg.Backtest.Store)
	}
	return env, nil
}

// replayConfig maps the backtest section of the service config onto one replay.
func replayConfig(cfg config.BacktestConfig, style strategy.TradingStyle, timeframe string, capital float64) backtest.Config {
	bc := backtest.DefaultConfig()
	bc.Style = style
	bc.Timeframe = timeframe
	if cfg.InitialCapital > 0 {
		bc.InitialCapital = decimal.NewFromFloat(cfg.InitialCapital)
	}
	if capital > 0 {
		bc.InitialCapital = decimal.NewFromFloat(capital)
	}
	bc.CommissionRate = cfg.CommissionRate
	bc.SlippageRate = cfg.SlippageRate
	if cfg.PositionSizePct > 0 {
		bc.PositionSizePct = cfg.PositionSizePct
	}
	if cfg.MaxPositions > 0 {
		bc.MaxPositions = cfg.MaxPositions
	}
	bc.UseTrailingStop = cfg.UseTrailingStop
	bc.TrailingStopPct = cfg.TrailingStopPct
	if cfg.PartialCloseRatio > 0 {
		bc.PartialCloseRatio = cfg.PartialCloseRatio
	}
	return bc
}

func parseDay(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", value)
	}
	return t, nil
}

func parseRange(c *cli.Context) (time.Time, time.Time, error) {
	start, err := parseDay(c.String("start"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDay(c.String("end"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s", c.String("end"), c.String("start"))
	}
	return start, end, nil
}
