package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/neurastock/internal/backtest"
	"github.com/irfndi/neurastock/internal/config"
	"github.com/irfndi/neurastock/internal/database"
	"github.com/irfndi/neurastock/internal/logging"
	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/urfave/cli/v2"
)

var defaultSeedCodes = []string{"005930", "000660", "035420", "051910", "006400"}

// runSeeder fills the configured bar store with synthetic daily history so that the paper
// broker has a market to trade.
func runSeeder(args []string) error {
	app := &cli.App{
		Name:  "seed",
		Usage: "write synthetic daily bars into the configured bar store",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "codes", Value: cli.NewStringSlice(defaultSeedCodes...), Usage: "stock codes to generate"},
			&cli.IntFlag{Name: "days", Value: 250, Usage: "calendar days of history ending today"},
			&cli.Uint64Flag{Name: "seed", Value: 42, Usage: "random seed; the same seed yields the same bars"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)

			db, err := database.NewDatabaseConnection(c.Context, &cfg.Database, zaplogrus.FromZap(logger.Logger()))
			if err != nil {
				return fmt.Errorf("failed to connect to db: %w", err)
			}
			defer db.Close()

			store, err := newBarStore(c.Context, cfg, db, logger.WithComponent("bar_store"))
			if err != nil {
				return err
			}

			end := time.Now().UTC().Truncate(24 * time.Hour)
			start := end.AddDate(0, 0, -c.Int("days"))
			n, err := seedBars(c.Context, store, c.StringSlice("codes"), start, end, c.Uint64("seed"))
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d stocks (%d bars) from %s to %s\n", len(c.StringSlice("codes")), n,
				start.Format("2006-01-02"), end.Format("2006-01-02"))
			return nil
		},
	}
	return app.Run(append([]string{"seed"}, args...))
}

// seedBars writes one deterministic series per code and returns the number of bars written.
func seedBars(ctx context.Context, store backtest.BarStore, codes []string, start, end time.Time, seed uint64) (int, error) {
	total := 0
	for i, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		series := backtest.DefaultDailySeries(seed + uint64(i))
		series.InitialPrice = float64(10_000 * (i + 1))
		bars := backtest.GenerateDaily(series, start, end)
		if err := store.SaveOHLCV(ctx, code, "1d", bars); err != nil {
			return total, fmt.Errorf("save %s: %w", code, err)
		}
		total += len(bars)
	}
	return total, nil
}
