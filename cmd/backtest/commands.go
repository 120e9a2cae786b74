package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/irfndi/neurastock/internal/backtest"
	"github.com/irfndi/neurastock/internal/observability"
	"github.com/irfndi/neurastock/internal/performance"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func runCommand(c *cli.Context) error {
	env, err := openEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()
	defer observability.Flush(context.Background())

	style, err := strategy.ParseStyle(c.String("style"))
	if err != nil {
		return err
	}
	start, end, err := parseRange(c)
	if err != nil {
		return err
	}
	codes, err := resolveCodes(c.Context, env.store, c.StringSlice("codes"), c.String("timeframe"))
	if err != nil {
		return err
	}

	cfg := replayConfig(env.cfg.Backtest, style, c.String("timeframe"), c.Float64("capital"))
	var progress backtest.ProgressFunc
	if !c.Bool("quiet") {
		progress = progressPrinter(c.App.ErrWriter)
	}
	res, err := replay(c.Context, env, cfg, codes, start, end, progress)
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintln(out, performance.GenerateReport(res.Report, fmt.Sprintf("%s backtest", strings.ToLower(string(style)))))
	if path := c.String("output"); path != "" {
		if err := writeResult(path, res); err != nil {
			return err
		}
		fmt.Fprintf(out, "Result written to %s\n", path)
	}
	return nil
}

func compareCommand(c *cli.Context) error {
	env, err := openEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()
	defer observability.Flush(context.Background())

	start, end, err := parseRange(c)
	if err != nil {
		return err
	}
	codes, err := resolveCodes(c.Context, env.store, c.StringSlice("codes"), c.String("timeframe"))
	if err != nil {
		return err
	}

	var reports []performance.NamedReport
	for _, style := range strategy.Styles() {
		cfg := replayConfig(env.cfg.Backtest, style, c.String("timeframe"), c.Float64("capital"))
		res, err := replay(c.Context, env, cfg, codes, start, end, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", style, err)
		}
		reports = append(reports, performance.NamedReport{Name: string(style), Report: res.Report})
	}
	return printComparison(c.App.Writer, performance.CompareResults(reports))
}

func generateCommand(c *cli.Context) error {
	env, err := openEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()

	start, end, err := parseRange(c)
	if err != nil {
		return err
	}
	timeframe := c.String("timeframe")
	if c.Bool("intraday") && timeframe == "1d" {
		timeframe = "1m"
	}

	for i, code := range c.StringSlice("codes") {
		seed := c.Uint64("seed") + uint64(i)
		bars := generateBars(seed, start, end, c.Bool("intraday"))
		if err := env.store.SaveOHLCV(c.Context, code, timeframe, bars); err != nil {
			return fmt.Errorf("save %s: %w", code, err)
		}
		fmt.Fprintf(c.App.Writer, "%s: %d %s bars\n", code, len(bars), timeframe)
	}
	return nil
}

// replay runs one configuration inside a Sentry span.
func replay(ctx context.Context, env *environment, cfg backtest.Config, codes []string, start, end time.Time, progress backtest.ProgressFunc) (*backtest.Result, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanOpBacktest, "backtest "+string(cfg.Style))
	profile, err := strategy.Lookup(cfg.Style)
	if err != nil {
		observability.FinishSpan(span, err)
		return nil, err
	}
	r, err := backtest.NewReplayer(cfg, env.store, backtest.IndicatorSignal(profile, env.logger), env.logger)
	if err != nil {
		observability.FinishSpan(span, err)
		return nil, err
	}
	res, err := r.Run(ctx, codes, start, end, progress)
	observability.FinishSpan(span, err)
	if err != nil {
		return nil, err
	}
	env.logger.Info("Backtest finished",
		zap.String("style", string(cfg.Style)),
		zap.Int("stocks", len(codes)),
		zap.Float64("total_return", res.Performance.TotalReturn),
		zap.Int("trades", len(res.TradeHistory)),
	)
	return res, nil
}

func resolveCodes(ctx context.Context, store backtest.BarStore, codes []string, timeframe string) ([]string, error) {
	if len(codes) > 0 {
		return codes, nil
	}
	codes, err := store.AvailableStocks(ctx, timeframe)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no stored %s series; run generate first", backtest.ErrNoData, timeframe)
	}
	return codes, nil
}

func generateBars(seed uint64, start, end time.Time, intraday bool) []interfaces.Bar {
	if intraday {
		return backtest.GenerateIntraday(backtest.DefaultIntradaySeries(seed), end)
	}
	return backtest.GenerateDaily(backtest.DefaultDailySeries(seed), start, end)
}

// progressPrinter reports roughly every tenth of the run.
func progressPrinter(w io.Writer) backtest.ProgressFunc {
	last := -1
	return func(p backtest.Progress) {
		if p.Total == 0 {
			return
		}
		pct := p.Done * 100 / p.Total
		if pct/10 == last/10 && p.Done != p.Total {
			return
		}
		last = pct
		fmt.Fprintf(w, "\r%3d%%  %s  equity %.0f", pct, p.Timestamp.Format(dateLayout), p.Equity)
		if p.Done == p.Total {
			fmt.Fprintln(w)
		}
	}
}

// writeResult exports by extension. YAML goes through the JSON form so both files share keys.
func writeResult(path string, res *backtest.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
	case ".yaml", ".yml":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format %q, want .json or .yaml", filepath.Ext(path))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func printComparison(w io.Writer, cmp performance.Comparison) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STYLE\tRETURN %\tSHARPE\tMDD %\tWIN %\tTRADES")
	for _, row := range cmp.Rows {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.1f\t%d\n",
			row.Name, row.TotalReturn, float64(row.SharpeRatio), row.MaxDrawdown, row.WinRate, row.TotalTrades)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nbest return: %s  best sharpe: %s  lowest drawdown: %s\n", cmp.BestReturn, cmp.BestSharpe, cmp.LowestMaxDD)
	return nil
}
