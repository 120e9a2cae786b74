package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/irfndi/neurastock/internal/backtest"
	"github.com/irfndi/neurastock/internal/config"
	"github.com/irfndi/neurastock/internal/performance"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestReplayConfig(t *testing.T) {
	cfg := config.BacktestConfig{
		InitialCapital:    20_000_000,
		CommissionRate:    0.0002,
		SlippageRate:      0.0005,
		PositionSizePct:   10,
		MaxPositions:      3,
		UseTrailingStop:   false,
		PartialCloseRatio: 0.3,
	}

	bc := replayConfig(cfg, strategy.Swing, "1d", 0)
	require.NoError(t, bc.Validate())
	assert.Equal(t, strategy.Swing, bc.Style)
	assert.True(t, bc.InitialCapital.Equal(decimal.NewFromInt(20_000_000)))
	assert.Equal(t, 3, bc.MaxPositions)
	assert.False(t, bc.UseTrailingStop)
	assert.Equal(t, 0.3, bc.PartialCloseRatio)

	override := replayConfig(cfg, strategy.Scalping, "1m", 1_000_000)
	assert.True(t, override.InitialCapital.Equal(decimal.NewFromInt(1_000_000)))
	assert.Equal(t, "1m", override.Timeframe)
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("2024-03-04")
	require.NoError(t, err)
	assert.True(t, d.Equal(time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)))

	zero, err := parseDay("  ")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = parseDay("04/03/2024")
	assert.Error(t, err)
}

func TestWriteResult(t *testing.T) {
	res := &backtest.Result{
		Config:      backtest.ResultConfig{Style: strategy.DayTrading, StockCodes: []string{"005930"}},
		Performance: backtest.ResultPerformance{FinalEquity: 10_500_000, TotalReturn: 5},
	}
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "out", "result.json")
	require.NoError(t, writeResult(jsonPath, res))
	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "performance")
	assert.Contains(t, decoded, "equity_curve")

	yamlPath := filepath.Join(dir, "result.yaml")
	require.NoError(t, writeResult(yamlPath, res))
	raw, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	perf, ok := doc["performance"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 5, perf["total_return"])

	assert.Error(t, writeResult(filepath.Join(dir, "result.csv"), res))
}

func TestPrintComparison(t *testing.T) {
	cmp := performance.Comparison{
		Rows: []performance.ComparisonRow{
			{Name: "SWING", TotalReturn: 12.5, SharpeRatio: 1.1, MaxDrawdown: 4, WinRate: 55, TotalTrades: 8},
		},
		BestReturn:  "SWING",
		BestSharpe:  "SWING",
		LowestMaxDD: "SWING",
	}
	var buf bytes.Buffer
	require.NoError(t, printComparison(&buf, cmp))
	assert.Contains(t, buf.String(), "SWING")
	assert.Contains(t, buf.String(), "12.50")
	assert.Contains(t, buf.String(), "best return: SWING")
}

func TestApp_GenerateThenRun(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "result.json")

	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr

	require.NoError(t, app.Run([]string{"backtest", "generate",
		"--store", "json", "--data-dir", dir,
		"--codes", "005930", "--codes", "000660",
		"--start", "2023-01-02", "--end", "2023-12-29", "--seed", "3",
	}))
	assert.Contains(t, stdout.String(), "005930:")

	stdout.Reset()
	require.NoError(t, app.Run([]string{"backtest", "run",
		"--store", "json", "--data-dir", dir,
		"--style", "swing", "--quiet", "--output", out,
	}))
	assert.Contains(t, stdout.String(), "Result written to")

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var res backtest.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.ElementsMatch(t, []string{"005930", "000660"}, res.Config.StockCodes)
	assert.NotEmpty(t, res.EquityCurve)
	assert.Equal(t, strategy.Swing, res.Config.Style)
}
