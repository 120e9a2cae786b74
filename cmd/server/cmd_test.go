package main

import (
	"context"
	"testing"
	"time"

	"github.com/irfndi/neurastock/internal/backtest"
	"github.com/irfndi/neurastock/internal/broker"
	"github.com/irfndi/neurastock/internal/config"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/internal/trading"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedBarsThenLoadPaperMarket(t *testing.T) {
	ctx := context.Background()
	store := backtest.NewJSONBarStore(t.TempDir(), nil)

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.March, 29, 0, 0, 0, 0, time.UTC)
	n, err := seedBars(ctx, store, []string{"005930", " ", "000660"}, start, end, 7)
	require.NoError(t, err)
	assert.Positive(t, n)

	codes, err := store.AvailableStocks(ctx, "1d")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"005930", "000660"}, codes)

	paper := broker.NewPaperBroker(broker.DefaultPaperConfig(), trading.RealClock{}, nil)
	loaded, err := loadPaperMarket(ctx, store, paper, "1d", "KOSPI")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	bars, err := store.LoadOHLCV(ctx, "000660", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	quote, err := paper.GetQuote(ctx, "000660")
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromFloat(bars[len(bars)-1].Close)))

	stocks, err := paper.GetStockList(ctx, "KOSPI")
	require.NoError(t, err)
	assert.Len(t, stocks, 2)
}

func TestSeedBarsIsDeterministic(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)

	a := backtest.NewJSONBarStore(t.TempDir(), nil)
	b := backtest.NewJSONBarStore(t.TempDir(), nil)
	_, err := seedBars(ctx, a, []string{"005930"}, start, end, 99)
	require.NoError(t, err)
	_, err = seedBars(ctx, b, []string{"005930"}, start, end, 99)
	require.NoError(t, err)

	barsA, err := a.LoadOHLCV(ctx, "005930", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	barsB, err := b.LoadOHLCV(ctx, "005930", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, barsA, barsB)
}

func TestEngineConfig(t *testing.T) {
	ec, err := engineConfig(config.TradingConfig{
		Style:             "swing",
		TotalCapital:      5_000_000,
		MaxPositions:      3,
		PartialClose:      true,
		PartialCloseRatio: 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.Swing, ec.Style)
	assert.True(t, ec.TotalCapital.Equal(decimal.NewFromInt(5_000_000)))
	assert.Equal(t, 0.4, ec.PartialCloseRatio)

	_, err = engineConfig(config.TradingConfig{Style: "POSITION", TotalCapital: 1, MaxPositions: 1, PartialCloseRatio: 0.5})
	assert.Error(t, err)

	_, err = engineConfig(config.TradingConfig{Style: "SCALPING", TotalCapital: 1, MaxPositions: 0, PartialCloseRatio: 0.5})
	assert.Error(t, err)
}

func TestBrokerConfigMapping(t *testing.T) {
	bc := config.BrokerConfig{
		Mode:                   "paper",
		Timeout:                3 * time.Second,
		RequestsPerSecond:      2,
		Burst:                  1,
		MaxConsecutiveFailures: 4,
		OpenTimeout:            time.Minute,
		PaperCash:              1_000_000,
		PaperSlippagePct:       0,
		PaperCommissionRate:    0.0003,
	}

	pc := paperConfig(bc)
	assert.True(t, pc.InitialCash.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, pc.SlippagePct.IsZero())
	assert.True(t, pc.CommissionRate.Equal(decimal.NewFromFloat(0.0003)))

	rc := resilientConfig(bc)
	assert.Equal(t, "broker.paper", rc.Name)
	assert.Equal(t, 3*time.Second, rc.Timeout)
	assert.Equal(t, uint32(4), rc.MaxConsecutiveFailures)
	assert.Equal(t, time.Minute, rc.OpenTimeout)
}
