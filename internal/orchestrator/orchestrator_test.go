package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/irfndi/neurastock/internal/database"
	"github.com/irfndi/neurastock/pkg/indicators"
	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/services"
	"github.com/irfndi/neurastock/internal/services/distributedlock"
	"github.com/irfndi/neurastock/internal/services/risk"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/internal/testutil"
	"github.com/irfndi/neurastock/internal/trading"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var monday = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

func strongReadings() indicators.Readings {
	return indicators.Readings{
		Volume:    indicators.VolumeReading{CurrentVolume: 2500, AvgVolume: 1000, VolumeRatio: 250, IsSurge: true},
		OrderBook: indicators.StrengthReading{Strength: 130, Pressure: indicators.PressureBuy},
		VWAP:      indicators.VWAPReading{VWAP: 49261, CurrentPrice: 50000, PriceVsVWAP: 1.5, Position: indicators.PositionAbove},
		MA: indicators.MAReading{
			CurrentPrice: 50000,
			Averages:     map[int]float64{5: 49800, 20: 49000, 60: 48000},
			Above:        map[int]bool{5: true, 20: true, 60: true},
			Arrangement:  indicators.ArrangementGolden,
			Cross:        indicators.CrossGolden,
		},
		RSI:       indicators.RSIReading{RSI: 55, Status: indicators.StatusNeutral},
		MACD:      indicators.MACDReading{Histogram: 12, PrevHistogram: 8, Cross: indicators.CrossNone},
		Bollinger: indicators.BollingerReading{Position: indicators.PositionMiddle},
		OBV:       indicators.OBVReading{Trend: indicators.TrendUp, NewHigh: true},
	}
}

type stubAnalyzer struct {
	mu       sync.Mutex
	analyses map[string]*services.StockAnalysis
	calls    int
}

func (a *stubAnalyzer) AnalyzeStock(_ context.Context, code string, style strategy.TradingStyle) (*services.StockAnalysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	an, ok := a.analyses[code]
	if !ok {
		return nil, fmt.Errorf("no analysis for %s", code)
	}
	out := *an
	out.Style = style
	return &out, nil
}

func (a *stubAnalyzer) set(code string, an *services.StockAnalysis) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.analyses[code] = an
}

func qualifying(code string, price int64) *services.StockAnalysis {
	return &services.StockAnalysis{
		StockCode:    code,
		CurrentPrice: decimal.NewFromInt(price),
		Indicators:   strongReadings(),
		Signal:       scoring.SignalResult{StockCode: code, Signal: scoring.SignalStrongBuy, TotalScore: 85},
	}
}

func weak(code string, price int64) *services.StockAnalysis {
	return &services.StockAnalysis{
		StockCode:    code,
		CurrentPrice: decimal.NewFromInt(price),
		Indicators:   strongReadings(),
		Signal:       scoring.SignalResult{StockCode: code, Signal: scoring.SignalHold, TotalScore: 40},
	}
}

type stubScreener struct {
	mu            sync.Mutex
	top           []services.ScreeningItem
	discovered    []services.ScreeningItem
	topCalls      int
	discoverCalls int
}

func (s *stubScreener) TopSignals(_ context.Context, _ strategy.TradingStyle, _ []scoring.Signal, limit int) ([]services.ScreeningItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topCalls++
	if limit < len(s.top) {
		return s.top[:limit], nil
	}
	return s.top, nil
}

func (s *stubScreener) AutoDiscover(_ context.Context, _ strategy.TradingStyle, _ int) ([]services.ScreeningItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discoverCalls++
	return s.discovered, nil
}

func (s *stubScreener) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topCalls, s.discoverCalls
}

type recordingListener struct {
	mu          sync.Mutex
	transitions []string
}

func (l *recordingListener) StateChanged(_, current, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, current)
}

func (l *recordingListener) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.transitions...)
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	return Settings{
		Hours:             utcHours(t),
		TradingInterval:   time.Hour,
		MonitorInterval:   time.Hour,
		DiscoveryInterval: 5 * time.Minute,
		Limits:            risk.DailyLimitsConfig{MaxTrades: 10, MaxLossPct: 3, MaxProfitPct: 10},
		MinScore:          65,
		SignalTypes:       []scoring.Signal{scoring.SignalStrongBuy, scoring.SignalBuy},
		AutoDiscover:      true,
		DiscoveryLimit:    10,
		LeaseTTL:          30 * time.Second,
	}
}

type harness struct {
	orch     *Orchestrator
	engine   *trading.DecisionEngine
	broker   *testutil.ScriptedBroker
	clock    *trading.ManualClock
	analyzer *stubAnalyzer
	screener *stubScreener
	limits   *risk.MemoryDailyLimits

	mu      sync.Mutex
	reports []DailyReport
}

func (h *harness) collected() []DailyReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]DailyReport(nil), h.reports...)
}

func newHarness(t *testing.T, now time.Time, mutate func(*Settings), opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:    trading.NewManualClock(now),
		broker:   testutil.NewScriptedBroker(),
		analyzer: &stubAnalyzer{analyses: make(map[string]*services.StockAnalysis)},
		screener: &stubScreener{},
		limits:   risk.NewMemoryDailyLimits(),
	}
	h.broker.SetQuote("005930", decimal.NewFromInt(50000))
	h.broker.SetQuote("000660", decimal.NewFromInt(100000))

	cfg := trading.DefaultEngineConfig()
	cfg.AutoTrade = true
	engine, err := trading.NewDecisionEngine(h.broker, cfg, trading.WithClock(h.clock))
	require.NoError(t, err)
	h.engine = engine

	s := testSettings(t)
	if mutate != nil {
		mutate(&s)
	}
	opts = append([]Option{
		WithAccount("acct"),
		WithScreener(h.screener),
		WithDailyLimits(h.limits),
		WithClock(h.clock),
		WithReportHandler(func(r DailyReport) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.reports = append(h.reports, r)
		}),
	}, opts...)
	h.orch, err = New(engine, h.broker, h.analyzer, s, opts...)
	require.NoError(t, err)
	return h
}

func TestNew_Validation(t *testing.T) {
	engine, err := trading.NewDecisionEngine(testutil.NewScriptedBroker(), trading.DefaultEngineConfig())
	require.NoError(t, err)

	_, err = New(nil, testutil.NewScriptedBroker(), &stubAnalyzer{}, testSettings(t))
	assert.Error(t, err)

	s := testSettings(t)
	s.SignalTypes = nil
	_, err = New(engine, testutil.NewScriptedBroker(), &stubAnalyzer{}, s)
	assert.ErrorContains(t, err, "signal type")
}

func TestRunTradingCycle_EntersQualifyingStocks(t *testing.T) {
	h := newHarness(t, monday, nil)
	h.analyzer.set("005930", qualifying("005930", 50000))
	h.analyzer.set("000660", weak("000660", 100000))
	h.orch.SetWatchList([]string{"005930", " 000660", "005930", "035720", ""})
	assert.Equal(t, []string{"005930", "000660", "035720"}, h.orch.WatchList())

	err := h.orch.RunTradingCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "035720")

	placed := h.broker.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, "005930", placed[0].StockCode)
	assert.Equal(t, int64(40), placed[0].Quantity)

	stats, err := h.limits.Stats(context.Background(), h.orch.Settings().Hours.Day(monday))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Trades)
	assert.True(t, stats.StartBalance.Equal(decimal.NewFromInt(10_000_000)))

	st := h.orch.Status(context.Background())
	assert.Equal(t, monday, st.LastCycle)
	assert.Equal(t, 1, st.Daily.Trades)
	assert.True(t, st.Limits.Allowed)

	// the held stock is not entered twice
	require.Error(t, h.orch.RunTradingCycle(context.Background()))
	assert.Len(t, h.broker.PlacedOrders(), 1)
}

func TestRunTradingCycle_MinScoreAndSignalTypes(t *testing.T) {
	h := newHarness(t, monday, func(s *Settings) {
		s.MinScore = 90
	})
	h.analyzer.set("005930", qualifying("005930", 50000))
	h.orch.SetWatchList([]string{"005930"})

	require.NoError(t, h.orch.RunTradingCycle(context.Background()))
	assert.Empty(t, h.broker.PlacedOrders())

	require.NoError(t, h.orch.UpdateConfig(func(s *Settings) {
		s.MinScore = 65
		s.SignalTypes = []scoring.Signal{scoring.SignalBuy}
	}))
	require.NoError(t, h.orch.RunTradingCycle(context.Background()))
	assert.Empty(t, h.broker.PlacedOrders())

	require.NoError(t, h.orch.UpdateConfig(func(s *Settings) {
		s.SignalTypes = append(s.SignalTypes, scoring.SignalStrongBuy)
	}))
	require.NoError(t, h.orch.RunTradingCycle(context.Background()))
	assert.Len(t, h.broker.PlacedOrders(), 1)

	assert.Error(t, h.orch.UpdateConfig(func(s *Settings) { s.TradingInterval = 0 }))
	assert.Equal(t, time.Hour, h.orch.Settings().TradingInterval)
}

func TestRunTradingCycle_TradeLimit(t *testing.T) {
	h := newHarness(t, monday, func(s *Settings) {
		s.Limits.MaxTrades = 1
	})
	h.analyzer.set("005930", qualifying("005930", 50000))
	h.analyzer.set("000660", qualifying("000660", 100000))
	h.orch.SetWatchList([]string{"005930", "000660"})

	require.NoError(t, h.orch.RunTradingCycle(context.Background()))
	require.Len(t, h.broker.PlacedOrders(), 1)

	require.NoError(t, h.orch.RunTradingCycle(context.Background()))
	assert.Len(t, h.broker.PlacedOrders(), 1)

	st := h.orch.Status(context.Background())
	assert.False(t, st.Limits.Allowed)
	assert.Equal(t, "daily trade limit reached: 1", st.Limits.Reason)
}

func TestRunTradingCycle_LossLimitBlocksEntries(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarness(t, monday, nil, WithLogger(zaplogrus.NewWithCore(core)))
	ctx := context.Background()
	h.analyzer.set("005930", qualifying("005930", 50000))
	h.analyzer.set("000660", qualifying("000660", 100000))
	h.orch.SetWatchList([]string{"005930"})

	require.NoError(t, h.orch.RunTradingCycle(ctx))
	require.Len(t, h.broker.PlacedOrders(), 1)

	h.broker.SetQuote("005930", decimal.NewFromInt(42000))
	events, err := h.orch.MonitorPositions(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, trading.ExitStopLoss, events[0].Reason)
	assert.True(t, events[0].Executed)
	assert.True(t, h.engine.Positions().TotalRealizedPnL().Equal(decimal.NewFromInt(-320_000)))

	h.orch.AddToWatchList("000660")
	require.NoError(t, h.orch.RunTradingCycle(ctx))
	require.NoError(t, h.orch.RunTradingCycle(ctx))
	assert.Len(t, h.broker.PlacedOrders(), 2, "only the entry and its stop exit")

	st := h.orch.Status(ctx)
	assert.False(t, st.Limits.Allowed)
	assert.Contains(t, st.Limits.Reason, "daily loss limit reached")
	assert.InDelta(t, -3.2, st.Limits.PnLPct, 1e-9)
	assert.Equal(t, 1, logs.FilterMessage("Daily limit reached, new entries blocked").Len())
}

func TestMonitorPositions(t *testing.T) {
	h := newHarness(t, monday, nil)
	ctx := context.Background()
	h.analyzer.set("005930", qualifying("005930", 50000))
	h.orch.SetWatchList([]string{"005930"})
	require.NoError(t, h.orch.RunTradingCycle(ctx))

	h.broker.Lock()
	delete(h.broker.Quotes, "005930")
	h.broker.Unlock()

	events, err := h.orch.MonitorPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	require.Len(t, h.engine.Positions().OpenPositions(), 1)

	h.broker.SetQuote("005930", decimal.NewFromInt(20000))
	h.clock.Set(time.Date(2024, time.March, 9, 10, 0, 0, 0, time.UTC))
	events, err = h.orch.MonitorPositions(ctx)
	require.NoError(t, err)
	assert.Nil(t, events)
	assert.Len(t, h.engine.Positions().OpenPositions(), 1)
}

func TestPaused_NoTradingOrMonitoring(t *testing.T) {
	h := newHarness(t, monday, nil)
	ctx := context.Background()
	h.analyzer.set("005930", qualifying("005930", 50000))
	h.analyzer.set("000660", qualifying("000660", 100000))
	h.orch.SetWatchList([]string{"005930"})
	require.NoError(t, h.orch.RunTradingCycle(ctx))
	require.Len(t, h.broker.PlacedOrders(), 1)

	// start while closed so the background loops stay idle
	h.clock.Set(time.Date(2024, time.March, 9, 12, 0, 0, 0, time.UTC))
	require.NoError(t, h.orch.Start(ctx))
	t.Cleanup(func() { _ = h.orch.Stop(context.Background()) })
	require.NoError(t, h.orch.Pause())
	h.clock.Set(monday.Add(30 * time.Minute))

	h.orch.AddToWatchList("000660")
	h.broker.SetQuote("005930", decimal.NewFromInt(42000))

	assert.Equal(t, pausePoll, h.orch.step(ctx))
	assert.Equal(t, StatePaused, h.orch.State())

	events, err := h.orch.MonitorPositions(ctx)
	require.NoError(t, err)
	assert.Nil(t, events)

	assert.Len(t, h.broker.PlacedOrders(), 1)
	open := h.engine.Positions().OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "005930", open[0].StockCode)
	assert.False(t, open[0].CurrentPrice.Equal(decimal.NewFromInt(42000)), "paused monitor must not mark prices")
	assert.Equal(t, monday, h.orch.Status(ctx).LastCycle)
}

func TestStep_FollowsMarketSession(t *testing.T) {
	h := newHarness(t, time.Date(2024, time.March, 4, 8, 28, 0, 0, time.UTC), nil)
	ctx := context.Background()
	h.analyzer.set("005930", weak("005930", 50000))
	h.analyzer.set("000660", weak("000660", 100000))
	h.screener.discovered = []services.ScreeningItem{{StockCode: "005930"}}
	h.screener.top = []services.ScreeningItem{{StockCode: "000660"}}
	h.orch.SetWatchList([]string{"035720"})

	assert.Equal(t, closedPollMax, h.orch.step(ctx))
	assert.Equal(t, StateMarketClosed, h.orch.State())

	h.clock.Set(time.Date(2024, time.March, 4, 8, 45, 0, 0, time.UTC))
	assert.Equal(t, preMarketPoll, h.orch.step(ctx))
	assert.Equal(t, StateWaiting, h.orch.State())
	assert.Equal(t, []string{"005930"}, h.orch.WatchList())

	h.clock.Set(time.Date(2024, time.March, 4, 8, 50, 0, 0, time.UTC))
	h.orch.step(ctx)
	_, discoverCalls := h.screener.counts()
	assert.Equal(t, 1, discoverCalls)

	h.clock.Set(monday)
	assert.Equal(t, time.Hour, h.orch.step(ctx))
	assert.Equal(t, StateRunning, h.orch.State())
	assert.Equal(t, []string{"005930", "000660"}, h.orch.WatchList())
	topCalls, _ := h.screener.counts()
	assert.Equal(t, 1, topCalls)

	h.clock.Advance(2 * time.Minute)
	h.orch.step(ctx)
	topCalls, _ = h.screener.counts()
	assert.Equal(t, 1, topCalls)

	h.clock.Advance(4 * time.Minute)
	h.orch.step(ctx)
	topCalls, _ = h.screener.counts()
	assert.Equal(t, 2, topCalls)

	h.clock.Set(time.Date(2024, time.March, 4, 16, 0, 0, 0, time.UTC))
	assert.Equal(t, closedPollMax, h.orch.step(ctx))
	assert.Equal(t, StateMarketClosed, h.orch.State())
	assert.Empty(t, h.collected(), "no report for a day without trades")
}

func TestStep_WaitsUntilOpen(t *testing.T) {
	h := newHarness(t, time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC), func(s *Settings) {
		s.Hours.PreMarket = 9 * time.Hour
	})
	ctx := context.Background()

	assert.Equal(t, closedPollMax, h.orch.step(ctx))
	h.clock.Set(time.Date(2024, time.March, 4, 8, 58, 0, 0, time.UTC))
	assert.Equal(t, 2*time.Minute, h.orch.step(ctx))

	assert.ErrorIs(t, h.orch.Pause(), ErrNotRunning)
	assert.ErrorIs(t, h.orch.Resume(), ErrNotRunning)
}

func TestCloseDay_ReportsOnceAndResets(t *testing.T) {
	h := newHarness(t, monday, nil)
	ctx := context.Background()
	h.analyzer.set("005930", qualifying("005930", 50000))
	h.orch.SetWatchList([]string{"005930"})

	h.orch.step(ctx)
	require.Len(t, h.broker.PlacedOrders(), 1)

	h.clock.Set(time.Date(2024, time.March, 4, 15, 45, 0, 0, time.UTC))
	h.orch.step(ctx)

	reports := h.collected()
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, "acct", r.Account)
	assert.Equal(t, "2024-03-04", r.Date)
	assert.Equal(t, 1, r.Trades)
	assert.Equal(t, 1, r.Positions.OpenPositions)
	assert.Contains(t, r.String(), "Daily report 2024-03-04 (acct)")
	assert.Contains(t, r.String(), "10,000,000")

	stats, err := h.limits.Stats(ctx, h.orch.Settings().Hours.Day(monday))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Trades)

	h.clock.Advance(5 * time.Minute)
	h.orch.step(ctx)
	assert.Len(t, h.collected(), 1)
}

func TestStartStop_WithTraderLease(t *testing.T) {
	mr, client := testutil.NewMiniRedis(t)
	locker := distributedlock.NewLocker(database.NewRedisClient(client, nil), "neurastock", nil)
	saturday := time.Date(2024, time.March, 9, 12, 0, 0, 0, time.UTC)
	listener := &recordingListener{}

	h := newHarness(t, saturday, nil, WithLocker(locker), WithStateListener(listener))
	var (
		cbMu     sync.Mutex
		statuses []StatusInfo
	)
	h.orch.OnStatusChange(func(s StatusInfo) {
		cbMu.Lock()
		defer cbMu.Unlock()
		statuses = append(statuses, s)
	})

	ctx := context.Background()
	require.NoError(t, h.orch.Start(ctx))
	assert.ErrorIs(t, h.orch.Start(ctx), ErrAlreadyRunning)
	assert.True(t, mr.Exists("neurastock:lock:trader:acct"))
	assert.True(t, h.broker.Connected)

	st := h.orch.Status(ctx)
	assert.True(t, st.Running)
	assert.True(t, st.LeaseHeld)
	assert.Equal(t, StateMarketClosed, st.State)
	assert.True(t, st.Engine.Running)

	other := newHarness(t, saturday, nil, WithLocker(locker))
	err := other.orch.Start(ctx)
	require.ErrorIs(t, err, distributedlock.ErrLockHeld)
	assert.Contains(t, err.Error(), "acct")

	require.NoError(t, h.orch.Pause())
	assert.Equal(t, StatePaused, h.orch.State())
	require.NoError(t, h.orch.Resume())
	assert.Equal(t, StateMarketClosed, h.orch.State())

	require.NoError(t, h.orch.Stop(ctx))
	require.NoError(t, h.orch.Stop(ctx))
	assert.Equal(t, StateStopped, h.orch.State())
	assert.False(t, h.orch.IsRunning())
	assert.False(t, mr.Exists("neurastock:lock:trader:acct"))
	assert.Len(t, h.collected(), 1, "stop reports the day")

	assert.Equal(t, []string{"MARKET_CLOSED", "PAUSED", "MARKET_CLOSED", "STOPPED"}, listener.seen())
	cbMu.Lock()
	require.Len(t, statuses, 4)
	assert.True(t, statuses[1].Paused)
	cbMu.Unlock()

	require.NoError(t, other.orch.Start(ctx))
	require.NoError(t, other.orch.Stop(ctx))
}

func TestStart_LeaseLostStopsTrading(t *testing.T) {
	mr, client := testutil.NewMiniRedis(t)
	locker := distributedlock.NewLocker(database.NewRedisClient(client, nil), "neurastock", nil)
	saturday := time.Date(2024, time.March, 9, 12, 0, 0, 0, time.UTC)

	h := newHarness(t, saturday, func(s *Settings) {
		s.LeaseTTL = 300 * time.Millisecond
	}, WithLocker(locker))

	ctx := context.Background()
	require.NoError(t, h.orch.Start(ctx))
	require.NoError(t, mr.Set("neurastock:lock:trader:acct", "someone-else"))

	require.Eventually(t, func() bool {
		return h.orch.State() == StateStopped
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, h.orch.Stop(ctx))
	assert.False(t, h.orch.IsRunning())
	val, err := mr.Get("neurastock:lock:trader:acct")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
