// Package orchestrator schedules the decision engine against market hours: a trading cycle that
// screens and enters, a position monitor that drives exits, daily limits and the end-of-day
// report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/observability"
	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/services"
	"github.com/irfndi/neurastock/internal/services/distributedlock"
	"github.com/irfndi/neurastock/internal/services/risk"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/internal/trading"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
)

type State string

const (
	StateStopped      State = "STOPPED"
	StateWaiting      State = "WAITING"
	StateRunning      State = "RUNNING"
	StatePaused       State = "PAUSED"
	StateMarketClosed State = "MARKET_CLOSED"
)

// States lists every state, for metrics that label each one.
func States() []string {
	return []string{
		string(StateStopped), string(StateWaiting), string(StateRunning),
		string(StatePaused), string(StateMarketClosed),
	}
}

const (
	pausePoll      = time.Second
	preMarketPoll  = 30 * time.Second
	closedPollMax  = 5 * time.Minute
	balanceTimeout = 10 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("orchestrator already running")
	ErrNotRunning     = errors.New("orchestrator not running")
)

// Screener finds candidates for the watch list.
type Screener interface {
	TopSignals(ctx context.Context, style strategy.TradingStyle, signalTypes []scoring.Signal, limit int) ([]services.ScreeningItem, error)
	AutoDiscover(ctx context.Context, style strategy.TradingStyle, maxStocks int) ([]services.ScreeningItem, error)
}

// StateListener is told about every state transition. Implementations must not block.
type StateListener interface {
	StateChanged(previous, current, reason string)
}

// StatusInfo is a point-in-time snapshot for status endpoints and callbacks.
type StatusInfo struct {
	Account    string               `json:"account"`
	State      State                `json:"state"`
	Running    bool                 `json:"is_running"`
	Paused     bool                 `json:"is_paused"`
	MarketOpen bool                 `json:"is_market_open"`
	WatchList  []string             `json:"watch_list"`
	Daily      risk.DailyStats      `json:"daily_stats"`
	Limits     risk.LimitCheck      `json:"daily_limits"`
	Engine     trading.EngineStatus `json:"engine"`
	LeaseHeld  bool                 `json:"lease_held"`
	LastCycle  time.Time            `json:"last_cycle,omitempty"`
	LastError  string               `json:"last_error,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

type Option func(*Orchestrator)

func WithAccount(account string) Option { return func(o *Orchestrator) { o.account = account } }

func WithScreener(s Screener) Option { return func(o *Orchestrator) { o.screener = s } }

func WithDailyLimits(l risk.DailyLimits) Option { return func(o *Orchestrator) { o.limits = l } }

// WithLocker makes Start take the account's trader lease before trading.
func WithLocker(l *distributedlock.Locker) Option { return func(o *Orchestrator) { o.locker = l } }

func WithMetrics(m *observability.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithStateListener(l StateListener) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, l) }
}

// WithReportHandler receives each daily report after it is logged.
func WithReportHandler(fn func(DailyReport)) Option {
	return func(o *Orchestrator) { o.reportHandlers = append(o.reportHandlers, fn) }
}

func WithClock(c trading.Clock) Option { return func(o *Orchestrator) { o.clock = c } }

func WithLogger(l *zaplogrus.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// Orchestrator runs the trading cycle and the position monitor for one account.
type Orchestrator struct {
	account        string
	engine         *trading.DecisionEngine
	broker         interfaces.Broker
	analyzer       services.Analyzer
	screener       Screener
	limits         risk.DailyLimits
	locker         *distributedlock.Locker
	metrics        *observability.Metrics
	listeners      []StateListener
	reportHandlers []func(DailyReport)
	clock          trading.Clock
	logger         *zaplogrus.Logger

	mu            sync.RWMutex
	settings      Settings
	state         State
	running       bool
	paused        bool
	lease         *distributedlock.Lock
	watchList     []string
	callbacks     []func(StatusInfo)
	day           time.Time
	baseline      decimal.Decimal
	lastDiscovery time.Time
	discoveredDay time.Time
	reportedDay   time.Time
	limitReason   string
	lastCycle     time.Time
	lastError     string

	// cycleMu keeps the trading cycle and the end-of-day rollover apart
	cycleMu sync.Mutex

	// lifeMu serialises Start and Stop
	lifeMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(engine *trading.DecisionEngine, broker interfaces.Broker, analyzer services.Analyzer, settings Settings, opts ...Option) (*Orchestrator, error) {
	if engine == nil || broker == nil || analyzer == nil {
		return nil, errors.New("engine, broker and analyzer are required")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator settings: %w", err)
	}
	o := &Orchestrator{
		account:  "default",
		engine:   engine,
		broker:   broker,
		analyzer: analyzer,
		settings: settings.clone(),
		state:    StateStopped,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.limits == nil {
		o.limits = risk.NewMemoryDailyLimits()
	}
	if o.clock == nil {
		o.clock = trading.RealClock{}
	}
	if o.logger == nil {
		o.logger = zaplogrus.FromZap(nil)
	}
	return o, nil
}

// Start takes the trader lease, starts the engine and launches both loops. The loops stop when
// ctx is canceled, Stop is called or the lease is lost.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if o.IsRunning() {
		return ErrAlreadyRunning
	}

	s := o.Settings()
	var lease *distributedlock.Lock
	if o.locker != nil {
		opts := distributedlock.DefaultLockOptions()
		if s.LeaseTTL > 0 {
			opts.TTL = s.LeaseTTL
		}
		opts.AutoRenewal = true
		l, err := o.locker.TryLock(ctx, distributedlock.TraderLeaseKey(o.account), opts)
		if err != nil {
			if errors.Is(err, distributedlock.ErrLockHeld) {
				return fmt.Errorf("account %s is traded by another instance: %w", o.account, err)
			}
			return fmt.Errorf("trader lease: %w", err)
		}
		lease = l
	}

	if err := o.engine.Start(ctx); err != nil {
		if lease != nil {
			_ = o.locker.Unlock(ctx, lease)
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Lock()
	o.lease = lease
	o.running = true
	o.mu.Unlock()

	now := o.clock.Now()
	o.ensureDay(runCtx, now)
	o.setState(o.stateFor(now), "started")

	o.wg.Add(2)
	go o.tradingLoop(runCtx)
	go o.monitorLoop(runCtx)
	if lease != nil {
		o.wg.Add(1)
		go o.watchLease(runCtx, lease, cancel)
	}

	o.logger.WithFields(zaplogrus.Fields{
		"account":    o.account,
		"style":      string(o.engine.Config().Style),
		"watch_list": len(o.WatchList()),
	}).Info("Orchestrator started")
	return nil
}

// Stop waits for the current iteration of both loops, reports the day, stops the engine and
// releases the lease.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if !o.IsRunning() {
		return nil
	}
	o.cancel()
	o.wg.Wait()

	if report, err := o.DailyReport(ctx); err != nil {
		o.logger.WithError(err).Warn("Failed to build final daily report")
	} else {
		o.emitReport(report)
	}

	var errs []error
	if err := o.engine.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	o.mu.Lock()
	lease := o.lease
	o.lease = nil
	o.running = false
	o.paused = false
	o.mu.Unlock()
	if lease != nil {
		if err := o.locker.Unlock(ctx, lease); err != nil && !errors.Is(err, distributedlock.ErrLockLost) {
			errs = append(errs, fmt.Errorf("release trader lease: %w", err))
		}
	}

	o.setState(StateStopped, "stopped")
	o.logger.WithField("account", o.account).Info("Orchestrator stopped")
	return errors.Join(errs...)
}

// Pause suspends both loops without stopping the engine.
func (o *Orchestrator) Pause() error {
	if !o.IsRunning() {
		return ErrNotRunning
	}
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	o.setState(StatePaused, "paused")
	return nil
}

func (o *Orchestrator) Resume() error {
	if !o.IsRunning() {
		return ErrNotRunning
	}
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.setState(o.stateFor(o.clock.Now()), "resumed")
	return nil
}

func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

func (o *Orchestrator) isPaused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.paused
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings.clone()
}

// UpdateConfig applies fn to a copy of the settings and swaps it in if it validates.
func (o *Orchestrator) UpdateConfig(fn func(*Settings)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.settings.clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("orchestrator settings: %w", err)
	}
	o.settings = next
	o.logger.WithFields(zaplogrus.Fields{
		"min_score":     next.MinScore,
		"signal_types":  len(next.SignalTypes),
		"auto_discover": next.AutoDiscover,
	}).Info("Orchestrator settings updated")
	return nil
}

// OnStatusChange registers fn to receive a status snapshot after every state transition.
func (o *Orchestrator) OnStatusChange(fn func(StatusInfo)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, fn)
}

func (o *Orchestrator) stateFor(now time.Time) State {
	if o.isPaused() {
		return StatePaused
	}
	h := o.Settings().Hours
	switch {
	case h.IsOpen(now):
		return StateRunning
	case h.IsPreMarket(now):
		return StateWaiting
	default:
		return StateMarketClosed
	}
}

func (o *Orchestrator) setState(next State, reason string) { o.transition(nil, next, reason) }

// loopState is setState for the loops. It leaves PAUSED alone and does nothing once the loop
// context is canceled.
func (o *Orchestrator) loopState(ctx context.Context, next State, reason string) {
	o.transition(ctx, next, reason)
}

func (o *Orchestrator) transition(loopCtx context.Context, next State, reason string) {
	o.mu.Lock()
	prev := o.state
	if prev == next || (loopCtx != nil && (o.paused || loopCtx.Err() != nil)) {
		o.mu.Unlock()
		return
	}
	o.state = next
	callbacks := append([]func(StatusInfo){}, o.callbacks...)
	o.mu.Unlock()

	o.logger.WithFields(zaplogrus.Fields{
		"account":  o.account,
		"previous": string(prev),
		"state":    string(next),
		"reason":   reason,
	}).Info("Orchestrator state changed")
	if o.metrics != nil {
		o.metrics.SetState(string(next), States())
	}
	for _, l := range o.listeners {
		l.StateChanged(string(prev), string(next), reason)
	}
	if len(callbacks) > 0 {
		info := o.Status(context.Background())
		for _, cb := range callbacks {
			cb(info)
		}
	}
}

// Watch list

func (o *Orchestrator) WatchList() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.watchList...)
}

// AddToWatchList appends codes not already watched and returns how many were added.
func (o *Orchestrator) AddToWatchList(codes ...string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	added := 0
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || containsCode(o.watchList, c) {
			continue
		}
		o.watchList = append(o.watchList, c)
		added++
	}
	return added
}

func (o *Orchestrator) RemoveFromWatchList(code string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.watchList {
		if c == code {
			o.watchList = append(o.watchList[:i], o.watchList[i+1:]...)
			return true
		}
	}
	return false
}

// SetWatchList replaces the watch list, dropping blanks and duplicates.
func (o *Orchestrator) SetWatchList(codes []string) {
	o.mu.Lock()
	o.watchList = nil
	o.mu.Unlock()
	o.AddToWatchList(codes...)
}

func containsCode(list []string, code string) bool {
	for _, c := range list {
		if c == code {
			return true
		}
	}
	return false
}

// Loops

func (o *Orchestrator) tradingLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		wait := o.step(ctx)
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

func (o *Orchestrator) monitorLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		start := time.Now()
		_, err := o.MonitorPositions(ctx)
		o.observe(ctx, "monitor", start, err)
		if !sleepCtx(ctx, o.Settings().MonitorInterval) {
			return
		}
	}
}

func (o *Orchestrator) watchLease(ctx context.Context, lease *distributedlock.Lock, cancel context.CancelFunc) {
	defer o.wg.Done()
	select {
	case <-ctx.Done():
	case <-lease.Lost():
		err := fmt.Errorf("account %s: %w", o.account, distributedlock.ErrLockLost)
		o.logger.WithError(err).Error("Trader lease lost, trading halted")
		observability.CaptureExceptionWithTags(ctx, err, map[string]string{"account": o.account})
		cancel()
		o.setState(StateStopped, "trader lease lost")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// step runs one iteration of the trading loop and returns how long to wait before the next.
func (o *Orchestrator) step(ctx context.Context) time.Duration {
	if o.isPaused() {
		return pausePoll
	}
	now := o.clock.Now()
	s := o.Settings()

	switch {
	case s.Hours.IsOpen(now):
		o.loopState(ctx, StateRunning, "market open")
		start := time.Now()
		o.observe(ctx, "trading", start, o.RunTradingCycle(ctx))
		return s.TradingInterval

	case s.Hours.IsPreMarket(now):
		o.loopState(ctx, StateWaiting, "pre-market")
		o.ensureDay(ctx, now)
		if s.AutoDiscover {
			o.prepareWatchList(ctx, now)
		}
		return preMarketPoll

	default:
		o.loopState(ctx, StateMarketClosed, "market closed")
		if s.Hours.AfterClose(now) {
			o.closeDay(ctx, now)
		}
		wait := s.Hours.NextOpen(now).Sub(now)
		if wait > closedPollMax {
			wait = closedPollMax
		}
		if wait < time.Second {
			wait = time.Second
		}
		return wait
	}
}

// observe records one loop iteration. Failures are logged and reported, never fatal.
func (o *Orchestrator) observe(ctx context.Context, loop string, start time.Time, err error) {
	if o.metrics != nil {
		o.metrics.ObserveCycle(loop, time.Since(start), err)
	}
	if err == nil {
		return
	}
	o.mu.Lock()
	o.lastError = err.Error()
	o.mu.Unlock()
	o.logger.WithError(err).WithField("loop", loop).Warn("Orchestrator iteration failed")
	observability.CaptureExceptionWithTags(ctx, err, map[string]string{"loop": loop, "account": o.account})
}

// Trading cycle

// RunTradingCycle refreshes discovery, checks the daily limits and then analyzes each watched
// stock, entering those whose signal and score qualify. Per-stock failures are collected and the
// cycle moves on.
func (o *Orchestrator) RunTradingCycle(ctx context.Context) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	ctx, span := observability.StartSpan(ctx, observability.SpanOpTradingCycle, "trading cycle")
	var cycleErr error
	defer func() { observability.FinishSpan(span, cycleErr) }()

	now := o.clock.Now()
	s := o.Settings()
	day := o.ensureDay(ctx, now)
	style := o.engine.Config().Style

	if o.screener != nil && s.DiscoveryInterval > 0 && now.Sub(o.lastDiscoveryAt()) >= s.DiscoveryInterval {
		o.discover(ctx, s, style, now)
	}

	check, err := o.checkLimits(ctx, s, day)
	if err != nil {
		cycleErr = err
		return err
	}
	if !check.Allowed {
		return nil
	}

	var errs []error
	for _, code := range o.WatchList() {
		if ctx.Err() != nil {
			break
		}
		entered, err := o.evaluate(ctx, s, style, code)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !entered {
			continue
		}
		trades, err := o.limits.RecordTrade(ctx, day)
		if err != nil {
			errs = append(errs, fmt.Errorf("record trade: %w", err))
			continue
		}
		if o.metrics != nil {
			o.metrics.DailyTrades.Set(float64(trades))
		}
		if s.Limits.MaxTrades > 0 && trades >= s.Limits.MaxTrades {
			o.logger.WithField("trades", trades).Warn("Daily trade limit reached, ending cycle")
			break
		}
	}

	o.mu.Lock()
	o.lastCycle = now
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.ObserveLedger(o.engine.Positions().Summary())
	}
	cycleErr = errors.Join(errs...)
	return cycleErr
}

// evaluate reports whether an entry order for code was filled at least partly.
func (o *Orchestrator) evaluate(ctx context.Context, s Settings, style strategy.TradingStyle, code string) (bool, error) {
	analysis, err := o.analyzer.AnalyzeStock(ctx, code, style)
	if err != nil {
		o.logger.WithError(err).WithField("stock_code", code).Warn("Analysis failed")
		return false, err
	}
	if !s.accepts(analysis.Signal) {
		return false, nil
	}

	decision, err := o.engine.Evaluate(ctx, code, analysis.Indicators, analysis.CurrentPrice)
	if err != nil {
		return false, err
	}
	if decision.Action != trading.ActionBuy {
		return false, nil
	}
	order, err := o.engine.Apply(ctx, decision)
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, nil
	}
	filled := order.Status == trading.OrderFilled || order.Status == trading.OrderPartial
	o.logger.WithFields(zaplogrus.Fields{
		"stock_code": code,
		"signal":     string(analysis.Signal.Signal),
		"score":      analysis.Signal.TotalScore,
		"quantity":   decision.Quantity,
		"status":     string(order.Status),
	}).Info("Entry order placed")
	return filled, nil
}

func (o *Orchestrator) lastDiscoveryAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastDiscovery
}

// discover adds top-signal stocks to the watch list. A failed screen still counts as a run.
func (o *Orchestrator) discover(ctx context.Context, s Settings, style strategy.TradingStyle, now time.Time) {
	o.mu.Lock()
	o.lastDiscovery = now
	o.mu.Unlock()

	items, err := o.screener.TopSignals(ctx, style, s.SignalTypes, s.DiscoveryLimit)
	if err != nil {
		o.logger.WithError(err).Warn("Discovery screen failed")
		return
	}
	codes := make([]string, len(items))
	for i, it := range items {
		codes[i] = it.StockCode
	}
	if added := o.AddToWatchList(codes...); added > 0 {
		o.logger.WithField("added", added).Info("Watch list extended from top signals")
	}
}

// prepareWatchList replaces the watch list with the pre-market screen once per day.
func (o *Orchestrator) prepareWatchList(ctx context.Context, now time.Time) {
	if o.screener == nil {
		return
	}
	day := o.Settings().Hours.Day(now)
	o.mu.RLock()
	done := o.discoveredDay.Equal(day)
	o.mu.RUnlock()
	if done {
		return
	}

	items, err := o.screener.AutoDiscover(ctx, o.engine.Config().Style, preMarketDiscoverMax)
	if err != nil {
		o.logger.WithError(err).Warn("Pre-market discovery failed")
		return
	}
	o.mu.Lock()
	o.discoveredDay = day
	o.mu.Unlock()
	if len(items) == 0 {
		return
	}
	codes := make([]string, len(items))
	for i, it := range items {
		codes[i] = it.StockCode
	}
	o.SetWatchList(codes)
	o.logger.WithField("stocks", len(codes)).Info("Watch list prepared for the session")
}

// Daily accounting

func (o *Orchestrator) ledgerPnL() decimal.Decimal {
	p := o.engine.Positions()
	return p.TotalRealizedPnL().Add(p.TotalUnrealizedPnL())
}

// ensureDay rolls the daily counters over when the trading date changes and returns the day.
func (o *Orchestrator) ensureDay(ctx context.Context, now time.Time) time.Time {
	day := o.Settings().Hours.Day(now)
	o.mu.RLock()
	current := o.day
	o.mu.RUnlock()
	if current.Equal(day) {
		return day
	}

	balance := o.engine.Config().TotalCapital
	callCtx, cancel := context.WithTimeout(ctx, balanceTimeout)
	bal, err := o.broker.GetBalance(callCtx)
	cancel()
	if err != nil {
		o.logger.WithError(err).Warn("Balance unavailable, using configured capital as start balance")
	} else if bal != nil && bal.TotalAsset.IsPositive() {
		balance = bal.TotalAsset
	}
	if err := o.limits.Begin(ctx, day, balance); err != nil {
		o.logger.WithError(err).Error("Failed to record start balance")
	}

	o.mu.Lock()
	o.day = day
	o.baseline = o.ledgerPnL()
	o.limitReason = ""
	o.mu.Unlock()
	o.logger.WithFields(zaplogrus.Fields{
		"date":          day.Format("2006-01-02"),
		"start_balance": balance.String(),
	}).Info("Trading day started")
	return day
}

// refreshStats stores the P&L made since the day began and returns the day's counters.
func (o *Orchestrator) refreshStats(ctx context.Context, day time.Time) (risk.DailyStats, error) {
	o.mu.RLock()
	baseline := o.baseline
	o.mu.RUnlock()
	if err := o.limits.SetPnL(ctx, day, o.ledgerPnL().Sub(baseline)); err != nil {
		return risk.DailyStats{}, fmt.Errorf("daily pnl: %w", err)
	}
	stats, err := o.limits.Stats(ctx, day)
	if err != nil {
		return risk.DailyStats{}, fmt.Errorf("daily stats: %w", err)
	}
	return stats, nil
}

func (o *Orchestrator) checkLimits(ctx context.Context, s Settings, day time.Time) (risk.LimitCheck, error) {
	stats, err := o.refreshStats(ctx, day)
	if err != nil {
		return risk.LimitCheck{}, err
	}
	check := s.Limits.Check(stats)

	o.mu.Lock()
	changed := check.Reason != o.limitReason
	o.limitReason = check.Reason
	o.mu.Unlock()
	if !check.Allowed && changed {
		o.logger.WithFields(zaplogrus.Fields{
			"reason":  check.Reason,
			"pnl_pct": check.PnLPct,
			"trades":  check.Trades,
		}).Warn("Daily limit reached, new entries blocked")
	}
	return check, nil
}

// closeDay sends the report and resets the counters once, after the close of a day with trades.
func (o *Orchestrator) closeDay(ctx context.Context, now time.Time) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	o.mu.RLock()
	day := o.day
	reported := o.reportedDay.Equal(day)
	o.mu.RUnlock()
	if day.IsZero() || reported || !day.Equal(o.Settings().Hours.Day(now)) {
		return
	}

	stats, err := o.refreshStats(ctx, day)
	if err != nil {
		o.logger.WithError(err).Warn("Daily stats unavailable at close")
		return
	}
	if stats.Trades == 0 {
		return
	}

	o.emitReport(o.buildReport(stats))
	if err := o.limits.Reset(ctx, day); err != nil {
		o.logger.WithError(err).Error("Failed to reset daily limits")
		return
	}
	o.mu.Lock()
	o.reportedDay = day
	o.baseline = o.ledgerPnL()
	o.limitReason = ""
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.DailyTrades.Set(0)
	}
}

// DailyReport summarises the current trading day.
func (o *Orchestrator) DailyReport(ctx context.Context) (DailyReport, error) {
	o.mu.RLock()
	day := o.day
	o.mu.RUnlock()
	if day.IsZero() {
		day = o.Settings().Hours.Day(o.clock.Now())
	}
	stats, err := o.refreshStats(ctx, day)
	if err != nil {
		return DailyReport{}, err
	}
	return o.buildReport(stats), nil
}

func (o *Orchestrator) buildReport(stats risk.DailyStats) DailyReport {
	return DailyReport{
		Account:      o.account,
		Date:         stats.Date,
		Trades:       stats.Trades,
		StartBalance: stats.StartBalance,
		PnL:          stats.PnL,
		PnLPct:       stats.PnLPct(),
		Positions:    o.engine.Positions().Summary(),
		Orders:       o.engine.Orders().Summary(),
		GeneratedAt:  o.clock.Now(),
	}
}

func (o *Orchestrator) emitReport(r DailyReport) {
	o.logger.WithFields(zaplogrus.Fields{
		"account": r.Account,
		"date":    r.Date,
		"trades":  r.Trades,
		"pnl":     r.PnL.String(),
		"pnl_pct": r.PnLPct,
	}).Info("Daily report")
	for _, fn := range o.reportHandlers {
		fn(r)
	}
}

// Position monitor

// MonitorPositions quotes every open position and runs the exit policy over one price snapshot.
// A stock without a fresh quote keeps its last price. Nothing happens while paused or outside
// market hours.
func (o *Orchestrator) MonitorPositions(ctx context.Context) ([]trading.ExitEvent, error) {
	if o.isPaused() || !o.Settings().Hours.IsOpen(o.clock.Now()) {
		return nil, nil
	}
	open := o.engine.Positions().OpenPositions()
	if len(open) == 0 {
		return nil, nil
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanOpPositionUpdate, "monitor positions")
	var err error
	defer func() { observability.FinishSpan(span, err) }()

	prices := make(map[string]decimal.Decimal, len(open))
	for _, p := range open {
		last := p.CurrentPrice
		if !last.IsPositive() {
			last = p.EntryPrice
		}
		prices[p.StockCode] = last
	}

	quotes, qerr := o.broker.GetQuotes(ctx, o.engine.Positions().OpenStocks())
	if qerr != nil {
		o.logger.WithError(qerr).Warn("Quotes unavailable, monitoring with last prices")
	}
	for _, q := range quotes {
		if q != nil && q.Price.IsPositive() {
			prices[q.StockCode] = q.Price
		}
	}

	events, err := o.engine.UpdatePositions(ctx, prices)
	if o.metrics != nil {
		o.metrics.ObserveLedger(o.engine.Positions().Summary())
	}
	return events, err
}

// Status

func (o *Orchestrator) Status(ctx context.Context) StatusInfo {
	now := o.clock.Now()
	s := o.Settings()

	o.mu.RLock()
	info := StatusInfo{
		Account:    o.account,
		State:      o.state,
		Running:    o.running,
		Paused:     o.paused,
		MarketOpen: s.Hours.IsOpen(now),
		WatchList:  append([]string(nil), o.watchList...),
		LeaseHeld:  o.lease != nil,
		LastCycle:  o.lastCycle,
		LastError:  o.lastError,
		Timestamp:  now,
	}
	day := o.day
	o.mu.RUnlock()

	if !day.IsZero() {
		if stats, err := o.limits.Stats(ctx, day); err == nil {
			info.Daily = stats
			info.Limits = s.Limits.Check(stats)
		}
	}
	info.Engine = o.engine.Status()
	return info
}
