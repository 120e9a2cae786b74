package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/performance"
	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/internal/talib"
	"github.com/irfndi/neurastock/internal/trading"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SignalFunc decides on one bar given the stock's history up to and including it. Only
// buy-class signals and SELL are acted on; an error is logged and treated as no signal.
type SignalFunc func(ctx context.Context, code string, history []interfaces.Bar, bar interfaces.Bar) (scoring.Signal, error)

// Progress is reported after every replayed timestamp.
type Progress struct {
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

type ProgressFunc func(Progress)

// OrderRecord is a simulated fill.
type OrderRecord struct {
	OrderID     string          `json:"order_id"`
	StockCode   string          `json:"stock_code"`
	Side        string          `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	Status      string          `json:"status"`
	FilledAt    time.Time       `json:"filled_at"`
}

// ResultConfig echoes the settings a result was produced with.
type ResultConfig struct {
	InitialCapital decimal.Decimal       `json:"initial_capital"`
	Style          strategy.TradingStyle `json:"trading_style"`
	CommissionRate float64               `json:"commission_rate"`
	SlippageRate   float64               `json:"slippage_rate"`
	StockCodes     []string              `json:"stock_codes"`
	Start          time.Time             `json:"start"`
	End            time.Time             `json:"end"`
	Timeframe      string                `json:"timeframe"`
}

type ResultPerformance struct {
	FinalEquity float64 `json:"final_equity"`
	TotalReturn float64 `json:"total_return"`
	TotalPnL    float64 `json:"total_pnl"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Result is the serialized outcome of a replay.
type Result struct {
	Config       ResultConfig              `json:"config"`
	Performance  ResultPerformance         `json:"performance"`
	Trades       performance.TradeStats    `json:"trades"`
	EquityCurve  []performance.EquityPoint `json:"equity_curve"`
	TradeHistory []performance.Trade       `json:"trade_history"`
	Orders       []OrderRecord             `json:"orders"`
	Report       *performance.Report       `json:"report,omitempty"`
}

// Replayer drives the exit policy and a signal function bar by bar over stored history. Cash and
// P&L are decimal; a Replayer is not safe for concurrent Runs.
type Replayer struct {
	cfg      Config
	params   strategy.TradeParams
	store    BarStore
	signal   SignalFunc
	logger   *zap.Logger
	analyzer *performance.Analyzer

	clock  *trading.ManualClock
	ledger *trading.PositionLedger
	cash   decimal.Decimal
	open   map[string]string
	// entry commission not yet allocated to a trade, per position
	entryFees map[string]decimal.Decimal

	orders   []OrderRecord
	trades   []performance.Trade
	curve    []performance.EquityPoint
	orderSeq int
	tradeSeq int
}

// NewReplayer validates cfg. A nil signal replays exits only, so no position is ever opened.
func NewReplayer(cfg Config, store BarStore, signal SignalFunc, logger *zap.Logger) (*Replayer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: bar store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	profile, err := strategy.Lookup(cfg.Style)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1d"
	}

	r := &Replayer{
		cfg:      cfg,
		params:   profile.Params,
		store:    store,
		signal:   signal,
		logger:   logger.Named("backtest"),
		analyzer: performance.NewAnalyzer(),
	}
	r.Reset()
	return r, nil
}

// Reset clears all replay state back to the initial capital.
func (r *Replayer) Reset() {
	r.clock = trading.NewManualClock(time.Time{})
	r.ledger = trading.NewPositionLedger(r.clock, zaplogrus.FromZap(r.logger))
	r.cash = r.cfg.InitialCapital
	r.open = make(map[string]string)
	r.entryFees = make(map[string]decimal.Decimal)
	r.orders = nil
	r.trades = nil
	r.curve = nil
	r.orderSeq = 0
	r.tradeSeq = 0
}

type series struct {
	code string
	bars []interfaces.Bar
	// index of the bar at each timestamp, by unix nano
	at map[int64]int
}

// Run replays codes between start and end. Exits are evaluated before signals on every bar,
// and open positions are closed at their last close with reason BACKTEST_END.
func (r *Replayer) Run(ctx context.Context, codes []string, start, end time.Time, progress ProgressFunc) (*Result, error) {
	r.Reset()

	all, stamps, err := r.load(ctx, codes, start, end)
	if err != nil {
		return nil, err
	}
	r.logger.Info("replay started",
		zap.Int("stocks", len(all)),
		zap.Int("timestamps", len(stamps)),
		zap.String("style", string(r.cfg.Style)))

	for i, ts := range stamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.clock.Set(ts)
		key := ts.UnixNano()

		for _, s := range all {
			idx, ok := s.at[key]
			if !ok {
				continue
			}
			bar := s.bars[idx]
			if err := r.applyExits(s.code, bar); err != nil {
				return nil, err
			}
			if r.signal != nil {
				if err := r.applySignal(ctx, s, idx); err != nil {
					return nil, err
				}
			}
		}

		point := r.recordEquity(ts)
		if progress != nil {
			progress(Progress{Done: i + 1, Total: len(stamps), Timestamp: ts, Equity: point.Equity})
		}
	}

	for _, s := range all {
		if _, held := r.open[s.code]; !held {
			continue
		}
		last := s.bars[len(s.bars)-1]
		r.clock.Set(last.Timestamp)
		if err := r.closeAll(s.code, decimal.NewFromFloat(last.Close), trading.ExitBacktestEnd); err != nil {
			return nil, err
		}
	}

	result := r.result(codes, start, end)
	r.logger.Info("replay finished",
		zap.Int("trades", len(r.trades)),
		zap.Float64("final_equity", result.Performance.FinalEquity),
		zap.Float64("total_return", result.Performance.TotalReturn))
	return result, nil
}

func (r *Replayer) load(ctx context.Context, codes []string, start, end time.Time) ([]series, []time.Time, error) {
	var all []series
	seen := make(map[int64]time.Time)
	for _, code := range codes {
		bars, err := r.store.LoadOHLCV(ctx, code, r.cfg.Timeframe, start, end)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", code, err)
		}
		if len(bars) == 0 {
			r.logger.Warn("no bars for stock", zap.String("stock_code", code))
			continue
		}
		bars = append([]interfaces.Bar(nil), bars...)
		sortBars(bars)

		s := series{code: code, bars: bars, at: make(map[int64]int, len(bars))}
		for i, b := range bars {
			key := b.Timestamp.UnixNano()
			s.at[key] = i
			seen[key] = b.Timestamp
		}
		all = append(all, s)
	}
	if len(all) == 0 {
		return nil, nil, ErrNoData
	}

	stamps := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	return all, stamps, nil
}

// applyExits marks the held position to the bar and executes at most one triggered exit at the
// trigger level less slippage.
func (r *Replayer) applyExits(code string, bar interfaces.Bar) error {
	id, held := r.open[code]
	if !held {
		return nil
	}
	update, err := r.ledger.Observe(id,
		decimal.NewFromFloat(bar.Low),
		decimal.NewFromFloat(bar.High),
		decimal.NewFromFloat(bar.Close))
	if err != nil {
		return fmt.Errorf("observe %s: %w", code, err)
	}
	if update.Exit == nil {
		return nil
	}

	trigger := update.Exit
	if trigger.Partial {
		qty := trading.PartialQuantity(update.Position.RemainingQuantity, r.cfg.PartialCloseRatio)
		if qty > 0 {
			return r.sell(code, qty, trigger.Level, trigger.Reason)
		}
	}
	return r.closeAll(code, trigger.Level, trigger.Reason)
}

func (r *Replayer) applySignal(ctx context.Context, s series, idx int) error {
	bar := s.bars[idx]
	signal, err := r.signal(ctx, s.code, s.bars[:idx+1], bar)
	if err != nil {
		r.logger.Warn("signal failed", zap.String("stock_code", s.code), zap.Error(err))
		return nil
	}

	_, held := r.open[s.code]
	switch {
	case signal.IsBuy() && !held && r.ledger.OpenCount() < r.cfg.MaxPositions:
		return r.buy(s.code, bar)
	case signal == scoring.SignalSell && held:
		return r.closeAll(s.code, decimal.NewFromFloat(bar.Close), trading.ExitSignal)
	}
	return nil
}

func (r *Replayer) buy(code string, bar interfaces.Bar) error {
	quote := decimal.NewFromFloat(bar.Close)
	price := quote.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(r.cfg.SlippageRate)))
	if !price.IsPositive() {
		return nil
	}
	budget := r.cash.Mul(decimal.NewFromFloat(r.cfg.PositionSizePct)).Div(decimal.NewFromInt(100))
	qty := budget.Div(price).IntPart()
	if qty <= 0 {
		return nil
	}

	notional := price.Mul(decimal.NewFromInt(qty))
	fee := notional.Mul(decimal.NewFromFloat(r.cfg.CommissionRate))
	if notional.Add(fee).GreaterThan(r.cash) {
		return nil
	}

	orderID := r.recordOrder(code, "BUY", qty, quote, price)
	levels := trading.LevelsFromParams(price, r.params)
	levels.TrailingStopPct = r.cfg.trailingPct(r.params)

	pos, err := r.ledger.Open(trading.OpenRequest{
		StockCode: code,
		Style:     r.cfg.Style,
		OrderID:   orderID,
		Price:     price,
		Quantity:  qty,
		Levels:    levels,
		HighWater: decimal.NewFromFloat(bar.High),
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", code, err)
	}
	r.cash = r.cash.Sub(notional).Sub(fee)
	r.open[code] = pos.ID
	r.entryFees[pos.ID] = fee
	return nil
}

func (r *Replayer) closeAll(code string, level decimal.Decimal, reason trading.ExitReason) error {
	id := r.open[code]
	pos, ok := r.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", trading.ErrPositionNotFound, id)
	}
	return r.sell(code, pos.RemainingQuantity, level, reason)
}

// sell fills qty at level less slippage. The trade's commission is the exit fee plus the
// matching share of the entry fee, so trade P&L sums to the change in cash.
func (r *Replayer) sell(code string, qty int64, level decimal.Decimal, reason trading.ExitReason) error {
	id := r.open[code]
	before, ok := r.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", trading.ErrPositionNotFound, id)
	}
	if qty > before.RemainingQuantity {
		qty = before.RemainingQuantity
	}

	fill := level.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(r.cfg.SlippageRate)))
	after, err := r.ledger.PartialClose(id, qty, fill, reason)
	if err != nil {
		return fmt.Errorf("close %s: %w", code, err)
	}

	shares := decimal.NewFromInt(qty)
	proceeds := fill.Mul(shares)
	exitFee := proceeds.Mul(decimal.NewFromFloat(r.cfg.CommissionRate))

	entryFee := r.entryFees[id]
	if after.RemainingQuantity > 0 {
		entryFee = entryFee.Mul(shares).Div(decimal.NewFromInt(before.RemainingQuantity))
	}
	r.entryFees[id] = r.entryFees[id].Sub(entryFee)

	commission := entryFee.Add(exitFee)
	pnl := fill.Sub(before.EntryPrice).Mul(shares).Sub(commission)
	r.cash = r.cash.Add(proceeds).Sub(exitFee)

	r.recordOrder(code, "SELL", qty, level, fill)
	r.tradeSeq++
	r.trades = append(r.trades, performance.Trade{
		TradeID:    fmt.Sprintf("T%06d", r.tradeSeq),
		StockCode:  code,
		StockName:  before.StockName,
		Side:       "SELL",
		Quantity:   qty,
		EntryPrice: before.EntryPrice,
		ExitPrice:  fill,
		EntryTime:  before.EntryTime,
		ExitTime:   r.clock.Now(),
		PnL:        pnl,
		PnLRate:    fill.Div(before.EntryPrice).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).InexactFloat64(),
		Commission: commission,
		ExitReason: string(reason),
	})

	if !after.IsOpen() {
		delete(r.open, code)
		delete(r.entryFees, id)
	}
	return nil
}

func (r *Replayer) recordOrder(code, side string, qty int64, price, filled decimal.Decimal) string {
	r.orderSeq++
	id := fmt.Sprintf("O%06d", r.orderSeq)
	r.orders = append(r.orders, OrderRecord{
		OrderID:     id,
		StockCode:   code,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		FilledPrice: filled,
		Status:      "FILLED",
		FilledAt:    r.clock.Now(),
	})
	return id
}

func (r *Replayer) equity() decimal.Decimal {
	total := r.cash
	for _, p := range r.ledger.OpenPositions() {
		total = total.Add(p.MarketValue())
	}
	return total
}

func (r *Replayer) recordEquity(ts time.Time) performance.EquityPoint {
	point := performance.EquityPoint{
		Timestamp:     ts,
		Equity:        r.equity().InexactFloat64(),
		Cash:          r.cash.InexactFloat64(),
		PositionCount: r.ledger.OpenCount(),
	}
	r.curve = append(r.curve, point)
	return point
}

func (r *Replayer) result(codes []string, start, end time.Time) *Result {
	initial := r.cfg.InitialCapital.InexactFloat64()
	final := r.equity().InexactFloat64()

	res := &Result{
		Config: ResultConfig{
			InitialCapital: r.cfg.InitialCapital,
			Style:          r.cfg.Style,
			CommissionRate: r.cfg.CommissionRate,
			SlippageRate:   r.cfg.SlippageRate,
			StockCodes:     append([]string(nil), codes...),
			Start:          start,
			End:            end,
			Timeframe:      r.cfg.Timeframe,
		},
		Performance: ResultPerformance{
			FinalEquity: final,
			TotalReturn: talib.Round((final/initial-1)*100, 2),
			TotalPnL:    talib.Round(final-initial, 0),
			MaxDrawdown: talib.Round(performance.MaxDrawdownPct(r.curve), 2),
		},
		Trades:       performance.ComputeTradeStats(r.trades),
		EquityCurve:  append([]performance.EquityPoint(nil), r.curve...),
		TradeHistory: append([]performance.Trade(nil), r.trades...),
		Orders:       append([]OrderRecord(nil), r.orders...),
	}

	report, err := r.analyzer.Analyze(performance.Input{
		InitialCapital: initial,
		FinalEquity:    final,
		EquityCurve:    res.EquityCurve,
		Trades:         res.TradeHistory,
	})
	if err != nil {
		r.logger.Warn("performance analysis skipped", zap.Error(err))
	} else {
		res.Report = report
	}
	return res
}
