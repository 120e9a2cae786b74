package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/pkg/indicators"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
)

// Action is what the engine decided to do with a stock.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// EngineConfig controls sizing and automation.
type EngineConfig struct {
	Style             strategy.TradingStyle `json:"style" mapstructure:"style"`
	MaxPositions      int                   `json:"max_positions" mapstructure:"max_positions"`
	TotalCapital      decimal.Decimal       `json:"total_capital" mapstructure:"total_capital"`
	AutoTrade         bool                  `json:"auto_trade" mapstructure:"auto_trade"`
	PartialClose      bool                  `json:"partial_close" mapstructure:"partial_close"`
	PartialCloseRatio float64               `json:"partial_close_ratio" mapstructure:"partial_close_ratio"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Style:             strategy.DayTrading,
		MaxPositions:      5,
		TotalCapital:      decimal.NewFromInt(10_000_000),
		AutoTrade:         false,
		PartialClose:      true,
		PartialCloseRatio: DefaultPartialCloseRatio,
	}
}

func (c EngineConfig) Validate() error {
	if _, err := strategy.ParseStyle(string(c.Style)); err != nil {
		return err
	}
	if c.MaxPositions <= 0 {
		return errors.New("max_positions must be positive")
	}
	if !c.TotalCapital.IsPositive() {
		return errors.New("total_capital must be positive")
	}
	if c.PartialCloseRatio <= 0 || c.PartialCloseRatio >= 1 {
		return errors.New("partial_close_ratio must be in (0, 1)")
	}
	return nil
}

// TradeDecision is the engine's verdict on one evaluation.
type TradeDecision struct {
	StockCode  string               `json:"stock_code"`
	StockName  string               `json:"stock_name"`
	Action     Action               `json:"action"`
	Signal     scoring.SignalResult `json:"signal"`
	Quantity   int64                `json:"quantity"`
	Price      decimal.Decimal      `json:"price"`
	Reason     string               `json:"reason"`
	ExitReason ExitReason           `json:"exit_reason,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// ExitEvent is one exit the policy triggered during a position update.
type ExitEvent struct {
	PositionID string          `json:"position_id"`
	StockCode  string          `json:"stock_code"`
	Reason     ExitReason      `json:"reason"`
	Price      decimal.Decimal `json:"price"`
	Level      decimal.Decimal `json:"level"`
	Quantity   int64           `json:"quantity"`
	Partial    bool            `json:"partial"`
	OrderID    string          `json:"order_id,omitempty"`
	Executed   bool            `json:"executed"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventSink observes engine activity. Implementations must not block.
type EventSink interface {
	DecisionMade(ctx context.Context, d TradeDecision)
	ExitTriggered(ctx context.Context, e ExitEvent)
	OrderUpdated(ctx context.Context, o Order)
}

// StateStore persists ledger snapshots between restarts.
type StateStore interface {
	SavePositions(ctx context.Context, positions []Position) error
	LoadPositions(ctx context.Context) ([]Position, error)
	SaveOrders(ctx context.Context, orders []Order) error
	LoadOrders(ctx context.Context) ([]Order, error)
}

// ProfileSource resolves style tables, normally a *strategy.Registry.
type ProfileSource interface {
	Profile(style strategy.TradingStyle) (strategy.Profile, error)
}

type builtinProfiles struct{}

func (builtinProfiles) Profile(style strategy.TradingStyle) (strategy.Profile, error) {
	return strategy.Lookup(style)
}

// EngineStatus is a point-in-time view for status endpoints.
type EngineStatus struct {
	Running   bool                  `json:"running"`
	Style     strategy.TradingStyle `json:"style"`
	AutoTrade bool                  `json:"auto_trade_enabled"`
	Positions PositionSummary       `json:"positions"`
	Orders    OrderSummary          `json:"orders"`
}

type Option func(*DecisionEngine)

func WithClock(c Clock) Option { return func(e *DecisionEngine) { e.clock = c } }

func WithLogger(l *zaplogrus.Logger) Option { return func(e *DecisionEngine) { e.logger = l } }

func WithStore(s StateStore) Option { return func(e *DecisionEngine) { e.store = s } }

func WithSink(s EventSink) Option { return func(e *DecisionEngine) { e.sinks = append(e.sinks, s) } }

func WithProfiles(p ProfileSource) Option { return func(e *DecisionEngine) { e.profiles = p } }

func WithBrokerTimeout(d time.Duration) Option {
	return func(e *DecisionEngine) { e.brokerTimeout = d }
}

// DecisionEngine turns readings into decisions and decisions into orders. All mutations of
// the ledgers go through execMu so an exit fill and a new entry never interleave.
type DecisionEngine struct {
	broker        interfaces.Broker
	positions     *PositionLedger
	orders        *OrderLedger
	profiles      ProfileSource
	clock         Clock
	logger        *zaplogrus.Logger
	store         StateStore
	sinks         []EventSink
	brokerTimeout time.Duration

	cfgMu      sync.RWMutex
	config     EngineConfig
	profile    strategy.Profile
	classifier *scoring.Classifier

	running atomic.Bool
	execMu  sync.Mutex
}

func NewDecisionEngine(broker interfaces.Broker, config EngineConfig, opts ...Option) (*DecisionEngine, error) {
	if broker == nil {
		return nil, errors.New("broker is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	e := &DecisionEngine{
		broker:        broker,
		profiles:      builtinProfiles{},
		clock:         RealClock{},
		brokerTimeout: defaultBrokerTimeout,
		config:        config,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zaplogrus.FromZap(nil)
	}

	profile, err := e.profiles.Profile(config.Style)
	if err != nil {
		return nil, err
	}
	e.profile = profile
	e.classifier = scoring.NewClassifier(profile)

	e.positions = NewPositionLedger(e.clock, e.logger)
	e.orders = NewOrderLedger(broker, e.clock, e.logger)
	e.orders.SetTimeout(e.brokerTimeout)
	e.orders.OnFill(e.onFill)
	return e, nil
}

func (e *DecisionEngine) Positions() *PositionLedger { return e.positions }

func (e *DecisionEngine) Orders() *OrderLedger { return e.orders }

// Config returns a copy of the current configuration.
func (e *DecisionEngine) Config() EngineConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.config
}

// Profile returns the style profile decisions are made with.
func (e *DecisionEngine) Profile() strategy.Profile {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.profile
}

func (e *DecisionEngine) SetAutoTrade(enabled bool) {
	e.cfgMu.Lock()
	e.config.AutoTrade = enabled
	e.cfgMu.Unlock()
	e.logger.WithField("auto_trade", enabled).Info("Auto trade updated")
}

// UpdateConfig applies fn to a copy of the configuration and swaps it in if it validates.
// A style change reloads the classifier.
func (e *DecisionEngine) UpdateConfig(fn func(*EngineConfig)) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	next := e.config
	fn(&next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if next.Style != e.config.Style {
		profile, err := e.profiles.Profile(next.Style)
		if err != nil {
			return err
		}
		e.profile = profile
		e.classifier = scoring.NewClassifier(profile)
	}
	e.config = next
	return nil
}

// Start connects the broker and restores persisted ledgers.
func (e *DecisionEngine) Start(ctx context.Context) error {
	if err := e.broker.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	if e.store != nil {
		positions, err := e.store.LoadPositions(ctx)
		if err != nil {
			e.logger.WithError(err).Error("Failed to load positions")
		} else if len(positions) > 0 {
			e.positions.Restore(positions)
		}
		orders, err := e.store.LoadOrders(ctx)
		if err != nil {
			e.logger.WithError(err).Error("Failed to load orders")
		} else if len(orders) > 0 {
			e.orders.Restore(orders)
		}
	}
	e.running.Store(true)
	e.logger.WithField("style", string(e.Config().Style)).Info("Decision engine started")
	return nil
}

// Stop persists the ledgers and disconnects the broker.
func (e *DecisionEngine) Stop(ctx context.Context) error {
	e.running.Store(false)
	e.persist(ctx)
	if err := e.broker.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect broker: %w", err)
	}
	e.logger.Info("Decision engine stopped")
	return nil
}

func (e *DecisionEngine) Status() EngineStatus {
	cfg := e.Config()
	return EngineStatus{
		Running:   e.running.Load(),
		Style:     cfg.Style,
		AutoTrade: cfg.AutoTrade,
		Positions: e.positions.Summary(),
		Orders:    e.orders.Summary(),
	}
}

// Evaluate classifies readings for a stock and decides whether to open a position. A zero
// price is resolved through a quote. The score classifier never yields SELL; exits come from
// UpdatePositions and RequestExit.
func (e *DecisionEngine) Evaluate(ctx context.Context, code string, readings indicators.Readings, price decimal.Decimal) (TradeDecision, error) {
	name := code
	if price.IsZero() {
		callCtx, cancel := context.WithTimeout(ctx, e.brokerTimeout)
		quote, err := e.broker.GetQuote(callCtx, code)
		cancel()
		if err != nil {
			return TradeDecision{}, fmt.Errorf("quote %s: %w", code, err)
		}
		price = quote.Price
		if quote.Name != "" {
			name = quote.Name
		}
	}

	e.cfgMu.RLock()
	classifier := e.classifier
	cfg := e.config
	params := e.profile.Params
	e.cfgMu.RUnlock()

	signal := classifier.Classify(code, readings, price)
	decision := TradeDecision{
		StockCode: code,
		StockName: name,
		Action:    ActionHold,
		Signal:    signal,
		Price:     price,
		Timestamp: e.clock.Now(),
	}
	if len(signal.Reasons) > 0 {
		decision.Reason = signal.Reasons[0]
	}

	if signal.Signal.IsBuy() {
		switch {
		case len(e.positions.OpenByStock(code)) > 0:
			decision.Reason = "already holding"
		case e.orders.Outstanding(code, interfaces.OrderSideBuy, ""):
			decision.Reason = "entry order outstanding"
		case e.positions.OpenCount() >= cfg.MaxPositions:
			decision.Reason = "max positions reached"
		default:
			qty := PositionSize(cfg.TotalCapital, params.PositionSizePct, price)
			if qty > 0 {
				decision.Action = ActionBuy
				decision.Quantity = qty
			} else {
				decision.Reason = "invalid price"
			}
		}
	}

	for _, s := range e.sinks {
		s.DecisionMade(ctx, decision)
	}
	return decision, nil
}

// PositionSize is floor(capital x pct / 100 / price), at least one share for a positive price.
func PositionSize(capital decimal.Decimal, pct float64, price decimal.Decimal) int64 {
	if !price.IsPositive() {
		return 0
	}
	amount := capital.Mul(decimal.NewFromFloat(pct)).Div(hundred)
	qty := amount.Div(price).IntPart()
	if qty < 1 {
		qty = 1
	}
	return qty
}

// Apply executes a decision when auto trading is on. HOLD and disabled auto trading return a
// nil order.
func (e *DecisionEngine) Apply(ctx context.Context, d TradeDecision) (*Order, error) {
	if !e.Config().AutoTrade || d.Action == ActionHold || d.Quantity <= 0 {
		return nil, nil
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()
	return e.apply(ctx, d)
}

func (e *DecisionEngine) apply(ctx context.Context, d TradeDecision) (*Order, error) {
	defer e.persist(ctx)

	switch d.Action {
	case ActionBuy:
		if len(e.positions.OpenByStock(d.StockCode)) > 0 || e.positions.OpenCount() >= e.Config().MaxPositions ||
			e.orders.Outstanding(d.StockCode, interfaces.OrderSideBuy, "") {
			e.logger.WithField("stock_code", d.StockCode).Info("Skipping entry, capacity changed since evaluation")
			return nil, nil
		}
		order, err := e.orders.Submit(ctx, SubmitRequest{
			StockCode: d.StockCode,
			StockName: d.StockName,
			Side:      interfaces.OrderSideBuy,
			Type:      interfaces.OrderTypeMarket,
			Quantity:  d.Quantity,
			Price:     d.Price,
		})
		e.publishOrder(ctx, order)
		if err != nil {
			return &order, err
		}
		return &order, nil

	case ActionSell:
		reason := d.ExitReason
		if reason == "" {
			reason = ExitSignal
		}
		var last *Order
		var errs []error
		for _, p := range e.positions.OpenByStock(d.StockCode) {
			if e.orders.Outstanding(p.StockCode, interfaces.OrderSideSell, p.ID) {
				e.logger.WithField("position_id", p.ID).Info("Skipping exit, sell order outstanding")
				continue
			}
			order, err := e.orders.Submit(ctx, SubmitRequest{
				StockCode:  p.StockCode,
				StockName:  p.StockName,
				Side:       interfaces.OrderSideSell,
				Type:       interfaces.OrderTypeMarket,
				Quantity:   p.RemainingQuantity,
				Price:      d.Price,
				PositionID: p.ID,
				Reason:     reason,
			})
			e.publishOrder(ctx, order)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			o := order
			last = &o
		}
		return last, errors.Join(errs...)
	}
	return nil, nil
}

// RequestExit sells every open position in the stock, regardless of the auto trade switch.
func (e *DecisionEngine) RequestExit(ctx context.Context, code string, price decimal.Decimal, reason ExitReason) (TradeDecision, *Order, error) {
	open := e.positions.OpenByStock(code)
	if len(open) == 0 {
		return TradeDecision{}, nil, fmt.Errorf("%w: no open position in %s", ErrPositionNotFound, code)
	}
	if reason == "" {
		reason = ExitManual
	}

	var qty int64
	for _, p := range open {
		qty += p.RemainingQuantity
	}
	d := TradeDecision{
		StockCode:  code,
		StockName:  open[0].StockName,
		Action:     ActionSell,
		Quantity:   qty,
		Price:      price,
		Reason:     "exit requested: " + string(reason),
		ExitReason: reason,
		Timestamp:  e.clock.Now(),
	}
	for _, s := range e.sinks {
		s.DecisionMade(ctx, d)
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()
	order, err := e.apply(ctx, d)
	return d, order, err
}

// UpdatePositions marks every open position with the given prices, evaluates the exit policy
// for all of them, and only then submits exit orders. Stocks missing from prices are skipped, as
// are positions that already have a sell order outstanding.
func (e *DecisionEngine) UpdatePositions(ctx context.Context, prices map[string]decimal.Decimal) ([]ExitEvent, error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	type pending struct {
		position Position
		signal   ExitTrigger
		price    decimal.Decimal
	}
	var triggered []pending

	for _, p := range e.positions.OpenPositions() {
		price, ok := prices[p.StockCode]
		if !ok || !price.IsPositive() {
			continue
		}
		upd, err := e.positions.UpdatePrice(p.ID, price)
		if err != nil {
			return nil, err
		}
		if upd.Exit != nil && !e.orders.Outstanding(p.StockCode, interfaces.OrderSideSell, p.ID) {
			triggered = append(triggered, pending{position: upd.Position, signal: *upd.Exit, price: price})
		}
	}

	cfg := e.Config()
	var events []ExitEvent
	var errs []error
	for _, t := range triggered {
		ev := ExitEvent{
			PositionID: t.position.ID,
			StockCode:  t.position.StockCode,
			Reason:     t.signal.Reason,
			Price:      t.price,
			Level:      t.signal.Level,
			Quantity:   t.position.RemainingQuantity,
			Timestamp:  e.clock.Now(),
		}
		if t.signal.Partial && cfg.PartialClose {
			if q := PartialQuantity(t.position.RemainingQuantity, cfg.PartialCloseRatio); q > 0 {
				ev.Quantity = q
				ev.Partial = true
			}
		}

		if cfg.AutoTrade {
			order, err := e.orders.Submit(ctx, SubmitRequest{
				StockCode:  t.position.StockCode,
				StockName:  t.position.StockName,
				Side:       interfaces.OrderSideSell,
				Type:       interfaces.OrderTypeMarket,
				Quantity:   ev.Quantity,
				Price:      t.price,
				PositionID: t.position.ID,
				Reason:     t.signal.Reason,
			})
			e.publishOrder(ctx, order)
			ev.OrderID = order.ID
			ev.Executed = order.Status == OrderFilled || order.Status == OrderPartial
			if err != nil {
				errs = append(errs, err)
			}
		}

		e.logger.WithFields(zaplogrus.Fields{
			"position_id": ev.PositionID,
			"stock_code":  ev.StockCode,
			"reason":      string(ev.Reason),
			"quantity":    ev.Quantity,
			"executed":    ev.Executed,
		}).Info("Exit condition triggered")
		for _, s := range e.sinks {
			s.ExitTriggered(ctx, ev)
		}
		events = append(events, ev)
	}

	e.persist(ctx)
	return events, errors.Join(errs...)
}

// onFill keeps the position ledger in step with executed orders.
func (e *DecisionEngine) onFill(ctx context.Context, fill FillEvent) error {
	o := fill.Order
	price := fill.FillPrice
	if !price.IsPositive() {
		price = o.RequestedPrice
	}

	switch o.Side {
	case interfaces.OrderSideBuy:
		if o.PositionID != "" {
			_, err := e.positions.TopUp(o.PositionID, price, fill.FillQty)
			return err
		}
		p, err := e.positions.Open(OpenRequest{
			StockCode: o.StockCode,
			StockName: o.StockName,
			Style:     e.Config().Style,
			OrderID:   o.ID,
			Price:     price,
			Quantity:  fill.FillQty,
			Levels:    LevelsFromParams(price, e.Profile().Params),
		})
		if err != nil {
			return err
		}
		e.orders.AttachPosition(o.ID, p.ID)
		return nil

	case interfaces.OrderSideSell:
		if o.PositionID == "" {
			return fmt.Errorf("sell order %s has no position", o.ID)
		}
		reason := o.Reason
		if reason == "" {
			reason = ExitSignal
		}
		_, err := e.positions.PartialClose(o.PositionID, fill.FillQty, price, reason)
		return err
	}
	return nil
}

func (e *DecisionEngine) publishOrder(ctx context.Context, o Order) {
	if o.ID == "" {
		return
	}
	for _, s := range e.sinks {
		s.OrderUpdated(ctx, o)
	}
}

func (e *DecisionEngine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePositions(ctx, e.positions.All()); err != nil {
		e.logger.WithError(err).Error("Failed to save positions")
	}
	if err := e.store.SaveOrders(ctx, e.orders.All()); err != nil {
		e.logger.WithError(err).Error("Failed to save orders")
	}
}
