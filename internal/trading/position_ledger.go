package trading

import (
	"fmt"
	"sort"
	"sync"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OpenRequest describes a filled BUY that opens a position.
type OpenRequest struct {
	StockCode string
	StockName string
	Style     strategy.TradingStyle
	OrderID   string
	Price     decimal.Decimal
	Quantity  int64
	Levels    ExitLevels
	// HighWater seeds the trailing-stop high. Values below Price are ignored.
	HighWater decimal.Decimal
}

// PriceUpdate is the outcome of one price observation for one position.
type PriceUpdate struct {
	Position Position
	Exit     *ExitTrigger
}

// PositionSummary aggregates the ledger for status displays.
type PositionSummary struct {
	TotalPositions     int             `json:"total_positions"`
	OpenPositions      int             `json:"open_positions"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	Positions          []Position      `json:"positions"`
}

// PositionLedger is the single owner of position state. Positions are never deleted; closing
// marks them CLOSED. Every accessor returns copies.
type PositionLedger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	byStock   map[string][]string
	order     []string
	clock     Clock
	logger    *zaplogrus.Logger
}

func NewPositionLedger(clock Clock, logger *zaplogrus.Logger) *PositionLedger {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}
	return &PositionLedger{
		positions: make(map[string]*Position),
		byStock:   make(map[string][]string),
		clock:     clock,
		logger:    logger,
	}
}

// Open records a new position at the fill price.
func (l *PositionLedger) Open(req OpenRequest) (Position, error) {
	if req.Quantity <= 0 {
		return Position{}, ErrInvalidQuantity
	}
	if !req.Price.IsPositive() {
		return Position{}, ErrInvalidPrice
	}
	highest := req.Price
	if req.HighWater.GreaterThan(highest) {
		highest = req.HighWater
	}

	p := &Position{
		ID:                uuid.NewString(),
		StockCode:         req.StockCode,
		StockName:         req.StockName,
		Style:             req.Style,
		EntryOrderID:      req.OrderID,
		EntryPrice:        req.Price,
		Quantity:          req.Quantity,
		EntryTime:         l.clock.Now(),
		StopLossPrice:     req.Levels.StopLoss,
		TakeProfit1:       req.Levels.TakeProfit1,
		TakeProfit2:       req.Levels.TakeProfit2,
		TrailingStopPct:   req.Levels.TrailingStopPct,
		CurrentPrice:      req.Price,
		HighestPrice:      highest,
		RemainingQuantity: req.Quantity,
		RealizedPnL:       decimal.Zero,
		UnrealizedPnL:     decimal.Zero,
		Status:            PositionOpen,
	}
	if p.StockName == "" {
		p.StockName = p.StockCode
	}

	l.mu.Lock()
	l.positions[p.ID] = p
	l.byStock[p.StockCode] = append(l.byStock[p.StockCode], p.ID)
	l.order = append(l.order, p.ID)
	out := *p
	l.mu.Unlock()

	l.logger.WithFields(zaplogrus.Fields{
		"position_id": out.ID,
		"stock_code":  out.StockCode,
		"quantity":    out.Quantity,
		"entry_price": out.EntryPrice.String(),
	}).Info("Position opened")
	return out, nil
}

// TopUp averages an additional fill from the same entry order into the position. Exit levels
// are re-derived by scaling them with the new average entry.
func (l *PositionLedger) TopUp(id string, price decimal.Decimal, qty int64) (Position, error) {
	if qty <= 0 {
		return Position{}, ErrInvalidQuantity
	}
	if !price.IsPositive() {
		return Position{}, ErrInvalidPrice
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[id]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if !p.IsOpen() {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionClosed, id)
	}

	oldEntry := p.EntryPrice
	held := decimal.NewFromInt(p.RemainingQuantity)
	added := decimal.NewFromInt(qty)
	newEntry := oldEntry.Mul(held).Add(price.Mul(added)).Div(held.Add(added))

	scale := newEntry.Div(oldEntry)
	p.StopLossPrice = p.StopLossPrice.Mul(scale)
	p.TakeProfit1 = p.TakeProfit1.Mul(scale)
	p.TakeProfit2 = p.TakeProfit2.Mul(scale)
	p.EntryPrice = newEntry
	p.Quantity += qty
	p.RemainingQuantity += qty
	p.revalue()

	return *p, nil
}

// UpdatePrice observes a price and evaluates the exit policy. It never sells; the caller acts
// on the returned signal. Closed positions are returned unchanged with no signal.
func (l *PositionLedger) UpdatePrice(id string, price decimal.Decimal) (PriceUpdate, error) {
	return l.Observe(id, price, price, price)
}

// Observe is UpdatePrice over a range: the close marks the position, the high raises the
// highest price, and the policy tests stops against low and targets against high.
func (l *PositionLedger) Observe(id string, low, high, last decimal.Decimal) (PriceUpdate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[id]
	if !ok {
		return PriceUpdate{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if !p.IsOpen() {
		return PriceUpdate{Position: *p}, nil
	}

	p.CurrentPrice = last
	if high.GreaterThan(p.HighestPrice) {
		p.HighestPrice = high
	}
	p.revalue()

	update := PriceUpdate{Position: *p}
	if sig, hit := EvaluateExit(p.ExitState(), low, high); hit {
		update.Exit = &sig
	}
	return update, nil
}

// PartialClose sells qty shares at price. A quantity at or above the remaining closes the
// position.
func (l *PositionLedger) PartialClose(id string, qty int64, price decimal.Decimal, reason ExitReason) (Position, error) {
	if qty <= 0 {
		return Position{}, ErrInvalidQuantity
	}

	l.mu.Lock()
	p, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if !p.IsOpen() {
		l.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrPositionClosed, id)
	}

	if qty > p.RemainingQuantity {
		qty = p.RemainingQuantity
	}
	pnl := price.Sub(p.EntryPrice).Mul(decimal.NewFromInt(qty))
	p.RealizedPnL = p.RealizedPnL.Add(pnl)
	p.SoldQuantity += qty
	p.RemainingQuantity -= qty
	p.CurrentPrice = price

	next := PositionPartialClosed
	if p.RemainingQuantity == 0 {
		next = PositionClosed
		now := l.clock.Now()
		p.ExitTime = &now
		p.ExitReason = reason
	}
	p.advance(next)
	p.revalue()
	out := *p
	l.mu.Unlock()

	l.logger.WithFields(zaplogrus.Fields{
		"position_id": out.ID,
		"stock_code":  out.StockCode,
		"sold":        qty,
		"remaining":   out.RemainingQuantity,
		"price":       price.String(),
		"reason":      string(reason),
		"pnl":         pnl.String(),
	}).Info("Position reduced")
	return out, nil
}

// Close sells the remaining quantity.
func (l *PositionLedger) Close(id string, price decimal.Decimal, reason ExitReason) (Position, error) {
	l.mu.RLock()
	p, ok := l.positions[id]
	var remaining int64
	if ok {
		remaining = p.RemainingQuantity
	}
	l.mu.RUnlock()

	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if remaining == 0 {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionClosed, id)
	}
	return l.PartialClose(id, remaining, price, reason)
}

// Get returns a copy of the position.
func (l *PositionLedger) Get(id string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// ByStock returns every position ever opened for the stock, oldest first.
func (l *PositionLedger) ByStock(code string) []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byStock[code]
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, *l.positions[id])
	}
	return out
}

// OpenByStock returns the stock's positions that still hold shares.
func (l *PositionLedger) OpenByStock(code string) []Position {
	var out []Position
	for _, p := range l.ByStock(code) {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// OpenPositions returns every position that still holds shares, oldest first.
func (l *PositionLedger) OpenPositions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Position
	for _, id := range l.order {
		if p := l.positions[id]; p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out
}

// All returns every position, oldest first.
func (l *PositionLedger) All() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.positions[id])
	}
	return out
}

// OpenCount is the number of positions holding shares.
func (l *PositionLedger) OpenCount() int {
	return len(l.OpenPositions())
}

// OpenStocks lists the distinct stock codes with open positions, sorted.
func (l *PositionLedger) OpenStocks() []string {
	seen := make(map[string]struct{})
	for _, p := range l.OpenPositions() {
		seen[p.StockCode] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for code := range seen {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// TotalRealizedPnL sums realized P&L over every position.
func (l *PositionLedger) TotalRealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.All() {
		total = total.Add(p.RealizedPnL)
	}
	return total
}

// TotalUnrealizedPnL sums unrealized P&L over open positions.
func (l *PositionLedger) TotalUnrealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.OpenPositions() {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

func (l *PositionLedger) Summary() PositionSummary {
	all := l.All()
	open := l.OpenPositions()
	s := PositionSummary{
		TotalPositions:     len(all),
		OpenPositions:      len(open),
		TotalUnrealizedPnL: decimal.Zero,
		TotalRealizedPnL:   decimal.Zero,
		Positions:          open,
	}
	for _, p := range all {
		s.TotalRealizedPnL = s.TotalRealizedPnL.Add(p.RealizedPnL)
	}
	for _, p := range open {
		s.TotalUnrealizedPnL = s.TotalUnrealizedPnL.Add(p.UnrealizedPnL)
	}
	return s
}

// Restore replaces the ledger contents with persisted positions, ordered by entry time.
func (l *PositionLedger) Restore(positions []Position) {
	sorted := append([]Position(nil), positions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EntryTime.Before(sorted[j].EntryTime) })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]*Position, len(sorted))
	l.byStock = make(map[string][]string)
	l.order = l.order[:0]
	for i := range sorted {
		p := sorted[i]
		l.positions[p.ID] = &p
		l.byStock[p.StockCode] = append(l.byStock[p.StockCode], p.ID)
		l.order = append(l.order, p.ID)
	}
}

func (p *Position) revalue() {
	p.UnrealizedPnL = p.CurrentPrice.Sub(p.EntryPrice).Mul(decimal.NewFromInt(p.RemainingQuantity))
	if p.EntryPrice.IsPositive() {
		p.UnrealizedPnLPct = p.CurrentPrice.Div(p.EntryPrice).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(2).InexactFloat64()
	}
}

// advance moves status forward only.
func (p *Position) advance(next PositionStatus) {
	if next.rank() > p.Status.rank() {
		p.Status = next
	}
}
