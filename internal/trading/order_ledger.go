package trading

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultBrokerTimeout = 10 * time.Second

// FillEvent carries the order after a fill and the increment that fill added.
type FillEvent struct {
	Order     Order
	FillQty   int64
	FillPrice decimal.Decimal
}

// FillHandler reacts to executed quantity. Handler errors are logged, never propagated.
type FillHandler func(ctx context.Context, fill FillEvent) error

// OrderLedger submits orders to the broker and tracks their lifecycle.
type OrderLedger struct {
	broker  interfaces.Broker
	clock   Clock
	logger  *zaplogrus.Logger
	timeout time.Duration

	mu     sync.RWMutex
	orders map[string]*Order
	seq    []string

	handlersMu sync.RWMutex
	handlers   []FillHandler
}

func NewOrderLedger(broker interfaces.Broker, clock Clock, logger *zaplogrus.Logger) *OrderLedger {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}
	return &OrderLedger{
		broker:  broker,
		clock:   clock,
		logger:  logger,
		timeout: defaultBrokerTimeout,
		orders:  make(map[string]*Order),
	}
}

// SetTimeout bounds each broker call.
func (l *OrderLedger) SetTimeout(d time.Duration) {
	if d > 0 {
		l.timeout = d
	}
}

// OnFill registers a handler invoked for every fill, in registration order.
func (l *OrderLedger) OnFill(h FillHandler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Submit records a PENDING order and places it. A broker refusal cancels the order and returns
// it without error. A transport failure leaves it PENDING and Unconfirmed and returns an error
// wrapping ErrOrderUnconfirmed; a later Reconcile can still fill it. The placement outlives ctx
// cancellation and is bounded by the ledger timeout.
func (l *OrderLedger) Submit(ctx context.Context, req SubmitRequest) (Order, error) {
	if err := req.validate(); err != nil {
		return Order{}, err
	}

	now := l.clock.Now()
	order := &Order{
		ID:             uuid.NewString(),
		StockCode:      req.StockCode,
		StockName:      req.StockName,
		Side:           req.Side,
		Type:           req.Type,
		RequestedPrice: req.Price,
		RequestedQty:   req.Quantity,
		ExecutedPrice:  decimal.Zero,
		Status:         OrderPending,
		PositionID:     req.PositionID,
		Reason:         req.Reason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if order.StockName == "" {
		order.StockName = order.StockCode
	}

	l.mu.Lock()
	l.orders[order.ID] = order
	l.seq = append(l.seq, order.ID)
	l.mu.Unlock()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	result, err := l.broker.PlaceOrder(callCtx, interfaces.OrderRequest{
		StockCode: req.StockCode,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
	})
	cancel()

	if err != nil {
		snapshot := l.markUnconfirmed(order.ID, err.Error())
		l.logger.WithError(err).WithFields(zaplogrus.Fields{
			"order_id":   order.ID,
			"stock_code": order.StockCode,
			"side":       string(order.Side),
		}).Warn("Order submission unconfirmed, left pending")
		return snapshot, fmt.Errorf("place order %s: %w: %w", order.ID, ErrOrderUnconfirmed, err)
	}

	if result == nil {
		result = &interfaces.OrderResult{Status: interfaces.ExecutionRejected, Message: "empty broker response"}
	}
	if result.Rejected() {
		snapshot := l.markCanceled(order.ID, result.Message)
		l.logger.WithFields(zaplogrus.Fields{
			"order_id":   order.ID,
			"stock_code": order.StockCode,
			"side":       string(order.Side),
			"message":    result.Message,
		}).Warn("Order rejected")
		return snapshot, nil
	}

	l.mu.Lock()
	order.BrokerOrderID = result.OrderID
	order.Message = result.Message
	l.mu.Unlock()

	if result.ExecutedQty > 0 {
		if _, err := l.applyFill(ctx, order.ID, result.ExecutedQty, result.ExecutedPrice); err != nil {
			return Order{}, err
		}
	}
	// fill handlers may have linked a position
	o, _ := l.Get(order.ID)
	return o, nil
}

// Reconcile records a later fill reported by the broker. executedQty is cumulative.
func (l *OrderLedger) Reconcile(ctx context.Context, id string, executedQty int64, avgPrice decimal.Decimal) (Order, error) {
	return l.applyFill(ctx, id, executedQty, avgPrice)
}

func (l *OrderLedger) applyFill(ctx context.Context, id string, executedQty int64, avgPrice decimal.Decimal) (Order, error) {
	l.mu.Lock()
	order, ok := l.orders[id]
	if !ok {
		l.mu.Unlock()
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	if executedQty > order.RequestedQty {
		executedQty = order.RequestedQty
	}
	delta := executedQty - order.ExecutedQty
	if delta <= 0 {
		out := *order
		l.mu.Unlock()
		return out, nil
	}

	next := OrderPartial
	if executedQty >= order.RequestedQty {
		next = OrderFilled
	}
	if !CanTransition(order.Status, next) {
		out := *order
		l.mu.Unlock()
		return out, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, out.Status, next)
	}

	// the increment's price follows from the new and previous averages
	prevNotional := order.ExecutedPrice.Mul(decimal.NewFromInt(order.ExecutedQty))
	fillPrice := avgPrice.Mul(decimal.NewFromInt(executedQty)).Sub(prevNotional).Div(decimal.NewFromInt(delta))

	order.ExecutedQty = executedQty
	order.ExecutedPrice = avgPrice
	order.Status = next
	order.Unconfirmed = false
	order.UpdatedAt = l.clock.Now()
	out := *order
	l.mu.Unlock()

	l.logger.WithFields(zaplogrus.Fields{
		"order_id":     out.ID,
		"stock_code":   out.StockCode,
		"side":         string(out.Side),
		"status":       string(out.Status),
		"executed_qty": out.ExecutedQty,
		"price":        out.ExecutedPrice.String(),
	}).Info("Order filled")

	l.notify(ctx, FillEvent{Order: out, FillQty: delta, FillPrice: fillPrice})
	return out, nil
}

func (l *OrderLedger) notify(ctx context.Context, fill FillEvent) {
	l.handlersMu.RLock()
	handlers := append([]FillHandler(nil), l.handlers...)
	l.handlersMu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, fill); err != nil {
			l.logger.WithError(err).WithField("order_id", fill.Order.ID).Error("Fill handler failed")
		}
	}
}

func (l *OrderLedger) markCanceled(id, message string) Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	order := l.orders[id]
	order.Status = OrderCanceled
	order.Message = message
	order.UpdatedAt = l.clock.Now()
	return *order
}

func (l *OrderLedger) markUnconfirmed(id, message string) Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	order := l.orders[id]
	order.Unconfirmed = true
	order.Message = "unconfirmed: " + message
	order.UpdatedAt = l.clock.Now()
	return *order
}

// Outstanding reports whether a non-terminal order exists for the stock and side. A non-empty
// positionID narrows the match to orders linked to that position.
func (l *OrderLedger) Outstanding(code string, side interfaces.OrderSide, positionID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.seq {
		o := l.orders[id]
		if o.Status.Terminal() || o.StockCode != code || o.Side != side {
			continue
		}
		if positionID == "" || o.PositionID == positionID {
			return true
		}
	}
	return false
}

// AttachPosition links an order to the position its fill opened.
func (l *OrderLedger) AttachPosition(id, positionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.orders[id]; ok {
		o.PositionID = positionID
	}
}

// Cancel cancels a PENDING or PARTIAL order. Terminal orders return false without error.
func (l *OrderLedger) Cancel(ctx context.Context, id string) (bool, error) {
	l.mu.RLock()
	order, ok := l.orders[id]
	var status OrderStatus
	var brokerID string
	if ok {
		status = order.Status
		brokerID = order.BrokerOrderID
	}
	l.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if status.Terminal() {
		return false, nil
	}
	if brokerID == "" {
		brokerID = id
	}

	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	done, err := l.broker.CancelOrder(callCtx, brokerID)
	if err != nil {
		l.mu.Lock()
		order.Message = "cancel failed: " + err.Error()
		l.mu.Unlock()
		return false, fmt.Errorf("cancel order %s: %w", id, err)
	}
	if !done {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if order.Status.Terminal() {
		return false, nil
	}
	order.Status = OrderCanceled
	order.Unconfirmed = false
	order.UpdatedAt = l.clock.Now()
	return true, nil
}

// Get returns a copy of the order.
func (l *OrderLedger) Get(id string) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (l *OrderLedger) filter(keep func(*Order) bool) []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Order
	for _, id := range l.seq {
		if o := l.orders[id]; keep(o) {
			out = append(out, *o)
		}
	}
	return out
}

// Pending returns orders that can still fill.
func (l *OrderLedger) Pending() []Order {
	return l.filter(func(o *Order) bool { return !o.Status.Terminal() })
}

func (l *OrderLedger) Filled() []Order {
	return l.filter(func(o *Order) bool { return o.Status == OrderFilled })
}

func (l *OrderLedger) ByStock(code string) []Order {
	return l.filter(func(o *Order) bool { return o.StockCode == code })
}

// All returns every order in submission order.
func (l *OrderLedger) All() []Order {
	return l.filter(func(*Order) bool { return true })
}

// History returns the newest orders first, at most limit of them.
func (l *OrderLedger) History(limit int) []Order {
	out := l.All()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (l *OrderLedger) Summary() OrderSummary {
	s := OrderSummary{TotalBuyAmount: decimal.Zero, TotalSellAmount: decimal.Zero}
	for _, o := range l.All() {
		s.TotalOrders++
		switch o.Status {
		case OrderFilled:
			s.FilledOrders++
			if o.Side == interfaces.OrderSideBuy {
				s.BuyOrders++
				s.TotalBuyAmount = s.TotalBuyAmount.Add(o.Notional())
			} else {
				s.SellOrders++
				s.TotalSellAmount = s.TotalSellAmount.Add(o.Notional())
			}
		case OrderPending:
			s.PendingOrders++
		case OrderCanceled:
			s.CanceledOrders++
		}
	}
	return s
}

// PruneTerminal drops terminal orders last updated before cutoff and returns how many went.
func (l *OrderLedger) PruneTerminal(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.seq[:0]
	removed := 0
	for _, id := range l.seq {
		o := l.orders[id]
		if o.Status.Terminal() && o.UpdatedAt.Before(cutoff) {
			delete(l.orders, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	l.seq = kept
	return removed
}

// Restore replaces the ledger contents with persisted orders.
func (l *OrderLedger) Restore(orders []Order) {
	sorted := append([]Order(nil), orders...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = make(map[string]*Order, len(sorted))
	l.seq = l.seq[:0]
	for i := range sorted {
		o := sorted[i]
		l.orders[o.ID] = &o
		l.seq = append(l.seq, o.ID)
	}
}
