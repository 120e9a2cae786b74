package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperConfig holds configuration for the in-process paper broker.
type PaperConfig struct {
	// InitialCash is the starting account balance
	InitialCash decimal.Decimal
	// SlippagePct moves market fills against the order (e.g. 0.1 = 0.1%)
	SlippagePct decimal.Decimal
	// CommissionRate is charged on fill notional (e.g. 0.00015)
	CommissionRate decimal.Decimal
}

// DefaultPaperConfig returns default configuration.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		InitialCash:    decimal.NewFromInt(10_000_000),
		SlippagePct:    decimal.NewFromFloat(0.1),
		CommissionRate: decimal.NewFromFloat(0.00015),
	}
}

// Clock interface for time dependency injection.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type paperStock struct {
	info interfaces.StockInfo
	bars []interfaces.Bar
	last decimal.Decimal
}

type paperHolding struct {
	name     string
	qty      int64
	avgPrice decimal.Decimal
}

type restingOrder struct {
	id  string
	req interfaces.OrderRequest
}

// PaperBroker fills orders against prices loaded into it. Market orders fill in full at the last
// price moved by the slippage; limit orders fill at their price when marketable and otherwise
// rest until canceled. Buys without the cash and sells without the shares are REJECTED.
type PaperBroker struct {
	config PaperConfig
	clock  Clock
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	cash      decimal.Decimal
	stocks    map[string]*paperStock
	holdings  map[string]*paperHolding
	resting   map[string]restingOrder
	seq       int
}

func NewPaperBroker(config PaperConfig, clock Clock, logger *zap.Logger) *PaperBroker {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperBroker{
		config:   config,
		clock:    clock,
		logger:   logger,
		cash:     config.InitialCash,
		stocks:   make(map[string]*paperStock),
		holdings: make(map[string]*paperHolding),
		resting:  make(map[string]restingOrder),
	}
}

// LoadBars registers a stock with its history; the last close becomes the current price.
func (b *PaperBroker) LoadBars(info interfaces.StockInfo, bars []interfaces.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &paperStock{info: info, bars: append([]interfaces.Bar(nil), bars...)}
	if n := len(bars); n > 0 {
		s.last = decimal.NewFromFloat(bars[n-1].Close)
	} else {
		s.last = info.Price
	}
	if info.Name == "" {
		s.info.Name = info.Code
	}
	b.stocks[info.Code] = s
}

// SetPrice moves the current price of a loaded stock.
func (b *PaperBroker) SetPrice(code string, price decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stocks[code]
	if !ok {
		return fmt.Errorf("unknown stock %s", code)
	}
	s.last = price
	return nil
}

func (b *PaperBroker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *PaperBroker) Disconnect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *PaperBroker) stock(code string) (*paperStock, error) {
	s, ok := b.stocks[code]
	if !ok {
		return nil, fmt.Errorf("unknown stock %s", code)
	}
	return s, nil
}

func (b *PaperBroker) GetQuote(ctx context.Context, code string) (*interfaces.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.stock(code)
	if err != nil {
		return nil, err
	}
	q := &interfaces.Quote{
		StockCode: code,
		Name:      s.info.Name,
		Price:     s.last,
		Timestamp: b.clock.Now(),
	}
	if n := len(s.bars); n > 0 {
		bar := s.bars[n-1]
		q.Open = decimal.NewFromFloat(bar.Open)
		q.High = decimal.NewFromFloat(bar.High)
		q.Low = decimal.NewFromFloat(bar.Low)
		q.Volume = bar.Volume
		if n > 1 {
			prev := decimal.NewFromFloat(s.bars[n-2].Close)
			q.PrevClose = prev
			q.Change = s.last.Sub(prev)
			if prev.IsPositive() {
				q.ChangeRate = q.Change.Div(prev).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
			}
		}
	}
	return q, nil
}

func (b *PaperBroker) GetQuotes(ctx context.Context, codes []string) ([]*interfaces.Quote, error) {
	out := make([]*interfaces.Quote, 0, len(codes))
	for _, code := range codes {
		q, err := b.GetQuote(ctx, code)
		if err != nil {
			b.logger.Debug("Skipping quote", zap.String("stock_code", code), zap.Error(err))
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (b *PaperBroker) GetOHLCV(ctx context.Context, code, _ string, count int) ([]interfaces.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.stock(code)
	if err != nil {
		return nil, err
	}
	bars := s.bars
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return append([]interfaces.Bar(nil), bars...), nil
}

// GetOrderBook synthesises five levels a tenth of a percent apart, sized from the last bar.
func (b *PaperBroker) GetOrderBook(ctx context.Context, code string) (*interfaces.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.stock(code)
	if err != nil {
		return nil, err
	}
	price := s.last.InexactFloat64()
	var base int64 = 1000
	if n := len(s.bars); n > 0 && s.bars[n-1].Volume > 0 {
		base = s.bars[n-1].Volume / 100
	}
	book := &interfaces.OrderBook{StockCode: code, Timestamp: b.clock.Now()}
	for i := 1; i <= 5; i++ {
		step := price * 0.001 * float64(i)
		vol := base / int64(i)
		book.AskPrices = append(book.AskPrices, price+step)
		book.BidPrices = append(book.BidPrices, price-step)
		book.AskVolumes = append(book.AskVolumes, vol)
		book.BidVolumes = append(book.BidVolumes, vol)
		book.TotalAskVolume += vol
		book.TotalBidVolume += vol
	}
	return book, nil
}

// GetExecutionData splits the last bar's volume by the direction of its body.
func (b *PaperBroker) GetExecutionData(ctx context.Context, code string) (*interfaces.ExecutionData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.stock(code)
	if err != nil {
		return nil, err
	}
	data := &interfaces.ExecutionData{StockCode: code, Timestamp: b.clock.Now()}
	if n := len(s.bars); n > 0 {
		bar := s.bars[n-1]
		major, minor := bar.Volume*6/10, bar.Volume-bar.Volume*6/10
		if bar.Close >= bar.Open {
			data.BuyVolume, data.SellVolume = major, minor
		} else {
			data.BuyVolume, data.SellVolume = minor, major
		}
	}
	return data, nil
}

func (b *PaperBroker) GetBalance(ctx context.Context) (*interfaces.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	purchase, evaluation := decimal.Zero, decimal.Zero
	for code, h := range b.holdings {
		qty := decimal.NewFromInt(h.qty)
		purchase = purchase.Add(h.avgPrice.Mul(qty))
		if s, ok := b.stocks[code]; ok {
			evaluation = evaluation.Add(s.last.Mul(qty))
		}
	}
	bal := &interfaces.Balance{
		TotalAsset:      b.cash.Add(evaluation),
		AvailableCash:   b.cash,
		TotalPurchase:   purchase,
		TotalEvaluation: evaluation,
		TotalPnL:        evaluation.Sub(purchase),
	}
	if purchase.IsPositive() {
		bal.TotalPnLRate = bal.TotalPnL.Div(purchase).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return bal, nil
}

func (b *PaperBroker) GetPositions(ctx context.Context) ([]interfaces.HoldingStock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]interfaces.HoldingStock, 0, len(b.holdings))
	for code, h := range b.holdings {
		price := h.avgPrice
		if s, ok := b.stocks[code]; ok {
			price = s.last
		}
		qty := decimal.NewFromInt(h.qty)
		eval := price.Mul(qty)
		pnl := eval.Sub(h.avgPrice.Mul(qty))
		hs := interfaces.HoldingStock{
			StockCode:    code,
			StockName:    h.name,
			Quantity:     h.qty,
			AvgPrice:     h.avgPrice,
			CurrentPrice: price,
			Evaluation:   eval,
			PnL:          pnl,
		}
		if h.avgPrice.IsPositive() {
			hs.PnLRate = price.Div(h.avgPrice).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		}
		out = append(out, hs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockCode < out[j].StockCode })
	return out, nil
}

func (b *PaperBroker) PlaceOrder(ctx context.Context, req interfaces.OrderRequest) (*interfaces.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.stock(req.StockCode)
	if err != nil {
		return nil, err
	}
	b.seq++
	result := &interfaces.OrderResult{
		OrderID:    fmt.Sprintf("P%06d", b.seq),
		StockCode:  req.StockCode,
		Side:       req.Side,
		Type:       req.Type,
		OrderPrice: req.Price,
		OrderQty:   req.Quantity,
		Timestamp:  b.clock.Now(),
	}
	if req.Quantity <= 0 {
		return b.reject(result, "quantity must be positive"), nil
	}

	fillPrice, marketable := b.fillPrice(s.last, req)
	if !marketable {
		b.resting[result.OrderID] = restingOrder{id: result.OrderID, req: req}
		result.Status = interfaces.ExecutionAccepted
		result.Message = "order accepted"
		return result, nil
	}

	qty := decimal.NewFromInt(req.Quantity)
	notional := fillPrice.Mul(qty)
	commission := notional.Mul(b.config.CommissionRate)

	switch req.Side {
	case interfaces.OrderSideBuy:
		if notional.Add(commission).GreaterThan(b.cash) {
			return b.reject(result, interfaces.ErrInsufficientFunds.Error()), nil
		}
		b.cash = b.cash.Sub(notional).Sub(commission)
		h, ok := b.holdings[req.StockCode]
		if !ok {
			h = &paperHolding{name: s.info.Name, avgPrice: decimal.Zero}
			b.holdings[req.StockCode] = h
		}
		held := decimal.NewFromInt(h.qty)
		h.avgPrice = h.avgPrice.Mul(held).Add(notional).Div(held.Add(qty))
		h.qty += req.Quantity

	case interfaces.OrderSideSell:
		h, ok := b.holdings[req.StockCode]
		if !ok || h.qty < req.Quantity {
			return b.reject(result, interfaces.ErrInsufficientShares.Error()), nil
		}
		b.cash = b.cash.Add(notional).Sub(commission)
		h.qty -= req.Quantity
		if h.qty == 0 {
			delete(b.holdings, req.StockCode)
		}

	default:
		return b.reject(result, fmt.Sprintf("unknown side %q", req.Side)), nil
	}

	result.ExecutedPrice = fillPrice
	result.ExecutedQty = req.Quantity
	result.Status = interfaces.ExecutionFilled
	result.Message = "filled"

	b.logger.Info("Paper order filled",
		zap.String("order_id", result.OrderID),
		zap.String("stock_code", req.StockCode),
		zap.String("side", string(req.Side)),
		zap.Int64("quantity", req.Quantity),
		zap.String("price", fillPrice.String()))
	return result, nil
}

// fillPrice applies slippage to market orders. Limit orders fill at their own price when the
// last price has crossed it.
func (b *PaperBroker) fillPrice(last decimal.Decimal, req interfaces.OrderRequest) (decimal.Decimal, bool) {
	if req.Type == interfaces.OrderTypeLimit {
		if req.Side == interfaces.OrderSideBuy && last.LessThanOrEqual(req.Price) {
			return req.Price, true
		}
		if req.Side == interfaces.OrderSideSell && last.GreaterThanOrEqual(req.Price) {
			return req.Price, true
		}
		return decimal.Zero, false
	}

	one := decimal.NewFromInt(1)
	slip := b.config.SlippagePct.Div(decimal.NewFromInt(100))
	if req.Side == interfaces.OrderSideBuy {
		return last.Mul(one.Add(slip)).Round(2), true
	}
	return last.Mul(one.Sub(slip)).Round(2), true
}

func (b *PaperBroker) reject(result *interfaces.OrderResult, msg string) *interfaces.OrderResult {
	result.Status = interfaces.ExecutionRejected
	result.Message = msg
	b.logger.Warn("Paper order rejected",
		zap.String("order_id", result.OrderID),
		zap.String("stock_code", result.StockCode),
		zap.String("reason", msg))
	return result
}

// CancelOrder cancels a resting limit order. Unknown or filled orders return false.
func (b *PaperBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.resting[orderID]; !ok {
		return false, nil
	}
	delete(b.resting, orderID)
	return true, nil
}

func (b *PaperBroker) GetStockList(ctx context.Context, market string) ([]interfaces.StockInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]interfaces.StockInfo, 0, len(b.stocks))
	for _, s := range b.stocks {
		if market != "" && s.info.Market != market {
			continue
		}
		info := s.info
		info.Price = s.last
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

var _ interfaces.Broker = (*PaperBroker)(nil)
