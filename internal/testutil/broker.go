package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockBroker is a testify mock of interfaces.Broker.
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBroker) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBroker) GetQuote(ctx context.Context, stockCode string) (*interfaces.Quote, error) {
	args := m.Called(ctx, stockCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Quote), args.Error(1)
}

func (m *MockBroker) GetQuotes(ctx context.Context, stockCodes []string) ([]*interfaces.Quote, error) {
	args := m.Called(ctx, stockCodes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*interfaces.Quote), args.Error(1)
}

func (m *MockBroker) GetOHLCV(ctx context.Context, stockCode, period string, count int) ([]interfaces.Bar, error) {
	args := m.Called(ctx, stockCode, period, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.Bar), args.Error(1)
}

func (m *MockBroker) GetOrderBook(ctx context.Context, stockCode string) (*interfaces.OrderBook, error) {
	args := m.Called(ctx, stockCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.OrderBook), args.Error(1)
}

func (m *MockBroker) GetExecutionData(ctx context.Context, stockCode string) (*interfaces.ExecutionData, error) {
	args := m.Called(ctx, stockCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ExecutionData), args.Error(1)
}

func (m *MockBroker) GetBalance(ctx context.Context) (*interfaces.Balance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Balance), args.Error(1)
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]interfaces.HoldingStock, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.HoldingStock), args.Error(1)
}

func (m *MockBroker) PlaceOrder(ctx context.Context, req interfaces.OrderRequest) (*interfaces.OrderResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.OrderResult), args.Error(1)
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	args := m.Called(ctx, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockBroker) GetStockList(ctx context.Context, market string) ([]interfaces.StockInfo, error) {
	args := m.Called(ctx, market)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.StockInfo), args.Error(1)
}

// ScriptedBroker is an in-memory broker whose market orders fill at the quoted price. Tests
// steer it through its exported fields; all access is guarded by the embedded mutex.
type ScriptedBroker struct {
	sync.Mutex

	Quotes  map[string]decimal.Decimal
	Names   map[string]string
	Bars    map[string][]interfaces.Bar
	Stocks  []interfaces.StockInfo
	Balance interfaces.Balance

	// Reject refuses orders for these stock codes
	Reject map[string]string
	// FillRatio below 1 leaves orders PARTIAL
	FillRatio float64
	// PlaceErr fails every placement at the transport level
	PlaceErr error
	// CancelResult is returned by CancelOrder
	CancelResult bool

	Placed    []interfaces.OrderRequest
	Canceled  []string
	Connected bool

	seq int
}

func NewScriptedBroker() *ScriptedBroker {
	return &ScriptedBroker{
		Quotes:       make(map[string]decimal.Decimal),
		Names:        make(map[string]string),
		Bars:         make(map[string][]interfaces.Bar),
		Reject:       make(map[string]string),
		FillRatio:    1,
		CancelResult: true,
		Balance: interfaces.Balance{
			TotalAsset:    decimal.NewFromInt(10_000_000),
			AvailableCash: decimal.NewFromInt(10_000_000),
		},
	}
}

// SetQuote sets the price orders for code fill at.
func (b *ScriptedBroker) SetQuote(code string, price decimal.Decimal) {
	b.Lock()
	defer b.Unlock()
	b.Quotes[code] = price
}

// PlacedOrders returns a copy of every request seen so far.
func (b *ScriptedBroker) PlacedOrders() []interfaces.OrderRequest {
	b.Lock()
	defer b.Unlock()
	return append([]interfaces.OrderRequest(nil), b.Placed...)
}

func (b *ScriptedBroker) Connect(context.Context) error {
	b.Lock()
	defer b.Unlock()
	b.Connected = true
	return nil
}

func (b *ScriptedBroker) Disconnect(context.Context) error {
	b.Lock()
	defer b.Unlock()
	b.Connected = false
	return nil
}

func (b *ScriptedBroker) GetQuote(ctx context.Context, code string) (*interfaces.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	price, ok := b.Quotes[code]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", code)
	}
	name := b.Names[code]
	if name == "" {
		name = code
	}
	return &interfaces.Quote{StockCode: code, Name: name, Price: price, Timestamp: time.Now()}, nil
}

func (b *ScriptedBroker) GetQuotes(ctx context.Context, codes []string) ([]*interfaces.Quote, error) {
	out := make([]*interfaces.Quote, 0, len(codes))
	for _, code := range codes {
		q, err := b.GetQuote(ctx, code)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (b *ScriptedBroker) GetOHLCV(_ context.Context, code, _ string, count int) ([]interfaces.Bar, error) {
	b.Lock()
	defer b.Unlock()
	bars := b.Bars[code]
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return append([]interfaces.Bar(nil), bars...), nil
}

func (b *ScriptedBroker) GetOrderBook(_ context.Context, code string) (*interfaces.OrderBook, error) {
	return &interfaces.OrderBook{StockCode: code}, nil
}

func (b *ScriptedBroker) GetExecutionData(_ context.Context, code string) (*interfaces.ExecutionData, error) {
	return &interfaces.ExecutionData{StockCode: code}, nil
}

func (b *ScriptedBroker) GetBalance(context.Context) (*interfaces.Balance, error) {
	b.Lock()
	defer b.Unlock()
	bal := b.Balance
	return &bal, nil
}

func (b *ScriptedBroker) GetPositions(context.Context) ([]interfaces.HoldingStock, error) {
	return nil, nil
}

func (b *ScriptedBroker) PlaceOrder(ctx context.Context, req interfaces.OrderRequest) (*interfaces.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()

	b.Placed = append(b.Placed, req)
	if b.PlaceErr != nil {
		return nil, b.PlaceErr
	}
	b.seq++
	result := &interfaces.OrderResult{
		OrderID:    fmt.Sprintf("B%06d", b.seq),
		StockCode:  req.StockCode,
		Side:       req.Side,
		Type:       req.Type,
		OrderPrice: req.Price,
		OrderQty:   req.Quantity,
		Timestamp:  time.Now(),
	}
	if msg, ok := b.Reject[req.StockCode]; ok {
		result.Status = interfaces.ExecutionRejected
		result.Message = msg
		return result, nil
	}

	price, ok := b.Quotes[req.StockCode]
	if !ok || req.Type == interfaces.OrderTypeLimit {
		price = req.Price
	}
	qty := req.Quantity
	if b.FillRatio < 1 {
		qty = int64(float64(req.Quantity) * b.FillRatio)
	}
	result.ExecutedQty = qty
	result.ExecutedPrice = price
	switch {
	case qty == 0:
		result.Status = interfaces.ExecutionAccepted
	case qty < req.Quantity:
		result.Status = interfaces.ExecutionPartial
	default:
		result.Status = interfaces.ExecutionFilled
	}
	return result, nil
}

func (b *ScriptedBroker) CancelOrder(_ context.Context, orderID string) (bool, error) {
	b.Lock()
	defer b.Unlock()
	b.Canceled = append(b.Canceled, orderID)
	return b.CancelResult, nil
}

func (b *ScriptedBroker) GetStockList(_ context.Context, market string) ([]interfaces.StockInfo, error) {
	b.Lock()
	defer b.Unlock()
	var out []interfaces.StockInfo
	for _, s := range b.Stocks {
		if market == "" || s.Market == market {
			out = append(out, s)
		}
	}
	return out, nil
}

var (
	_ interfaces.Broker = (*MockBroker)(nil)
	_ interfaces.Broker = (*ScriptedBroker)(nil)
)
