package interfaces

import "context"

// Broker is the port every brokerage adapter implements. The trading core never depends on a
// concrete wire protocol; live adapters, the paper broker and test doubles all satisfy this.
//
// Implementations must be safe for concurrent use. Every call honours ctx cancellation so callers
// can bound latency.
type Broker interface {
	// Connect establishes the session. It is idempotent.
	Connect(ctx context.Context) error
	// Disconnect releases the session.
	Disconnect(ctx context.Context) error

	GetQuote(ctx context.Context, stockCode string) (*Quote, error)
	GetQuotes(ctx context.Context, stockCodes []string) ([]*Quote, error)
	// GetOHLCV returns up to count bars of the given period ("D", "W", "M" or a minute
	// interval such as "1m"), oldest first.
	GetOHLCV(ctx context.Context, stockCode, period string, count int) ([]Bar, error)
	GetOrderBook(ctx context.Context, stockCode string) (*OrderBook, error)
	GetExecutionData(ctx context.Context, stockCode string) (*ExecutionData, error)

	GetBalance(ctx context.Context) (*Balance, error)
	GetPositions(ctx context.Context) ([]HoldingStock, error)

	// PlaceOrder submits an order. A refusal is reported as a REJECTED result, not an error;
	// errors are reserved for transport failures.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// GetStockList lists tradable stocks, optionally filtered by market ("" for all).
	GetStockList(ctx context.Context, market string) ([]StockInfo, error)
}
