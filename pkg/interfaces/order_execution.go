package interfaces

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType defines how an order is priced.
type OrderType string

const (
	// OrderTypeMarket executes immediately at the best available price
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit executes only at the requested price or better
	OrderTypeLimit OrderType = "LIMIT"
)

// OrderSide defines the direction of the order.
type OrderSide string

const (
	// OrderSideBuy represents a buy order
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell represents a sell order
	OrderSideSell OrderSide = "SELL"
)

// ExecutionStatus is the broker-side state reported in an OrderResult.
type ExecutionStatus string

const (
	// ExecutionAccepted means the broker queued the order without a fill yet
	ExecutionAccepted ExecutionStatus = "ACCEPTED"
	// ExecutionPartial means part of the quantity executed
	ExecutionPartial ExecutionStatus = "PARTIAL"
	// ExecutionFilled means the full quantity executed
	ExecutionFilled ExecutionStatus = "FILLED"
	// ExecutionRejected means the broker refused the order
	ExecutionRejected ExecutionStatus = "REJECTED"
)

var (
	// ErrInsufficientFunds is reported when cash does not cover a buy
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares is reported when holdings do not cover a sell
	ErrInsufficientShares = errors.New("insufficient shares")
)

// OrderRequest is what the trading core asks the broker to execute.
type OrderRequest struct {
	StockCode string          `json:"stock_code"`
	Side      OrderSide       `json:"side"`
	Type      OrderType       `json:"type"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price,omitempty"` // required for LIMIT orders
}

// OrderResult is the broker acknowledgement for a placed order.
type OrderResult struct {
	// OrderID is the broker's identifier, used for cancellation
	OrderID       string          `json:"order_id"`
	StockCode     string          `json:"stock_code"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	OrderPrice    decimal.Decimal `json:"order_price"`
	OrderQty      int64           `json:"order_qty"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	ExecutedQty   int64           `json:"executed_qty"`
	Status        ExecutionStatus `json:"status"`
	Message       string          `json:"message"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Rejected reports whether the broker refused the order outright.
func (r *OrderResult) Rejected() bool {
	return r != nil && r.Status == ExecutionRejected
}
