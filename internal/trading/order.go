package trading

import (
	"errors"
	"time"

	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
)

// OrderStatus moves PENDING -> PARTIAL -> FILLED, or PENDING/PARTIAL -> CANCELED.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderPartial  OrderStatus = "PARTIAL"
	OrderFilled   OrderStatus = "FILLED"
	OrderCanceled OrderStatus = "CANCELED"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPartial, OrderFilled, OrderCanceled},
	OrderPartial: {OrderPartial, OrderFilled, OrderCanceled},
}

// CanTransition reports whether from -> to is a legal order transition.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrIllegalTransition   = errors.New("illegal order status transition")
	ErrInvalidOrderRequest = errors.New("invalid order request")
	// ErrOrderUnconfirmed means the broker call failed in transit; the order may still execute.
	ErrOrderUnconfirmed = errors.New("order placement unconfirmed")
)

// Order is one submission attempt. PositionID links exit orders to the position they reduce
// and entry orders to the position their fill opened.
type Order struct {
	ID             string               `json:"order_id"`
	BrokerOrderID  string               `json:"broker_order_id,omitempty"`
	StockCode      string               `json:"stock_code"`
	StockName      string               `json:"stock_name"`
	Side           interfaces.OrderSide `json:"side"`
	Type           interfaces.OrderType `json:"order_type"`
	RequestedPrice decimal.Decimal      `json:"requested_price"`
	RequestedQty   int64                `json:"requested_qty"`
	ExecutedPrice  decimal.Decimal      `json:"executed_price"`
	ExecutedQty    int64                `json:"executed_qty"`
	Status         OrderStatus          `json:"status"`
	Message        string               `json:"message,omitempty"`
	Unconfirmed    bool                 `json:"unconfirmed,omitempty"`
	PositionID     string               `json:"position_id,omitempty"`
	Reason         ExitReason           `json:"reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// Notional is executed price x executed quantity.
func (o Order) Notional() decimal.Decimal {
	return o.ExecutedPrice.Mul(decimal.NewFromInt(o.ExecutedQty))
}

// SubmitRequest is what callers hand the order ledger.
type SubmitRequest struct {
	StockCode  string
	StockName  string
	Side       interfaces.OrderSide
	Type       interfaces.OrderType
	Quantity   int64
	Price      decimal.Decimal
	PositionID string
	Reason     ExitReason
}

func (r SubmitRequest) validate() error {
	switch {
	case r.StockCode == "":
		return errors.Join(ErrInvalidOrderRequest, errors.New("stock code is required"))
	case r.Quantity <= 0:
		return errors.Join(ErrInvalidOrderRequest, ErrInvalidQuantity)
	case r.Side != interfaces.OrderSideBuy && r.Side != interfaces.OrderSideSell:
		return errors.Join(ErrInvalidOrderRequest, errors.New("unknown side"))
	case r.Type == interfaces.OrderTypeLimit && !r.Price.IsPositive():
		return errors.Join(ErrInvalidOrderRequest, errors.New("limit orders require a price"))
	}
	return nil
}

// OrderSummary counts orders by outcome and side.
type OrderSummary struct {
	TotalOrders     int             `json:"total_orders"`
	FilledOrders    int             `json:"filled_orders"`
	PendingOrders   int             `json:"pending_orders"`
	CanceledOrders  int             `json:"canceled_orders"`
	BuyOrders       int             `json:"buy_orders"`
	SellOrders      int             `json:"sell_orders"`
	TotalBuyAmount  decimal.Decimal `json:"total_buy_amount"`
	TotalSellAmount decimal.Decimal `json:"total_sell_amount"`
}
