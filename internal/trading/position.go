// Package trading owns the live decision-and-execution state: positions, orders, the shared
// exit policy and the engine that ties them to a broker.
package trading

import (
	"errors"
	"time"

	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/shopspring/decimal"
)

// PositionStatus only moves forward: OPEN -> PARTIAL_CLOSED -> CLOSED.
type PositionStatus string

const (
	PositionOpen          PositionStatus = "OPEN"
	PositionPartialClosed PositionStatus = "PARTIAL_CLOSED"
	PositionClosed        PositionStatus = "CLOSED"
)

func (s PositionStatus) rank() int {
	switch s {
	case PositionOpen:
		return 0
	case PositionPartialClosed:
		return 1
	case PositionClosed:
		return 2
	}
	return -1
}

// ExitReason records why shares were sold.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitTakeProfit1  ExitReason = "TAKE_PROFIT_1"
	ExitTakeProfit2  ExitReason = "TAKE_PROFIT_2"
	ExitSignal       ExitReason = "SIGNAL"
	ExitManual       ExitReason = "MANUAL"
	ExitBacktestEnd  ExitReason = "BACKTEST_END"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position is closed")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidPrice     = errors.New("price must be positive")
)

// Position is a long holding opened by a filled BUY order. Quantities are whole shares.
type Position struct {
	ID                string                `json:"position_id"`
	StockCode         string                `json:"stock_code"`
	StockName         string                `json:"stock_name"`
	Style             strategy.TradingStyle `json:"trading_style"`
	EntryOrderID      string                `json:"entry_order_id,omitempty"`
	EntryPrice        decimal.Decimal       `json:"entry_price"`
	Quantity          int64                 `json:"quantity"`
	EntryTime         time.Time             `json:"entry_time"`
	StopLossPrice     decimal.Decimal       `json:"stop_loss_price"`
	TakeProfit1       decimal.Decimal       `json:"take_profit_1"`
	TakeProfit2       decimal.Decimal       `json:"take_profit_2"`
	TrailingStopPct   float64               `json:"trailing_stop_pct"`
	CurrentPrice      decimal.Decimal       `json:"current_price"`
	HighestPrice      decimal.Decimal       `json:"highest_price"`
	SoldQuantity      int64                 `json:"sold_quantity"`
	RemainingQuantity int64                 `json:"remaining_quantity"`
	RealizedPnL       decimal.Decimal       `json:"realized_pnl"`
	UnrealizedPnL     decimal.Decimal       `json:"unrealized_pnl"`
	UnrealizedPnLPct  float64               `json:"unrealized_pnl_pct"`
	Status            PositionStatus        `json:"status"`
	ExitTime          *time.Time            `json:"exit_time,omitempty"`
	ExitReason        ExitReason            `json:"exit_reason,omitempty"`
}

// IsOpen is true until the position is fully closed.
func (p Position) IsOpen() bool {
	return p.Status != PositionClosed
}

// ExitState is the view of the position the exit policy reads.
func (p Position) ExitState() ExitState {
	return ExitState{
		EntryPrice:      p.EntryPrice,
		StopLoss:        p.StopLossPrice,
		TakeProfit1:     p.TakeProfit1,
		TakeProfit2:     p.TakeProfit2,
		TrailingStopPct: p.TrailingStopPct,
		HighestPrice:    p.HighestPrice,
		SoldQuantity:    p.SoldQuantity,
	}
}

// MarketValue is the remaining shares at the current price.
func (p Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.RemainingQuantity))
}

// ExitLevels are the absolute prices a position exits at.
type ExitLevels struct {
	StopLoss        decimal.Decimal
	TakeProfit1     decimal.Decimal
	TakeProfit2     decimal.Decimal
	TrailingStopPct float64
}

// LevelsFromParams derives exit levels from an entry price and percentage parameters.
func LevelsFromParams(entry decimal.Decimal, p strategy.TradeParams) ExitLevels {
	return ExitLevels{
		StopLoss:        pctLevel(entry, p.StopLossPct),
		TakeProfit1:     pctLevel(entry, p.TakeProfit1Pct),
		TakeProfit2:     pctLevel(entry, p.TakeProfit2Pct),
		TrailingStopPct: p.TrailingStopPct,
	}
}

var hundred = decimal.NewFromInt(100)

func pctLevel(price decimal.Decimal, pct float64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct).Div(hundred)))
}
