package trading

import "github.com/shopspring/decimal"

// DefaultPartialCloseRatio is the share of the remaining quantity sold at the first target.
const DefaultPartialCloseRatio = 0.5

// ExitState is everything the exit policy needs to know about a position.
type ExitState struct {
	EntryPrice      decimal.Decimal
	StopLoss        decimal.Decimal
	TakeProfit1     decimal.Decimal
	TakeProfit2     decimal.Decimal
	TrailingStopPct float64
	HighestPrice    decimal.Decimal
	SoldQuantity    int64
}

// ExitTrigger is a triggered exit. Level is the price the triggering condition fired at.
type ExitTrigger struct {
	Reason  ExitReason      `json:"reason"`
	Level   decimal.Decimal `json:"level"`
	Partial bool            `json:"partial"`
}

// TrailingStopPrice returns highest x (1 - pct/100), or false while the position has not
// traded above its entry. A non-positive percentage disables the trailing stop.
func (s ExitState) TrailingStopPrice() (decimal.Decimal, bool) {
	if s.TrailingStopPct <= 0 || !s.HighestPrice.GreaterThan(s.EntryPrice) {
		return decimal.Zero, false
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(s.TrailingStopPct).Div(hundred))
	return s.HighestPrice.Mul(factor), true
}

// EvaluateExit applies the exit precedence to one observation. Live updates pass the same price
// as low and high; bar replays pass the bar range so stops test the low and targets the high.
// HighestPrice must already include the observation.
//
// Precedence, first match wins: stop loss, trailing stop, first target (only before any shares
// were sold), second target.
func EvaluateExit(s ExitState, low, high decimal.Decimal) (ExitTrigger, bool) {
	if low.LessThanOrEqual(s.StopLoss) {
		return ExitTrigger{Reason: ExitStopLoss, Level: s.StopLoss}, true
	}

	if trailing, ok := s.TrailingStopPrice(); ok {
		if low.LessThanOrEqual(trailing) && trailing.GreaterThan(s.EntryPrice) {
			return ExitTrigger{Reason: ExitTrailingStop, Level: trailing}, true
		}
	}

	if s.SoldQuantity == 0 && high.GreaterThanOrEqual(s.TakeProfit1) {
		return ExitTrigger{Reason: ExitTakeProfit1, Level: s.TakeProfit1, Partial: true}, true
	}

	if high.GreaterThanOrEqual(s.TakeProfit2) {
		return ExitTrigger{Reason: ExitTakeProfit2, Level: s.TakeProfit2}, true
	}

	return ExitTrigger{}, false
}

// PartialQuantity is floor(remaining x ratio). Zero means the lot is too small to split and
// the exit becomes a full close.
func PartialQuantity(remaining int64, ratio float64) int64 {
	if ratio <= 0 || ratio >= 1 {
		return 0
	}
	q := decimal.NewFromInt(remaining).Mul(decimal.NewFromFloat(ratio)).IntPart()
	if q >= remaining {
		return 0
	}
	return q
}
