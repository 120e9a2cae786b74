// Package performance computes return, risk and distribution statistics from an equity curve
// and a trade ledger, whether they come from a backtest replay or a live session.
package performance

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// EquityPoint is the account value at one replay timestamp.
type EquityPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	PositionCount int       `json:"position_count"`
}

// Trade is one realized exit: a full close or one partial lot.
type Trade struct {
	TradeID    string          `json:"trade_id"`
	StockCode  string          `json:"stock_code"`
	StockName  string          `json:"stock_name"`
	Side       string          `json:"side"`
	Quantity   int64           `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLRate    float64         `json:"pnl_rate"`
	Commission decimal.Decimal `json:"commission"`
	ExitReason string          `json:"exit_reason"`
}

// HoldingDays is the time between entry and exit in days.
func (t Trade) HoldingDays() float64 {
	return t.ExitTime.Sub(t.EntryTime).Hours() / 24
}

// Ratio is a float that may be infinite. Infinite values encode as the strings "inf" and "-inf".
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(f):
		return []byte("0"), nil
	}
	return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"inf"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-inf"`:
		*r = Ratio(math.Inf(-1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

func (r Ratio) String() string {
	f := float64(r)
	if math.IsInf(f, 0) {
		if f > 0 {
			return "inf"
		}
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// ProfitFactor is gross profit over gross loss. It is undefined without a losing trade and then
// encodes as "N/A".
type ProfitFactor struct {
	Value   float64
	Defined bool
}

func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	if !p.Defined {
		return []byte(`"N/A"`), nil
	}
	return []byte(strconv.FormatFloat(p.Value, 'f', -1, 64)), nil
}

func (p *ProfitFactor) UnmarshalJSON(data []byte) error {
	if string(data) == `"N/A"` || string(data) == "null" {
		*p = ProfitFactor{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*p = ProfitFactor{Value: f, Defined: true}
	return nil
}

func (p ProfitFactor) String() string {
	if !p.Defined {
		return "N/A"
	}
	return strconv.FormatFloat(p.Value, 'f', 2, 64)
}
