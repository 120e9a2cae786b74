package orchestrator

import (
	"strings"
	"time"

	"github.com/irfndi/neurastock/internal/trading"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DailyReport summarises one account's trading day.
type DailyReport struct {
	Account      string                  `json:"account"`
	Date         string                  `json:"date"`
	Trades       int                     `json:"trades"`
	StartBalance decimal.Decimal         `json:"start_balance"`
	PnL          decimal.Decimal         `json:"pnl"`
	PnLPct       float64                 `json:"pnl_pct"`
	Positions    trading.PositionSummary `json:"positions"`
	Orders       trading.OrderSummary    `json:"orders"`
	GeneratedAt  time.Time               `json:"generated_at"`
}

// String renders the report with grouped thousands.
func (r DailyReport) String() string {
	p := message.NewPrinter(language.English)

	var b strings.Builder
	b.WriteString(p.Sprintf("Daily report %s (%s)\n", r.Date, r.Account))
	b.WriteString(p.Sprintf("  Trades:          %d\n", r.Trades))
	b.WriteString(p.Sprintf("  Start balance:   %.0f\n", r.StartBalance.InexactFloat64()))
	b.WriteString(p.Sprintf("  P&L:             %.0f (%+.2f%%)\n", r.PnL.InexactFloat64(), r.PnLPct))
	b.WriteString(p.Sprintf("  Open positions:  %d of %d\n", r.Positions.OpenPositions, r.Positions.TotalPositions))
	b.WriteString(p.Sprintf("  Unrealized P&L:  %.0f\n", r.Positions.TotalUnrealizedPnL.InexactFloat64()))
	b.WriteString(p.Sprintf("  Orders:          %d filled, %d pending, %d canceled\n",
		r.Orders.FilledOrders, r.Orders.PendingOrders, r.Orders.CanceledOrders))
	for _, pos := range r.Positions.Positions {
		if !pos.IsOpen() {
			continue
		}
		b.WriteString(p.Sprintf("    %s %-12s %6d @ %.0f  %+.2f%%\n",
			pos.StockCode, pos.StockName, pos.RemainingQuantity, pos.EntryPrice.InexactFloat64(), pos.UnrealizedPnLPct))
	}
	return b.String()
}
