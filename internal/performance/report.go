package performance

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const reportRule = "============================================================"

// GenerateReport renders a report as a plain-text summary with grouped thousands.
func GenerateReport(r *Report, title string) string {
	if r == nil {
		return ""
	}
	p := message.NewPrinter(language.English)
	titler := cases.Title(language.English)

	var b strings.Builder
	b.WriteString(reportRule + "\n")
	if title == "" {
		title = "backtest report"
	}
	b.WriteString(titler.String(title) + "\n")
	b.WriteString(reportRule + "\n\n")

	b.WriteString("[Returns]\n")
	b.WriteString(p.Sprintf("  Total return:        %8.2f%%\n", r.Returns.TotalReturn))
	b.WriteString(p.Sprintf("  Annualized return:   %8.2f%%\n", r.Returns.AnnualizedReturn))
	b.WriteString(p.Sprintf("  Monthly return:      %8.2f%%\n", r.Returns.MonthlyReturn))
	b.WriteString(p.Sprintf("  Samples:             %8d\n\n", r.Returns.TradingDays))

	b.WriteString("[Risk]\n")
	b.WriteString(p.Sprintf("  Volatility:          %8.2f%%\n", r.Risk.Volatility))
	b.WriteString(p.Sprintf("  Max drawdown:        %8.2f%%\n", r.Risk.MaxDrawdown))
	b.WriteString(p.Sprintf("  Drawdown duration:   %8d\n", r.Risk.MaxDrawdownDuration))
	b.WriteString(p.Sprintf("  Sharpe ratio:        %8s\n", r.Risk.SharpeRatio.String()))
	b.WriteString(p.Sprintf("  Sortino ratio:       %8s\n", r.Risk.SortinoRatio.String()))
	b.WriteString(p.Sprintf("  Calmar ratio:        %8s\n\n", r.Risk.CalmarRatio.String()))

	t := r.Trades
	b.WriteString("[Trades]\n")
	b.WriteString(p.Sprintf("  Total trades:        %8d\n", t.TotalTrades))
	b.WriteString(p.Sprintf("  Winning / losing:    %4d / %d\n", t.WinningTrades, t.LosingTrades))
	b.WriteString(p.Sprintf("  Win rate:            %8.2f%%\n", t.WinRate))
	b.WriteString(p.Sprintf("  Average win:         %12.0f\n", t.AvgWin))
	b.WriteString(p.Sprintf("  Average loss:        %12.0f\n", t.AvgLoss))
	b.WriteString(p.Sprintf("  Profit factor:       %8s\n", t.ProfitFactor.String()))
	b.WriteString(p.Sprintf("  Total P&L:           %12.0f\n", t.TotalPnL))
	b.WriteString(p.Sprintf("  Avg holding (days):  %8.1f\n", r.AvgHoldingPeriod))

	if len(r.Distribution.ByExitReason) > 0 {
		b.WriteString("\n[Exit reasons]\n")
		reasons := make([]string, 0, len(r.Distribution.ByExitReason))
		for k := range r.Distribution.ByExitReason {
			reasons = append(reasons, k)
		}
		sort.Strings(reasons)
		for _, k := range reasons {
			b.WriteString(p.Sprintf("  %-20s %d\n", k, r.Distribution.ByExitReason[k]))
		}
	}

	if len(r.MonthlyReturns) > 0 {
		b.WriteString("\n[Monthly returns]\n")
		for _, m := range r.MonthlyReturns {
			b.WriteString(p.Sprintf("  %s  %7.2f%%\n", m.Month, m.Return))
		}
	}

	b.WriteString("\n" + reportRule + "\n")
	return b.String()
}
