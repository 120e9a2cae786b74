package performance

import (
	"math"
	"time"

	"github.com/irfndi/neurastock/internal/talib"
	"github.com/shopspring/decimal"
)

// TradeStats summarises a trade ledger. Break-even trades count as losing.
type TradeStats struct {
	TotalTrades   int          `json:"total_trades"`
	WinningTrades int          `json:"winning_trades"`
	LosingTrades  int          `json:"losing_trades"`
	WinRate       float64      `json:"win_rate"`
	AvgWin        float64      `json:"avg_win"`
	AvgLoss       float64      `json:"avg_loss"`
	ProfitFactor  ProfitFactor `json:"profit_factor"`
	TotalPnL      float64      `json:"total_pnl"`
}

func ComputeTradeStats(trades []Trade) TradeStats {
	s := TradeStats{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return s
	}

	grossWin, grossLoss, total := decimal.Zero, decimal.Zero, decimal.Zero
	for _, t := range trades {
		total = total.Add(t.PnL)
		if t.PnL.IsPositive() {
			s.WinningTrades++
			grossWin = grossWin.Add(t.PnL)
		} else {
			s.LosingTrades++
			grossLoss = grossLoss.Add(t.PnL)
		}
	}

	s.TotalPnL = total.InexactFloat64()
	s.WinRate = talib.Round(float64(s.WinningTrades)/float64(s.TotalTrades)*100, 2)
	if s.WinningTrades > 0 {
		s.AvgWin = grossWin.Div(decimal.NewFromInt(int64(s.WinningTrades))).Round(0).InexactFloat64()
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(s.LosingTrades))).Round(0).InexactFloat64()
	}
	if !grossLoss.IsZero() {
		s.ProfitFactor = ProfitFactor{
			Value:   talib.Round(grossWin.Div(grossLoss).Abs().InexactFloat64(), 2),
			Defined: true,
		}
	}
	return s
}

// DailyReturns are the percentage changes between consecutive equity samples.
func DailyReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (curve[i].Equity/prev-1)*100)
	}
	return out
}

// MaxDrawdownPct is the largest peak-to-trough fall in percent.
func MaxDrawdownPct(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Equity) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// MaxDrawdownDuration is the longest run of samples spent below a previous peak.
func MaxDrawdownDuration(curve []EquityPoint) int {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	peakIdx, longest, current := 0, 0, 0
	for i, p := range curve {
		if p.Equity >= peak {
			peak = p.Equity
			peakIdx = i
			if current > longest {
				longest = current
			}
			current = 0
			continue
		}
		current = i - peakIdx
	}
	if current > longest {
		longest = current
	}
	return longest
}

// Sharpe is the annualised excess return over the sample standard deviation of daily returns.
// riskFree is an annual fraction, e.g. 0.035.
func Sharpe(daily []float64, riskFree float64) float64 {
	if len(daily) == 0 {
		return 0
	}
	std := talib.SampleStdDev(daily)
	if std == 0 {
		return 0
	}
	excess := talib.Mean(daily) - riskFree/252
	return excess / std * math.Sqrt(252)
}

// Sortino replaces the standard deviation with that of the negative returns. Without any
// negative return it is +Inf when the mean is positive and 0 otherwise.
func Sortino(daily []float64, riskFree float64) float64 {
	if len(daily) == 0 {
		return 0
	}
	mean := talib.Mean(daily)
	var negative []float64
	for _, r := range daily {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}
	std := talib.SampleStdDev(negative)
	if std == 0 {
		return 0
	}
	return (mean - riskFree/252) / std * math.Sqrt(252)
}

// Calmar is annualised return over max drawdown, 0 without a drawdown.
func Calmar(annualizedReturn, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return annualizedReturn / maxDrawdown
}

// MonthlyReturn is the return over one calendar month.
type MonthlyReturn struct {
	Month  string  `json:"month"`
	Return float64 `json:"return"`
}

// MonthlyReturns measures each month against its first sample. A month's return runs to the
// first sample of the next month; the last month runs to the final sample.
func MonthlyReturns(curve []EquityPoint) []MonthlyReturn {
	if len(curve) == 0 {
		return nil
	}
	var out []MonthlyReturn
	base := curve[0].Equity
	month := curve[0].Timestamp.Format("2006-01")
	for _, p := range curve {
		key := p.Timestamp.Format("2006-01")
		if key == month {
			continue
		}
		out = append(out, MonthlyReturn{Month: month, Return: pctChange(base, p.Equity)})
		base = p.Equity
		month = key
	}
	out = append(out, MonthlyReturn{Month: month, Return: pctChange(base, curve[len(curve)-1].Equity)})
	return out
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return talib.Round((to/from-1)*100, 2)
}

// PnLRanges buckets trades by percentage return.
type PnLRanges struct {
	BigLoss     int `json:"big_loss"`
	SmallLoss   int `json:"small_loss"`
	SmallProfit int `json:"small_profit"`
	BigProfit   int `json:"big_profit"`
}

// Distribution breaks trades down by exit reason, return bucket and exit weekday.
type Distribution struct {
	ByExitReason map[string]int `json:"by_exit_reason"`
	ByPnLRange   PnLRanges      `json:"by_pnl_range"`
	ByWeekday    map[string]int `json:"by_weekday"`
}

func TradeDistribution(trades []Trade) Distribution {
	d := Distribution{
		ByExitReason: make(map[string]int),
		ByWeekday:    make(map[string]int, 7),
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		d.ByWeekday[wd.String()] = 0
	}
	for _, t := range trades {
		reason := t.ExitReason
		if reason == "" {
			reason = "UNKNOWN"
		}
		d.ByExitReason[reason]++

		switch {
		case t.PnLRate <= -5:
			d.ByPnLRange.BigLoss++
		case t.PnLRate < 0:
			d.ByPnLRange.SmallLoss++
		case t.PnLRate < 5:
			d.ByPnLRange.SmallProfit++
		default:
			d.ByPnLRange.BigProfit++
		}

		d.ByWeekday[t.ExitTime.Weekday().String()]++
	}
	return d
}

// AvgHoldingDays is the mean holding period over the trades.
func AvgHoldingDays(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	var total float64
	for _, t := range trades {
		total += t.HoldingDays()
	}
	return total / float64(len(trades))
}
