package performance

import (
	"errors"
	"math"

	"github.com/irfndi/neurastock/internal/talib"
)

// DefaultRiskFreeRate is the annual risk-free rate used for Sharpe and Sortino.
const DefaultRiskFreeRate = 0.035

var ErrEmptyCurve = errors.New("performance: equity curve is empty")

// Input is what a replay or a live session hands to the analyzer.
type Input struct {
	InitialCapital float64
	FinalEquity    float64
	EquityCurve    []EquityPoint
	Trades         []Trade
}

// ReturnMetrics groups the return figures, all in percent.
type ReturnMetrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MonthlyReturn    float64 `json:"monthly_return"`
	TradingDays      int     `json:"trading_days"`
}

// RiskMetrics groups the volatility and drawdown figures.
type RiskMetrics struct {
	Volatility          float64 `json:"volatility"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	SharpeRatio         Ratio   `json:"sharpe_ratio"`
	SortinoRatio        Ratio   `json:"sortino_ratio"`
	CalmarRatio         Ratio   `json:"calmar_ratio"`
}

// Report is the full analysis of one run.
type Report struct {
	Returns          ReturnMetrics   `json:"returns"`
	Risk             RiskMetrics     `json:"risk"`
	Trades           TradeStats      `json:"trades"`
	MonthlyReturns   []MonthlyReturn `json:"monthly_returns"`
	Distribution     Distribution    `json:"distribution"`
	AvgHoldingPeriod float64         `json:"avg_holding_period"`
}

// Analyzer turns an equity curve and trade ledger into a Report.
type Analyzer struct {
	RiskFreeRate float64
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{RiskFreeRate: DefaultRiskFreeRate}
}

func (a *Analyzer) Analyze(in Input) (*Report, error) {
	if len(in.EquityCurve) == 0 {
		return nil, ErrEmptyCurve
	}
	initial := in.InitialCapital
	if initial <= 0 {
		initial = in.EquityCurve[0].Equity
	}
	final := in.FinalEquity
	if final == 0 {
		final = in.EquityCurve[len(in.EquityCurve)-1].Equity
	}

	daily := DailyReturns(in.EquityCurve)
	returns := a.returns(initial, final, in.EquityCurve)
	maxDD := MaxDrawdownPct(in.EquityCurve)

	var vol float64
	if len(daily) > 1 {
		vol = talib.SampleStdDev(daily) * math.Sqrt(252)
	}

	return &Report{
		Returns: returns,
		Risk: RiskMetrics{
			Volatility:          talib.Round(vol, 2),
			MaxDrawdown:         talib.Round(maxDD, 2),
			MaxDrawdownDuration: MaxDrawdownDuration(in.EquityCurve),
			SharpeRatio:         Ratio(roundRatio(Sharpe(daily, a.RiskFreeRate))),
			SortinoRatio:        Ratio(roundRatio(Sortino(daily, a.RiskFreeRate))),
			CalmarRatio:         Ratio(roundRatio(Calmar(returns.AnnualizedReturn, maxDD))),
		},
		Trades:           ComputeTradeStats(in.Trades),
		MonthlyReturns:   MonthlyReturns(in.EquityCurve),
		Distribution:     TradeDistribution(in.Trades),
		AvgHoldingPeriod: talib.Round(AvgHoldingDays(in.Trades), 1),
	}, nil
}

func (a *Analyzer) returns(initial, final float64, curve []EquityPoint) ReturnMetrics {
	m := ReturnMetrics{TradingDays: len(curve)}
	if initial <= 0 {
		return m
	}
	m.TotalReturn = talib.Round((final/initial-1)*100, 2)

	days := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / 24
	years := math.Max(days/365, 0.01)
	growth := final / initial
	if growth > 0 {
		m.AnnualizedReturn = talib.Round((math.Pow(growth, 1/years)-1)*100, 2)
		m.MonthlyReturn = talib.Round((math.Pow(growth, 1/(years*12))-1)*100, 2)
	}
	return m
}

func roundRatio(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	return talib.Round(v, 2)
}
