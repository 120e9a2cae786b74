package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/internal/talib"
	"github.com/irfndi/neurastock/pkg/indicators"
	"github.com/shopspring/decimal"
)

// Signal is the discrete outcome of classification. SELL is only produced by the exit channel.
type Signal string

const (
	SignalStrongBuy Signal = "STRONG_BUY"
	SignalBuy       Signal = "BUY"
	SignalWatch     Signal = "WATCH"
	SignalHold      Signal = "HOLD"
	SignalSell      Signal = "SELL"
)

// IsBuy reports whether the signal opens positions.
func (s Signal) IsBuy() bool {
	return s == SignalStrongBuy || s == SignalBuy
}

const (
	ActionBuy  = "BUY"
	ActionNone = "NONE"
)

// gateFailurePenalty scales confidence when a mandatory condition fails.
const gateFailurePenalty = 0.7

// GateCheck is one mandatory condition and whether it held.
type GateCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// TradePlan carries absolute exit levels for a buy-class signal.
type TradePlan struct {
	Action          string          `json:"action"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	StopLossPct     float64         `json:"stop_loss_pct"`
	TakeProfit1     decimal.Decimal `json:"take_profit_1"`
	TakeProfit1Pct  float64         `json:"take_profit_1_pct"`
	TakeProfit2     decimal.Decimal `json:"take_profit_2"`
	TakeProfit2Pct  float64         `json:"take_profit_2_pct"`
	TrailingStopPct float64         `json:"trailing_stop_pct"`
	PositionSizePct float64         `json:"position_size_pct"`
	Error           string          `json:"error,omitempty"`
}

// SignalResult is immutable once returned.
type SignalResult struct {
	StockCode  string                `json:"stock_code"`
	Style      strategy.TradingStyle `json:"style"`
	Signal     Signal                `json:"signal"`
	TotalScore float64               `json:"total_score"`
	Scores     ScoreResult           `json:"scores"`
	Gate       []GateCheck           `json:"mandatory_check"`
	GatePassed bool                  `json:"mandatory_passed"`
	Confidence float64               `json:"confidence"`
	Price      decimal.Decimal       `json:"price"`
	Plan       TradePlan             `json:"trade_params"`
	Reasons    []string              `json:"reasons"`
}

// Classifier scores readings and maps the score plus the mandatory gate onto a signal.
type Classifier struct {
	calc *Calculator
}

func NewClassifier(profile strategy.Profile) *Classifier {
	return &Classifier{calc: NewCalculator(profile)}
}

// Profile returns the style profile in use.
func (c *Classifier) Profile() strategy.Profile {
	return c.calc.Profile()
}

// Classify is deterministic: identical inputs give an identical result. A zero price falls back
// to the last close seen by the VWAP reading.
func (c *Classifier) Classify(stockCode string, r indicators.Readings, price decimal.Decimal) SignalResult {
	profile := c.calc.Profile()
	scores := c.calc.Calculate(r)
	gate, passed := EvaluateGate(profile.Gate, r)

	if price.IsZero() {
		price = decimal.NewFromFloat(r.VWAP.CurrentPrice)
	}

	signal := determineSignal(scores.Total, passed, profile.Thresholds)

	confidence := math.Min(scores.Total/100, 1)
	if !passed {
		confidence *= gateFailurePenalty
	}

	return SignalResult{
		StockCode:  stockCode,
		Style:      profile.Style,
		Signal:     signal,
		TotalScore: scores.Total,
		Scores:     scores,
		Gate:       gate,
		GatePassed: passed,
		Confidence: talib.Round(confidence, 2),
		Price:      price,
		Plan:       BuildTradePlan(price, signal, profile.Params),
		Reasons:    buildReasons(scores, gate, signal),
	}
}

// EvaluateGate checks the style's mandatory conditions in a fixed order.
func EvaluateGate(g strategy.Gate, r indicators.Readings) ([]GateCheck, bool) {
	var checks []GateCheck
	if g.MinStrength > 0 {
		checks = append(checks, GateCheck{
			Name:   fmt.Sprintf("strength>=%.0f%%", g.MinStrength),
			Passed: r.OrderBook.Strength >= g.MinStrength,
		})
	}
	if g.MaxRSI > 0 {
		checks = append(checks, GateCheck{
			Name:   fmt.Sprintf("rsi<%.0f", g.MaxRSI),
			Passed: r.RSI.RSI < g.MaxRSI,
		})
	}
	if g.RequireAboveMA20 {
		checks = append(checks, GateCheck{Name: "above ma20", Passed: r.MA.AboveMA(20)})
	}
	if g.MinVolumeRatio > 0 {
		checks = append(checks, GateCheck{
			Name:   fmt.Sprintf("volume>=%.0f%%", g.MinVolumeRatio),
			Passed: r.Volume.VolumeRatio >= g.MinVolumeRatio,
		})
	}
	if len(g.VWAPPositions) > 0 {
		ok := false
		for _, p := range g.VWAPPositions {
			if r.VWAP.Position == p {
				ok = true
				break
			}
		}
		checks = append(checks, GateCheck{
			Name:   "vwap " + strings.Join(g.VWAPPositions, "/"),
			Passed: ok,
		})
	}

	passed := true
	for _, c := range checks {
		passed = passed && c.Passed
	}
	return checks, passed
}

func determineSignal(score float64, gatePassed bool, t strategy.SignalThresholds) Signal {
	if !gatePassed {
		if score >= t.Watch {
			return SignalWatch
		}
		return SignalHold
	}
	switch {
	case score >= t.StrongBuy:
		return SignalStrongBuy
	case score >= t.Buy:
		return SignalBuy
	case score >= t.Watch:
		return SignalWatch
	default:
		return SignalHold
	}
}

// BuildTradePlan computes absolute exit levels rounded to whole currency units.
func BuildTradePlan(price decimal.Decimal, signal Signal, p strategy.TradeParams) TradePlan {
	if !signal.IsBuy() {
		return TradePlan{Action: ActionNone}
	}
	if !price.IsPositive() {
		return TradePlan{Action: ActionNone, Error: "invalid price"}
	}

	return TradePlan{
		Action:          ActionBuy,
		EntryPrice:      price,
		StopLoss:        LevelFromPct(price, p.StopLossPct).Round(0),
		StopLossPct:     p.StopLossPct,
		TakeProfit1:     LevelFromPct(price, p.TakeProfit1Pct).Round(0),
		TakeProfit1Pct:  p.TakeProfit1Pct,
		TakeProfit2:     LevelFromPct(price, p.TakeProfit2Pct).Round(0),
		TakeProfit2Pct:  p.TakeProfit2Pct,
		TrailingStopPct: p.TrailingStopPct,
		PositionSizePct: p.PositionSizePct,
	}
}

// LevelFromPct returns price × (1 + pct/100).
func LevelFromPct(price decimal.Decimal, pct float64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)))
	return price.Mul(factor)
}

func buildReasons(scores ScoreResult, gate []GateCheck, signal Signal) []string {
	ranked := make([]IndicatorScore, 0, len(scores.Breakdown))
	for _, s := range scores.Breakdown {
		if s.Score > 0 {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}

	reasons := []string{summaryLine(scores.Total, signal)}
	for _, s := range ranked {
		reasons = append(reasons, fmt.Sprintf("[%s] %s", s.Name, s.Detail))
	}

	var failed []string
	for _, c := range gate {
		if !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	if len(failed) > 0 {
		reasons = append(reasons, "mandatory gate failed: "+strings.Join(failed, ", "))
	}
	return reasons
}

func summaryLine(total float64, signal Signal) string {
	var label string
	switch signal {
	case SignalStrongBuy:
		label = "strong buy signal"
	case SignalBuy:
		label = "buy signal"
	case SignalWatch:
		label = "watch"
	default:
		label = "wait"
	}
	return fmt.Sprintf("Total score %.1f - %s", total, label)
}
