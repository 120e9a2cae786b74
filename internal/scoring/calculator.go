// Package scoring turns indicator readings into a weighted 0-100 score and a discrete signal.
package scoring

import (
	"fmt"
	"strings"

	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/internal/talib"
	"github.com/irfndi/neurastock/pkg/indicators"
)

// Indicator names in breakdown order.
const (
	IndicatorVolume    = "volume"
	IndicatorOrderBook = "order_book"
	IndicatorVWAP      = "vwap"
	IndicatorMA        = "ma"
	IndicatorRSI       = "rsi"
	IndicatorMACD      = "macd"
	IndicatorBollinger = "bollinger"
	IndicatorOBV       = "obv"
)

const notApplied = "not applied"

// IndicatorScore is one indicator's contribution.
type IndicatorScore struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Max    float64 `json:"max"`
	Detail string  `json:"detail"`
}

// ScoreResult is the weighted breakdown for one evaluation.
type ScoreResult struct {
	Style     strategy.TradingStyle `json:"style"`
	Total     float64               `json:"total_score"`
	Breakdown []IndicatorScore      `json:"scores_breakdown"`
}

// Score returns the named contribution, or zero.
func (r ScoreResult) Score(name string) IndicatorScore {
	for _, s := range r.Breakdown {
		if s.Name == name {
			return s
		}
	}
	return IndicatorScore{Name: name}
}

// Calculator applies one style profile. It holds no mutable state.
type Calculator struct {
	profile strategy.Profile
}

func NewCalculator(profile strategy.Profile) *Calculator {
	return &Calculator{profile: profile}
}

// Profile returns the profile the calculator scores with.
func (c *Calculator) Profile() strategy.Profile {
	return c.profile
}

// Calculate scores every reading. Sub-scores and the total are rounded to two decimals.
func (c *Calculator) Calculate(r indicators.Readings) ScoreResult {
	w := c.profile.Weights
	rows := []struct {
		name   string
		weight float64
		fn     func(float64) (float64, string)
	}{
		{IndicatorVolume, w.Volume, func(max float64) (float64, string) { return c.volume(r.Volume, max) }},
		{IndicatorOrderBook, w.OrderBook, func(max float64) (float64, string) { return c.orderBook(r.OrderBook, max) }},
		{IndicatorVWAP, w.VWAP, func(max float64) (float64, string) { return c.vwap(r.VWAP, max) }},
		{IndicatorMA, w.MA, func(max float64) (float64, string) { return c.ma(r.MA, max) }},
		{IndicatorRSI, w.RSI, func(max float64) (float64, string) { return c.rsi(r.RSI, max) }},
		{IndicatorMACD, w.MACD, func(max float64) (float64, string) { return c.macd(r.MACD, max) }},
		{IndicatorBollinger, w.Bollinger, func(max float64) (float64, string) { return c.bollinger(r.Bollinger, max) }},
		{IndicatorOBV, w.OBV, func(max float64) (float64, string) { return c.obv(r.OBV, max) }},
	}

	result := ScoreResult{Style: c.profile.Style, Breakdown: make([]IndicatorScore, 0, len(rows))}
	var total float64
	for _, row := range rows {
		score, detail := 0.0, notApplied
		if row.weight > 0 {
			score, detail = row.fn(row.weight)
		}
		score = talib.Round(score, 2)
		total += score
		result.Breakdown = append(result.Breakdown, IndicatorScore{
			Name:   row.name,
			Score:  score,
			Max:    row.weight,
			Detail: detail,
		})
	}
	result.Total = talib.Round(total, 2)
	return result
}

// firstMatch walks a descending threshold table.
func firstMatch(value float64, table []strategy.Threshold) (float64, bool) {
	for _, t := range table {
		if value >= t.Min {
			return t.Multiplier, true
		}
	}
	return 0, false
}

func (c *Calculator) volume(r indicators.VolumeReading, max float64) (float64, string) {
	if m, ok := firstMatch(r.VolumeRatio, strategy.VolumeThresholds); ok {
		return max * m, fmt.Sprintf("volume %.0f%%", r.VolumeRatio)
	}
	return 0, fmt.Sprintf("volume weak %.0f%%", r.VolumeRatio)
}

func (c *Calculator) orderBook(r indicators.StrengthReading, max float64) (float64, string) {
	if m, ok := firstMatch(r.Strength, c.profile.StrengthThresholds); ok {
		return max * m, fmt.Sprintf("strength %.1f%%", r.Strength)
	}
	return 0, fmt.Sprintf("strength weak %.1f%%", r.Strength)
}

func (c *Calculator) vwap(r indicators.VWAPReading, max float64) (float64, string) {
	pct := r.PriceVsVWAP
	label := func(s string) string { return fmt.Sprintf("VWAP %s (%+.1f%%)", s, pct) }

	switch c.profile.Style {
	case strategy.Scalping:
		switch {
		case r.Position == indicators.PositionAt:
			return max, label("neutral")
		case r.Position == indicators.PositionAbove && pct <= 2:
			return max * 0.8, label("above")
		case r.Position == indicators.PositionBelow && pct >= -2:
			return max * 0.6, label("below")
		default:
			return max * 0.3, label("stretched")
		}
	case strategy.DayTrading:
		switch r.Position {
		case indicators.PositionAbove:
			if pct >= 1 {
				return max, label("breakout")
			}
			return max * 0.8, label("above")
		case indicators.PositionAt:
			return max * 0.5, label("neutral")
		default:
			return 0, label("below")
		}
	default:
		switch r.Position {
		case indicators.PositionAbove:
			return max * 0.8, label("above")
		case indicators.PositionAt:
			return max, label("support")
		default:
			return max * 0.5, label("below")
		}
	}
}

func (c *Calculator) ma(r indicators.MAReading, max float64) (float64, string) {
	var score float64
	var details []string

	switch r.Arrangement {
	case indicators.ArrangementGolden:
		score += max * 0.5
		details = append(details, "bullish alignment")
	case indicators.ArrangementMixed:
		score += max * 0.25
		details = append(details, "mixed alignment")
	case indicators.ArrangementDead:
		details = append(details, "bearish alignment")
	}

	switch r.Cross {
	case indicators.CrossGolden:
		score += max * 0.3
		details = append(details, "golden cross")
	case indicators.CrossDead:
		details = append(details, "dead cross")
	}

	if r.AboveMA(5) {
		score += max * 0.1
	}
	if r.AboveMA(20) {
		score += max * 0.1
	}

	if score > max {
		score = max
	}
	if len(details) == 0 {
		return score, "moving averages"
	}
	return score, strings.Join(details, ", ")
}

func (c *Calculator) rsi(r indicators.RSIReading, max float64) (float64, string) {
	v := r.RSI
	label := func(s string) string { return fmt.Sprintf("RSI %.0f %s", v, s) }

	if c.profile.Style.IsShortTerm() {
		switch {
		case v >= 50 && v < 70:
			return max, label("momentum")
		case v >= 40 && v < 50:
			return max * 0.7, label("neutral")
		case v >= 70:
			return max * 0.3, label("overheated")
		case v >= 30 && v < 40:
			return max * 0.5, label("weakening")
		default:
			return max * 0.2, label("oversold")
		}
	}

	switch {
	case v <= 30:
		return max, label("oversold (rebound setup)")
	case v <= 40:
		return max * 0.8, label("near lows")
	case v < 60:
		return max * 0.6, label("neutral")
	case v < 70:
		return max * 0.4, label("uptrend")
	default:
		return max * 0.2, label("overheated")
	}
}

func (c *Calculator) macd(r indicators.MACDReading, max float64) (float64, string) {
	switch r.Cross {
	case indicators.CrossGolden:
		return max * 0.6, "MACD golden cross"
	case indicators.CrossDead:
		return 0, "MACD dead cross"
	}

	if r.Histogram > 0 {
		if r.Histogram > r.PrevHistogram {
			return max * 0.8, "MACD expanding"
		}
		return max * 0.5, "MACD positive"
	}
	if r.Histogram > r.PrevHistogram {
		return max * 0.3, "MACD contracting"
	}
	return 0, "MACD negative"
}

func (c *Calculator) bollinger(r indicators.BollingerReading, max float64) (float64, string) {
	var score float64
	var detail string

	if c.profile.Style.IsShortTerm() {
		switch r.Position {
		case indicators.PositionLower:
			score, detail = max, "Bollinger lower band bounce setup"
		case indicators.PositionMiddle:
			score, detail = max*0.6, "Bollinger middle"
		default:
			score, detail = max*0.3, "Bollinger upper band caution"
		}
	} else {
		switch r.Position {
		case indicators.PositionLower:
			score, detail = max, "Bollinger lower band bounce"
		case indicators.PositionMiddle:
			score, detail = max*0.7, "Bollinger middle"
		default:
			score, detail = max*0.4, "Bollinger upper band"
		}
	}

	if r.Squeeze {
		detail += " (squeeze)"
	}
	return score, detail
}

func (c *Calculator) obv(r indicators.OBVReading, max float64) (float64, string) {
	var score float64
	var details []string

	switch r.Trend {
	case indicators.TrendUp:
		score += max * 0.5
		details = append(details, "OBV rising")
	case indicators.TrendDown:
		details = append(details, "OBV falling")
	}

	if r.NewHigh {
		score += max * 0.3
		details = append(details, "OBV new high")
	}

	switch r.Divergence {
	case indicators.DivergenceBullish:
		score += max * 0.2
		details = append(details, "bullish divergence")
	case indicators.DivergenceBearish:
		details = append(details, "bearish divergence")
	}

	if score > max {
		score = max
	}
	if len(details) == 0 {
		return score, "OBV"
	}
	return score, strings.Join(details, ", ")
}
