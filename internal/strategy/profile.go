// Package strategy holds the per-style weight, threshold and trade parameter tables that drive
// scoring, signal classification and position exits.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// TradingStyle selects the weight table, mandatory gate and trade parameters for a decision.
type TradingStyle string

const (
	Scalping   TradingStyle = "SCALPING"
	DayTrading TradingStyle = "DAYTRADING"
	Swing      TradingStyle = "SWING"
)

var ErrInvalidStyle = errors.New("invalid trading style")

// Styles lists every supported style in table order.
func Styles() []TradingStyle {
	return []TradingStyle{Scalping, DayTrading, Swing}
}

// ParseStyle accepts the canonical names case-insensitively.
func ParseStyle(s string) (TradingStyle, error) {
	switch TradingStyle(strings.ToUpper(strings.TrimSpace(s))) {
	case Scalping:
		return Scalping, nil
	case DayTrading:
		return DayTrading, nil
	case Swing:
		return Swing, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStyle, s)
}

// IsShortTerm reports whether the style trades intraday momentum.
func (s TradingStyle) IsShortTerm() bool {
	return s == Scalping || s == DayTrading
}

// Weights are the maximum points each indicator can contribute. They sum to 100.
type Weights struct {
	Volume    float64 `yaml:"volume" json:"volume"`
	OrderBook float64 `yaml:"order_book" json:"order_book"`
	VWAP      float64 `yaml:"vwap" json:"vwap"`
	MA        float64 `yaml:"ma" json:"ma"`
	RSI       float64 `yaml:"rsi" json:"rsi"`
	MACD      float64 `yaml:"macd" json:"macd"`
	Bollinger float64 `yaml:"bollinger" json:"bollinger"`
	OBV       float64 `yaml:"obv" json:"obv"`
}

func (w Weights) Sum() float64 {
	return w.Volume + w.OrderBook + w.VWAP + w.MA + w.RSI + w.MACD + w.Bollinger + w.OBV
}

// TradeParams are percentages relative to the entry price.
type TradeParams struct {
	StopLossPct     float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfit1Pct  float64 `yaml:"take_profit_1_pct" json:"take_profit_1_pct"`
	TakeProfit2Pct  float64 `yaml:"take_profit_2_pct" json:"take_profit_2_pct"`
	TrailingStopPct float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`
	PositionSizePct float64 `yaml:"position_size_pct" json:"position_size_pct"`
}

// SignalThresholds are the inclusive score cut-offs for each signal class.
type SignalThresholds struct {
	StrongBuy float64 `yaml:"strong_buy" json:"strong_buy"`
	Buy       float64 `yaml:"buy" json:"buy"`
	Watch     float64 `yaml:"watch" json:"watch"`
}

// Threshold is one row of a descending threshold table.
type Threshold struct {
	Min        float64 `yaml:"min" json:"min"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// Gate is the set of mandatory conditions a style requires before a buy-class signal.
// Zero values disable a condition.
type Gate struct {
	MinStrength      float64  `yaml:"min_strength" json:"min_strength"`
	MinVolumeRatio   float64  `yaml:"min_volume_ratio" json:"min_volume_ratio"`
	VWAPPositions    []string `yaml:"vwap_positions" json:"vwap_positions"`
	MaxRSI           float64  `yaml:"max_rsi" json:"max_rsi"`
	RequireAboveMA20 bool     `yaml:"require_above_ma20" json:"require_above_ma20"`
}

// Profile bundles everything a style decides.
type Profile struct {
	Style              TradingStyle     `yaml:"-" json:"style"`
	Weights            Weights          `yaml:"weights" json:"weights"`
	Params             TradeParams      `yaml:"params" json:"params"`
	Thresholds         SignalThresholds `yaml:"thresholds" json:"thresholds"`
	Gate               Gate             `yaml:"gate" json:"gate"`
	StrengthThresholds []Threshold      `yaml:"strength_thresholds" json:"strength_thresholds"`
}

// VolumeThresholds apply to every style.
var VolumeThresholds = []Threshold{
	{Min: 500, Multiplier: 1.0},
	{Min: 300, Multiplier: 0.8},
	{Min: 200, Multiplier: 0.6},
	{Min: 150, Multiplier: 0.4},
	{Min: 100, Multiplier: 0.2},
}

var defaultProfiles = map[TradingStyle]Profile{
	Scalping: {
		Style:      Scalping,
		Weights:    Weights{Volume: 25, OrderBook: 30, VWAP: 20, MA: 10, RSI: 5, MACD: 3, Bollinger: 5, OBV: 2},
		Params:     TradeParams{StopLossPct: -0.5, TakeProfit1Pct: 0.5, TakeProfit2Pct: 1.0, TrailingStopPct: 0.2, PositionSizePct: 30},
		Thresholds: SignalThresholds{StrongBuy: 85, Buy: 75, Watch: 60},
		Gate:       Gate{MinStrength: 120, MinVolumeRatio: 200},
		StrengthThresholds: []Threshold{
			{Min: 150, Multiplier: 1.0},
			{Min: 130, Multiplier: 0.83},
			{Min: 120, Multiplier: 0.67},
			{Min: 110, Multiplier: 0.5},
			{Min: 100, Multiplier: 0.33},
		},
	},
	DayTrading: {
		Style:      DayTrading,
		Weights:    Weights{Volume: 30, OrderBook: 15, VWAP: 25, MA: 15, RSI: 8, MACD: 5, Bollinger: 2, OBV: 0},
		Params:     TradeParams{StopLossPct: -1.5, TakeProfit1Pct: 2.0, TakeProfit2Pct: 3.0, TrailingStopPct: 0.5, PositionSizePct: 20},
		Thresholds: SignalThresholds{StrongBuy: 80, Buy: 70, Watch: 55},
		Gate:       Gate{MinStrength: 110, MinVolumeRatio: 200, VWAPPositions: []string{"above", "at"}},
		StrengthThresholds: []Threshold{
			{Min: 140, Multiplier: 1.0},
			{Min: 120, Multiplier: 0.8},
			{Min: 110, Multiplier: 0.6},
			{Min: 100, Multiplier: 0.4},
		},
	},
	Swing: {
		Style:      Swing,
		Weights:    Weights{Volume: 20, OrderBook: 5, VWAP: 10, MA: 20, RSI: 18, MACD: 15, Bollinger: 7, OBV: 5},
		Params:     TradeParams{StopLossPct: -5.0, TakeProfit1Pct: 7.0, TakeProfit2Pct: 15.0, TrailingStopPct: 2.0, PositionSizePct: 15},
		Thresholds: SignalThresholds{StrongBuy: 75, Buy: 65, Watch: 50},
		Gate:       Gate{MaxRSI: 70, RequireAboveMA20: true, MinVolumeRatio: 100},
		StrengthThresholds: []Threshold{
			{Min: 115, Multiplier: 1.0},
			{Min: 105, Multiplier: 0.6},
		},
	},
}

// Lookup returns the built-in profile for a style.
func Lookup(style TradingStyle) (Profile, error) {
	p, ok := defaultProfiles[style]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidStyle, style)
	}
	return p.clone(), nil
}

// MustLookup is Lookup for the compile-time styles.
func MustLookup(style TradingStyle) Profile {
	p, err := Lookup(style)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Profile) clone() Profile {
	out := p
	out.Gate.VWAPPositions = append([]string(nil), p.Gate.VWAPPositions...)
	out.StrengthThresholds = append([]Threshold(nil), p.StrengthThresholds...)
	return out
}

// Validate enforces the table invariants checked at configuration load.
func (p Profile) Validate() error {
	if sum := p.Weights.Sum(); math.Abs(sum-100) > 1e-9 {
		return fmt.Errorf("%s: weights sum to %.2f, want 100", p.Style, sum)
	}
	for name, w := range map[string]float64{
		"volume": p.Weights.Volume, "order_book": p.Weights.OrderBook, "vwap": p.Weights.VWAP,
		"ma": p.Weights.MA, "rsi": p.Weights.RSI, "macd": p.Weights.MACD,
		"bollinger": p.Weights.Bollinger, "obv": p.Weights.OBV,
	} {
		if w < 0 {
			return fmt.Errorf("%s: weight %s is negative", p.Style, name)
		}
	}
	t := p.Thresholds
	if !(t.StrongBuy > t.Buy && t.Buy > t.Watch && t.Watch >= 0 && t.StrongBuy <= 100) {
		return fmt.Errorf("%s: thresholds must satisfy 100 >= strong_buy > buy > watch >= 0", p.Style)
	}
	tp := p.Params
	if !(tp.StopLossPct < 0 && tp.TakeProfit1Pct > 0 && tp.TakeProfit1Pct < tp.TakeProfit2Pct) {
		return fmt.Errorf("%s: trade params must satisfy stop_loss < 0 < tp1 < tp2", p.Style)
	}
	if tp.TrailingStopPct <= 0 || tp.TrailingStopPct >= 100 {
		return fmt.Errorf("%s: trailing_stop_pct must be in (0, 100)", p.Style)
	}
	if tp.PositionSizePct <= 0 || tp.PositionSizePct > 100 {
		return fmt.Errorf("%s: position_size_pct must be in (0, 100]", p.Style)
	}
	for i := 1; i < len(p.StrengthThresholds); i++ {
		if p.StrengthThresholds[i].Min >= p.StrengthThresholds[i-1].Min {
			return fmt.Errorf("%s: strength thresholds must be strictly descending", p.Style)
		}
	}
	return nil
}
