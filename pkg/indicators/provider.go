// Package indicators computes the technical readings the scoring pipeline consumes. Every
// function is pure and total: a window that is too short yields a documented neutral reading
// instead of an error.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/irfndi/neurastock/pkg/interfaces"
)

// Trend labels shared by volume, RSI and OBV readings.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
	TrendRising     = "rising"
	TrendFalling    = "falling"
	TrendUp         = "up"
	TrendDown       = "down"
	TrendFlat       = "flat"
)

// Position labels for VWAP and Bollinger readings.
const (
	PositionAbove  = "above"
	PositionAt     = "at"
	PositionBelow  = "below"
	PositionUpper  = "upper"
	PositionMiddle = "middle"
	PositionLower  = "lower"
)

// Cross and arrangement labels.
const (
	CrossGolden       = "golden_cross"
	CrossDead         = "dead_cross"
	CrossNone         = "none"
	ArrangementGolden = "golden"
	ArrangementDead   = "dead"
	ArrangementMixed  = "partial"
)

// Status, pressure and divergence labels.
const (
	StatusOverbought  = "overbought"
	StatusOversold    = "oversold"
	StatusNeutral     = "neutral"
	PressureBuy       = "buy"
	PressureSell      = "sell"
	DivergenceBullish = "bullish"
	DivergenceBearish = "bearish"
	ImbalanceBuy      = "buy_heavy"
	ImbalanceSell     = "sell_heavy"
	ImbalanceBalanced = "balanced"
	WallAsk           = "ask"
	WallBid           = "bid"
)

// Sentinel strength when there is buying but no selling.
const MaxStrength = 999.99

var ErrInvalidBars = errors.New("invalid bar window")

// IndicatorError describes why a window was rejected.
type IndicatorError struct {
	Index  int
	Reason string
}

func (e *IndicatorError) Error() string {
	return fmt.Sprintf("bar %d: %s", e.Index, e.Reason)
}

func (e *IndicatorError) Unwrap() error { return ErrInvalidBars }

// ValidateBars rejects windows with non-finite prices, inverted ranges, negative volume or
// timestamps that go backwards.
func ValidateBars(bars []interfaces.Bar) error {
	for i, b := range bars {
		for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return &IndicatorError{Index: i, Reason: "price is not a finite non-negative number"}
			}
		}
		if b.High < b.Low {
			return &IndicatorError{Index: i, Reason: "high below low"}
		}
		if b.Volume < 0 {
			return &IndicatorError{Index: i, Reason: "negative volume"}
		}
		if i > 0 && b.Timestamp.Before(bars[i-1].Timestamp) {
			return &IndicatorError{Index: i, Reason: "timestamp out of order"}
		}
	}
	return nil
}

// Config holds the periods used by each reading.
type Config struct {
	VolumePeriod    int     `json:"volume_period" yaml:"volume_period"`
	MAPeriods       []int   `json:"ma_periods" yaml:"ma_periods"`
	RSIPeriod       int     `json:"rsi_period" yaml:"rsi_period"`
	MACDFast        int     `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow        int     `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal      int     `json:"macd_signal" yaml:"macd_signal"`
	BollingerPeriod int     `json:"bollinger_period" yaml:"bollinger_period"`
	BollingerStdDev float64 `json:"bollinger_std_dev" yaml:"bollinger_std_dev"`
}

// DefaultConfig returns the standard periods.
func DefaultConfig() Config {
	return Config{
		VolumePeriod:    20,
		MAPeriods:       []int{5, 20, 60, 120},
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		BollingerPeriod: 20,
		BollingerStdDev: 2.0,
	}
}

// VolumeReading compares the current bar's volume against the prior average.
type VolumeReading struct {
	CurrentVolume int64   `json:"current_volume"`
	AvgVolume     float64 `json:"avg_volume"`
	VolumeRatio   float64 `json:"volume_ratio"`
	IsSurge       bool    `json:"is_volume_surge"`
	Trend         string  `json:"volume_trend"`
}

// VWAPReading locates the close relative to the window VWAP.
type VWAPReading struct {
	VWAP         float64 `json:"vwap"`
	CurrentPrice float64 `json:"current_price"`
	PriceVsVWAP  float64 `json:"price_vs_vwap"`
	Position     string  `json:"vwap_position"`
}

// MAReading holds moving averages by period. A period without enough bars is absent.
type MAReading struct {
	CurrentPrice float64         `json:"current_price"`
	Averages     map[int]float64 `json:"averages"`
	Above        map[int]bool    `json:"above"`
	Arrangement  string          `json:"arrangement,omitempty"`
	Cross        string          `json:"cross_signal,omitempty"`
}

// MA returns the average for period if it was computed.
func (r MAReading) MA(period int) (float64, bool) {
	v, ok := r.Averages[period]
	return v, ok
}

// AboveMA is false when the average is unavailable.
func (r MAReading) AboveMA(period int) bool {
	return r.Above[period]
}

type RSIReading struct {
	RSI    float64 `json:"rsi"`
	Status string  `json:"rsi_status"`
	Trend  string  `json:"rsi_trend"`
}

type MACDReading struct {
	MACD          float64 `json:"macd"`
	Signal        float64 `json:"signal"`
	Histogram     float64 `json:"histogram"`
	PrevHistogram float64 `json:"prev_histogram"`
	Cross         string  `json:"cross_signal"`
}

type BollingerReading struct {
	Upper         float64 `json:"upper"`
	Middle        float64 `json:"middle"`
	Lower         float64 `json:"lower"`
	Bandwidth     float64 `json:"bandwidth"`
	PrevBandwidth float64 `json:"prev_bandwidth"`
	Position      string  `json:"position"`
	Squeeze       bool    `json:"squeeze"`
}

type OBVReading struct {
	OBV        float64 `json:"obv"`
	Trend      string  `json:"obv_trend"`
	NewHigh    bool    `json:"obv_new_high"`
	Divergence string  `json:"obv_divergence"`
}

// StrengthReading is the execution (buy/sell aggressor) strength.
type StrengthReading struct {
	Strength   float64 `json:"strength"`
	Pressure   string  `json:"pressure"`
	BuyVolume  int64   `json:"buy_volume"`
	SellVolume int64   `json:"sell_volume"`
}

// DepthReading summarises resting order-book volume.
type DepthReading struct {
	BidAskRatio  float64 `json:"bid_ask_ratio"`
	Imbalance    string  `json:"imbalance"`
	WallDetected bool    `json:"wall_detected"`
	WallSide     string  `json:"wall_side"`
}

// Readings is one evaluation's full set of indicator outputs.
type Readings struct {
	Volume    VolumeReading    `json:"volume"`
	VWAP      VWAPReading      `json:"vwap"`
	MA        MAReading        `json:"ma"`
	RSI       RSIReading       `json:"rsi"`
	MACD      MACDReading      `json:"macd"`
	Bollinger BollingerReading `json:"bollinger"`
	OBV       OBVReading       `json:"obv"`
	OrderBook StrengthReading  `json:"order_book"`
	Depth     *DepthReading    `json:"depth,omitempty"`
}
