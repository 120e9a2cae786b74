package indicators

import (
	"github.com/irfndi/neurastock/internal/talib"
	"github.com/irfndi/neurastock/pkg/interfaces"
)

// Volume compares the last bar's volume with the mean of the preceding period bars.
// Fewer than period bars gives ratio 0 and a stable trend.
func Volume(bars []interfaces.Bar, period int) VolumeReading {
	n := len(bars)
	if n < period || n == 0 {
		r := VolumeReading{Trend: TrendStable}
		if n > 0 {
			r.CurrentVolume = bars[n-1].Volume
		}
		return r
	}

	volumes := make([]float64, n)
	for i, b := range bars {
		volumes[i] = float64(b.Volume)
	}
	current := volumes[n-1]

	start := n - 1 - period
	if start < 0 {
		start = 0
	}
	avg := talib.Mean(volumes[start : n-1])

	var ratio float64
	if avg > 0 {
		ratio = current / avg * 100
	}

	return VolumeReading{
		CurrentVolume: bars[n-1].Volume,
		AvgVolume:     talib.Round(avg, 0),
		VolumeRatio:   talib.Round(ratio, 2),
		IsSurge:       ratio >= 200,
		Trend:         monotonicTrend(volumes, 5, TrendIncreasing, TrendDecreasing, TrendStable),
	}
}

// VWAP uses the typical price (H+L+C)/3 over the whole window with a ±1% "at" band.
func VWAP(bars []interfaces.Bar) VWAPReading {
	if len(bars) == 0 {
		return VWAPReading{Position: PositionAt}
	}

	var tpVol, vol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		tpVol += typical * float64(b.Volume)
		vol += float64(b.Volume)
	}

	var vwap float64
	if vol > 0 {
		vwap = tpVol / vol
	}
	current := bars[len(bars)-1].Close

	var pct float64
	if vwap > 0 {
		pct = (current - vwap) / vwap * 100
	}

	position := PositionAt
	switch {
	case pct > 1:
		position = PositionAbove
	case pct < -1:
		position = PositionBelow
	}

	return VWAPReading{
		VWAP:         talib.Round(vwap, 2),
		CurrentPrice: current,
		PriceVsVWAP:  talib.Round(pct, 2),
		Position:     position,
	}
}

// OBV reads trend from the last five values, a new high against the last twenty and
// price/OBV divergence across the last ten bars.
func OBV(bars []interfaces.Bar) OBVReading {
	if len(bars) < 2 {
		return OBVReading{Trend: TrendFlat, Divergence: CrossNone}
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}
	obv := talib.Obv(closes, volumes)
	if len(obv) == 0 {
		return OBVReading{Trend: TrendFlat, Divergence: CrossNone}
	}
	current := obv[len(obv)-1]

	lookback := 20
	if lookback > len(obv) {
		lookback = len(obv)
	}
	maxOBV := obv[len(obv)-lookback]
	for _, v := range obv[len(obv)-lookback:] {
		if v > maxOBV {
			maxOBV = v
		}
	}

	divergence := CrossNone
	if len(bars) >= 10 {
		priceChange := closes[len(closes)-1] - closes[len(closes)-10]
		obvChange := obv[len(obv)-1] - obv[len(obv)-10]
		switch {
		case priceChange < 0 && obvChange > 0:
			divergence = DivergenceBullish
		case priceChange > 0 && obvChange < 0:
			divergence = DivergenceBearish
		}
	}

	return OBVReading{
		OBV:        current,
		Trend:      monotonicTrend(obv, 5, TrendUp, TrendDown, TrendFlat),
		NewHigh:    current >= maxOBV,
		Divergence: divergence,
	}
}

// monotonicTrend labels the last window values as strictly increasing, strictly decreasing or
// neither. A series shorter than window is neither.
func monotonicTrend(values []float64, window int, up, down, flat string) string {
	if len(values) < window {
		return flat
	}
	recent := values[len(values)-window:]
	increasing, decreasing := true, true
	for i := 0; i < len(recent)-1; i++ {
		if !(recent[i] < recent[i+1]) {
			increasing = false
		}
		if !(recent[i] > recent[i+1]) {
			decreasing = false
		}
	}
	switch {
	case increasing:
		return up
	case decreasing:
		return down
	default:
		return flat
	}
}
