package indicators

import (
	"github.com/irfndi/neurastock/internal/talib"
	"github.com/irfndi/neurastock/pkg/interfaces"
)

// RSI averages the last period gains and losses with a simple mean. The trend compares RSI values
// computed over windows ending one to five changes earlier. Fewer than period+1 bars gives
// 50 / neutral / stable.
func RSI(bars []interfaces.Bar, period int) RSIReading {
	if len(bars) < period+1 {
		return RSIReading{RSI: 50, Status: StatusNeutral, Trend: TrendStable}
	}

	closes := closesOf(bars)
	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i-1] = change
		} else if change < 0 {
			losses[i-1] = -change
		}
	}

	n := len(gains)
	rsi := rsiOf(gains[n-period:], losses[n-period:])

	status := StatusNeutral
	switch {
	case rsi >= 70:
		status = StatusOverbought
	case rsi <= 30:
		status = StatusOversold
	}

	trend := TrendStable
	if n >= period+5 {
		recent := make([]float64, 5)
		for i := 0; i < 5; i++ {
			end := n - (5 - i)
			recent[i] = rsiOf(gains[end-period:end], losses[end-period:end])
		}
		switch {
		case recent[4] > recent[2]:
			trend = TrendRising
		case recent[4] < recent[2]:
			trend = TrendFalling
		}
	}

	return RSIReading{RSI: talib.Round(rsi, 2), Status: status, Trend: trend}
}

func rsiOf(gains, losses []float64) float64 {
	avgGain := talib.Mean(gains)
	avgLoss := talib.Mean(losses)
	switch {
	case avgLoss == 0:
		return 100
	case avgGain == 0:
		return 0
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// Bollinger uses a population standard deviation. Position is by fraction of band width
// (>= 0.8 upper, <= 0.2 lower); squeeze when bandwidth shrinks below 80% of the previous bar's.
func Bollinger(bars []interfaces.Bar, period int, k float64) BollingerReading {
	if period <= 0 || len(bars) < period {
		return BollingerReading{Position: PositionMiddle}
	}

	closes := closesOf(bars)
	n := len(closes)
	uppers, middles, lowers := talib.BBands(closes, period, k)
	upper, middle, lower := uppers[n-1], middles[n-1], lowers[n-1]
	bandwidth := upper - lower

	prevBandwidth := bandwidth
	if n > period {
		prevBandwidth = uppers[n-2] - lowers[n-2]
	}

	position := PositionMiddle
	if bandwidth > 0 {
		ratio := (closes[n-1] - lower) / bandwidth
		switch {
		case ratio >= 0.8:
			position = PositionUpper
		case ratio <= 0.2:
			position = PositionLower
		}
	}

	return BollingerReading{
		Upper:         talib.Round(upper, 2),
		Middle:        talib.Round(middle, 2),
		Lower:         talib.Round(lower, 2),
		Bandwidth:     talib.Round(bandwidth, 2),
		PrevBandwidth: talib.Round(prevBandwidth, 2),
		Position:      position,
		Squeeze:       prevBandwidth > 0 && bandwidth < prevBandwidth*0.8,
	}
}
