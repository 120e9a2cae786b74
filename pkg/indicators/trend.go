package indicators

import (
	"github.com/irfndi/neurastock/internal/talib"
	"github.com/irfndi/neurastock/pkg/interfaces"
)

func closesOf(bars []interfaces.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// MovingAverages computes each period's SMA (rounded to 2 decimals), the 5/20/60 arrangement and
// the 5/20 cross against the previous bar.
func MovingAverages(bars []interfaces.Bar, periods []int) MAReading {
	r := MAReading{
		Averages: make(map[int]float64, len(periods)),
		Above:    make(map[int]bool, len(periods)),
	}
	if len(bars) == 0 {
		return r
	}

	closes := closesOf(bars)
	current := closes[len(closes)-1]
	r.CurrentPrice = current

	for _, p := range periods {
		ma, ok := talib.LastSma(closes, p)
		if !ok {
			continue
		}
		r.Averages[p] = talib.Round(ma, 2)
		r.Above[p] = current >= ma
	}

	ma5, ok5 := r.Averages[5]
	ma20, ok20 := r.Averages[20]
	ma60, ok60 := r.Averages[60]
	if ok5 && ok20 && ok60 && ma5 != 0 && ma20 != 0 && ma60 != 0 {
		switch {
		case ma5 > ma20 && ma20 > ma60:
			r.Arrangement = ArrangementGolden
		case ma5 < ma20 && ma20 < ma60:
			r.Arrangement = ArrangementDead
		default:
			r.Arrangement = ArrangementMixed
		}
	}

	if len(closes) >= 21 && ok5 && ok20 && ma5 != 0 && ma20 != 0 {
		prev := closes[:len(closes)-1]
		prevMA5, _ := talib.LastSma(prev, 5)
		prevMA20, _ := talib.LastSma(prev, 20)
		switch {
		case prevMA5 <= prevMA20 && ma5 > ma20:
			r.Cross = CrossGolden
		case prevMA5 >= prevMA20 && ma5 < ma20:
			r.Cross = CrossDead
		default:
			r.Cross = CrossNone
		}
	}

	return r
}

// MACD uses SMA-seeded, zero-padded EMAs. The signal line is the EMA of the full padded MACD
// line. Fewer than slow+signal bars gives zeros and no cross.
func MACD(bars []interfaces.Bar, fast, slow, signal int) MACDReading {
	if len(bars) < slow+signal {
		return MACDReading{Cross: CrossNone}
	}

	closes := closesOf(bars)
	emaFast := talib.SeededEma(closes, fast)
	emaSlow := talib.SeededEma(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	signalLine := talib.SeededEma(line, signal)

	hist := make([]float64, len(line))
	for i := range line {
		hist[i] = line[i] - signalLine[i]
	}

	n := len(hist)
	current := hist[n-1]
	prev := hist[n-2]

	cross := CrossNone
	switch {
	case prev < 0 && current > 0:
		cross = CrossGolden
	case prev > 0 && current < 0:
		cross = CrossDead
	}

	return MACDReading{
		MACD:          talib.Round(line[n-1], 2),
		Signal:        talib.Round(signalLine[n-1], 2),
		Histogram:     talib.Round(current, 2),
		PrevHistogram: talib.Round(prev, 2),
		Cross:         cross,
	}
}
