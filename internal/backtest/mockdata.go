package backtest

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/irfndi/neurastock/internal/talib"
	"github.com/irfndi/neurastock/pkg/interfaces"
)

// MockSeries parameterises a synthetic random walk. The same Seed always yields the same bars.
type MockSeries struct {
	Seed         uint64
	InitialPrice float64
	Volatility   float64
	Trend        float64
}

func DefaultDailySeries(seed uint64) MockSeries {
	return MockSeries{Seed: seed, InitialPrice: 50000, Volatility: 0.02, Trend: 0.0001}
}

func DefaultIntradaySeries(seed uint64) MockSeries {
	return MockSeries{Seed: seed, InitialPrice: 50000, Volatility: 0.005}
}

func (m MockSeries) rng() *rand.Rand {
	return rand.New(rand.NewPCG(m.Seed, m.Seed^0x9e3779b97f4a7c15))
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func intBetween(rng *rand.Rand, lo, hi int) int64 {
	return int64(lo + rng.IntN(hi-lo+1))
}

// GenerateDaily produces one bar per weekday from start to end inclusive. Each close is the
// previous close times a normal return; prices are rounded to whole units.
func GenerateDaily(m MockSeries, start, end time.Time) []interfaces.Bar {
	rng := m.rng()
	price := m.InitialPrice
	var bars []interfaces.Bar

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		ret := m.Trend + rng.NormFloat64()*m.Volatility
		open := price
		closePrice := price * (1 + ret)
		high := math.Max(open, closePrice) * (1 + uniform(rng, 0, m.Volatility))
		low := math.Min(open, closePrice) * (1 - uniform(rng, 0, m.Volatility))
		volume := int64(float64(intBetween(rng, 100_000, 1_000_000)) * (1 + math.Abs(ret)*10))

		bars = append(bars, interfaces.Bar{
			Timestamp:  day,
			Open:       talib.Round(open, 0),
			High:       talib.Round(high, 0),
			Low:        talib.Round(low, 0),
			Close:      talib.Round(closePrice, 0),
			Volume:     volume,
			Value:      math.Floor(float64(volume) * closePrice),
			Change:     talib.Round(closePrice-open, 0),
			ChangeRate: talib.Round((closePrice/open-1)*100, 2),
		})
		price = closePrice
	}
	return bars
}

// GenerateIntraday produces 1-minute bars from 09:00 to 15:30 inclusive on day's date.
func GenerateIntraday(m MockSeries, day time.Time) []interfaces.Bar {
	rng := m.rng()
	price := m.InitialPrice
	y, mo, d := day.Date()
	start := time.Date(y, mo, d, 9, 0, 0, 0, day.Location())
	end := time.Date(y, mo, d, 15, 30, 0, 0, day.Location())

	var bars []interfaces.Bar
	for ts := start; !ts.After(end); ts = ts.Add(time.Minute) {
		prev := price
		price *= 1 + rng.NormFloat64()*m.Volatility
		spread := price * 0.001
		volume := intBetween(rng, 100, 10_000)

		bars = append(bars, interfaces.Bar{
			Timestamp: ts,
			Open:      talib.Round(prev, 0),
			High:      talib.Round(math.Max(prev, price)+spread/2, 0),
			Low:       talib.Round(math.Min(prev, price)-spread/2, 0),
			Close:     talib.Round(price, 0),
			Volume:    volume,
			Value:     math.Floor(float64(volume) * price),
		})
	}
	return bars
}
