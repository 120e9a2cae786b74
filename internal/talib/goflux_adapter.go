package talib

import (
	"math"
	"time"

	godecimal "github.com/irfndi/goflux/pkg/decimal"
	"github.com/irfndi/goflux/pkg/indicators"
	"github.com/irfndi/goflux/pkg/series"
)

var baseTimestamp = time.Unix(0, 0)

// SeededEma is an exponential moving average seeded with the SMA of the first period values and
// front-padded with period-1 zeros, so the output is aligned with values. A series shorter than
// period yields all zeros.
func SeededEma(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return make([]float64, len(values))
	}
	ema := indicators.NewEMAIndicator(indicators.NewFixedIndicator(values...), period)
	return calculateAll(len(values), ema)
}

// BBands returns the upper, middle and lower Bollinger bands aligned with values. The middle is
// the period SMA and the width uses the population standard deviation of the same window.
// Indexes before period-1 are zero.
func BBands(values []float64, period int, k float64) (upper, middle, lower []float64) {
	n := len(values)
	upper, middle, lower = make([]float64, n), make([]float64, n), make([]float64, n)
	if period <= 0 || n < period {
		return upper, middle, lower
	}

	src := indicators.NewFixedIndicator(values...)
	up := indicators.NewBollingerUpperBandIndicator(src, period, k)
	mid := indicators.NewSimpleMovingAverage(src, period)
	low := indicators.NewBollingerLowerBandIndicator(src, period, k)
	for i := period - 1; i < n; i++ {
		upper[i] = up.Calculate(i).Float()
		middle[i] = mid.Calculate(i).Float()
		lower[i] = low.Calculate(i).Float()
	}
	return upper, middle, lower
}

// Mean is the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	n := len(values)
	return indicators.NewSimpleMovingAverage(indicators.NewFixedIndicator(values...), n).Calculate(n - 1).Float()
}

// PopulationStdDev divides by n.
func PopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	n := len(values)
	return indicators.NewWindowedStandardDeviationIndicator(indicators.NewFixedIndicator(values...), n).Calculate(n - 1).Float()
}

// SampleStdDev divides by n-1 and is 0 for fewer than two values.
func SampleStdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	return PopulationStdDev(values) * math.Sqrt(float64(n)/float64(n-1))
}

// Obv is the on-balance volume series rebased so the first bar is zero. Direction comes from
// close-over-close; an unchanged close carries the previous value.
func Obv(closes, volumes []float64) []float64 {
	if len(closes) == 0 || len(closes) != len(volumes) {
		return nil
	}

	ts := createSeriesFromClosesAndVolume(closes, volumes)
	obv := indicators.NewOBVIndicator(ts)

	values := calculateAll(len(ts.Candles), obv)
	if len(values) == 0 {
		return nil
	}
	base := values[0]
	for i := range values {
		values[i] -= base
	}
	return values
}

func createSeriesFromClosesAndVolume(closes, volumes []float64) *series.TimeSeries {
	ts := series.NewTimeSeries()

	for i, price := range closes {
		period := series.NewTimePeriod(baseTimestamp.Add(time.Duration(i)*time.Hour), time.Hour)
		candle := series.NewCandle(period)
		candle.OpenPrice = godecimal.New(price)
		candle.ClosePrice = godecimal.New(price)
		candle.MaxPrice = godecimal.New(price)
		candle.MinPrice = godecimal.New(price)
		candle.Volume = godecimal.New(volumes[i])
		ts.AddCandle(candle)
	}

	return ts
}

// calculateAll walks indexes in ascending order so recursive indicators such as the EMA hit
// their cache instead of recursing to the seed.
func calculateAll(n int, indicator indicators.Indicator) []float64 {
	values := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		values = append(values, indicator.Calculate(i).Float())
	}
	return values
}
