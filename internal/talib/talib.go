package talib

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
)

// Sma returns the simple moving average series; element i covers values[i : i+period].
func Sma(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	c := helper.SliceToChan(values)
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(c))
}

// LastSma is the average of the trailing period values.
func LastSma(values []float64, period int) (float64, bool) {
	out := Sma(values, period)
	if len(out) == 0 {
		return 0, false
	}
	return out[len(out)-1], true
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
