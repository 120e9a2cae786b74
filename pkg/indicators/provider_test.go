package indicators

import (
	"errors"
	"testing"
	"time"

	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func barsFromCloses(closes []float64, volume int64) []interfaces.Bar {
	bars := make([]interfaces.Bar, len(closes))
	for i, c := range closes {
		bars[i] = interfaces.Bar{
			Timestamp: testStart.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    volume,
		}
	}
	return bars
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestValidateBars(t *testing.T) {
	bars := barsFromCloses([]float64{100, 101}, 10)
	assert.NoError(t, ValidateBars(bars))

	bars[1].High = 90
	err := ValidateBars(bars)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidBars))

	var ie *IndicatorError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Index)

	bars = barsFromCloses([]float64{100, 101}, 10)
	bars[1].Timestamp = bars[0].Timestamp.Add(-time.Minute)
	assert.ErrorContains(t, ValidateBars(bars), "out of order")
}

func TestVolume(t *testing.T) {
	bars := barsFromCloses(constant(21, 100), 1000)
	bars[20].Volume = 2500

	r := Volume(bars, 20)
	assert.Equal(t, int64(2500), r.CurrentVolume)
	assert.Equal(t, 1000.0, r.AvgVolume)
	assert.Equal(t, 250.0, r.VolumeRatio)
	assert.True(t, r.IsSurge)
	assert.Equal(t, TrendStable, r.Trend)
}

func TestVolumeTrendAndShortWindow(t *testing.T) {
	bars := barsFromCloses(constant(20, 100), 1000)
	for i := 15; i < 20; i++ {
		bars[i].Volume = int64(1000 + (i-14)*100)
	}
	r := Volume(bars, 20)
	assert.Equal(t, TrendIncreasing, r.Trend)

	short := Volume(bars[:10], 20)
	assert.Equal(t, 0.0, short.VolumeRatio)
	assert.Equal(t, int64(1000), short.CurrentVolume)
	assert.False(t, short.IsSurge)
	assert.Equal(t, TrendStable, short.Trend)

	empty := Volume(nil, 20)
	assert.Equal(t, int64(0), empty.CurrentVolume)
}

func TestVWAP(t *testing.T) {
	closes := append(constant(9, 100), 103)
	r := VWAP(barsFromCloses(closes, 10))

	assert.Equal(t, 100.3, r.VWAP)
	assert.Equal(t, 103.0, r.CurrentPrice)
	assert.Equal(t, 2.69, r.PriceVsVWAP)
	assert.Equal(t, PositionAbove, r.Position)

	flat := VWAP(barsFromCloses(constant(5, 100), 10))
	assert.Equal(t, PositionAt, flat.Position)

	empty := VWAP(nil)
	assert.Equal(t, 0.0, empty.VWAP)
	assert.Equal(t, PositionAt, empty.Position)
}

func TestMovingAveragesGoldenArrangement(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	r := MovingAverages(barsFromCloses(closes, 10), []int{5, 20, 60, 120})

	ma5, ok := r.MA(5)
	require.True(t, ok)
	assert.Equal(t, 58.0, ma5)
	ma20, _ := r.MA(20)
	assert.Equal(t, 50.5, ma20)
	ma60, _ := r.MA(60)
	assert.Equal(t, 30.5, ma60)

	_, ok = r.MA(120)
	assert.False(t, ok)
	assert.False(t, r.AboveMA(120))

	assert.Equal(t, ArrangementGolden, r.Arrangement)
	assert.Equal(t, CrossNone, r.Cross)
	assert.True(t, r.AboveMA(5))
	assert.True(t, r.AboveMA(20))
}

func TestMovingAveragesGoldenCross(t *testing.T) {
	closes := append(constant(20, 100), 110)
	r := MovingAverages(barsFromCloses(closes, 10), []int{5, 20, 60, 120})

	assert.Equal(t, CrossGolden, r.Cross)
	assert.Empty(t, r.Arrangement, "no arrangement without a 60 bar average")
	assert.True(t, r.AboveMA(20))
}

func TestMovingAveragesShortWindow(t *testing.T) {
	r := MovingAverages(barsFromCloses(constant(10, 100), 10), []int{5, 20})
	_, ok := r.MA(20)
	assert.False(t, ok)
	assert.Empty(t, r.Cross)

	empty := MovingAverages(nil, []int{5})
	assert.Equal(t, 0.0, empty.CurrentPrice)
}

func TestRSI(t *testing.T) {
	short := RSI(barsFromCloses(constant(10, 100), 10), 14)
	assert.Equal(t, RSIReading{RSI: 50, Status: StatusNeutral, Trend: TrendStable}, short)

	rising := make([]float64, 15)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	r := RSI(barsFromCloses(rising, 10), 14)
	assert.Equal(t, 100.0, r.RSI)
	assert.Equal(t, StatusOverbought, r.Status)

	// seven +2 and seven -1 changes: avg gain 1, avg loss 0.5
	closes := []float64{100}
	for i := 0; i < 14; i++ {
		step := 2.0
		if i%2 == 1 {
			step = -1
		}
		closes = append(closes, closes[len(closes)-1]+step)
	}
	r = RSI(barsFromCloses(closes, 10), 14)
	assert.Equal(t, 66.67, r.RSI)
	assert.Equal(t, StatusNeutral, r.Status)
}

func TestRSITrend(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	r := RSI(barsFromCloses(rising, 10), 14)
	assert.Equal(t, TrendStable, r.Trend, "saturated RSI windows compare equal")

	// losses first, then gains: each later window holds more gains
	closes := []float64{100}
	for i := 0; i < 19; i++ {
		step := -1.0
		if i >= 8 {
			step = 1
		}
		closes = append(closes, closes[len(closes)-1]+step)
	}
	r = RSI(barsFromCloses(closes, 10), 14)
	assert.Equal(t, TrendRising, r.Trend)
}

func TestMACD(t *testing.T) {
	short := MACD(barsFromCloses(constant(30, 100), 10), 12, 26, 9)
	assert.Equal(t, MACDReading{Cross: CrossNone}, short)

	flat := MACD(barsFromCloses(constant(40, 100), 10), 12, 26, 9)
	assert.Equal(t, 0.0, flat.MACD)
	assert.Equal(t, CrossNone, flat.Cross)

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	up := MACD(barsFromCloses(closes, 10), 12, 26, 9)
	assert.Greater(t, up.MACD, 0.0)
}

func TestBollinger(t *testing.T) {
	short := Bollinger(barsFromCloses(constant(10, 100), 10), 20, 2)
	assert.Equal(t, PositionMiddle, short.Position)
	assert.Equal(t, 0.0, short.Upper)

	flat := Bollinger(barsFromCloses(constant(20, 100), 10), 20, 2)
	assert.Equal(t, PositionMiddle, flat.Position)
	assert.Equal(t, 100.0, flat.Middle)
	assert.False(t, flat.Squeeze)

	dip := Bollinger(barsFromCloses(append(constant(19, 100), 90), 10), 20, 2)
	assert.Equal(t, PositionLower, dip.Position)
	assert.Equal(t, 99.5, dip.Middle)
	assert.Equal(t, 95.14, dip.Lower)
}

func TestBollingerSqueeze(t *testing.T) {
	// the widest close drops out of the window on the last bar
	closes := append([]float64{80}, constant(20, 100)...)
	closes[20] = 101
	r := Bollinger(barsFromCloses(closes, 10), 20, 2)
	assert.True(t, r.Squeeze)
}

func TestOBV(t *testing.T) {
	short := OBV(barsFromCloses([]float64{100}, 10))
	assert.Equal(t, TrendFlat, short.Trend)
	assert.Equal(t, CrossNone, short.Divergence)

	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	up := OBV(barsFromCloses(closes, 100))
	assert.Equal(t, TrendUp, up.Trend)
	assert.True(t, up.NewHigh)
	assert.Equal(t, 900.0, up.OBV)
	assert.Equal(t, CrossNone, up.Divergence)

	bullish := OBV(barsFromCloses([]float64{100, 90, 91, 92, 93, 94, 95, 96, 97, 98}, 100))
	assert.Equal(t, DivergenceBullish, bullish.Divergence)
}

func TestStrength(t *testing.T) {
	cases := []struct {
		name      string
		buy, sell int64
		strength  float64
		pressure  string
	}{
		{"buying", 130, 100, 130, PressureBuy},
		{"no sellers", 50, 0, MaxStrength, PressureBuy},
		{"no trades", 0, 0, 100, StatusNeutral},
		{"selling", 70, 100, 70, PressureSell},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Strength(&interfaces.ExecutionData{BuyVolume: tc.buy, SellVolume: tc.sell})
			assert.Equal(t, tc.strength, r.Strength)
			assert.Equal(t, tc.pressure, r.Pressure)
		})
	}

	assert.Equal(t, 100.0, Strength(nil).Strength)
}

func TestDepth(t *testing.T) {
	r := Depth(&interfaces.OrderBook{
		AskVolumes:     []int64{100, 100, 100, 1000},
		BidVolumes:     []int64{500, 500, 500, 500},
		TotalAskVolume: 1300,
		TotalBidVolume: 2000,
	})
	assert.Equal(t, 1.54, r.BidAskRatio)
	assert.Equal(t, ImbalanceBuy, r.Imbalance)
	assert.True(t, r.WallDetected)
	assert.Equal(t, WallAsk, r.WallSide)

	noAsks := Depth(&interfaces.OrderBook{TotalBidVolume: 10})
	assert.Equal(t, MaxStrength, noAsks.BidAskRatio)
	assert.False(t, noAsks.WallDetected)
}
