package trading

import (
	"testing"

	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func dayTradingState(highest string, sold int64) ExitState {
	levels := LevelsFromParams(d("50000"), strategy.MustLookup(strategy.DayTrading).Params)
	return ExitState{
		EntryPrice:      d("50000"),
		StopLoss:        levels.StopLoss,
		TakeProfit1:     levels.TakeProfit1,
		TakeProfit2:     levels.TakeProfit2,
		TrailingStopPct: levels.TrailingStopPct,
		HighestPrice:    d(highest),
		SoldQuantity:    sold,
	}
}

func TestLevelsFromParams(t *testing.T) {
	levels := LevelsFromParams(d("50000"), strategy.MustLookup(strategy.DayTrading).Params)
	assertDecimal(t, "49250", levels.StopLoss)
	assertDecimal(t, "51000", levels.TakeProfit1)
	assertDecimal(t, "51500", levels.TakeProfit2)
	assert.Equal(t, 0.5, levels.TrailingStopPct)
}

func TestEvaluateExit(t *testing.T) {
	tests := []struct {
		name      string
		state     ExitState
		low, high string
		hit       bool
		reason    ExitReason
		level     string
		partial   bool
	}{
		{
			name:  "stop loss beats second target on the same bar",
			state: dayTradingState("51600", 0),
			low:   "49200", high: "51600",
			hit: true, reason: ExitStopLoss, level: "49250",
		},
		{
			name:  "stop loss at the level is inclusive",
			state: dayTradingState("50000", 0),
			low:   "49250", high: "49250",
			hit: true, reason: ExitStopLoss, level: "49250",
		},
		{
			name:  "trailing stop above entry",
			state: dayTradingState("50500", 0),
			low:   "50200", high: "50200",
			hit: true, reason: ExitTrailingStop, level: "50247.5",
		},
		{
			name:  "trailing stop below entry is inactive",
			state: dayTradingState("50100", 0),
			low:   "49900", high: "49900",
		},
		{
			name:  "first target sells part",
			state: dayTradingState("51000", 0),
			low:   "51000", high: "51000",
			hit: true, reason: ExitTakeProfit1, level: "51000", partial: true,
		},
		{
			name:  "first target only once",
			state: dayTradingState("51200", 50),
			low:   "51200", high: "51200",
		},
		{
			name:  "second target after partial",
			state: dayTradingState("51500", 50),
			low:   "51500", high: "51500",
			hit: true, reason: ExitTakeProfit2, level: "51500",
		},
		{
			name:  "first target precedes second on an unsold position",
			state: dayTradingState("51600", 0),
			low:   "51550", high: "51600",
			hit: true, reason: ExitTakeProfit1, level: "51000", partial: true,
		},
		{
			name:  "quiet price",
			state: dayTradingState("50000", 0),
			low:   "50000", high: "50000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, hit := EvaluateExit(tt.state, d(tt.low), d(tt.high))
			require.Equal(t, tt.hit, hit)
			if !tt.hit {
				return
			}
			assert.Equal(t, tt.reason, sig.Reason)
			assertDecimal(t, tt.level, sig.Level)
			assert.Equal(t, tt.partial, sig.Partial)
		})
	}
}

func TestTrailingStopPrice(t *testing.T) {
	_, ok := dayTradingState("50000", 0).TrailingStopPrice()
	assert.False(t, ok)

	price, ok := dayTradingState("52000", 0).TrailingStopPrice()
	require.True(t, ok)
	assertDecimal(t, "51740", price)
}

func TestPartialQuantity(t *testing.T) {
	assert.Equal(t, int64(50), PartialQuantity(100, 0.5))
	assert.Equal(t, int64(1), PartialQuantity(3, 0.5))
	assert.Equal(t, int64(0), PartialQuantity(1, 0.5))
	assert.Equal(t, int64(0), PartialQuantity(10, 1))
	assert.Equal(t, int64(0), PartialQuantity(10, 0))
	assert.Equal(t, int64(3), PartialQuantity(10, 0.3))
}

func TestTrailingStopDisabled(t *testing.T) {
	s := dayTradingState("52000", 0)
	s.TrailingStopPct = 0

	_, ok := s.TrailingStopPrice()
	assert.False(t, ok)
	_, hit := EvaluateExit(s, d("50500"), d("50500"))
	assert.False(t, hit)
}
