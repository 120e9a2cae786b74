package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltInProfilesAreValid(t *testing.T) {
	for _, style := range Styles() {
		t.Run(string(style), func(t *testing.T) {
			p, err := Lookup(style)
			require.NoError(t, err)
			assert.InDelta(t, 100.0, p.Weights.Sum(), 1e-9)
			assert.NoError(t, p.Validate())
		})
	}
}

func TestBuiltInTables(t *testing.T) {
	day := MustLookup(DayTrading)
	assert.Equal(t, Weights{Volume: 30, OrderBook: 15, VWAP: 25, MA: 15, RSI: 8, MACD: 5, Bollinger: 2, OBV: 0}, day.Weights)
	assert.Equal(t, SignalThresholds{StrongBuy: 80, Buy: 70, Watch: 55}, day.Thresholds)
	assert.Equal(t, -1.5, day.Params.StopLossPct)
	assert.Equal(t, 3.0, day.Params.TakeProfit2Pct)

	swing := MustLookup(Swing)
	assert.Equal(t, 70.0, swing.Gate.MaxRSI)
	assert.True(t, swing.Gate.RequireAboveMA20)
	assert.Len(t, swing.StrengthThresholds, 2)
}

func TestParseStyle(t *testing.T) {
	style, err := ParseStyle(" swing ")
	require.NoError(t, err)
	assert.Equal(t, Swing, style)

	_, err = ParseStyle("position")
	assert.ErrorIs(t, err, ErrInvalidStyle)
}

func TestLookupReturnsCopies(t *testing.T) {
	p := MustLookup(DayTrading)
	p.Gate.VWAPPositions[0] = "below"

	again := MustLookup(DayTrading)
	assert.Equal(t, []string{"above", "at"}, again.Gate.VWAPPositions)
}

func TestValidateRejectsBadTables(t *testing.T) {
	p := MustLookup(Scalping)
	p.Weights.Volume = 30
	assert.ErrorContains(t, p.Validate(), "weights sum")

	p = MustLookup(Scalping)
	p.Thresholds.Buy = 90
	assert.ErrorContains(t, p.Validate(), "thresholds")

	p = MustLookup(Scalping)
	p.Params.StopLossPct = 0.5
	assert.ErrorContains(t, p.Validate(), "stop_loss")
}

func TestRegistryApplyYAML(t *testing.T) {
	r := NewRegistry()

	err := r.ApplyYAML([]byte(`
styles:
  swing:
    thresholds: {strong_buy: 78, buy: 68, watch: 52}
`))
	require.NoError(t, err)

	p, err := r.Profile(Swing)
	require.NoError(t, err)
	assert.Equal(t, SignalThresholds{StrongBuy: 78, Buy: 68, Watch: 52}, p.Thresholds)
	assert.Equal(t, 20.0, p.Weights.MA, "untouched fields keep their defaults")
}

func TestRegistryRejectsInvalidOverride(t *testing.T) {
	r := NewRegistry()

	err := r.ApplyYAML([]byte(`
styles:
  DAYTRADING:
    weights: {volume: 50}
`))
	require.Error(t, err)

	p, _ := r.Profile(DayTrading)
	assert.Equal(t, 30.0, p.Weights.Volume)
}

func TestLoadRegistryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yml")
	require.NoError(t, os.WriteFile(path, []byte("styles:\n  SCALPING:\n    params: {position_size_pct: 25}\n"), 0o600))

	r, err := LoadRegistry(path)
	require.NoError(t, err)
	p, _ := r.Profile(Scalping)
	assert.Equal(t, 25.0, p.Params.PositionSizePct)
	assert.Equal(t, -0.5, p.Params.StopLossPct)
	assert.NoError(t, r.Validate())

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
