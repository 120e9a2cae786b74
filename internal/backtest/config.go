// Package backtest replays stored OHLCV history through the exit policy and a pluggable signal
// function, producing an equity curve, a trade ledger and performance statistics.
package backtest

import (
	"errors"
	"fmt"

	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/shopspring/decimal"
)

// Config controls one replay. Rates are fractions (0.001 = 0.1%); PositionSizePct is a percent of
// the cash available at entry.
type Config struct {
	InitialCapital    decimal.Decimal       `json:"initial_capital" yaml:"initial_capital"`
	Style             strategy.TradingStyle `json:"trading_style" yaml:"trading_style"`
	CommissionRate    float64               `json:"commission_rate" yaml:"commission_rate"`
	SlippageRate      float64               `json:"slippage_rate" yaml:"slippage_rate"`
	PositionSizePct   float64               `json:"position_size_pct" yaml:"position_size_pct"`
	MaxPositions      int                   `json:"max_positions" yaml:"max_positions"`
	UseTrailingStop   bool                  `json:"use_trailing_stop" yaml:"use_trailing_stop"`
	TrailingStopPct   float64               `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`
	PartialCloseRatio float64               `json:"partial_close_ratio" yaml:"partial_close_ratio"`
	Timeframe         string                `json:"timeframe" yaml:"timeframe"`
}

func DefaultConfig() Config {
	return Config{
		InitialCapital:    decimal.NewFromInt(10_000_000),
		Style:             strategy.DayTrading,
		CommissionRate:    0.00015,
		SlippageRate:      0.001,
		PositionSizePct:   20,
		MaxPositions:      5,
		UseTrailingStop:   true,
		PartialCloseRatio: 0.5,
		Timeframe:         "1d",
	}
}

var ErrInvalidConfig = errors.New("invalid backtest config")

func (c Config) Validate() error {
	switch {
	case !c.InitialCapital.IsPositive():
		return fmt.Errorf("%w: initial capital must be positive", ErrInvalidConfig)
	case c.CommissionRate < 0 || c.SlippageRate < 0:
		return fmt.Errorf("%w: rates must not be negative", ErrInvalidConfig)
	case c.PositionSizePct <= 0 || c.PositionSizePct > 100:
		return fmt.Errorf("%w: position size must be in (0, 100]", ErrInvalidConfig)
	case c.MaxPositions <= 0:
		return fmt.Errorf("%w: max positions must be positive", ErrInvalidConfig)
	case c.PartialCloseRatio <= 0 || c.PartialCloseRatio >= 1:
		return fmt.Errorf("%w: partial close ratio must be in (0, 1)", ErrInvalidConfig)
	case c.TrailingStopPct < 0:
		return fmt.Errorf("%w: trailing stop must not be negative", ErrInvalidConfig)
	}
	if _, err := strategy.ParseStyle(string(c.Style)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// trailingPct resolves the trailing distance: disabled, an explicit override, or the style default.
func (c Config) trailingPct(params strategy.TradeParams) float64 {
	if !c.UseTrailingStop {
		return 0
	}
	if c.TrailingStopPct > 0 {
		return c.TrailingStopPct
	}
	return params.TrailingStopPct
}
