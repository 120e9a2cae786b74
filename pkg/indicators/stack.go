package indicators

import (
	"github.com/irfndi/neurastock/pkg/interfaces"
	"go.uber.org/zap"
)

// Snapshot is the market state one evaluation runs on: a bar window plus the latest execution
// and depth snapshots. Either snapshot may be nil.
type Snapshot struct {
	StockCode string
	Bars      []interfaces.Bar
	Execution *interfaces.ExecutionData
	OrderBook *interfaces.OrderBook
}

// IndicatorSet computes every reading for a snapshot with one period configuration.
type IndicatorSet struct {
	config Config
	logger *zap.Logger
}

// NewIndicatorSet uses DefaultConfig when config is nil.
func NewIndicatorSet(config *Config, logger *zap.Logger) *IndicatorSet {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndicatorSet{config: cfg, logger: logger}
}

// Config returns the periods in use.
func (s *IndicatorSet) Config() Config {
	cfg := s.config
	cfg.MAPeriods = append([]int(nil), s.config.MAPeriods...)
	return cfg
}

// Compute never fails. A malformed bar window is logged and treated as empty, so every
// bar-based reading falls back to its neutral default.
func (s *IndicatorSet) Compute(snap Snapshot) Readings {
	bars := snap.Bars
	if err := ValidateBars(bars); err != nil {
		s.logger.Warn("rejecting bar window",
			zap.String("stock_code", snap.StockCode),
			zap.Int("bars", len(bars)),
			zap.Error(err))
		bars = nil
	}

	r := Readings{
		Volume:    Volume(bars, s.config.VolumePeriod),
		VWAP:      VWAP(bars),
		MA:        MovingAverages(bars, s.config.MAPeriods),
		RSI:       RSI(bars, s.config.RSIPeriod),
		MACD:      MACD(bars, s.config.MACDFast, s.config.MACDSlow, s.config.MACDSignal),
		Bollinger: Bollinger(bars, s.config.BollingerPeriod, s.config.BollingerStdDev),
		OBV:       OBV(bars),
		OrderBook: Strength(snap.Execution),
	}
	if snap.OrderBook != nil {
		depth := Depth(snap.OrderBook)
		r.Depth = &depth
	}
	return r
}
