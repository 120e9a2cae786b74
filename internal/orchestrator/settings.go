package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/neurastock/internal/config"
	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/services/risk"
)

const (
	defaultDiscoveryLimit = 10
	preMarketDiscoverMax  = 20
)

// Settings is the orchestrator's runtime configuration. UpdateConfig swaps it atomically.
type Settings struct {
	Hours             MarketHours
	TradingInterval   time.Duration
	MonitorInterval   time.Duration
	DiscoveryInterval time.Duration
	Limits            risk.DailyLimitsConfig
	MinScore          float64
	SignalTypes       []scoring.Signal
	AutoDiscover      bool
	DiscoveryLimit    int
	LeaseTTL          time.Duration
}

// SettingsFromConfig converts the orchestrator section of the service config.
func SettingsFromConfig(cfg config.OrchestratorConfig) (Settings, error) {
	hours, err := NewMarketHours(cfg.Timezone, cfg.PreMarket, cfg.MarketOpen, cfg.MarketClose)
	if err != nil {
		return Settings{}, err
	}
	signals, err := ParseSignalTypes(cfg.SignalTypes)
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		Hours:             hours,
		TradingInterval:   cfg.TradingInterval,
		MonitorInterval:   cfg.MonitorInterval,
		DiscoveryInterval: cfg.DiscoveryInterval,
		Limits: risk.DailyLimitsConfig{
			MaxTrades:    cfg.MaxDailyTrades,
			MaxLossPct:   cfg.MaxDailyLossPct,
			MaxProfitPct: cfg.MaxDailyProfitPct,
		},
		MinScore:       cfg.MinScore,
		SignalTypes:    signals,
		AutoDiscover:   cfg.AutoDiscover,
		DiscoveryLimit: cfg.DiscoveryLimit,
		LeaseTTL:       cfg.LeaseTTL,
	}
	if s.DiscoveryLimit <= 0 {
		s.DiscoveryLimit = defaultDiscoveryLimit
	}
	return s, s.Validate()
}

func (s Settings) Validate() error {
	if s.TradingInterval <= 0 || s.MonitorInterval <= 0 {
		return errors.New("trading and monitor intervals must be positive")
	}
	if s.DiscoveryInterval < 0 {
		return errors.New("discovery interval must not be negative")
	}
	if s.MinScore < 0 || s.MinScore > 100 {
		return errors.New("min score must be in [0, 100]")
	}
	if len(s.SignalTypes) == 0 {
		return errors.New("at least one signal type is required")
	}
	if s.Limits.MaxTrades < 0 || s.Limits.MaxProfitPct < 0 {
		return errors.New("daily limits must not be negative")
	}
	return nil
}

func (s Settings) clone() Settings {
	s.SignalTypes = append([]scoring.Signal(nil), s.SignalTypes...)
	return s
}

func (s Settings) accepts(sig scoring.SignalResult) bool {
	if sig.TotalScore < s.MinScore {
		return false
	}
	for _, t := range s.SignalTypes {
		if t == sig.Signal {
			return true
		}
	}
	return false
}

// ParseSignalTypes accepts STRONG_BUY, BUY, WATCH and HOLD in any case. Empty input gives the
// two buy signals.
func ParseSignalTypes(names []string) ([]scoring.Signal, error) {
	if len(names) == 0 {
		return []scoring.Signal{scoring.SignalStrongBuy, scoring.SignalBuy}, nil
	}
	out := make([]scoring.Signal, 0, len(names))
	for _, n := range names {
		sig := scoring.Signal(strings.ToUpper(strings.TrimSpace(n)))
		switch sig {
		case scoring.SignalStrongBuy, scoring.SignalBuy, scoring.SignalWatch, scoring.SignalHold:
			out = append(out, sig)
		default:
			return nil, fmt.Errorf("unknown signal type %q", n)
		}
	}
	return out, nil
}
