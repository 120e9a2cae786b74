package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/observability"
	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/services/workerpool"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
)

// ScreeningFilters narrows the stock universe. Zero values disable a filter.
type ScreeningFilters struct {
	MarketCapMin   decimal.Decimal `json:"market_cap_min"`
	MarketCapMax   decimal.Decimal `json:"market_cap_max"`
	Market         string          `json:"market,omitempty"`
	PriceMin       decimal.Decimal `json:"price_min"`
	PriceMax       decimal.Decimal `json:"price_max"`
	VolumeRatioMin float64         `json:"volume_ratio_min"`
	StrengthMin    float64         `json:"strength_min"`
	ScoreMin       float64         `json:"score_min"`
}

// DefaultScreeningFilters keeps mid and large caps priced between 1,000 and 1,000,000 with at
// least average volume.
func DefaultScreeningFilters() ScreeningFilters {
	return ScreeningFilters{
		MarketCapMin:   decimal.NewFromInt(100_000_000_000),
		MarketCapMax:   decimal.NewFromInt(50_000_000_000_000),
		PriceMin:       decimal.NewFromInt(1_000),
		PriceMax:       decimal.NewFromInt(1_000_000),
		VolumeRatioMin: 100,
	}
}

type SortKey string

const (
	SortByScore       SortKey = "total_score"
	SortByChangeRate  SortKey = "change_rate"
	SortByVolumeRatio SortKey = "volume_ratio"
	SortByStrength    SortKey = "strength"
	SortByConfidence  SortKey = "confidence"
)

type ScreenRequest struct {
	Style strategy.TradingStyle
	// Filters replaces DefaultScreeningFilters when set
	Filters *ScreeningFilters
	SortBy  SortKey
	// Ascending sorts lowest first; the default is highest first
	Ascending bool
	Limit     int
}

type ScreeningItem struct {
	StockCode       string          `json:"stock_code"`
	StockName       string          `json:"stock_name"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	ChangeRate      float64         `json:"change_rate"`
	TotalScore      float64         `json:"total_score"`
	Signal          scoring.Signal  `json:"signal"`
	VolumeRatio     float64         `json:"volume_ratio"`
	Strength        float64         `json:"strength"`
	MandatoryPassed bool            `json:"mandatory_passed"`
	Confidence      float64         `json:"confidence"`
}

func (it ScreeningItem) sortValue(key SortKey) float64 {
	switch key {
	case SortByChangeRate:
		return it.ChangeRate
	case SortByVolumeRatio:
		return it.VolumeRatio
	case SortByStrength:
		return it.Strength
	case SortByConfidence:
		return it.Confidence
	default:
		return it.TotalScore
	}
}

type ScreeningResult struct {
	TotalCount int                   `json:"total_count"`
	Items      []ScreeningItem       `json:"items"`
	Filters    ScreeningFilters      `json:"filters"`
	Style      strategy.TradingStyle `json:"trading_style"`
	ScreenedAt time.Time             `json:"screening_time"`
}

// Analyzer is the part of AnalysisService screening depends on.
type Analyzer interface {
	AnalyzeStock(ctx context.Context, code string, style strategy.TradingStyle) (*StockAnalysis, error)
}

// ScreeningService filters the listed universe, analyzes the survivors in parallel on a worker
// pool and ranks them.
type ScreeningService struct {
	broker   interfaces.Broker
	analyzer Analyzer
	pool     *workerpool.Pool
	logger   *zaplogrus.Logger
	now      func() time.Time
}

// NewScreeningService takes a started pool; the caller owns its lifecycle.
func NewScreeningService(broker interfaces.Broker, analyzer Analyzer, pool *workerpool.Pool, logger *zaplogrus.Logger) *ScreeningService {
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}
	return &ScreeningService{broker: broker, analyzer: analyzer, pool: pool, logger: logger, now: time.Now}
}

func (s *ScreeningService) Screen(ctx context.Context, req ScreenRequest) (*ScreeningResult, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanOpScreening, "screen stocks")
	var err error
	defer func() { observability.FinishSpan(span, err) }()

	filters := DefaultScreeningFilters()
	if req.Filters != nil {
		filters = *req.Filters
	}
	if req.SortBy == "" {
		req.SortBy = SortByScore
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	stocks, err := s.broker.GetStockList(ctx, filters.Market)
	if err != nil {
		return nil, fmt.Errorf("stock list: %w", err)
	}
	candidates := applyBasicFilters(stocks, filters)

	items := s.analyzeAll(ctx, candidates, req.Style, filters)

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].sortValue(req.SortBy), items[j].sortValue(req.SortBy)
		if req.Ascending {
			return a < b
		}
		return a > b
	})
	if len(items) > req.Limit {
		items = items[:req.Limit]
	}

	s.logger.WithFields(zaplogrus.Fields{
		"universe":   len(stocks),
		"candidates": len(candidates),
		"matched":    len(items),
		"style":      string(req.Style),
	}).Debug("screening finished")

	return &ScreeningResult{
		TotalCount: len(items),
		Items:      items,
		Filters:    filters,
		Style:      req.Style,
		ScreenedAt: s.now(),
	}, nil
}

// applyBasicFilters uses only the stock list, before any market data is fetched. A stock the
// broker lists without a price or market cap passes the corresponding filter.
func applyBasicFilters(stocks []interfaces.StockInfo, f ScreeningFilters) []interfaces.StockInfo {
	out := make([]interfaces.StockInfo, 0, len(stocks))
	for _, st := range stocks {
		if f.Market != "" && st.Market != f.Market {
			continue
		}
		if !st.MarketCap.IsZero() {
			if f.MarketCapMin.IsPositive() && st.MarketCap.LessThan(f.MarketCapMin) {
				continue
			}
			if f.MarketCapMax.IsPositive() && st.MarketCap.GreaterThan(f.MarketCapMax) {
				continue
			}
		}
		if !st.Price.IsZero() {
			if f.PriceMin.IsPositive() && st.Price.LessThan(f.PriceMin) {
				continue
			}
			if f.PriceMax.IsPositive() && st.Price.GreaterThan(f.PriceMax) {
				continue
			}
		}
		out = append(out, st)
	}
	return out
}

func (s *ScreeningService) analyzeAll(ctx context.Context, stocks []interfaces.StockInfo, style strategy.TradingStyle, f ScreeningFilters) []ScreeningItem {
	results, errs := workerpool.Map(ctx, s.pool, stocks, func(ctx context.Context, st interfaces.StockInfo) (*StockAnalysis, error) {
		return s.analyzer.AnalyzeStock(ctx, st.Code, style)
	})

	items := make([]ScreeningItem, 0, len(results))
	for i, a := range results {
		if errs[i] != nil || a == nil {
			s.logger.WithField("stock_code", stocks[i].Code).WithError(errs[i]).Debug("analysis failed, skipping")
			continue
		}
		volumeRatio := a.Indicators.Volume.VolumeRatio
		strength := a.Indicators.OrderBook.Strength
		if f.VolumeRatioMin > 0 && volumeRatio < f.VolumeRatioMin {
			continue
		}
		if f.StrengthMin > 0 && strength < f.StrengthMin {
			continue
		}
		if f.ScoreMin > 0 && a.Signal.TotalScore < f.ScoreMin {
			continue
		}
		items = append(items, ScreeningItem{
			StockCode:       a.StockCode,
			StockName:       a.StockName,
			CurrentPrice:    a.CurrentPrice,
			ChangeRate:      a.ChangeRate,
			TotalScore:      a.Signal.TotalScore,
			Signal:          a.Signal.Signal,
			VolumeRatio:     volumeRatio,
			Strength:        strength,
			MandatoryPassed: a.Signal.GatePassed,
			Confidence:      a.Signal.Confidence,
		})
	}
	return items
}

// TopSignals screens with tighter volume and strength floors and keeps the stocks whose signal
// is one of signalTypes (STRONG_BUY and BUY when empty).
func (s *ScreeningService) TopSignals(ctx context.Context, style strategy.TradingStyle, signalTypes []scoring.Signal, limit int) ([]ScreeningItem, error) {
	if len(signalTypes) == 0 {
		signalTypes = []scoring.Signal{scoring.SignalStrongBuy, scoring.SignalBuy}
	}
	if limit <= 0 {
		limit = 10
	}

	filters := DefaultScreeningFilters()
	filters.VolumeRatioMin = 150
	filters.StrengthMin = 100

	res, err := s.Screen(ctx, ScreenRequest{Style: style, Filters: &filters, SortBy: SortByScore, Limit: 50})
	if err != nil {
		return nil, err
	}

	wanted := make(map[scoring.Signal]bool, len(signalTypes))
	for _, sig := range signalTypes {
		wanted[sig] = true
	}
	out := make([]ScreeningItem, 0, limit)
	for _, it := range res.Items {
		if wanted[it.Signal] {
			out = append(out, it)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// AutoDiscover builds the pre-market watch list: the best scoring stocks under the default
// filters, whatever their signal.
func (s *ScreeningService) AutoDiscover(ctx context.Context, style strategy.TradingStyle, maxStocks int) ([]ScreeningItem, error) {
	if maxStocks <= 0 {
		maxStocks = 20
	}
	res, err := s.Screen(ctx, ScreenRequest{Style: style, SortBy: SortByScore, Limit: maxStocks})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}
