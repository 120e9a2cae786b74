package services

import (
	"context"
	"fmt"
	"time"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/observability"
	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/internal/trading"
	"github.com/irfndi/neurastock/pkg/indicators"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
)

const (
	analysisBars   = 150
	analysisPeriod = "D"
)

// StockAnalysis is one stock's readings and signal at the time of analysis.
type StockAnalysis struct {
	StockCode    string                `json:"stock_code"`
	StockName    string                `json:"stock_name"`
	CurrentPrice decimal.Decimal       `json:"current_price"`
	Change       decimal.Decimal       `json:"change"`
	ChangeRate   float64               `json:"change_rate"`
	Volume       int64                 `json:"volume"`
	Style        strategy.TradingStyle `json:"trading_style"`
	Indicators   indicators.Readings   `json:"indicators"`
	Signal       scoring.SignalResult  `json:"signal"`
	Timestamp    time.Time             `json:"timestamp"`
}

// AnalysisService fetches market data for one stock and runs it through the indicator set and
// the style's classifier.
type AnalysisService struct {
	broker   interfaces.Broker
	set      *indicators.IndicatorSet
	profiles trading.ProfileSource
	logger   *zaplogrus.Logger
	now      func() time.Time
}

// NewAnalysisService falls back to the built-in style tables when profiles is nil.
func NewAnalysisService(broker interfaces.Broker, set *indicators.IndicatorSet, profiles trading.ProfileSource, logger *zaplogrus.Logger) *AnalysisService {
	if set == nil {
		set = indicators.NewIndicatorSet(nil, nil)
	}
	if profiles == nil {
		profiles = strategy.NewRegistry()
	}
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}
	return &AnalysisService{broker: broker, set: set, profiles: profiles, logger: logger, now: time.Now}
}

// AnalyzeStock reads daily bars, the quote and execution data for code. The order book is
// optional: without it the depth reading is simply absent.
func (s *AnalysisService) AnalyzeStock(ctx context.Context, code string, style strategy.TradingStyle) (*StockAnalysis, error) {
	ctx, span := observability.StartSpanWithTags(ctx, observability.SpanOpBroker, "analyze stock", map[string]string{"stock_code": code})
	var err error
	defer func() { observability.FinishSpan(span, err) }()

	profile, err := s.profiles.Profile(style)
	if err != nil {
		return nil, err
	}

	quote, err := s.broker.GetQuote(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", code, err)
	}
	readings, err := s.readings(ctx, code, analysisPeriod)
	if err != nil {
		return nil, err
	}

	signal := scoring.NewClassifier(profile).Classify(code, readings, quote.Price)
	return &StockAnalysis{
		StockCode:    code,
		StockName:    quote.Name,
		CurrentPrice: quote.Price,
		Change:       quote.Change,
		ChangeRate:   quote.ChangeRate,
		Volume:       quote.Volume,
		Style:        style,
		Indicators:   readings,
		Signal:       signal,
		Timestamp:    s.now(),
	}, nil
}

// Indicators computes the readings alone for a bar period ("D" or a minute interval).
func (s *AnalysisService) Indicators(ctx context.Context, code, period string) (indicators.Readings, error) {
	if period == "" {
		period = analysisPeriod
	}
	return s.readings(ctx, code, period)
}

func (s *AnalysisService) readings(ctx context.Context, code, period string) (indicators.Readings, error) {
	bars, err := s.broker.GetOHLCV(ctx, code, period, analysisBars)
	if err != nil {
		return indicators.Readings{}, fmt.Errorf("ohlcv %s: %w", code, err)
	}
	execution, err := s.broker.GetExecutionData(ctx, code)
	if err != nil {
		return indicators.Readings{}, fmt.Errorf("execution data %s: %w", code, err)
	}

	book, err := s.broker.GetOrderBook(ctx, code)
	if err != nil {
		s.logger.WithField("stock_code", code).WithError(err).Debug("order book unavailable")
		book = nil
	}

	return s.set.Compute(indicators.Snapshot{
		StockCode: code,
		Bars:      bars,
		Execution: execution,
		OrderBook: book,
	}), nil
}
