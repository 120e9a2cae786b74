package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/talib"
	"github.com/irfndi/neurastock/pkg/interfaces"
)

type MarketCondition string

const (
	MarketStrongBullish MarketCondition = "STRONG_BULLISH"
	MarketBullish       MarketCondition = "BULLISH"
	MarketNeutral       MarketCondition = "NEUTRAL"
	MarketBearish       MarketCondition = "BEARISH"
	MarketStrongBearish MarketCondition = "STRONG_BEARISH"
)

const unclassifiedSector = "OTHER"

// MarketSummary is the advance/decline breadth of one market.
type MarketSummary struct {
	Condition    MarketCondition `json:"condition"`
	AdvanceRatio float64         `json:"advance_ratio"`
	Advances     int             `json:"advance_count"`
	Declines     int             `json:"decline_count"`
	Unchanged    int             `json:"unchanged_count"`
	TotalVolume  int64           `json:"total_volume"`
	Score        float64         `json:"score"`
	Analysis     string          `json:"analysis"`
	Timestamp    time.Time       `json:"timestamp"`
}

type SectorStrength string

const (
	SectorStrong SectorStrength = "STRONG"
	SectorFlat   SectorStrength = "FLAT"
	SectorWeak   SectorStrength = "WEAK"
)

type SectorAnalysis struct {
	Sector      string              `json:"sector_name"`
	ChangeRate  float64             `json:"change_rate"`
	TopGainers  []*interfaces.Quote `json:"top_gainers"`
	TopLosers   []*interfaces.Quote `json:"top_losers"`
	Strength    SectorStrength      `json:"strength"`
	StockCount  int                 `json:"stock_count"`
	TotalVolume int64               `json:"total_volume"`
}

type TopStocks struct {
	Gainers []*interfaces.Quote `json:"top_gainers"`
	Losers  []*interfaces.Quote `json:"top_losers"`
	Volume  []*interfaces.Quote `json:"top_volume"`
	Amount  []*interfaces.Quote `json:"top_amount"`
}

// MarketAnalyzer derives market-wide conditions from quotes of the listed universe.
type MarketAnalyzer struct {
	broker interfaces.Broker
	logger *zaplogrus.Logger
	now    func() time.Time
}

func NewMarketAnalyzer(broker interfaces.Broker, logger *zaplogrus.Logger) *MarketAnalyzer {
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}
	return &MarketAnalyzer{broker: broker, logger: logger, now: time.Now}
}

func (m *MarketAnalyzer) snapshot(ctx context.Context, market string) ([]interfaces.StockInfo, []*interfaces.Quote, error) {
	stocks, err := m.broker.GetStockList(ctx, market)
	if err != nil {
		return nil, nil, fmt.Errorf("stock list: %w", err)
	}
	codes := make([]string, len(stocks))
	for i, st := range stocks {
		codes[i] = st.Code
	}
	quotes, err := m.broker.GetQuotes(ctx, codes)
	if err != nil {
		return nil, nil, fmt.Errorf("quotes: %w", err)
	}
	return stocks, quotes, nil
}

// AnalyzeMarket classifies breadth: the share of advancing stocks among all quoted.
func (m *MarketAnalyzer) AnalyzeMarket(ctx context.Context, market string) (*MarketSummary, error) {
	_, quotes, err := m.snapshot(ctx, market)
	if err != nil {
		return nil, err
	}

	s := &MarketSummary{Timestamp: m.now()}
	for _, q := range quotes {
		switch {
		case q.ChangeRate > 0:
			s.Advances++
		case q.ChangeRate < 0:
			s.Declines++
		default:
			s.Unchanged++
		}
		s.TotalVolume += q.Volume
	}

	total := s.Advances + s.Declines + s.Unchanged
	if total == 0 {
		total = 1
	}
	ratio := float64(s.Advances) / float64(total) * 100
	s.AdvanceRatio = talib.Round(ratio, 1)
	s.Condition, s.Score = classifyBreadth(ratio)
	s.Analysis = marketComment(s.Condition, ratio, s.Advances, s.Declines)

	m.logger.WithFields(zaplogrus.Fields{
		"condition":     string(s.Condition),
		"advance_ratio": s.AdvanceRatio,
	}).Debug("market analyzed")
	return s, nil
}

func classifyBreadth(ratio float64) (MarketCondition, float64) {
	switch {
	case ratio >= 70:
		return MarketStrongBullish, 90
	case ratio >= 55:
		return MarketBullish, 70
	case ratio >= 45:
		return MarketNeutral, 50
	case ratio >= 30:
		return MarketBearish, 30
	default:
		return MarketStrongBearish, 10
	}
}

func marketComment(c MarketCondition, ratio float64, advances, declines int) string {
	switch c {
	case MarketStrongBullish:
		return fmt.Sprintf("Strong rally: %d advancing vs %d declining (%.1f%% advancing). Active buying is reasonable.", advances, declines, ratio)
	case MarketBullish:
		return fmt.Sprintf("Advancers lead: %d advancing vs %d declining. Favour selective entries.", advances, declines)
	case MarketNeutral:
		return fmt.Sprintf("Mixed market: %d advancing, %d declining. Wait for direction before entering.", advances, declines)
	case MarketBearish:
		return fmt.Sprintf("Decliners lead: %d declining vs %d advancing. Be cautious with new entries.", declines, advances)
	default:
		return fmt.Sprintf("Broad sell-off: only %.1f%% advancing. Stay on the sidelines.", ratio)
	}
}

// IsTradingFavorable reports whether new entries suit the market condition.
func (m *MarketAnalyzer) IsTradingFavorable(s *MarketSummary) bool {
	return s != nil && (s.Condition == MarketStrongBullish || s.Condition == MarketBullish)
}

// AnalyzeSectors groups quotes by the sector the broker lists, strongest sector first.
func (m *MarketAnalyzer) AnalyzeSectors(ctx context.Context, market string) ([]SectorAnalysis, error) {
	stocks, quotes, err := m.snapshot(ctx, market)
	if err != nil {
		return nil, err
	}
	sectorOf := make(map[string]string, len(stocks))
	for _, st := range stocks {
		sector := st.Sector
		if sector == "" {
			sector = unclassifiedSector
		}
		sectorOf[st.Code] = sector
	}

	groups := make(map[string][]*interfaces.Quote)
	for _, q := range quotes {
		sector, ok := sectorOf[q.StockCode]
		if !ok {
			sector = unclassifiedSector
		}
		groups[sector] = append(groups[sector], q)
	}

	out := make([]SectorAnalysis, 0, len(groups))
	for sector, qs := range groups {
		var sum float64
		var volume int64
		for _, q := range qs {
			sum += q.ChangeRate
			volume += q.Volume
		}
		avg := sum / float64(len(qs))

		ranked := sortedQuotes(qs, func(q *interfaces.Quote) float64 { return q.ChangeRate })
		losers := make([]*interfaces.Quote, 0, 3)
		for i := len(ranked) - 1; i >= 0 && len(losers) < 3; i-- {
			losers = append(losers, ranked[i])
		}

		strength := SectorWeak
		switch {
		case avg >= 2:
			strength = SectorStrong
		case avg >= 0:
			strength = SectorFlat
		}

		out = append(out, SectorAnalysis{
			Sector:      sector,
			ChangeRate:  talib.Round(avg, 2),
			TopGainers:  head(ranked, 3),
			TopLosers:   losers,
			Strength:    strength,
			StockCount:  len(qs),
			TotalVolume: volume,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ChangeRate != out[j].ChangeRate {
			return out[i].ChangeRate > out[j].ChangeRate
		}
		return out[i].Sector < out[j].Sector
	})
	return out, nil
}

// TopStocks ranks quotes by change rate, volume and traded amount.
func (m *MarketAnalyzer) TopStocks(ctx context.Context, market string, count int) (*TopStocks, error) {
	if count <= 0 {
		count = 20
	}
	_, quotes, err := m.snapshot(ctx, market)
	if err != nil {
		return nil, err
	}

	byChange := sortedQuotes(quotes, func(q *interfaces.Quote) float64 { return q.ChangeRate })
	losers := make([]*interfaces.Quote, 0, count)
	for i := len(byChange) - 1; i >= 0 && len(losers) < count; i-- {
		losers = append(losers, byChange[i])
	}

	return &TopStocks{
		Gainers: head(byChange, count),
		Losers:  losers,
		Volume:  head(sortedQuotes(quotes, func(q *interfaces.Quote) float64 { return float64(q.Volume) }), count),
		Amount: head(sortedQuotes(quotes, func(q *interfaces.Quote) float64 {
			return q.TradeAmount.InexactFloat64()
		}), count),
	}, nil
}

// sortedQuotes returns a copy ordered by key, highest first.
func sortedQuotes(qs []*interfaces.Quote, key func(*interfaces.Quote) float64) []*interfaces.Quote {
	out := append([]*interfaces.Quote(nil), qs...)
	sort.SliceStable(out, func(i, j int) bool { return key(out[i]) > key(out[j]) })
	return out
}

func head(qs []*interfaces.Quote, n int) []*interfaces.Quote {
	if len(qs) > n {
		return qs[:n]
	}
	return qs
}
