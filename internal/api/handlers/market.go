package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/neurastock/internal/services"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/shopspring/decimal"
)

// MarketHandler serves single-stock analysis, screening and market breadth.
type MarketHandler struct {
	analyzer     services.Analyzer
	screener     *services.ScreeningService
	market       *services.MarketAnalyzer
	defaultStyle strategy.TradingStyle
}

func NewMarketHandler(analyzer services.Analyzer, screener *services.ScreeningService, market *services.MarketAnalyzer, defaultStyle strategy.TradingStyle) *MarketHandler {
	if defaultStyle == "" {
		defaultStyle = strategy.DayTrading
	}
	return &MarketHandler{analyzer: analyzer, screener: screener, market: market, defaultStyle: defaultStyle}
}

func (h *MarketHandler) style(c *gin.Context) (strategy.TradingStyle, bool) {
	raw := c.Query("style")
	if raw == "" {
		return h.defaultStyle, true
	}
	style, err := strategy.ParseStyle(raw)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return style, true
}

func (h *MarketHandler) AnalyzeStock(c *gin.Context) {
	style, ok := h.style(c)
	if !ok {
		return
	}
	analysis, err := h.analyzer.AnalyzeStock(c.Request.Context(), c.Param("stock_code"), style)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, strategy.ErrInvalidStyle) {
			code = http.StatusBadRequest
		}
		errorJSON(c, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// Screen runs the screener. Query parameters override the default filters one by one.
func (h *MarketHandler) Screen(c *gin.Context) {
	if h.screener == nil {
		errorJSON(c, http.StatusServiceUnavailable, "screening not configured")
		return
	}
	style, ok := h.style(c)
	if !ok {
		return
	}

	filters := services.DefaultScreeningFilters()
	filters.Market = c.Query("market")
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"score_min", &filters.ScoreMin},
		{"volume_ratio_min", &filters.VolumeRatioMin},
		{"strength_min", &filters.StrengthMin},
	} {
		if raw := c.Query(f.name); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				errorJSON(c, http.StatusBadRequest, f.name+" must be a number")
				return
			}
			*f.dst = v
		}
	}
	for _, f := range []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"price_min", &filters.PriceMin},
		{"price_max", &filters.PriceMax},
	} {
		if raw := c.Query(f.name); raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				errorJSON(c, http.StatusBadRequest, f.name+" must be a number")
				return
			}
			*f.dst = v
		}
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	asc, _ := strconv.ParseBool(c.DefaultQuery("ascending", "false"))

	result, err := h.screener.Screen(c.Request.Context(), services.ScreenRequest{
		Style:     style,
		Filters:   &filters,
		SortBy:    services.SortKey(c.DefaultQuery("sort", string(services.SortByScore))),
		Ascending: asc,
		Limit:     limit,
	})
	if err != nil {
		errorJSON(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *MarketHandler) MarketSummary(c *gin.Context) {
	summary, err := h.market.AnalyzeMarket(c.Request.Context(), c.Query("market"))
	if err != nil {
		errorJSON(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":           summary,
		"trading_favorable": h.market.IsTradingFavorable(summary),
	})
}

func (h *MarketHandler) Sectors(c *gin.Context) {
	sectors, err := h.market.AnalyzeSectors(c.Request.Context(), c.Query("market"))
	if err != nil {
		errorJSON(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"sectors": sectors})
}

func (h *MarketHandler) TopStocks(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "20"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "count must be an integer")
		return
	}
	top, err := h.market.TopStocks(c.Request.Context(), c.Query("market"), count)
	if err != nil {
		errorJSON(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, top)
}
