package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/neurastock/internal/orchestrator"
	"github.com/irfndi/neurastock/internal/trading"
	"github.com/shopspring/decimal"
)

// TradingHandler exposes the orchestrator's status and controls and the engine's ledgers.
type TradingHandler struct {
	orch   *orchestrator.Orchestrator
	engine *trading.DecisionEngine
}

type ExitRequest struct {
	Price  decimal.Decimal `json:"price"`
	Reason string          `json:"reason"`
}

type AutoTradeRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type WatchListRequest struct {
	Codes []string `json:"codes" binding:"required"`
}

func NewTradingHandler(orch *orchestrator.Orchestrator, engine *trading.DecisionEngine) *TradingHandler {
	return &TradingHandler{orch: orch, engine: engine}
}

func errorJSON(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"status": "error", "error": msg})
}

func (h *TradingHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Status(c.Request.Context()))
}

func (h *TradingHandler) Pause(c *gin.Context) {
	if err := h.orch.Pause(); err != nil {
		errorJSON(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": h.orch.State()})
}

func (h *TradingHandler) Resume(c *gin.Context) {
	if err := h.orch.Resume(); err != nil {
		errorJSON(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": h.orch.State()})
}

// GetDailyReport answers JSON, or the plain-text rendering with ?format=text.
func (h *TradingHandler) GetDailyReport(c *gin.Context) {
	report, err := h.orch.DailyReport(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if c.Query("format") == "text" {
		c.String(http.StatusOK, report.String())
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListPositions returns open positions, or every position with ?status=all.
func (h *TradingHandler) ListPositions(c *gin.Context) {
	ledger := h.engine.Positions()
	var positions []trading.Position
	switch strings.ToLower(c.DefaultQuery("status", "open")) {
	case "open":
		positions = ledger.OpenPositions()
	case "all":
		positions = ledger.All()
	default:
		errorJSON(c, http.StatusBadRequest, "status must be open or all")
		return
	}
	if positions == nil {
		positions = []trading.Position{}
	}
	summary := ledger.Summary()
	c.JSON(http.StatusOK, gin.H{
		"positions":            positions,
		"count":                len(positions),
		"total_realized_pnl":   summary.TotalRealizedPnL,
		"total_unrealized_pnl": summary.TotalUnrealizedPnL,
	})
}

func (h *TradingHandler) GetPosition(c *gin.Context) {
	p, ok := h.engine.Positions().Get(c.Param("position_id"))
	if !ok {
		errorJSON(c, http.StatusNotFound, trading.ErrPositionNotFound.Error())
		return
	}
	c.JSON(http.StatusOK, p)
}

// ExitPosition sells every open position in the stock. Without a price the last marked price is
// used. A placement the broker never confirmed answers 202; the order stays pending.
func (h *TradingHandler) ExitPosition(c *gin.Context) {
	code := c.Param("stock_code")
	var req ExitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, "invalid request payload")
			return
		}
	}
	price := req.Price
	if !price.IsPositive() {
		for _, p := range h.engine.Positions().OpenByStock(code) {
			price = p.CurrentPrice
			if !price.IsPositive() {
				price = p.EntryPrice
			}
			break
		}
	}

	reason := trading.ExitManual
	if req.Reason != "" {
		reason = trading.ExitReason(strings.ToUpper(req.Reason))
	}
	decision, order, err := h.engine.RequestExit(c.Request.Context(), code, price, reason)
	switch {
	case errors.Is(err, trading.ErrPositionNotFound):
		errorJSON(c, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, trading.ErrOrderUnconfirmed):
		c.JSON(http.StatusAccepted, gin.H{"status": "unconfirmed", "error": err.Error(), "decision": decision, "order": order})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": err.Error(), "order": order})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "decision": decision, "order": order})
}

// ListOrders returns the most recent orders (?limit, default 50), or only pending ones with
// ?status=pending.
func (h *TradingHandler) ListOrders(c *gin.Context) {
	ledger := h.engine.Orders()
	if strings.EqualFold(c.Query("status"), "pending") {
		c.JSON(http.StatusOK, gin.H{"orders": nonNilOrders(ledger.Pending())})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":  nonNilOrders(ledger.History(limit)),
		"summary": ledger.Summary(),
	})
}

func nonNilOrders(o []trading.Order) []trading.Order {
	if o == nil {
		return []trading.Order{}
	}
	return o
}

func (h *TradingHandler) GetOrder(c *gin.Context) {
	o, ok := h.engine.Orders().Get(c.Param("order_id"))
	if !ok {
		errorJSON(c, http.StatusNotFound, trading.ErrOrderNotFound.Error())
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *TradingHandler) SetAutoTrade(c *gin.Context) {
	var req AutoTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	h.engine.SetAutoTrade(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "auto_trade": h.engine.Config().AutoTrade})
}

func (h *TradingHandler) GetWatchList(c *gin.Context) {
	list := h.orch.WatchList()
	if list == nil {
		list = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"watch_list": list})
}

func (h *TradingHandler) AddToWatchList(c *gin.Context) {
	var req WatchListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request payload")
		return
	}
	added := h.orch.AddToWatchList(req.Codes...)
	c.JSON(http.StatusOK, gin.H{"added": added, "watch_list": h.orch.WatchList()})
}

func (h *TradingHandler) RemoveFromWatchList(c *gin.Context) {
	if !h.orch.RemoveFromWatchList(c.Param("stock_code")) {
		errorJSON(c, http.StatusNotFound, "stock not in watch list")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "watch_list": h.orch.WatchList()})
}
