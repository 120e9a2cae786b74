// Package api wires the control and status HTTP surface onto gin.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/neurastock/internal/api/handlers"
	"github.com/irfndi/neurastock/internal/middleware"
	"github.com/irfndi/neurastock/internal/observability"
	"github.com/irfndi/neurastock/internal/orchestrator"
	"github.com/irfndi/neurastock/internal/services"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/internal/trading"
	"go.uber.org/zap"
)

// Deps is everything the routes need. Optional parts (Screener, Market, Events, Metrics,
// ControlLimiter) switch their endpoints off when nil.
type Deps struct {
	Orchestrator   *orchestrator.Orchestrator
	Engine         *trading.DecisionEngine
	Analyzer       services.Analyzer
	Screener       *services.ScreeningService
	Market         *services.MarketAnalyzer
	Events         *handlers.EventStream
	Metrics        *observability.Metrics
	Health         *handlers.HealthHandler
	ControlLimiter *middleware.RateLimiter
	Logger         *zap.Logger
}

// NewRouter builds a gin engine with recovery, Sentry and request logging, and registers the
// routes.
func NewRouter(deps Deps, sentryEnabled bool) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(deps.Logger))
	if sentryEnabled {
		router.Use(middleware.Telemetry())
	}
	router.Use(gin.Recovery())
	SetupRoutes(router, deps)
	return router
}

// SetupRoutes registers health checks at the root and the trading API under /api/v1.
func SetupRoutes(router *gin.Engine, deps Deps) {
	health := deps.Health
	if health == nil {
		health = handlers.NewHealthHandler("")
	}
	healthGroup := router.Group("/")
	healthGroup.Use(middleware.HealthCheckTag())
	{
		healthGroup.GET("/health", gin.WrapF(health.HealthCheck))
		healthGroup.HEAD("/health", gin.WrapF(health.HealthCheck))
		healthGroup.GET("/ready", gin.WrapF(health.ReadinessCheck))
		healthGroup.GET("/live", gin.WrapF(health.LivenessCheck))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")

	if deps.Orchestrator != nil && deps.Engine != nil {
		tradingHandler := handlers.NewTradingHandler(deps.Orchestrator, deps.Engine)

		v1.GET("/status", tradingHandler.GetStatus)
		v1.GET("/report", tradingHandler.GetDailyReport)

		positions := v1.Group("/positions")
		{
			positions.GET("", tradingHandler.ListPositions)
			positions.GET("/:position_id", tradingHandler.GetPosition)
		}

		orders := v1.Group("/orders")
		{
			orders.GET("", tradingHandler.ListOrders)
			orders.GET("/:order_id", tradingHandler.GetOrder)
		}

		v1.GET("/watchlist", tradingHandler.GetWatchList)

		control := v1.Group("/control")
		if deps.ControlLimiter != nil {
			control.Use(deps.ControlLimiter.Middleware())
		}
		{
			control.POST("/pause", tradingHandler.Pause)
			control.POST("/resume", tradingHandler.Resume)
			control.PUT("/auto-trade", tradingHandler.SetAutoTrade)
			control.POST("/exit/:stock_code", tradingHandler.ExitPosition)
			control.POST("/watchlist", tradingHandler.AddToWatchList)
			control.DELETE("/watchlist/:stock_code", tradingHandler.RemoveFromWatchList)
		}
	}

	if deps.Analyzer != nil {
		market := handlers.NewMarketHandler(deps.Analyzer, deps.Screener, deps.Market, styleOf(deps.Engine))
		v1.GET("/analysis/:stock_code", market.AnalyzeStock)
		v1.GET("/screening", market.Screen)
		if deps.Market != nil {
			m := v1.Group("/market")
			{
				m.GET("/summary", market.MarketSummary)
				m.GET("/sectors", market.Sectors)
				m.GET("/top", market.TopStocks)
			}
		}
	}

	if deps.Events != nil {
		v1.GET("/events", deps.Events.Stream)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "not found"})
	})
}

func styleOf(e *trading.DecisionEngine) strategy.TradingStyle {
	if e == nil {
		return ""
	}
	return e.Config().Style
}
