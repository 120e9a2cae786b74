package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irfndi/neurastock/internal/api"
	"github.com/irfndi/neurastock/internal/api/handlers"
	"github.com/irfndi/neurastock/internal/backtest"
	"github.com/irfndi/neurastock/internal/broker"
	"github.com/irfndi/neurastock/internal/config"
	"github.com/irfndi/neurastock/internal/database"
	"github.com/irfndi/neurastock/internal/logging"
	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/irfndi/neurastock/internal/middleware"
	"github.com/irfndi/neurastock/internal/observability"
	"github.com/irfndi/neurastock/internal/orchestrator"
	"github.com/irfndi/neurastock/internal/services"
	"github.com/irfndi/neurastock/internal/services/distributedlock"
	"github.com/irfndi/neurastock/internal/services/pubsub"
	"github.com/irfndi/neurastock/internal/services/risk"
	"github.com/irfndi/neurastock/internal/services/workerpool"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/internal/trading"
	"github.com/irfndi/neurastock/pkg/indicators"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const serviceName = "neurastock"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// main serves as the entry point for the application.
// It delegates execution to the run function and handles exit codes based on success or failure.
func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "seed":
			if err := runSeeder(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Seeding failed: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, connects storage, builds the trading stack and serves HTTP until
// SIGINT or SIGTERM.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	release := cfg.Sentry.Release
	if release == "" {
		release = version
	}
	if err := observability.InitSentry(cfg.Sentry, release, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Sentry: %v\n", err)
	}
	defer observability.Flush(context.Background())

	stdLogger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	defer func() { _ = stdLogger.Sync() }()
	logger := stdLogger.Logger()

	logrusLogger := zaplogrus.FromZap(logger)
	logrusLogger.SetLevel(logging.ParseLogrusLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDatabaseConnection(ctx, &cfg.Database, logrusLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logrusLogger.WithError(err).Error("Failed to close database connection")
		}
	}()

	bars, err := newBarStore(ctx, cfg, db, stdLogger.WithComponent("bar_store"))
	if err != nil {
		return err
	}

	redisClient, err := database.NewRedisConnection(ctx, cfg.Redis, logrusLogger)
	if err != nil {
		// Redis only backs persistence, limits, events and the lease; trade without them.
		logger.Warn("Failed to connect to Redis - continuing with in-memory state", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	paper := broker.NewPaperBroker(paperConfig(cfg.Broker), trading.RealClock{}, stdLogger.WithComponent("paper_broker"))
	loaded, err := loadPaperMarket(ctx, bars, paper, "1d", cfg.Orchestrator.Market)
	if err != nil {
		return fmt.Errorf("failed to load market history: %w", err)
	}
	logger.Info("Paper market loaded", zap.Int("stocks", loaded))
	brk := broker.NewResilientBroker(paper, resilientConfig(cfg.Broker), stdLogger.WithComponent("broker"))
	if err := brk.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect broker: %w", err)
	}
	defer func() { _ = brk.Disconnect(context.Background()) }()

	registry, err := strategy.LoadRegistry(cfg.Strategy.OverrideFile)
	if err != nil {
		return fmt.Errorf("failed to load strategy profiles: %w", err)
	}

	indicatorSet := indicators.NewIndicatorSet(nil, stdLogger.WithComponent("indicators"))
	analysis := services.NewAnalysisService(brk, indicatorSet, registry, logrusLogger)

	pool := workerpool.New(workerpool.Config{Name: "screening", Workers: 8, QueueSize: 256}, stdLogger.WithComponent("workerpool"))
	if err := pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	defer func() { _ = pool.Stop() }()
	screener := services.NewScreeningService(brk, analysis, pool, logrusLogger)
	market := services.NewMarketAnalyzer(brk, logrusLogger)

	metrics := observability.NewMetrics()
	eventStream := handlers.NewEventStream(stdLogger.WithComponent("event_stream"))
	defer eventStream.Close()

	account := cfg.Trading.Account
	engineOpts := []trading.Option{
		trading.WithLogger(logrusLogger),
		trading.WithProfiles(registry),
		trading.WithBrokerTimeout(cfg.Broker.Timeout),
		trading.WithSink(metrics),
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithAccount(account),
		orchestrator.WithScreener(screener),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithLogger(logrusLogger),
		orchestrator.WithReportHandler(func(r orchestrator.DailyReport) {
			logger.Info("Daily report\n" + r.String())
		}),
	}

	var controlLimiter *middleware.RateLimiter
	healthDeps := []handlers.Dependency{
		{Name: "database", Checker: db, Critical: true},
	}

	if redisClient != nil {
		engineOpts = append(engineOpts, trading.WithStore(trading.NewRedisStore(redisClient.Client, trading.RedisStoreConfig{
			KeyPrefix: cfg.Redis.KeyPrefix + ":" + account,
			TTL:       trading.DefaultRedisStoreConfig().TTL,
		}, logrusLogger)))

		events := pubsub.NewEventPublisher(pubsub.NewPublisher(redisClient.Client, stdLogger.WithComponent("publisher")), account, 256, stdLogger.WithComponent("events"))
		events.Start(ctx)
		defer events.Stop()
		engineOpts = append(engineOpts, trading.WithSink(events))

		subscriber := pubsub.NewSubscriber(redisClient.Client, stdLogger.WithComponent("subscriber"))
		subscriber.HandleAll(eventStream.Publish)
		if err := subscriber.PSubscribe(ctx, pubsub.AccountPattern(account)); err != nil {
			logger.Warn("Failed to subscribe to trading events", zap.Error(err))
		}
		defer func() { _ = subscriber.Close() }()

		locker := distributedlock.NewLocker(redisClient, cfg.Redis.KeyPrefix, stdLogger.WithComponent("lock"))
		defer func() { _ = locker.Close(context.Background()) }()

		orchOpts = append(orchOpts,
			orchestrator.WithDailyLimits(risk.NewRedisDailyLimits(redisClient.Client, cfg.Redis.KeyPrefix, account)),
			orchestrator.WithLocker(locker),
			orchestrator.WithStateListener(events),
		)

		rl := middleware.DefaultRateLimitConfig()
		rl.Prefix = cfg.Redis.KeyPrefix + ":ratelimit"
		controlLimiter = middleware.NewRateLimiter(rl, redisClient.Client, stdLogger.WithComponent("ratelimit"))
		healthDeps = append(healthDeps, handlers.Dependency{Name: "redis", Checker: redisClient})
	} else {
		orchOpts = append(orchOpts, orchestrator.WithDailyLimits(risk.NewMemoryDailyLimits()))
		controlLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimitConfig(), nil, stdLogger.WithComponent("ratelimit"))
	}
	healthDeps = append(healthDeps, handlers.Dependency{
		Name:    "broker",
		Checker: handlers.HealthCheckerFunc(func(ctx context.Context) error { _, err := brk.GetBalance(ctx); return err }),
	})

	engineCfg, err := engineConfig(cfg.Trading)
	if err != nil {
		return err
	}
	engine, err := trading.NewDecisionEngine(brk, engineCfg, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to build decision engine: %w", err)
	}

	settings, err := orchestrator.SettingsFromConfig(cfg.Orchestrator)
	if err != nil {
		return fmt.Errorf("invalid orchestrator settings: %w", err)
	}
	orch, err := orchestrator.New(engine, brk, analysis, settings, orchOpts...)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}
	orch.SetWatchList(cfg.Orchestrator.WatchList)

	router := api.NewRouter(api.Deps{
		Orchestrator:   orch,
		Engine:         engine,
		Analyzer:       analysis,
		Screener:       screener,
		Market:         market,
		Events:         eventStream,
		Metrics:        metrics,
		Health:         handlers.NewHealthHandler(version, healthDeps...),
		ControlLimiter: controlLimiter,
		Logger:         stdLogger.WithComponent("http"),
	}, cfg.Sentry.Enabled)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		stdLogger.LogStartup(serviceName, version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := orch.Start(ctx); err != nil {
		logger.Error("Failed to start orchestrator; serving read-only", zap.Error(err))
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		stdLogger.LogShutdown(serviceName, "signal received")
	case err := <-serverErr:
		stdLogger.LogShutdown(serviceName, "server failed")
		cancel()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Error("Orchestrator stopped with errors", zap.Error(err))
	}
	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited gracefully")
	return nil
}

func newBarStore(ctx context.Context, cfg *config.Config, db database.Database, logger *zap.Logger) (backtest.BarStore, error) {
	if cfg.Backtest.Store == "json" {
		return backtest.NewJSONBarStore(cfg.Backtest.DataDir, logger), nil
	}
	store := backtest.NewSQLBarStore(db, db.Dialect(), logger)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare bar schema: %w", err)
	}
	return store, nil
}

// loadPaperMarket registers every stored series with the paper broker.
func loadPaperMarket(ctx context.Context, store backtest.BarStore, paper *broker.PaperBroker, timeframe, market string) (int, error) {
	codes, err := store.AvailableStocks(ctx, timeframe)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, code := range codes {
		bars, err := store.LoadOHLCV(ctx, code, timeframe, time.Time{}, time.Time{})
		if err != nil {
			return loaded, fmt.Errorf("load %s: %w", code, err)
		}
		if len(bars) == 0 {
			continue
		}
		paper.LoadBars(stockInfo(code, market, bars), bars)
		loaded++
	}
	return loaded, nil
}

func stockInfo(code, market string, bars []interfaces.Bar) interfaces.StockInfo {
	last := bars[len(bars)-1]
	return interfaces.StockInfo{
		Code:   code,
		Name:   code,
		Market: market,
		Price:  decimal.NewFromFloat(last.Close),
	}
}

func paperConfig(cfg config.BrokerConfig) broker.PaperConfig {
	pc := broker.DefaultPaperConfig()
	if cfg.PaperCash > 0 {
		pc.InitialCash = decimal.NewFromFloat(cfg.PaperCash)
	}
	if cfg.PaperSlippagePct >= 0 {
		pc.SlippagePct = decimal.NewFromFloat(cfg.PaperSlippagePct)
	}
	if cfg.PaperCommissionRate >= 0 {
		pc.CommissionRate = decimal.NewFromFloat(cfg.PaperCommissionRate)
	}
	return pc
}

func resilientConfig(cfg config.BrokerConfig) broker.ResilientConfig {
	return broker.ResilientConfig{
		Name:                   "broker." + cfg.Mode,
		Timeout:                cfg.Timeout,
		RequestsPerSecond:      cfg.RequestsPerSecond,
		Burst:                  cfg.Burst,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		OpenTimeout:            cfg.OpenTimeout,
	}
}

func engineConfig(cfg config.TradingConfig) (trading.EngineConfig, error) {
	style, err := strategy.ParseStyle(cfg.Style)
	if err != nil {
		return trading.EngineConfig{}, err
	}
	ec := trading.EngineConfig{
		Style:             style,
		MaxPositions:      cfg.MaxPositions,
		TotalCapital:      decimal.NewFromFloat(cfg.TotalCapital),
		AutoTrade:         cfg.AutoTrade,
		PartialClose:      cfg.PartialClose,
		PartialCloseRatio: cfg.PartialCloseRatio,
	}
	return ec, ec.Validate()
}
