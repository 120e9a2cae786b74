package broker

import (
	"context"
	"errors"
	"time"

	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResilientConfig bounds every call a live adapter makes.
type ResilientConfig struct {
	Name string `mapstructure:"name"`
	// Timeout caps a single call
	Timeout time.Duration `mapstructure:"timeout"`
	// RequestsPerSecond and Burst feed the token bucket; zero disables limiting
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// MaxConsecutiveFailures trips the breaker
	MaxConsecutiveFailures uint32 `mapstructure:"max_consecutive_failures"`
	// OpenTimeout is how long the breaker stays open before probing
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Name:                   "broker",
		Timeout:                10 * time.Second,
		RequestsPerSecond:      15,
		Burst:                  5,
		MaxConsecutiveFailures: 5,
		OpenTimeout:            30 * time.Second,
	}
}

// ResilientBroker decorates a broker with a call timeout, a rate limiter and a circuit breaker.
// Errors come back as *BrokerError. A REJECTED order result is a successful call.
type ResilientBroker struct {
	inner   interfaces.Broker
	config  ResilientConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewResilientBroker(inner interfaces.Broker, config ResilientConfig, logger *zap.Logger) *ResilientBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultResilientConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxConsecutiveFailures == 0 {
		config.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	if config.Name == "" {
		config.Name = defaults.Name
	}

	r := &ResilientBroker{inner: inner, config: config, logger: logger}
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	st := gobreaker.Settings{
		Name:    config.Name,
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Broker circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// a caller giving up is not the broker's fault
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	r.breaker = gobreaker.NewCircuitBreaker(st)
	return r
}

// State exposes the breaker state for health checks.
func (r *ResilientBroker) State() gobreaker.State {
	return r.breaker.State()
}

func call[T any](ctx context.Context, r *ResilientBroker, op, stockCode string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return zero, wrapError(op, stockCode, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
	if err != nil {
		r.logger.Debug("Broker call failed", zap.String("op", op), zap.String("stock_code", stockCode), zap.Error(err))
		return zero, wrapError(op, stockCode, err)
	}
	v, _ := out.(T)
	return v, nil
}

func (r *ResilientBroker) Connect(ctx context.Context) error {
	_, err := call(ctx, r, "connect", "", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.Connect(ctx)
	})
	return err
}

func (r *ResilientBroker) Disconnect(ctx context.Context) error {
	// disconnect must run even with the breaker open
	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	return wrapError("disconnect", "", r.inner.Disconnect(callCtx))
}

func (r *ResilientBroker) GetQuote(ctx context.Context, stockCode string) (*interfaces.Quote, error) {
	return call(ctx, r, "get quote", stockCode, func(ctx context.Context) (*interfaces.Quote, error) {
		return r.inner.GetQuote(ctx, stockCode)
	})
}

func (r *ResilientBroker) GetQuotes(ctx context.Context, stockCodes []string) ([]*interfaces.Quote, error) {
	return call(ctx, r, "get quotes", "", func(ctx context.Context) ([]*interfaces.Quote, error) {
		return r.inner.GetQuotes(ctx, stockCodes)
	})
}

func (r *ResilientBroker) GetOHLCV(ctx context.Context, stockCode, period string, count int) ([]interfaces.Bar, error) {
	return call(ctx, r, "get ohlcv", stockCode, func(ctx context.Context) ([]interfaces.Bar, error) {
		return r.inner.GetOHLCV(ctx, stockCode, period, count)
	})
}

func (r *ResilientBroker) GetOrderBook(ctx context.Context, stockCode string) (*interfaces.OrderBook, error) {
	return call(ctx, r, "get order book", stockCode, func(ctx context.Context) (*interfaces.OrderBook, error) {
		return r.inner.GetOrderBook(ctx, stockCode)
	})
}

func (r *ResilientBroker) GetExecutionData(ctx context.Context, stockCode string) (*interfaces.ExecutionData, error) {
	return call(ctx, r, "get execution data", stockCode, func(ctx context.Context) (*interfaces.ExecutionData, error) {
		return r.inner.GetExecutionData(ctx, stockCode)
	})
}

func (r *ResilientBroker) GetBalance(ctx context.Context) (*interfaces.Balance, error) {
	return call(ctx, r, "get balance", "", r.inner.GetBalance)
}

func (r *ResilientBroker) GetPositions(ctx context.Context) ([]interfaces.HoldingStock, error) {
	return call(ctx, r, "get positions", "", r.inner.GetPositions)
}

func (r *ResilientBroker) PlaceOrder(ctx context.Context, req interfaces.OrderRequest) (*interfaces.OrderResult, error) {
	return call(ctx, r, "place order", req.StockCode, func(ctx context.Context) (*interfaces.OrderResult, error) {
		return r.inner.PlaceOrder(ctx, req)
	})
}

func (r *ResilientBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return call(ctx, r, "cancel order", "", func(ctx context.Context) (bool, error) {
		return r.inner.CancelOrder(ctx, orderID)
	})
}

func (r *ResilientBroker) GetStockList(ctx context.Context, market string) ([]interfaces.StockInfo, error) {
	return call(ctx, r, "get stock list", "", func(ctx context.Context) ([]interfaces.StockInfo, error) {
		return r.inner.GetStockList(ctx, market)
	})
}

var _ interfaces.Broker = (*ResilientBroker)(nil)
