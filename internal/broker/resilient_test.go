package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irfndi/neurastock/internal/testutil"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type slowBroker struct {
	*testutil.ScriptedBroker
}

func (s slowBroker) GetQuote(ctx context.Context, _ string) (*interfaces.Quote, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResilientBroker_PassesThrough(t *testing.T) {
	inner := testutil.NewScriptedBroker()
	inner.SetQuote("005930", decimal.NewFromInt(50000))
	r := NewResilientBroker(inner, DefaultResilientConfig(), nil)

	q, err := r.GetQuote(context.Background(), "005930")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50000).Equal(q.Price))

	inner.Reject["005930"] = "insufficient funds"
	res, err := r.PlaceOrder(context.Background(), interfaces.OrderRequest{
		StockCode: "005930", Side: interfaces.OrderSideBuy, Type: interfaces.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.Rejected())
	assert.Equal(t, gobreaker.StateClosed, r.State())
}

func TestResilientBroker_TimeoutIsRetryable(t *testing.T) {
	cfg := DefaultResilientConfig()
	cfg.Timeout = 20 * time.Millisecond
	r := NewResilientBroker(slowBroker{testutil.NewScriptedBroker()}, cfg, nil)

	_, err := r.GetQuote(context.Background(), "005930")
	require.Error(t, err)

	var be *BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "get quote", be.Op)
	assert.Equal(t, "005930", be.StockCode)
	assert.True(t, be.Retryable)
	assert.True(t, IsTimeout(err))
	assert.True(t, IsRetryable(err))
}

func TestResilientBroker_BreakerOpens(t *testing.T) {
	inner := &testutil.MockBroker{}
	inner.On("GetBalance", mock.Anything).Return(nil, errors.New("503 service unavailable")).Times(3)

	cfg := DefaultResilientConfig()
	cfg.MaxConsecutiveFailures = 3
	cfg.OpenTimeout = time.Minute
	r := NewResilientBroker(inner, cfg, nil)

	for i := 0; i < 3; i++ {
		_, err := r.GetBalance(context.Background())
		require.Error(t, err)
		assert.False(t, IsRetryable(err))
	}
	assert.Equal(t, gobreaker.StateOpen, r.State())

	_, err := r.GetBalance(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, IsRetryable(err))
	inner.AssertExpectations(t)
}

func TestResilientBroker_RateLimitHonoursContext(t *testing.T) {
	cfg := DefaultResilientConfig()
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	inner := testutil.NewScriptedBroker()
	inner.SetQuote("005930", decimal.NewFromInt(50000))
	r := NewResilientBroker(inner, cfg, nil)

	_, err := r.GetQuote(context.Background(), "005930")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.GetQuote(ctx, "005930")
	require.Error(t, err)
	var be *BrokerError
	assert.ErrorAs(t, err, &be)
}

func TestResilientBroker_DisconnectBypassesBreaker(t *testing.T) {
	inner := &testutil.MockBroker{}
	inner.On("Connect", mock.Anything).Return(errors.New("refused"))
	inner.On("Disconnect", mock.Anything).Return(nil)

	cfg := DefaultResilientConfig()
	cfg.MaxConsecutiveFailures = 1
	r := NewResilientBroker(inner, cfg, nil)

	require.Error(t, r.Connect(context.Background()))
	assert.Equal(t, gobreaker.StateOpen, r.State())
	assert.NoError(t, r.Disconnect(context.Background()))
}
