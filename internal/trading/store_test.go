package trading

import (
	"context"
	"testing"
	"time"

	"github.com/irfndi/neurastock/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_RoundTrip(t *testing.T) {
	mr, client := testutil.NewMiniRedis(t)
	store := NewRedisStore(client, RedisStoreConfig{KeyPrefix: "test", TTL: time.Hour}, nil)
	ctx := context.Background()

	ledger := NewPositionLedger(NewManualClock(testEpoch), nil)
	p := openDayTrade(t, ledger, "005930", 10)
	_, err := ledger.PartialClose(p.ID, 4, d("51000"), ExitTakeProfit1)
	require.NoError(t, err)

	require.NoError(t, store.SavePositions(ctx, ledger.All()))
	require.NoError(t, store.SaveOrders(ctx, []Order{{ID: "o-1", StockCode: "005930", Status: OrderFilled}}))

	assert.True(t, mr.Exists("test:positions:"+p.ID))
	assert.True(t, mr.Exists("test:orders:o-1"))
	assert.Equal(t, time.Hour, mr.TTL("test:positions:"+p.ID))

	positions, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, PositionPartialClosed, positions[0].Status)
	assert.Equal(t, int64(6), positions[0].RemainingQuantity)
	assertDecimal(t, "4000", positions[0].RealizedPnL)
	assertDecimal(t, "49250", positions[0].StopLossPrice)

	orders, err := store.LoadOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, OrderFilled, orders[0].Status)
}

func TestRedisStore_SkipsCorruptValues(t *testing.T) {
	mr, client := testutil.NewMiniRedis(t)
	store := NewRedisStore(client, DefaultRedisStoreConfig(), nil)

	require.NoError(t, mr.Set("neurastock:positions:bad", "{not json"))
	positions, err := store.LoadPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestRedisStore_NilClient(t *testing.T) {
	store := NewRedisStore(nil, RedisStoreConfig{}, nil)
	ctx := context.Background()

	require.NoError(t, store.SavePositions(ctx, []Position{{ID: "p"}}))
	positions, err := store.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}
