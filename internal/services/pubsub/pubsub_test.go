package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/testutil"
	"github.com/irfndi/neurastock/internal/trading"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	_, client := testutil.NewMiniRedis(t)
	return client
}

func listen(t *testing.T, client *redis.Client, channels ...string) *redis.PubSub {
	t.Helper()
	sub := client.Subscribe(context.Background(), channels...)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	return sub
}

func receive(t *testing.T, sub *redis.PubSub) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	return env
}

func TestChannels(t *testing.T) {
	assert.Equal(t, "trading:decision:acc-1", DecisionChannel("acc-1"))
	assert.Equal(t, "trading:exit:acc-1", ExitChannel("acc-1"))
	assert.Equal(t, "trading:order:acc-1", OrderChannel("acc-1"))
	assert.Equal(t, "trading:state:acc-1", StateChannel("acc-1"))
	assert.Equal(t, "trading:*:acc-1", AccountPattern("acc-1"))
	assert.Equal(t, "trading:*", ChannelAllTrading)
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		channel    string
		domain     string
		entity     string
		qualifiers []string
	}{
		{"trading:exit:acc-1", "trading", "exit", []string{"acc-1"}},
		{"trading:state", "trading", "state", nil},
		{"trading:order:desk:a", "trading", "order", []string{"desk", "a"}},
		{"trading", "", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			domain, entity, qualifiers := ParseChannel(tt.channel)
			assert.Equal(t, tt.domain, domain)
			assert.Equal(t, tt.entity, entity)
			assert.Equal(t, tt.qualifiers, qualifiers)
		})
	}
}

func TestPublisher_PublishDecision(t *testing.T) {
	client := setupTestRedis(t)
	pub := NewPublisher(client, zap.NewNop())
	sub := listen(t, client, DecisionChannel("acc-1"))

	decision := trading.TradeDecision{
		StockCode: "005930",
		Action:    trading.ActionBuy,
		Quantity:  40,
		Price:     decimal.NewFromInt(50000),
		Signal:    scoring.SignalResult{Signal: scoring.SignalStrongBuy, TotalScore: 82.5},
	}
	require.NoError(t, pub.PublishDecision(context.Background(), "acc-1", decision))

	env := receive(t, sub)
	assert.Equal(t, MessageTypeDecision, env.Type)
	assert.Equal(t, "trading:decision:acc-1", env.Channel)
	assert.Equal(t, "acc-1", env.Account)
	assert.Equal(t, "005930", env.StockCode)
	assert.False(t, env.Timestamp.IsZero())

	var got trading.TradeDecision
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, trading.ActionBuy, got.Action)
	assert.Equal(t, int64(40), got.Quantity)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, scoring.SignalStrongBuy, got.Signal.Signal)
}

func TestPublisher_PublishEmptyChannel(t *testing.T) {
	pub := NewPublisher(setupTestRedis(t), nil)
	err := pub.Publish(context.Background(), "", Envelope{Type: MessageTypeOrder})
	assert.ErrorContains(t, err, "channel cannot be empty")
}

func TestPublisher_StatsCountFailures(t *testing.T) {
	mr, client := testutil.NewMiniRedis(t)
	pub := NewPublisher(client, nil)

	require.NoError(t, pub.PublishState(context.Background(), "acc-1", StatePayload{State: "RUNNING", Previous: "WAITING"}))
	mr.Close()
	assert.Error(t, pub.PublishState(context.Background(), "acc-1", StatePayload{State: "PAUSED"}))

	stats := pub.Stats()
	assert.Equal(t, int64(1), stats.Published)
	assert.Equal(t, int64(1), stats.Errors)
}

func TestEventPublisher_IsAnEventSink(t *testing.T) {
	client := setupTestRedis(t)
	sub := listen(t, client, ExitChannel("acc-1"), OrderChannel("acc-1"), StateChannel("acc-1"))

	events := NewEventPublisher(NewPublisher(client, nil), "acc-1", 8, nil)
	events.Start(context.Background())

	ctx := context.Background()
	events.ExitTriggered(ctx, trading.ExitEvent{StockCode: "005930", Reason: trading.ExitStopLoss, Quantity: 40, Executed: true})
	events.OrderUpdated(ctx, trading.Order{ID: "O1", StockCode: "005930", Side: interfaces.OrderSideSell, Status: trading.OrderFilled})
	events.StateChanged("WAITING", "RUNNING", "market open")
	events.Stop()

	exit := receive(t, sub)
	assert.Equal(t, MessageTypeExit, exit.Type)
	var ev trading.ExitEvent
	require.NoError(t, json.Unmarshal(exit.Data, &ev))
	assert.Equal(t, trading.ExitStopLoss, ev.Reason)

	order := receive(t, sub)
	assert.Equal(t, MessageTypeOrder, order.Type)

	state := receive(t, sub)
	var payload StatePayload
	require.NoError(t, json.Unmarshal(state.Data, &payload))
	assert.Equal(t, StatePayload{State: "RUNNING", Previous: "WAITING", Reason: "market open"}, payload)

	assert.Equal(t, int64(3), events.Stats().Published)
}

func TestEventPublisher_DropsWhenStopped(t *testing.T) {
	events := NewEventPublisher(NewPublisher(setupTestRedis(t), nil), "acc-1", 1, nil)

	events.DecisionMade(context.Background(), trading.TradeDecision{StockCode: "005930"})
	assert.Equal(t, int64(1), events.Stats().Dropped)

	events.Start(context.Background())
	events.Stop()
	events.Stop()
}

func TestSubscriber_Routing(t *testing.T) {
	client := setupTestRedis(t)
	pub := NewPublisher(client, nil)
	sub := NewSubscriber(client, nil)
	defer sub.Close()

	var mu sync.Mutex
	got := map[string]MessageType{}
	var wg sync.WaitGroup
	wg.Add(3)
	record := func(route string) MessageHandler {
		return func(_ context.Context, env Envelope) error {
			mu.Lock()
			got[route] = env.Type
			mu.Unlock()
			wg.Done()
			return nil
		}
	}

	sub.Handle(ExitChannel("acc-1"), record("channel"))
	sub.HandleType(MessageTypeOrder, record("type"))
	sub.HandleAll(record("fallback"))

	ctx := context.Background()
	require.NoError(t, sub.PSubscribe(ctx, AccountPattern("acc-1")))

	require.NoError(t, pub.PublishExit(ctx, "acc-1", trading.ExitEvent{StockCode: "005930"}))
	require.NoError(t, pub.PublishOrder(ctx, "acc-1", trading.Order{StockCode: "005930"}))
	require.NoError(t, pub.PublishState(ctx, "acc-1", StatePayload{State: "PAUSED"}))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, MessageTypeExit, got["channel"])
	assert.Equal(t, MessageTypeOrder, got["type"])
	assert.Equal(t, MessageTypeState, got["fallback"])
	assert.Equal(t, int64(3), sub.Stats().Received)
}

func TestSubscriber_EmptyArguments(t *testing.T) {
	sub := NewSubscriber(setupTestRedis(t), nil)
	assert.ErrorContains(t, sub.Subscribe(context.Background()), "at least one channel")
	assert.ErrorContains(t, sub.PSubscribe(context.Background()), "at least one pattern")
}

func TestSubscriber_Close(t *testing.T) {
	client := setupTestRedis(t)
	sub := NewSubscriber(client, nil)
	require.NoError(t, sub.Subscribe(context.Background(), StateChannel("acc-1")))
	assert.Equal(t, 1, sub.Stats().Subscriptions)

	require.NoError(t, sub.Close())
	assert.Equal(t, 0, sub.Stats().Subscriptions)
}

func TestSubscriber_HandlerErrorsAreCounted(t *testing.T) {
	client := setupTestRedis(t)
	pub := NewPublisher(client, nil)
	sub := NewSubscriber(client, nil)
	sub.SetHandlerTimeout(time.Second)
	defer sub.Close()

	done := make(chan struct{})
	sub.HandleType(MessageTypeState, func(context.Context, Envelope) error {
		defer close(done)
		return assert.AnError
	})

	ctx := context.Background()
	require.NoError(t, sub.Subscribe(ctx, StateChannel("acc-2")))
	require.NoError(t, pub.PublishState(ctx, "acc-2", StatePayload{State: "RUNNING"}))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	assert.Eventually(t, func() bool { return sub.Stats().Errors == 1 }, time.Second, 10*time.Millisecond)
}
