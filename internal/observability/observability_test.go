package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/irfndi/neurastock/internal/config"
	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/trading"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *capturedEvents) all() []*sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...)
}

// hubContext returns a context carrying a hub whose events are recorded and never sent.
func hubContext(t *testing.T) (context.Context, *capturedEvents) {
	t.Helper()
	captured := &capturedEvents{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@example.com/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			captured.mu.Lock()
			captured.events = append(captured.events, event)
			captured.mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())
	return sentry.SetHubOnContext(context.Background(), hub), captured
}

func TestInitSentry_DisabledIsNoop(t *testing.T) {
	assert.NoError(t, InitSentry(config.SentryConfig{Enabled: false, DSN: "https://public@example.com/1"}, "v1", "test"))
	assert.NoError(t, InitSentry(config.SentryConfig{Enabled: true}, "v1", "test"))
}

func TestInitSentry_InvalidDSN(t *testing.T) {
	err := InitSentry(config.SentryConfig{Enabled: true, DSN: "not a dsn"}, "v1", "test")
	assert.ErrorContains(t, err, "sentry init")
}

func TestCaptureException(t *testing.T) {
	ctx, captured := hubContext(t)

	AddBreadcrumb(ctx, "orchestrator", "trading cycle started", sentry.LevelInfo)
	CaptureException(ctx, errors.New("broker timeout"))
	CaptureException(ctx, nil)

	events := captured.all()
	require.Len(t, events, 1)
	require.NotEmpty(t, events[0].Exception)
	assert.Equal(t, "broker timeout", events[0].Exception[0].Value)
	require.Len(t, events[0].Breadcrumbs, 1)
	assert.Equal(t, "orchestrator", events[0].Breadcrumbs[0].Category)
}

func TestCaptureExceptionWithTags(t *testing.T) {
	ctx, captured := hubContext(t)

	CaptureExceptionWithTags(ctx, errors.New("order rejected"), map[string]string{"stock_code": "005930"})
	CaptureException(ctx, errors.New("untagged"))

	events := captured.all()
	require.Len(t, events, 2)
	assert.Equal(t, "005930", events[0].Tags["stock_code"])
	assert.NotContains(t, events[1].Tags, "stock_code")
}

func TestSpans(t *testing.T) {
	ctx, _ := hubContext(t)

	spanCtx, span := StartSpanWithTags(ctx, SpanOpDecision, "evaluate 005930", map[string]string{"stock_code": "005930"})
	require.NotNil(t, span)
	assert.Same(t, span, sentry.SpanFromContext(spanCtx))
	assert.Equal(t, "005930", span.Tags["stock_code"])

	FinishSpan(span, errors.New("no quote"))
	assert.Equal(t, sentry.SpanStatusInternalError, span.Status)

	_, ok := StartSpan(ctx, SpanOpOrder, "place order")
	FinishSpan(ok, nil)
	assert.Equal(t, sentry.SpanStatusOK, ok.Status)

	assert.NotPanics(t, func() { FinishSpan(nil, nil) })
}

func TestFlushWithDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NotPanics(t, func() { Flush(ctx) })
}

func TestMetrics_EventSink(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.DecisionMade(ctx, trading.TradeDecision{Action: trading.ActionBuy, Signal: scoring.SignalResult{Signal: scoring.SignalStrongBuy}})
	m.DecisionMade(ctx, trading.TradeDecision{Action: trading.ActionBuy, Signal: scoring.SignalResult{Signal: scoring.SignalStrongBuy}})
	m.ExitTriggered(ctx, trading.ExitEvent{Reason: trading.ExitStopLoss, Executed: true})
	m.OrderUpdated(ctx, trading.Order{Side: interfaces.OrderSideBuy, Status: trading.OrderFilled})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("BUY", "STRONG_BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exits.WithLabelValues("STOP_LOSS", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues(string(interfaces.OrderSideBuy), string(trading.OrderFilled))))
}

func TestMetrics_Gauges(t *testing.T) {
	m := NewMetrics()

	m.ObserveCycle("trading", 120*time.Millisecond, nil)
	m.ObserveCycle("trading", 80*time.Millisecond, errors.New("quote failed"))
	m.ObserveLedger(trading.PositionSummary{
		OpenPositions:      3,
		TotalUnrealizedPnL: decimal.NewFromInt(-15000),
		TotalRealizedPnL:   decimal.NewFromInt(285000),
	})
	m.SetState("RUNNING", []string{"STOPPED", "RUNNING", "PAUSED"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("trading", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("trading", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, -15000.0, testutil.ToFloat64(m.UnrealizedPnL))
	assert.Equal(t, 285000.0, testutil.ToFloat64(m.RealizedPnL))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.State.WithLabelValues("RUNNING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.State.WithLabelValues("PAUSED")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.OpenPositions.Set(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "neurastock_open_positions 2")
	assert.Contains(t, string(body), "go_goroutines")
}
