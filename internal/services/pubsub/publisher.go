package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irfndi/neurastock/internal/trading"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Publisher struct {
	client    *redis.Client
	logger    *zap.Logger
	published atomic.Int64
	errors    atomic.Int64
}

func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client: client,
		logger: logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, channel string, envelope Envelope) error {
	if channel == "" {
		return fmt.Errorf("pubsub: channel cannot be empty")
	}

	envelope.Channel = channel
	if envelope.Timestamp.IsZero() {
		envelope.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("pubsub: marshal envelope: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.errors.Add(1)
		p.logger.Error("pubsub: publish failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return fmt.Errorf("pubsub: publish to %s: %w", channel, err)
	}

	p.published.Add(1)
	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, channel string, msgType MessageType, account, stockCode string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("pubsub: marshal %s payload: %w", msgType, err)
	}
	return p.Publish(ctx, channel, Envelope{
		Type:      msgType,
		Account:   account,
		StockCode: stockCode,
		Data:      data,
	})
}

func (p *Publisher) PublishDecision(ctx context.Context, account string, d trading.TradeDecision) error {
	return p.publishJSON(ctx, DecisionChannel(account), MessageTypeDecision, account, d.StockCode, d)
}

func (p *Publisher) PublishExit(ctx context.Context, account string, e trading.ExitEvent) error {
	return p.publishJSON(ctx, ExitChannel(account), MessageTypeExit, account, e.StockCode, e)
}

func (p *Publisher) PublishOrder(ctx context.Context, account string, o trading.Order) error {
	return p.publishJSON(ctx, OrderChannel(account), MessageTypeOrder, account, o.StockCode, o)
}

func (p *Publisher) PublishState(ctx context.Context, account string, s StatePayload) error {
	return p.publishJSON(ctx, StateChannel(account), MessageTypeState, account, "", s)
}

type PublisherStats struct {
	Published int64 `json:"published"`
	Errors    int64 `json:"errors"`
	Dropped   int64 `json:"dropped"`
}

func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
	}
}

// EventPublisher adapts a Publisher to trading.EventSink. The engine calls sinks while holding
// its execution lock, so events are queued and published from a separate goroutine; a full
// queue drops the event.
type EventPublisher struct {
	pub     *Publisher
	account string
	logger  *zap.Logger
	queue   chan func(context.Context) error
	dropped atomic.Int64

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

var _ trading.EventSink = (*EventPublisher)(nil)

func NewEventPublisher(pub *Publisher, account string, queueSize int, logger *zap.Logger) *EventPublisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{
		pub:     pub,
		account: account,
		logger:  logger,
		queue:   make(chan func(context.Context) error, queueSize),
	}
}

// Start drains the queue until Stop. ctx bounds each publish call.
func (e *EventPublisher) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.done = make(chan struct{})
	go e.drain(ctx, e.queue, e.done)
}

// Stop publishes what is still queued and returns once the drain goroutine exits.
func (e *EventPublisher) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.queue)
	done := e.done
	e.mu.Unlock()
	<-done
}

func (e *EventPublisher) drain(ctx context.Context, queue <-chan func(context.Context) error, done chan struct{}) {
	defer close(done)
	for publish := range queue {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := publish(pctx); err != nil {
			e.logger.Debug("event publish failed", zap.Error(err))
		}
		cancel()
	}
}

func (e *EventPublisher) enqueue(publish func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- publish:
	default:
		e.dropped.Add(1)
	}
}

func (e *EventPublisher) DecisionMade(_ context.Context, d trading.TradeDecision) {
	e.enqueue(func(ctx context.Context) error { return e.pub.PublishDecision(ctx, e.account, d) })
}

func (e *EventPublisher) ExitTriggered(_ context.Context, ev trading.ExitEvent) {
	e.enqueue(func(ctx context.Context) error { return e.pub.PublishExit(ctx, e.account, ev) })
}

func (e *EventPublisher) OrderUpdated(_ context.Context, o trading.Order) {
	e.enqueue(func(ctx context.Context) error { return e.pub.PublishOrder(ctx, e.account, o) })
}

// StateChanged queues a state announcement for the orchestrator.
func (e *EventPublisher) StateChanged(previous, current, reason string) {
	e.enqueue(func(ctx context.Context) error {
		return e.pub.PublishState(ctx, e.account, StatePayload{State: current, Previous: previous, Reason: reason})
	})
}

func (e *EventPublisher) Stats() PublisherStats {
	s := e.pub.Stats()
	s.Dropped = e.dropped.Load()
	return s
}
