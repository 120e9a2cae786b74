package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultHandlerTimeout = 5 * time.Second

// MessageHandler consumes one decoded envelope. A returned error is counted and logged.
type MessageHandler func(ctx context.Context, envelope Envelope) error

// Subscriber fans Redis pub/sub messages into handlers. Routing tries the exact channel first,
// then the envelope type, then the catch-all.
type Subscriber struct {
	client  *redis.Client
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.RWMutex
	byChannel map[string]MessageHandler
	byType    map[MessageType]MessageHandler
	fallback  MessageHandler
	live      []*subscription

	received atomic.Int64
	failed   atomic.Int64
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) stop() {
	s.cancel()
	<-s.done
}

func NewSubscriber(client *redis.Client, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		client:    client,
		logger:    logger,
		timeout:   defaultHandlerTimeout,
		byChannel: make(map[string]MessageHandler),
		byType:    make(map[MessageType]MessageHandler),
	}
}

// SetHandlerTimeout bounds each handler call. Non-positive values restore the default.
func (s *Subscriber) SetHandlerTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultHandlerTimeout
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

func (s *Subscriber) Handle(channel string, handler MessageHandler) {
	s.mu.Lock()
	s.byChannel[channel] = handler
	s.mu.Unlock()
}

func (s *Subscriber) HandleType(msgType MessageType, handler MessageHandler) {
	s.mu.Lock()
	s.byType[msgType] = handler
	s.mu.Unlock()
}

// HandleAll receives every envelope no other handler claimed.
func (s *Subscriber) HandleAll(handler MessageHandler) {
	s.mu.Lock()
	s.fallback = handler
	s.mu.Unlock()
}

// Subscribe listens on exact channel names until ctx ends or Close is called.
func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return errors.New("pubsub: at least one channel required")
	}
	return s.attach(ctx, s.client.Subscribe(ctx, channels...))
}

// PSubscribe listens on glob patterns such as AccountPattern.
func (s *Subscriber) PSubscribe(ctx context.Context, patterns ...string) error {
	if len(patterns) == 0 {
		return errors.New("pubsub: at least one pattern required")
	}
	return s.attach(ctx, s.client.PSubscribe(ctx, patterns...))
}

// attach waits for the subscription confirmation so publishes made after it returns are seen.
func (s *Subscriber) attach(ctx context.Context, ps *redis.PubSub) error {
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("pubsub: subscribe: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{ps: ps, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.live = append(s.live, sub)
	s.mu.Unlock()

	go s.consume(runCtx, sub)
	return nil
}

func (s *Subscriber) consume(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	defer sub.ps.Close()

	messages := sub.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			s.deliver(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (s *Subscriber) route(channel string, msgType MessageType) (MessageHandler, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.byChannel[channel]; ok {
		return h, s.timeout
	}
	if h, ok := s.byType[msgType]; ok {
		return h, s.timeout
	}
	return s.fallback, s.timeout
}

func (s *Subscriber) deliver(ctx context.Context, channel, payload string) {
	var envelope Envelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		s.failed.Add(1)
		s.logger.Warn("Dropping undecodable pubsub message", zap.String("channel", channel), zap.Error(err))
		return
	}
	s.received.Add(1)

	handler, timeout := s.route(channel, envelope.Type)
	if handler == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := handler(callCtx, envelope); err != nil {
		s.failed.Add(1)
		s.logger.Error("Pubsub handler failed",
			zap.String("channel", channel),
			zap.String("type", string(envelope.Type)),
			zap.String("stock_code", envelope.StockCode),
			zap.Error(err),
		)
	}
}

// Close stops every subscription and waits for its consumer to exit.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	live := s.live
	s.live = nil
	s.mu.Unlock()

	for _, sub := range live {
		sub.stop()
	}
	return nil
}

type SubscriberStats struct {
	Received      int64 `json:"received"`
	Errors        int64 `json:"errors"`
	Subscriptions int   `json:"subscriptions"`
}

func (s *Subscriber) Stats() SubscriberStats {
	s.mu.RLock()
	n := len(s.live)
	s.mu.RUnlock()
	return SubscriberStats{Received: s.received.Load(), Errors: s.failed.Load(), Subscriptions: n}
}
