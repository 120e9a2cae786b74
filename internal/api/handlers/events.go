package handlers

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/neurastock/internal/services/pubsub"
	"go.uber.org/zap"
)

const (
	clientBuffer      = 64
	keepAliveInterval = 15 * time.Second
)

// EventStream relays trading envelopes received from Redis to server-sent-event clients. A slow
// client whose buffer is full misses messages instead of holding up the others.
type EventStream struct {
	mu      sync.RWMutex
	clients map[chan pubsub.Envelope]struct{}
	closed  bool
	dropped int64
	logger  *zap.Logger
}

func NewEventStream(logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStream{
		clients: make(map[chan pubsub.Envelope]struct{}),
		logger:  logger,
	}
}

// Publish is a pubsub.MessageHandler; register it with Subscriber.HandleAll.
func (s *EventStream) Publish(_ context.Context, env pubsub.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- env:
		default:
			s.dropped++
		}
	}
	return nil
}

func (s *EventStream) subscribe() (chan pubsub.Envelope, func()) {
	ch := make(chan pubsub.Envelope, clientBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.clients[ch] = struct{}{}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.clients[ch]; ok {
			delete(s.clients, ch)
			close(ch)
		}
	}
}

// Clients is the number of connected streams.
func (s *EventStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *EventStream) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Close ends every stream after it has flushed what is already buffered.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.clients {
		delete(s.clients, ch)
		close(ch)
	}
}

// Stream serves text/event-stream. ?type=decision|exit|order|state narrows the feed.
func (s *EventStream) Stream(c *gin.Context) {
	ch, unsubscribe := s.subscribe()
	defer unsubscribe()
	filter := pubsub.MessageType(c.Query("type"))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	s.logger.Debug("event stream opened", zap.String("filter", string(filter)))

	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case env, ok := <-ch:
			if !ok {
				return false
			}
			if filter == "" || env.Type == filter {
				c.SSEvent(string(env.Type), env)
			}
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
	s.logger.Debug("event stream closed")
}
