package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig holds the key layout for ledger snapshots.
type RedisStoreConfig struct {
	// KeyPrefix namespaces every key, e.g. "neurastock:positions:<id>"
	KeyPrefix string
	// TTL bounds how long a snapshot survives without being rewritten
	TTL time.Duration
}

func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		KeyPrefix: "neurastock",
		TTL:       7 * 24 * time.Hour,
	}
}

// RedisStore persists positions and orders as one JSON value per key.
type RedisStore struct {
	client *redis.Client
	config RedisStoreConfig
	logger *zaplogrus.Logger
}

func NewRedisStore(client *redis.Client, config RedisStoreConfig, logger *zaplogrus.Logger) *RedisStore {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisStoreConfig().KeyPrefix
	}
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}
	return &RedisStore{client: client, config: config, logger: logger}
}

func (s *RedisStore) key(kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.config.KeyPrefix, kind, id)
}

func (s *RedisStore) SavePositions(ctx context.Context, positions []Position) error {
	if s.client == nil {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, p := range positions {
		data, err := json.Marshal(p)
		if err != nil {
			s.logger.WithError(err).WithField("position_id", p.ID).Error("Failed to marshal position")
			continue
		}
		pipe.Set(ctx, s.key("positions", p.ID), data, s.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("save positions: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveOrders(ctx context.Context, orders []Order) error {
	if s.client == nil {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, o := range orders {
		data, err := json.Marshal(o)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", o.ID).Error("Failed to marshal order")
			continue
		}
		pipe.Set(ctx, s.key("orders", o.ID), data, s.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("save orders: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := s.scan(ctx, "positions", func(data []byte) error {
		var p Position
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *RedisStore) LoadOrders(ctx context.Context) ([]Order, error) {
	var out []Order
	err := s.scan(ctx, "orders", func(data []byte) error {
		var o Order
		if err := json.Unmarshal(data, &o); err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// scan walks kind's keys with SCAN. Values that fail to decode are logged and skipped.
func (s *RedisStore) scan(ctx context.Context, kind string, decode func([]byte) error) error {
	if s.client == nil {
		return nil
	}
	pattern := s.key(kind, "*")

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", kind, err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			if err := decode(data); err != nil {
				s.logger.WithError(err).WithField("key", key).Warn("Failed to unmarshal snapshot")
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
