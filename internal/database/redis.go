package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/neurastock/internal/config"
	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"github.com/redis/go-redis/v9"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var errNilClient = errors.New("redis client is nil")

// RedisClient wraps a Redis client with logging and the lock and pub/sub helpers the
// trading services share.
type RedisClient struct {
	Client *redis.Client
	logger *zaplogrus.Logger
}

// NewRedisConnection dials Redis and verifies it with a ping.
func NewRedisConnection(ctx context.Context, cfg config.RedisConfig, logger *zaplogrus.Logger) (*RedisClient, error) {
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	rdb.AddHook(RedisSentryHook{})

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis")
	return &RedisClient{Client: rdb, logger: logger}, nil
}

// NewRedisClient wraps an existing client, typically one pointed at miniredis.
func NewRedisClient(client *redis.Client, logger *zaplogrus.Logger) *RedisClient {
	if logger == nil {
		logger = zaplogrus.FromZap(nil)
	}
	return &RedisClient{Client: client, logger: logger}
}

func (r *RedisClient) Close() {
	if r.Client == nil {
		return
	}
	if err := r.Client.Close(); err != nil {
		r.logger.WithError(err).Error("Error closing Redis client")
		return
	}
	r.logger.Info("Redis connection closed")
}

func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return errNilClient
	}
	return r.Client.Ping(ctx).Err()
}

func (r *RedisClient) Publish(ctx context.Context, channel string, value interface{}) error {
	if r.Client == nil {
		return errNilClient
	}
	if channel == "" {
		return fmt.Errorf("channel cannot be empty")
	}
	return r.Client.Publish(ctx, channel, value).Err()
}

func (r *RedisClient) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if r.Client == nil {
		return nil, errNilClient
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}

	pubsub := r.Client.Subscribe(ctx, channels...)
	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	return pubsub, nil
}

// AcquireLock sets key to a fresh token if it is free and returns the token.
func (r *RedisClient) AcquireLock(ctx context.Context, key string, expiration time.Duration) (string, bool, error) {
	if r.Client == nil {
		return "", false, errNilClient
	}
	if key == "" {
		return "", false, fmt.Errorf("lock key cannot be empty")
	}
	if expiration <= 0 {
		return "", false, fmt.Errorf("lock expiration must be positive")
	}

	token := uuid.NewString()
	acquired, err := r.Client.SetNX(ctx, key, token, expiration).Result()
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// RefreshLock extends the lock if token still holds it.
func (r *RedisClient) RefreshLock(ctx context.Context, key, token string, expiration time.Duration) (bool, error) {
	if r.Client == nil {
		return false, errNilClient
	}
	if key == "" || token == "" {
		return false, fmt.Errorf("lock key and token are required")
	}
	n, err := refreshLockScript.Run(ctx, r.Client, []string{key}, token, expiration.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLock deletes the lock only if token still holds it.
func (r *RedisClient) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	if r.Client == nil {
		return false, errNilClient
	}
	if key == "" {
		return false, fmt.Errorf("lock key cannot be empty")
	}
	if token == "" {
		return false, fmt.Errorf("lock token cannot be empty")
	}

	deleted, err := releaseLockScript.Run(ctx, r.Client, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}
