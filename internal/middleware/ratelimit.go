// Package middleware holds the gin middleware of the control API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	RateLimitHeader          = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
)

// RateLimitConfig throttles requests per key within a fixed window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// Prefix namespaces the Redis counters
	Prefix  string
	KeyFunc func(*gin.Context) string
}

// DefaultRateLimitConfig allows 30 control requests a minute per client IP.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: 30,
		Window:   time.Minute,
		Prefix:   "ratelimit",
		KeyFunc:  func(c *gin.Context) string { return c.ClientIP() },
	}
}

// RateLimiter counts requests in Redis so that every instance shares the budget. Without Redis,
// or when Redis fails, it falls back to a token bucket per key in this process.
type RateLimiter struct {
	config RateLimitConfig
	redis  *redis.Client
	logger *zap.Logger

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewRateLimiter(config RateLimitConfig, client *redis.Client, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Requests <= 0 {
		config.Requests = DefaultRateLimitConfig().Requests
	}
	if config.Window <= 0 {
		config.Window = DefaultRateLimitConfig().Window
	}
	if config.KeyFunc == nil {
		config.KeyFunc = DefaultRateLimitConfig().KeyFunc
	}
	return &RateLimiter{
		config: config,
		redis:  client,
		logger: logger,
		local:  make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.config.KeyFunc(c)
		allowed, remaining, reset := rl.allow(c.Request.Context(), key)

		c.Header(RateLimitHeader, strconv.Itoa(rl.config.Requests))
		c.Header(RateLimitRemainingHeader, strconv.Itoa(remaining))
		c.Header(RateLimitResetHeader, strconv.FormatInt(reset.Unix(), 10))
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":      "error",
				"error":       "rate limit exceeded",
				"retry_after": int(time.Until(reset).Seconds()),
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, int, time.Time) {
	if rl.redis != nil {
		allowed, remaining, reset, err := rl.allowRedis(ctx, key)
		if err == nil {
			return allowed, remaining, reset
		}
		rl.logger.Warn("rate limit check failed, using local limiter", zap.Error(err), zap.String("key", key))
	}
	return rl.allowLocal(key)
}

// fixedWindow increments the counter unless it is at the limit and returns allowed, remaining
// and the TTL in milliseconds.
var fixedWindow = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
	return {0, 0, redis.call("PTTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, limit - current, redis.call("PTTL", KEYS[1])}
`)

func (rl *RateLimiter) allowRedis(ctx context.Context, key string) (bool, int, time.Time, error) {
	res, err := fixedWindow.Run(ctx, rl.redis, []string{rl.redisKey(key)},
		rl.config.Requests, rl.config.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, err
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected rate limit reply: %v", res)
	}
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		ttl = rl.config.Window
	}
	return res[0] == 1, int(res[1]), time.Now().Add(ttl), nil
}

func (rl *RateLimiter) redisKey(key string) string {
	return rl.config.Prefix + ":" + key
}

func (rl *RateLimiter) allowLocal(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	lim, ok := rl.local[key]
	if !ok {
		every := rate.Every(rl.config.Window / time.Duration(rl.config.Requests))
		lim = rate.NewLimiter(every, rl.config.Requests)
		rl.local[key] = lim
	}
	rl.mu.Unlock()

	now := time.Now()
	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, 0, now.Add(delay)
	}
	return true, int(lim.TokensAt(now)), now.Add(rl.config.Window)
}

// Reset clears the budget of key.
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	rl.mu.Lock()
	delete(rl.local, key)
	rl.mu.Unlock()
	if rl.redis != nil {
		return rl.redis.Del(ctx, rl.redisKey(key)).Err()
	}
	return nil
}
