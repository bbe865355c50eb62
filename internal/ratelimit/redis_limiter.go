package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/mir00r/proxy-balancer/internal/domain"
	"github.com/mir00r/proxy-balancer/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the client's counter and opens the window on
// the first hit. A key left without a TTL gets one so it cannot live forever.
// KEYS[1] = counter key
// ARGV[1] = window in milliseconds
var fixedWindowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	local ttl = redis.call('PTTL', KEYS[1])
	if current == 1 or ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {current, ttl}
`)

// RedisLimiter is the fixed window limiter with counters held in Redis, so
// several proxy processes can share one quota per client. Key expiry plays
// the role of the in-memory window reset and eviction.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	logger *logger.Logger
}

// NewRedisLimiter connects to the configured Redis. An unreachable server is
// logged, not fatal; Allow then returns errors which the middleware treats as
// an admitted request.
func NewRedisLimiter(config domain.RedisConfig, limit int, window time.Duration, log *logger.Logger) (*RedisLimiter, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	l := NewRedisLimiterWithClient(client, config.Prefix, limit, window, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		l.logger.WithError(err).WithField("address", config.Address).
			Warn("Redis not reachable, rate limiting will fail open until it is")
	}

	return l, nil
}

// NewRedisLimiterWithClient wraps an existing client
func NewRedisLimiterWithClient(client *redis.Client, prefix string, limit int, window time.Duration, log *logger.Logger) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	if log == nil {
		log = logger.Discard()
	}

	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		logger: log.MiddlewareLogger("rate_limiter"),
	}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	values, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("redis rate limit check returned %d values", len(values))
	}

	count := int(values[0])
	resetAfter := time.Duration(values[1]) * time.Millisecond
	if resetAfter < 0 {
		resetAfter = 0
	}

	result := &Result{
		Allowed:    count <= l.limit,
		Limit:      l.limit,
		Remaining:  remainingOf(l.limit, count),
		ResetAfter: resetAfter,
	}
	if !result.Allowed {
		result.RetryAfter = resetAfter
	}
	return result, nil
}

// Limit implements Limiter
func (l *RedisLimiter) Limit() int {
	return l.limit
}

// Stats implements Limiter
func (l *RedisLimiter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"algorithm":    "fixed_window",
		"store":        "redis",
		"max_requests": l.limit,
		"window":       l.window.String(),
		"prefix":       l.prefix,
	}
}

// Close implements Limiter
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
