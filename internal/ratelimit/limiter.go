// Package ratelimit implements the per-client request quotas enforced in
// front of the dispatcher.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/mir00r/proxy-balancer/internal/domain"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// Limiter decides whether a client may send another request.
type Limiter interface {
	// Allow records one request for key and reports whether it is admitted.
	Allow(ctx context.Context, key string) (*Result, error)

	// Limit returns the number of requests admitted per window.
	Limit() int

	// Stats returns limiter statistics for the admin API.
	Stats() map[string]interface{}

	// Close stops background work and releases resources.
	Close() error
}

// Result represents the outcome of a single Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// Clock returns the current time. Tests swap it to step through windows.
type Clock func() time.Time

// New builds the limiter selected by config. The fixed window uses Redis when
// config.Redis is enabled and process memory otherwise.
func New(config domain.RateLimitConfig, log *logger.Logger) (Limiter, error) {
	if config.MaxRequests <= 0 {
		return nil, fmt.Errorf("rate limit max_requests must be positive, got %d", config.MaxRequests)
	}
	if config.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive, got %v", config.Window)
	}
	if log == nil {
		log = logger.Discard()
	}

	switch config.Algorithm {
	case domain.FixedWindowAlgorithm, "":
		if config.Redis.Enabled {
			return NewRedisLimiter(config.Redis, config.MaxRequests, config.Window, log)
		}
		l := NewFixedWindowLimiter(config.MaxRequests, config.Window, log)
		l.StartJanitor(config.CleanupInterval)
		return l, nil
	case domain.TokenBucketAlgorithm:
		if config.Redis.Enabled {
			return nil, fmt.Errorf("token_bucket rate limiting does not support redis")
		}
		l := NewTokenBucketLimiter(config.MaxRequests, config.Window, log)
		l.StartJanitor(config.CleanupInterval)
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit algorithm: %s", config.Algorithm)
	}
}

func remainingOf(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}
