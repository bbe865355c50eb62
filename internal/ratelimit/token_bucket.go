package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mir00r/proxy-balancer/pkg/logger"
	"golang.org/x/time/rate"
)

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucketLimiter spreads the same quota evenly over the window: each
// client bucket holds limit tokens and refills at limit/window. Unlike the
// fixed window it cannot admit twice the quota around a window boundary.
type TokenBucketLimiter struct {
	limit  int
	window time.Duration
	rate   rate.Limit
	now    Clock
	logger *logger.Logger

	mu      sync.Mutex
	buckets map[string]*bucketEntry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewTokenBucketLimiter creates a token bucket limiter
func NewTokenBucketLimiter(limit int, window time.Duration, log *logger.Logger) *TokenBucketLimiter {
	if log == nil {
		log = logger.Discard()
	}

	return &TokenBucketLimiter{
		limit:   limit,
		window:  window,
		rate:    rate.Limit(float64(limit) / window.Seconds()),
		now:     time.Now,
		logger:  log.MiddlewareLogger("rate_limiter"),
		buckets: make(map[string]*bucketEntry),
	}
}

// WithClock replaces the time source
func (l *TokenBucketLimiter) WithClock(clock Clock) *TokenBucketLimiter {
	l.now = clock
	return l
}

// Allow implements Limiter
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := l.now()

	l.mu.Lock()
	entry, exists := l.buckets[key]
	if !exists {
		entry = &bucketEntry{limiter: rate.NewLimiter(l.rate, l.limit)}
		l.buckets[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	allowed := entry.limiter.AllowN(now, 1)
	tokens := entry.limiter.TokensAt(now)

	result := &Result{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: int(tokens),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	missing := float64(l.limit) - tokens
	if missing > 0 {
		result.ResetAfter = time.Duration(missing / float64(l.rate) * float64(time.Second))
	}
	if !allowed && tokens < 1 {
		result.RetryAfter = time.Duration((1 - tokens) / float64(l.rate) * float64(time.Second))
	}
	return result, nil
}

// Limit implements Limiter
func (l *TokenBucketLimiter) Limit() int {
	return l.limit
}

// Cleanup drops buckets idle for longer than the window; they would have
// refilled completely by now.
func (l *TokenBucketLimiter) Cleanup() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > l.window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// StartJanitor runs Cleanup every interval until Close
func (l *TokenBucketLimiter) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}

	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				if removed := l.Cleanup(); removed > 0 {
					l.logger.WithField("removed", removed).Debug("Evicted idle token buckets")
				}
			}
		}
	}()
}

// Stats implements Limiter
func (l *TokenBucketLimiter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"algorithm":      "token_bucket",
		"store":          "memory",
		"max_requests":   l.limit,
		"window":         l.window.String(),
		"refill_per_sec": float64(l.rate),
		"active_clients": l.Len(),
	}
}

// Close implements Limiter
func (l *TokenBucketLimiter) Close() error {
	l.once.Do(func() {
		if l.stop != nil {
			close(l.stop)
			<-l.done
		}
	})
	return nil
}
