package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/mir00r/proxy-balancer/pkg/logger"
)

const shardCount = 32

// windowEntry is a client's counter for its current window.
type windowEntry struct {
	count       int
	windowStart time.Time
}

type windowShard struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
}

// FixedWindowLimiter counts requests per client in a window that opens at
// the client's first request and is replaced by a fresh one once more than
// the window length has elapsed. Entries are spread over shards so that
// unrelated clients rarely contend on the same lock.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    Clock
	logger *logger.Logger
	shards [shardCount]windowShard

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewFixedWindowLimiter creates an in-memory fixed window limiter
func NewFixedWindowLimiter(limit int, window time.Duration, log *logger.Logger) *FixedWindowLimiter {
	if log == nil {
		log = logger.Discard()
	}

	l := &FixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: log.MiddlewareLogger("rate_limiter"),
	}
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*windowEntry)
	}
	return l
}

// WithClock replaces the time source
func (l *FixedWindowLimiter) WithClock(clock Clock) *FixedWindowLimiter {
	l.now = clock
	return l
}

func (l *FixedWindowLimiter) shard(key string) *windowShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%shardCount]
}

// Allow implements Limiter
func (l *FixedWindowLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := l.now()
	s := l.shard(key)

	s.mu.Lock()
	entry, exists := s.entries[key]
	switch {
	case !exists:
		entry = &windowEntry{count: 1, windowStart: now}
		s.entries[key] = entry
	case now.Sub(entry.windowStart) > l.window:
		entry.count = 1
		entry.windowStart = now
	default:
		entry.count++
	}
	count, windowStart := entry.count, entry.windowStart
	s.mu.Unlock()

	resetAfter := windowStart.Add(l.window).Sub(now)
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
func (l *FixedWindowLimiter) Limit() int {
	return l.limit
}

// Cleanup drops entries whose window has expired. The next request from such
// a client would start a new window anyway, so eviction never changes a verdict.
func (l *FixedWindowLimiter) Cleanup() int {
	now := l.now()
	removed := 0

	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, entry := range s.entries {
			if now.Sub(entry.windowStart) > l.window {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		l.logger.WithField("removed", removed).Debug("Evicted stale rate limit entries")
	}
	return removed
}

// Len returns the number of tracked clients
func (l *FixedWindowLimiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// StartJanitor runs Cleanup every interval until Close. A non-positive
// interval disables eviction.
func (l *FixedWindowLimiter) StartJanitor(interval time.Duration) {
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
				l.Cleanup()
			}
		}
	}()
}

// Stats implements Limiter
func (l *FixedWindowLimiter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"algorithm":      "fixed_window",
		"store":          "memory",
		"max_requests":   l.limit,
		"window":         l.window.String(),
		"active_clients": l.Len(),
	}
}

// Close implements Limiter
func (l *FixedWindowLimiter) Close() error {
	l.once.Do(func() {
		if l.stop != nil {
			close(l.stop)
			<-l.done
		}
	})
	return nil
}
