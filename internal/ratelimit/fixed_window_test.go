package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func allowN(t *testing.T, l Limiter, key string, n int) []bool {
	t.Helper()
	verdicts := make([]bool, n)
	for i := 0; i < n; i++ {
		res, err := l.Allow(context.Background(), key)
		require.NoError(t, err)
		verdicts[i] = res.Allowed
	}
	return verdicts
}

// TestFixedWindowAdmitsUpToLimit checks that exactly max requests pass in one window
func TestFixedWindowAdmitsUpToLimit(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewFixedWindowLimiter(3, time.Minute, nil).WithClock(clock.Now)

	assert.Equal(t, []bool{true, true, true, false, false}, allowN(t, l, "10.0.0.1", 5))
}

func TestFixedWindowLimitOfOne(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewFixedWindowLimiter(1, time.Minute, nil).WithClock(clock.Now)

	assert.Equal(t, []bool{true, false}, allowN(t, l, "10.0.0.1", 2))
}

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewFixedWindowLimiter(2, time.Minute, nil).WithClock(clock.Now)

	assert.Equal(t, []bool{true, true, false}, allowN(t, l, "c", 3))

	// exactly one window later the old window still applies
	clock.Advance(time.Minute)
	assert.Equal(t, []bool{false}, allowN(t, l, "c", 1))

	clock.Advance(time.Millisecond)
	assert.Equal(t, []bool{true, true, false}, allowN(t, l, "c", 3))
}

func TestFixedWindowWindowOpensAtFirstRequest(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewFixedWindowLimiter(2, time.Minute, nil).WithClock(clock.Now)

	allowN(t, l, "c", 1)
	clock.Advance(50 * time.Second)
	assert.Equal(t, []bool{true, false}, allowN(t, l, "c", 2))

	// 61s after the first request the window has rolled over
	clock.Advance(11 * time.Second)
	assert.Equal(t, []bool{true}, allowN(t, l, "c", 1))
}

func TestFixedWindowClientsAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewFixedWindowLimiter(1, time.Minute, nil).WithClock(clock.Now)

	assert.Equal(t, []bool{true, false}, allowN(t, l, "a", 2))
	assert.Equal(t, []bool{true, false}, allowN(t, l, "b", 2))
}

func TestFixedWindowResultFields(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewFixedWindowLimiter(2, time.Minute, nil).WithClock(clock.Now)
	ctx := context.Background()

	res, err := l.Allow(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Limit)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, time.Minute, res.ResetAfter)
	assert.Zero(t, res.RetryAfter)

	clock.Advance(20 * time.Second)
	_, err = l.Allow(ctx, "c")
	require.NoError(t, err)

	res, err = l.Allow(ctx, "c")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 40*time.Second, res.RetryAfter)
}

func TestFixedWindowCleanupEvictsExpiredEntries(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewFixedWindowLimiter(5, time.Minute, nil).WithClock(clock.Now)

	allowN(t, l, "old", 1)
	clock.Advance(30 * time.Second)
	allowN(t, l, "new", 1)
	require.Equal(t, 2, l.Len())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, l.Cleanup())
	assert.Equal(t, 1, l.Len())

	// an evicted client starts over with a full quota
	assert.Equal(t, []bool{true, true, true, true, true, false}, allowN(t, l, "old", 6))
}

func TestFixedWindowConcurrentClients(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(10, time.Minute, nil)
	defer l.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed = make(map[string]int)
	)
	for c := 0; c < 8; c++ {
		key := fmt.Sprintf("client-%d", c)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := l.Allow(context.Background(), key)
				if err == nil && res.Allowed {
					mu.Lock()
					allowed[key]++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	require.Len(t, allowed, 8)
	for key, n := range allowed {
		assert.Equal(t, 10, n, "client %s", key)
	}
}

func TestFixedWindowJanitorStopsOnClose(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(1, 10*time.Millisecond, nil)
	l.StartJanitor(5 * time.Millisecond)

	allowN(t, l, "c", 1)
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestFixedWindowStats(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(7, time.Minute, nil)
	allowN(t, l, "c", 1)

	stats := l.Stats()
	assert.Equal(t, "fixed_window", stats["algorithm"])
	assert.Equal(t, "memory", stats["store"])
	assert.Equal(t, 7, stats["max_requests"])
	assert.Equal(t, 1, stats["active_clients"])
}

func TestFixedWindowRollover(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := NewFixedWindowLimiter(3, 60*time.Second, nil).WithClock(clock.Now)

	assert.Equal(t, []bool{true, true, true}, allowN(t, l, "c", 3))

	clock.Advance(10 * time.Second)
	assert.Equal(t, []bool{false}, allowN(t, l, "c", 1))

	clock.Advance(51 * time.Second)
	assert.Equal(t, []bool{true}, allowN(t, l, "c", 1))
}
