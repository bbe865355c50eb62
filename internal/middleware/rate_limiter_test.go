package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/proxy-balancer/internal/domain"
	"github.com/mir00r/proxy-balancer/internal/ratelimit"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// countingMetrics records only rate-limit rejections
type countingMetrics struct {
	domain.Metrics
	rateLimited int
}

func (m *countingMetrics) RecordRateLimited() { m.rateLimited++ }

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (*ratelimit.Result, error) {
	return nil, errors.New("connection refused")
}
func (failingLimiter) Limit() int                    { return 1 }
func (failingLimiter) Stats() map[string]interface{} { return map[string]interface{}{} }
func (failingLimiter) Close() error                  { return nil }

func newTestLogger() (*logger.Logger, *test.Hook) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	return logger.Wrap(base), hook
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestRateLimitMiddlewareRejectsOverQuota tests the 429 path and its side effects
func TestRateLimitMiddlewareRejectsOverQuota(t *testing.T) {
	log, hook := newTestLogger()
	metrics := &countingMetrics{}
	limiter := ratelimit.NewFixedWindowLimiter(2, time.Minute, nil)

	rl := NewRateLimiter(limiter, domain.RateLimitConfig{}, metrics, log)
	calls := 0
	h := rl.RateLimitMiddleware()(okHandler(&calls))

	for i := 0; i < 2; i++ {
		rec := doRequest(h, "192.0.2.10:40000")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(h, "192.0.2.10:40001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "Too many requests\n", string(body))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, 2, calls, "rejected request must not reach the next handler")
	assert.Equal(t, 1, metrics.rateLimited)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, logger.ActionRateLimited, entry.Data["action"])
	assert.Equal(t, "192.0.2.10", entry.Data["client"])
	assert.Contains(t, fmt.Sprint(entry.Data["error"]), "RATE_LIMIT_EXCEEDED")
}

func TestRateLimitMiddlewareKeysByIPWithoutPort(t *testing.T) {
	limiter := ratelimit.NewFixedWindowLimiter(1, time.Minute, nil)
	rl := NewRateLimiter(limiter, domain.RateLimitConfig{}, nil, nil)
	calls := 0
	h := rl.RateLimitMiddleware()(okHandler(&calls))

	assert.Equal(t, http.StatusOK, doRequest(h, "192.0.2.10:1000").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "192.0.2.10:2000").Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "192.0.2.11:1000").Code)
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	log, hook := newTestLogger()
	rl := NewRateLimiter(failingLimiter{}, domain.RateLimitConfig{}, nil, log)
	calls := 0
	h := rl.RateLimitMiddleware()(okHandler(&calls))

	rec := doRequest(h, "192.0.2.10:1000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "connection refused", hook.LastEntry().Data["error"])
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name         string
		remoteAddr   string
		headers      map[string]string
		trustHeaders bool
		expected     string
	}{
		{
			name:       "ipv4 peer",
			remoteAddr: "203.0.113.5:51234",
			expected:   "203.0.113.5",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			expected:   "2001:db8::1",
		},
		{
			name:       "forwarded headers ignored by default",
			remoteAddr: "203.0.113.5:51234",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1"},
			expected:   "203.0.113.5",
		},
		{
			name:         "first forwarded entry when trusted",
			remoteAddr:   "203.0.113.5:51234",
			headers:      map[string]string{"X-Forwarded-For": " 198.51.100.1 , 10.0.0.1"},
			trustHeaders: true,
			expected:     "198.51.100.1",
		},
		{
			name:         "real ip when trusted",
			remoteAddr:   "203.0.113.5:51234",
			headers:      map[string]string{"X-Real-IP": "198.51.100.2"},
			trustHeaders: true,
			expected:     "198.51.100.2",
		},
		{
			name:         "peer when trusted but absent",
			remoteAddr:   "203.0.113.5:51234",
			trustHeaders: true,
			expected:     "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientKey(req, tt.trustHeaders))
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "3", retryAfterSeconds(2100*time.Millisecond))
}
