package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mir00r/proxy-balancer/internal/domain"
	lberrors "github.com/mir00r/proxy-balancer/internal/errors"
	"github.com/mir00r/proxy-balancer/internal/ratelimit"
	"github.com/mir00r/proxy-balancer/internal/service"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// RateLimiter enforces per-client quotas ahead of the dispatcher
type RateLimiter struct {
	limiter      ratelimit.Limiter
	trustHeaders bool
	metrics      domain.Metrics
	logger       *logger.Logger
}

// NewRateLimiter creates a new rate limiting middleware around limiter
func NewRateLimiter(limiter ratelimit.Limiter, config domain.RateLimitConfig, metrics domain.Metrics, log *logger.Logger) *RateLimiter {
	if metrics == nil {
		metrics = service.NopMetrics{}
	}
	if log == nil {
		log = logger.Discard()
	}

	return &RateLimiter{
		limiter:      limiter,
		trustHeaders: config.TrustForwardedHeaders,
		metrics:      metrics,
		logger:       log.MiddlewareLogger("rate_limiter"),
	}
}

// RateLimitMiddleware rejects clients over quota with 429 before any backend
// is selected. A limiter error admits the request.
func (rl *RateLimiter) RateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := ClientKey(r, rl.trustHeaders)

			result, err := rl.limiter.Allow(r.Context(), clientIP)
			if err != nil {
				rl.logger.WithError(err).WithField("client", clientIP).
					Warn("Rate limit check failed, admitting request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				rl.metrics.RecordRateLimited()

				rejection := lberrors.NewRateLimitError(clientIP, result.Limit)
				log := rl.logger.WithAction(logger.ActionRateLimited).WithError(rejection).WithFields(map[string]interface{}{
					"client": clientIP,
					"method": r.Method,
					"path":   r.URL.Path,
				})
				if rc, ok := domain.RequestContextFrom(r.Context()); ok {
					log = log.WithField("request_id", rc.RequestID)
				}
				log.Warn("Rate limit exceeded")

				w.Header().Set("Retry-After", retryAfterSeconds(result.RetryAfter))
				http.Error(w, "Too many requests", lberrors.GetHTTPStatusCode(rejection))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	stats := rl.limiter.Stats()
	stats["trust_forwarded_headers"] = rl.trustHeaders
	return stats
}

// ClientKey identifies the client a request counts against: the peer IP
// without its port. With trustHeaders set, the first X-Forwarded-For entry
// or X-Real-IP wins over the peer address.
func ClientKey(r *http.Request, trustHeaders bool) string {
	if trustHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	return domain.HostOnly(r.RemoteAddr)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
