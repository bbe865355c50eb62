package domain

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// BackendStatus represents the health status of a backend server
type BackendStatus int

const (
	// StatusEnabled means the backend is eligible for traffic selection
	StatusEnabled BackendStatus = iota
	// StatusDisabled means the backend is temporarily excluded from selection
	StatusDisabled
)

// String returns the string representation of BackendStatus
func (s BackendStatus) String() string {
	switch s {
	case StatusEnabled:
		return "enabled"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Backend is one backend application server in the pool. Address never
// changes after registration; the enabled flag is flipped by the health
// checker while dispatchers read it, so all runtime state is atomic.
type Backend struct {
	ID      string `json:"id"`
	Address string `json:"address"`

	enabled         atomic.Bool
	totalRequests   atomic.Int64
	failureCount    atomic.Int64
	lastHealthCheck atomic.Int64
}

// NewBackend creates an enabled backend
func NewBackend(id, address string) *Backend {
	b := &Backend{
		ID:      id,
		Address: address,
	}
	b.enabled.Store(true)
	return b
}

// IsEnabled reports whether the backend may receive traffic
func (b *Backend) IsEnabled() bool {
	return b.enabled.Load()
}

// SetEnabled stores the flag and reports whether it changed
func (b *Backend) SetEnabled(enabled bool) bool {
	return b.enabled.Swap(enabled) != enabled
}

// GetStatus returns the current backend status
func (b *Backend) GetStatus() BackendStatus {
	if b.IsEnabled() {
		return StatusEnabled
	}
	return StatusDisabled
}

// IncrementRequests atomically increments the forwarded request count
func (b *Backend) IncrementRequests() {
	b.totalRequests.Add(1)
}

// GetTotalRequests returns the number of requests forwarded to this backend
func (b *Backend) GetTotalRequests() int64 {
	return b.totalRequests.Load()
}

// IncrementFailures atomically increments the forward failure count
func (b *Backend) IncrementFailures() {
	b.failureCount.Add(1)
}

// GetFailureCount returns the number of failed forwards
func (b *Backend) GetFailureCount() int64 {
	return b.failureCount.Load()
}

// UpdateLastHealthCheck records the time of the latest probe
func (b *Backend) UpdateLastHealthCheck(t time.Time) {
	b.lastHealthCheck.Store(t.UnixNano())
}

// GetLastHealthCheck returns the time of the latest probe, zero if never probed
func (b *Backend) GetLastHealthCheck() time.Time {
	ns := b.lastHealthCheck.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// HealthCheckConfig defines configuration for health checking
type HealthCheckConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Path     string        `json:"path" yaml:"path"`
}

// RateLimitAlgorithm selects how the per-client quota is enforced
type RateLimitAlgorithm string

const (
	// FixedWindowAlgorithm counts requests in a window that starts at a client's first request
	FixedWindowAlgorithm RateLimitAlgorithm = "fixed_window"
	// TokenBucketAlgorithm refills max_requests tokens evenly over the window
	TokenBucketAlgorithm RateLimitAlgorithm = "token_bucket"
)

// RedisConfig points the fixed-window counters at a shared Redis
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"-" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// RateLimitConfig defines configuration for rate limiting
type RateLimitConfig struct {
	Enabled               bool               `json:"enabled" yaml:"enabled"`
	Algorithm             RateLimitAlgorithm `json:"algorithm" yaml:"algorithm"`
	MaxRequests           int                `json:"max_requests" yaml:"max_requests"`
	Window                time.Duration      `json:"window" yaml:"window"`
	CleanupInterval       time.Duration      `json:"cleanup_interval" yaml:"cleanup_interval"`
	TrustForwardedHeaders bool               `json:"trust_forwarded_headers" yaml:"trust_forwarded_headers"`
	Redis                 RedisConfig        `json:"redis" yaml:"redis"`
}

// LoadBalancerConfig defines the configuration for the load balancer
type LoadBalancerConfig struct {
	Port        int               `json:"port" yaml:"port"`
	Timeout     time.Duration     `json:"timeout" yaml:"timeout"`
	HealthCheck HealthCheckConfig `json:"health_check" yaml:"health_check"`
	RateLimit   RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// BackendPool is the registry of backend servers the dispatcher selects from
type BackendPool interface {
	// Register appends a new enabled backend; only used during startup
	Register(address string) (*Backend, error)
	// SetEnabled updates a backend's flag; unknown addresses are ignored
	SetEnabled(address string, enabled bool) bool
	// NextEnabled returns the next enabled backend in round-robin order
	NextEnabled() (*Backend, error)
	// GetAll returns all backends in registration order
	GetAll() []*Backend
	// GetEnabled returns the currently enabled backends
	GetEnabled() []*Backend
}

// Metrics defines the interface for collecting proxy metrics
type Metrics interface {
	RecordForward(backend string, statusCode int, duration time.Duration)
	RecordForwardError(backend string)
	RecordNoBackend()
	RecordRateLimited()
	RecordHealthCheck(backend string, healthy bool, duration time.Duration)
	SetBackendEnabled(backend string, enabled bool)
	SweepStarted()
	SweepFinished()
}

// HealthResult is the outcome of a single probe
type HealthResult struct {
	BackendID string        `json:"backend_id"`
	Address   string        `json:"address"`
	Healthy   bool          `json:"healthy"`
	Changed   bool          `json:"changed"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

type contextKey string

const requestContextKey contextKey = "requestContext"

// RequestContext contains request-specific information
type RequestContext struct {
	RequestID  string
	RemoteAddr string
	ClientIP   string
	UserAgent  string
	Method     string
	Path       string
	StartTime  time.Time
	BackendID  string
}

// NewRequestContext creates a new RequestContext from an HTTP request. An
// incoming X-Request-ID is kept so that IDs survive chained proxies.
func NewRequestContext(r *http.Request) *RequestContext {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return &RequestContext{
		RequestID:  requestID,
		RemoteAddr: r.RemoteAddr,
		ClientIP:   HostOnly(r.RemoteAddr),
		UserAgent:  r.UserAgent(),
		Method:     r.Method,
		Path:       r.URL.Path,
		StartTime:  time.Now(),
	}
}

// WithRequestContext stores rc on ctx
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFrom returns the RequestContext stored on ctx, if any
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return rc, ok
}

// HostOnly strips the port from a host:port pair, leaving other input untouched
func HostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
