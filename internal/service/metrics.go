package service

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "proxy"
	metricsSubsystem = "balancer"
)

// Metrics implements domain.Metrics on top of Prometheus collectors
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	ForwardErrorsTotal   *prometheus.CounterVec
	ForwardDuration      *prometheus.HistogramVec
	NoBackendTotal       prometheus.Counter
	RateLimitedTotal     prometheus.Counter
	HealthChecksTotal    *prometheus.CounterVec
	HealthCheckDuration  *prometheus.HistogramVec
	BackendEnabled       *prometheus.GaugeVec
	HealthSweepsInFlight prometheus.Gauge
}

// NewMetrics registers the proxy collectors on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "requests_total",
				Help:      "Requests relayed from a backend, by backend and status code",
			},
			[]string{"backend", "status_code"},
		),
		ForwardErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "forward_errors_total",
				Help:      "Requests that failed to reach the selected backend",
			},
			[]string{"backend"},
		),
		ForwardDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "forward_duration_seconds",
				Help:      "Time spent waiting on the backend",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		NoBackendTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "no_backend_total",
				Help:      "Requests rejected because no backend was enabled",
			},
		),
		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-client rate limiter",
			},
		),
		HealthChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "health_checks_total",
				Help:      "Health probes by backend and result",
			},
			[]string{"backend", "result"},
		),
		HealthCheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "health_check_duration_seconds",
				Help:      "Duration of health probes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		BackendEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "backend_enabled",
				Help:      "Backend selection status (1=enabled, 0=disabled)",
			},
			[]string{"backend"},
		),
		HealthSweepsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "health_sweeps_in_flight",
				Help:      "Health sweeps currently running",
			},
		),
	}
}

// RecordForward records a response relayed from backend
func (m *Metrics) RecordForward(backend string, statusCode int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(backend, strconv.Itoa(statusCode)).Inc()
	m.ForwardDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordForwardError records a transport failure towards backend
func (m *Metrics) RecordForwardError(backend string) {
	m.ForwardErrorsTotal.WithLabelValues(backend).Inc()
}

// RecordNoBackend records a 503 caused by an empty pool
func (m *Metrics) RecordNoBackend() {
	m.NoBackendTotal.Inc()
}

// RecordRateLimited records a 429
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// RecordHealthCheck records a probe outcome
func (m *Metrics) RecordHealthCheck(backend string, healthy bool, duration time.Duration) {
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	m.HealthChecksTotal.WithLabelValues(backend, result).Inc()
	m.HealthCheckDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// SetBackendEnabled mirrors a backend's selection flag
func (m *Metrics) SetBackendEnabled(backend string, enabled bool) {
	value := 0.0
	if enabled {
		value = 1
	}
	m.BackendEnabled.WithLabelValues(backend).Set(value)
}

func (m *Metrics) SweepStarted()  { m.HealthSweepsInFlight.Inc() }
func (m *Metrics) SweepFinished() { m.HealthSweepsInFlight.Dec() }

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordForward(string, int, time.Duration)      {}
func (NopMetrics) RecordForwardError(string)                     {}
func (NopMetrics) RecordNoBackend()                              {}
func (NopMetrics) RecordRateLimited()                            {}
func (NopMetrics) RecordHealthCheck(string, bool, time.Duration) {}
func (NopMetrics) SetBackendEnabled(string, bool)                {}
func (NopMetrics) SweepStarted()                                 {}
func (NopMetrics) SweepFinished()                                {}
