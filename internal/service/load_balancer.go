package service

import (
	"context"
	"fmt"

	"github.com/mir00r/proxy-balancer/internal/domain"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// LoadBalancer owns backend selection and the health checker's lifecycle.
// Selection is plain round-robin over the pool's enabled members.
type LoadBalancer struct {
	config        domain.LoadBalancerConfig
	pool          domain.BackendPool
	healthChecker *HealthChecker
	metrics       domain.Metrics
	logger        *logger.Logger
}

// NewLoadBalancer creates a new load balancer instance
func NewLoadBalancer(
	config domain.LoadBalancerConfig,
	pool domain.BackendPool,
	healthChecker *HealthChecker,
	metrics domain.Metrics,
	log *logger.Logger,
) *LoadBalancer {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if log == nil {
		log = logger.Discard()
	}

	// seed the status gauge; afterwards only the health checker moves it
	for _, backend := range pool.GetAll() {
		metrics.SetBackendEnabled(backend.ID, backend.IsEnabled())
	}

	return &LoadBalancer{
		config:        config,
		pool:          pool,
		healthChecker: healthChecker,
		metrics:       metrics,
		logger:        log.LoadBalancerLogger(),
	}
}

// GetBackend selects the next enabled backend. The returned error is a
// *errors.LoadBalancerError with code NO_BACKENDS_AVAILABLE when the whole
// pool is disabled.
func (lb *LoadBalancer) GetBackend() (*domain.Backend, error) {
	backend, err := lb.pool.NextEnabled()
	if err != nil {
		lb.metrics.RecordNoBackend()
		return nil, err
	}

	lb.logger.WithField("backend_id", backend.ID).Debug("Selected backend for request")
	return backend, nil
}

// GetBackends returns all backends
func (lb *LoadBalancer) GetBackends() []*domain.Backend {
	return lb.pool.GetAll()
}

// GetEnabledBackends returns only enabled backends
func (lb *LoadBalancer) GetEnabledBackends() []*domain.Backend {
	return lb.pool.GetEnabled()
}

// HealthChecker returns the checker driving this balancer's pool
func (lb *LoadBalancer) HealthChecker() *HealthChecker {
	return lb.healthChecker
}

// Start starts health checking
func (lb *LoadBalancer) Start(ctx context.Context) error {
	backends := lb.pool.GetAll()
	if len(backends) == 0 {
		return fmt.Errorf("no backends configured")
	}

	if lb.healthChecker != nil {
		if err := lb.healthChecker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start health checking: %w", err)
		}
	}

	lb.logger.Infof("Load balancer started with %d backends", len(backends))
	return nil
}

// Stop gracefully stops the load balancer
func (lb *LoadBalancer) Stop(ctx context.Context) error {
	lb.logger.Info("Stopping load balancer")

	if lb.healthChecker != nil {
		if err := lb.healthChecker.Stop(); err != nil {
			lb.logger.WithError(err).Error("Failed to stop health checker")
		}
	}

	lb.logger.Info("Load balancer stopped")
	return nil
}

// GetStats returns load balancer statistics
func (lb *LoadBalancer) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"strategy": "round_robin",
		"timeout":  lb.config.Timeout.String(),
	}

	if s, ok := lb.pool.(interface{ GetStats() map[string]interface{} }); ok {
		stats["backend_stats"] = s.GetStats()
	}
	if lb.healthChecker != nil {
		stats["health_checker"] = lb.healthChecker.GetStats()
	}

	return stats
}
