package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mir00r/proxy-balancer/internal/domain"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

const (
	defaultHealthInterval = 5 * time.Second
	defaultHealthTimeout  = 2 * time.Second
	defaultHealthPath     = "/health"
)

// HealthChecker keeps the pool's enabled flags converged with backend
// reachability. A sweep probes every backend concurrently; a new sweep is
// started on every tick whether or not the previous one has finished.
type HealthChecker struct {
	config  domain.HealthCheckConfig
	pool    domain.BackendPool
	client  *http.Client
	metrics domain.Metrics
	logger  *logger.Logger

	inFlight atomic.Int32
	sweeps   sync.WaitGroup
	loop     sync.WaitGroup

	mu        sync.Mutex
	cancel    context.CancelFunc
	isRunning bool
}

// NewHealthChecker creates a new health checker for pool
func NewHealthChecker(config domain.HealthCheckConfig, pool domain.BackendPool, metrics domain.Metrics, log *logger.Logger) *HealthChecker {
	if config.Interval <= 0 {
		config.Interval = defaultHealthInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultHealthTimeout
	}
	if config.Path == "" {
		config.Path = defaultHealthPath
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if log == nil {
		log = logger.Discard()
	}

	return &HealthChecker{
		config: config,
		pool:   pool,
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  true,
				MaxIdleConnsPerHost: 2,
			},
		},
		metrics: metrics,
		logger:  log.HealthCheckLogger(),
	}
}

// Probe issues a single GET against the backend's health path. Only a 200
// counts as healthy.
func (hc *HealthChecker) Probe(ctx context.Context, backend *domain.Backend) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backend.Address+hc.config.Path, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("User-Agent", "LoadBalancer-HealthChecker/1.0")

	resp, err := hc.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Check probes one backend and applies the outcome to the pool
func (hc *HealthChecker) Check(ctx context.Context, backend *domain.Backend) domain.HealthResult {
	probeCtx, cancel := context.WithTimeout(ctx, hc.config.Timeout)
	defer cancel()

	start := time.Now()
	err := hc.Probe(probeCtx, backend)
	duration := time.Since(start)

	backend.UpdateLastHealthCheck(start)
	healthy := err == nil

	result := domain.HealthResult{
		BackendID: backend.ID,
		Address:   backend.Address,
		Healthy:   healthy,
		Duration:  duration,
	}
	if err != nil {
		result.Error = err.Error()
	}

	// a probe cut short by shutdown says nothing about the backend
	if ctx.Err() != nil {
		return result
	}

	hc.metrics.RecordHealthCheck(backend.ID, healthy, duration)
	result.Changed = hc.apply(backend, err)
	hc.metrics.SetBackendEnabled(backend.ID, backend.IsEnabled())
	return result
}

// apply flips the backend flag according to the probe outcome and logs
// transitions. Outcomes that match the current state are only logged at debug.
func (hc *HealthChecker) apply(backend *domain.Backend, probeErr error) bool {
	healthy := probeErr == nil
	changed := hc.pool.SetEnabled(backend.Address, healthy)

	log := hc.logger.BackendLogger(backend.ID, backend.Address).WithAction(logger.ActionHealthCheck)

	switch {
	case changed && healthy:
		log.Info("Backend now healthy, restored to pool")
	case changed:
		log.WithField("reason", probeErr.Error()).Warn("Backend now unhealthy, removed from pool")
	case healthy:
		log.Debug("Backend healthy")
	default:
		log.WithField("reason", probeErr.Error()).Debug("Backend still unhealthy")
	}

	return changed
}

// Sweep probes every registered backend concurrently and waits for all
// probes. Sweeps are safe to run concurrently with each other.
func (hc *HealthChecker) Sweep(ctx context.Context) []domain.HealthResult {
	hc.inFlight.Add(1)
	hc.metrics.SweepStarted()
	defer func() {
		hc.inFlight.Add(-1)
		hc.metrics.SweepFinished()
	}()

	backends := hc.pool.GetAll()
	results := make([]domain.HealthResult, len(backends))

	var wg sync.WaitGroup
	for i, backend := range backends {
		wg.Add(1)
		go func(i int, backend *domain.Backend) {
			defer wg.Done()
			results[i] = hc.Check(ctx, backend)
		}(i, backend)
	}
	wg.Wait()

	return results
}

// InFlightSweeps returns the number of sweeps currently running
func (hc *HealthChecker) InFlightSweeps() int {
	return int(hc.inFlight.Load())
}

// Start runs an initial sweep and then one sweep per interval until Stop is
// called or ctx is cancelled
func (hc *HealthChecker) Start(ctx context.Context) error {
	if !hc.config.Enabled {
		hc.logger.Info("Health checking is disabled")
		return nil
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.isRunning {
		return fmt.Errorf("health checker is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	hc.cancel = cancel
	hc.isRunning = true

	hc.logger.WithFields(map[string]interface{}{
		"interval": hc.config.Interval.String(),
		"timeout":  hc.config.Timeout.String(),
		"path":     hc.config.Path,
	}).Info("Starting health checker")

	hc.loop.Add(1)
	go hc.run(ctx)

	return nil
}

func (hc *HealthChecker) run(ctx context.Context) {
	defer hc.loop.Done()

	ticker := time.NewTicker(hc.config.Interval)
	defer ticker.Stop()

	hc.launchSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			hc.logger.Debug("Health check loop stopped")
			return
		case <-ticker.C:
			hc.launchSweep(ctx)
		}
	}
}

// launchSweep does not wait for earlier sweeps; overlap is allowed
func (hc *HealthChecker) launchSweep(ctx context.Context) {
	hc.sweeps.Add(1)
	go func() {
		defer hc.sweeps.Done()
		hc.Sweep(ctx)
	}()
}

// Stop cancels in-flight probes and waits for the loop and all sweeps to exit
func (hc *HealthChecker) Stop() error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if !hc.isRunning {
		return nil
	}

	hc.logger.Info("Stopping health checker")
	hc.cancel()
	hc.loop.Wait()
	hc.sweeps.Wait()
	hc.isRunning = false

	hc.logger.Info("Health checker stopped")
	return nil
}

// IsRunning returns true if health checking is currently running
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.isRunning
}

// GetStats returns health checker statistics
func (hc *HealthChecker) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"enabled":          hc.config.Enabled,
		"running":          hc.IsRunning(),
		"interval":         hc.config.Interval.String(),
		"timeout":          hc.config.Timeout.String(),
		"check_path":       hc.config.Path,
		"sweeps_in_flight": hc.InFlightSweeps(),
	}
}
