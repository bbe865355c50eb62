package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mir00r/proxy-balancer/internal/repository"
	"github.com/mir00r/proxy-balancer/internal/service"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// Admin processes run one management task against the configuration and exit.

// runAdminProcess dispatches opts.adminCmd
func runAdminProcess(opts *options, out io.Writer) error {
	switch opts.adminCmd {
	case "health-check":
		return runHealthCheck(opts, out)
	case "validate-config", "validate":
		return runConfigValidation(opts, out)
	case "stats":
		return runStats(opts, out)
	default:
		return fmt.Errorf("unknown admin command %q (want health-check, validate-config or stats)", opts.adminCmd)
	}
}

// runHealthCheck probes every configured backend once and prints the result
func runHealthCheck(opts *options, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	pool := repository.NewServerPool(nil)
	if err := pool.RegisterAll(cfg.Backends); err != nil {
		return err
	}

	checker := service.NewHealthChecker(cfg.LoadBalancer.HealthCheck, pool, nil, logger.Discard())

	fmt.Fprintf(out, "Checking health of %d backends...\n", pool.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	healthy := 0
	for _, result := range checker.Sweep(ctx) {
		status := "healthy"
		if result.Healthy {
			healthy++
		} else {
			status = "unhealthy: " + result.Error
		}
		fmt.Fprintf(out, "Backend %s (%s): %s [%s]\n", result.BackendID, result.Address, status, result.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "%d/%d backends healthy\n", healthy, pool.Count())

	if healthy == 0 {
		return fmt.Errorf("no healthy backends")
	}
	return nil
}

// runConfigValidation validates the effective configuration
func runConfigValidation(opts *options, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	rl := cfg.LoadBalancer.RateLimit
	fmt.Fprintln(out, "Configuration validation passed")
	fmt.Fprintf(out, "Port: %d\n", cfg.Server.Port)
	fmt.Fprintf(out, "Admin: %t (port %d)\n", cfg.Admin.Enabled, cfg.Admin.Port)
	fmt.Fprintf(out, "Backends: %d\n", len(cfg.Backends))
	fmt.Fprintf(out, "Timeout: %s\n", cfg.LoadBalancer.Timeout)
	fmt.Fprintf(out, "Health Check: %t (every %s, path %s)\n", cfg.LoadBalancer.HealthCheck.Enabled,
		cfg.LoadBalancer.HealthCheck.Interval, cfg.LoadBalancer.HealthCheck.Path)
	fmt.Fprintf(out, "Rate Limiting: %t (%s, %d per %s, redis %t)\n", rl.Enabled, rl.Algorithm,
		rl.MaxRequests, rl.Window, rl.Redis.Enabled)

	return nil
}

// runStats prints live statistics from a running instance's admin API, or
// the configured backend list when none is reachable
func runStats(opts *options, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if cfg.Admin.Enabled {
		stats, err := fetchStats(fmt.Sprintf("http://127.0.0.1:%d/admin/stats", cfg.Admin.Port))
		if err == nil {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		fmt.Fprintf(out, "Admin API unreachable (%v), showing configuration\n", err)
	}

	fmt.Fprintf(out, "Total backends: %d\n", len(cfg.Backends))
	for i, address := range cfg.Backends {
		fmt.Fprintf(out, "  backend-%d: %s\n", i+1, address)
	}
	return nil
}

func fetchStats(url string) (map[string]interface{}, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return stats, nil
}
