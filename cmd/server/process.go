package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mir00r/proxy-balancer/internal/config"
	"github.com/mir00r/proxy-balancer/internal/handler"
	"github.com/mir00r/proxy-balancer/internal/middleware"
	"github.com/mir00r/proxy-balancer/internal/ratelimit"
	"github.com/mir00r/proxy-balancer/internal/repository"
	"github.com/mir00r/proxy-balancer/internal/server"
	"github.com/mir00r/proxy-balancer/internal/service"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// app holds the wired components of one running proxy
type app struct {
	config   *config.Config
	logger   *logger.Logger
	registry *prometheus.Registry

	pool         *repository.ServerPool
	loadBalancer *service.LoadBalancer
	limiter      ratelimit.Limiter
	server       *server.Server
}

// newApp builds every component from cfg without binding any port
func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(registry)

	pool := repository.NewServerPool(log)
	if err := pool.RegisterAll(cfg.Backends); err != nil {
		return nil, fmt.Errorf("failed to register backends: %w", err)
	}

	lbConfig := cfg.ToLoadBalancerConfig()
	healthChecker := service.NewHealthChecker(lbConfig.HealthCheck, pool, metrics, log)
	loadBalancer := service.NewLoadBalancer(lbConfig, pool, healthChecker, metrics, log)

	lbHandler := handler.NewLoadBalancerHandler(loadBalancer, metrics, log, lbConfig)

	middlewares := []func(http.Handler) http.Handler{
		middleware.RecoveryMiddleware(log),
		middleware.RequestContextMiddleware(),
		middleware.LoggingMiddleware(log),
	}

	var (
		limiter      ratelimit.Limiter
		limiterStats handler.StatsProvider
	)
	if lbConfig.RateLimit.Enabled {
		var err error
		limiter, err = ratelimit.New(lbConfig.RateLimit, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		rateLimiter := middleware.NewRateLimiter(limiter, lbConfig.RateLimit, metrics, log)
		middlewares = append(middlewares, rateLimiter.RateLimitMiddleware())
		limiterStats = rateLimiter
		log.WithFields(map[string]interface{}{
			"algorithm":    lbConfig.RateLimit.Algorithm,
			"max_requests": lbConfig.RateLimit.MaxRequests,
			"window":       lbConfig.RateLimit.Window.String(),
			"redis":        lbConfig.RateLimit.Redis.Enabled,
		}).Info("Rate limiting enabled")
	}

	var adminRouter http.Handler
	if cfg.Admin.Enabled {
		adminHandler := handler.NewAdminHandler(loadBalancer, limiterStats, log)
		healthHandler := handler.NewHealthHandler(version, loadBalancer)
		adminRouter = handler.NewAdminRouter(adminHandler, healthHandler, registry)
	}

	srv := server.New(cfg.Server, cfg.Admin, middleware.Chain(lbHandler, middlewares...), adminRouter, log)

	return &app{
		config:       cfg,
		logger:       log,
		registry:     registry,
		pool:         pool,
		loadBalancer: loadBalancer,
		limiter:      limiter,
		server:       srv,
	}, nil
}

// start launches health checking and then the listeners
func (a *app) start(ctx context.Context) error {
	if err := a.loadBalancer.Start(ctx); err != nil {
		return err
	}
	if err := a.server.Start(); err != nil {
		_ = a.loadBalancer.Stop(ctx)
		return err
	}
	return nil
}

// shutdown stops accepting traffic, drains in-flight requests, then stops
// the health checker and the limiter
func (a *app) shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(a.server.Shutdown(ctx))
	keep(a.loadBalancer.Stop(ctx))
	if a.limiter != nil {
		keep(a.limiter.Close())
	}
	return firstErr
}

// getProcessInfo returns process information for logging
func getProcessInfo() map[string]interface{} {
	return map[string]interface{}{
		"pid":      os.Getpid(),
		"hostname": getHostname(),
	}
}

// getHostname safely gets hostname
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
