/*
Package service implements the application layer of the proxy: backend
selection, health checking and metrics.

LoadBalancer:
Selects backends in round-robin order through the pool's NextEnabled and owns
the health checker's lifecycle.

	lb := service.NewLoadBalancer(config, pool, healthChecker, metrics, logger)
	if err := lb.Start(ctx); err != nil {
		log.Fatal("Failed to start load balancer:", err)
	}
	defer lb.Stop(ctx)

HealthChecker:
Probes GET {backend}{path} for every backend on each interval. A single probe
decides: 200 enables the backend, anything else (or a transport error, or the
probe timeout) disables it. Probes within a sweep run concurrently, and a new
sweep is started on every tick even if the previous one is still running:

	sweep 1  |----probe A----|
	         |-probe B-|
	sweep 2           |----probe A----|
	                  |-probe B-|

Only transitions are logged at info/warn; repeated outcomes are logged at debug.
A probe cut short because the checker is stopping is discarded.

Metrics:
Prometheus collectors registered on an injected prometheus.Registerer.
NopMetrics satisfies domain.Metrics for callers that do not export metrics.

Thread Safety:
All exported methods are safe for concurrent use.
*/
package service
