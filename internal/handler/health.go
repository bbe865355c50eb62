package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mir00r/proxy-balancer/internal/service"
)

// HealthHandler serves the proxy's own liveness and readiness probes. These
// live on the admin listener; /health on the proxy port belongs to backends.
type HealthHandler struct {
	loadBalancer *service.LoadBalancer
	startTime    time.Time
	version      string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, loadBalancer *service.LoadBalancer) *HealthHandler {
	return &HealthHandler{
		loadBalancer: loadBalancer,
		startTime:    time.Now(),
		version:      version,
	}
}

// ReadinessHandler reports ready while at least one backend is enabled
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	enabled := len(h.loadBalancer.GetEnabledBackends())

	status := "ready"
	code := http.StatusOK
	if enabled == 0 {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":           status,
		"timestamp":        time.Now().UTC(),
		"version":          h.version,
		"uptime":           time.Since(h.startTime).String(),
		"enabled_backends": enabled,
		"total_backends":   len(h.loadBalancer.GetBackends()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler checks if the application is alive
func (h *HealthHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
