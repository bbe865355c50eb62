package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mir00r/proxy-balancer/internal/domain"
	"github.com/mir00r/proxy-balancer/internal/service"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// StatsProvider is anything that can report statistics to the admin API
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// AdminHandler provides the read-mostly administrative API. It is served on
// its own listener so the proxy port forwards every path untouched.
type AdminHandler struct {
	loadBalancer *service.LoadBalancer
	rateLimiter  StatsProvider
	logger       *logger.Logger
	startTime    time.Time
}

// NewAdminHandler creates a new admin handler. rateLimiter may be nil when
// rate limiting is disabled.
func NewAdminHandler(loadBalancer *service.LoadBalancer, rateLimiter StatsProvider, log *logger.Logger) *AdminHandler {
	if log == nil {
		log = logger.Discard()
	}

	return &AdminHandler{
		loadBalancer: loadBalancer,
		rateLimiter:  rateLimiter,
		logger:       log.AdminLogger(),
		startTime:    time.Now(),
	}
}

// BackendResponse represents backend information in API responses
type BackendResponse struct {
	ID              string     `json:"id"`
	Address         string     `json:"address"`
	Status          string     `json:"status"`
	Enabled         bool       `json:"enabled"`
	TotalRequests   int64      `json:"total_requests"`
	FailureCount    int64      `json:"failure_count"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
}

// HealthCheckResponse is returned by a manually triggered sweep
type HealthCheckResponse struct {
	Results   []domain.HealthResult `json:"results"`
	Enabled   int                   `json:"enabled"`
	Total     int                   `json:"total"`
	Timestamp time.Time             `json:"timestamp"`
}

// ErrorResponse represents error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      int       `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

func newBackendResponse(backend *domain.Backend) BackendResponse {
	resp := BackendResponse{
		ID:            backend.ID,
		Address:       backend.Address,
		Status:        backend.GetStatus().String(),
		Enabled:       backend.IsEnabled(),
		TotalRequests: backend.GetTotalRequests(),
		FailureCount:  backend.GetFailureCount(),
	}
	if last := backend.GetLastHealthCheck(); !last.IsZero() {
		resp.LastHealthCheck = &last
	}
	return resp
}

// ListBackendsHandler handles GET /admin/backends
func (h *AdminHandler) ListBackendsHandler(w http.ResponseWriter, r *http.Request) {
	backends := h.loadBalancer.GetBackends()

	response := make([]BackendResponse, 0, len(backends))
	for _, backend := range backends {
		response = append(response, newBackendResponse(backend))
	}

	h.writeJSON(w, http.StatusOK, response)
	h.logger.WithField("count", len(response)).Debug("Listed backends")
}

// GetBackendHandler handles GET /admin/backends/{id}
func (h *AdminHandler) GetBackendHandler(w http.ResponseWriter, r *http.Request) {
	backendID := mux.Vars(r)["id"]

	for _, backend := range h.loadBalancer.GetBackends() {
		if backend.ID == backendID {
			h.writeJSON(w, http.StatusOK, newBackendResponse(backend))
			return
		}
	}

	h.writeErrorResponse(w, "backend "+backendID+" not found", http.StatusNotFound)
}

// GetStatsHandler handles GET /admin/stats
func (h *AdminHandler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"uptime":        time.Since(h.startTime).String(),
		"load_balancer": h.loadBalancer.GetStats(),
	}
	if h.rateLimiter != nil {
		response["rate_limiter"] = h.rateLimiter.GetStats()
	}

	h.writeJSON(w, http.StatusOK, response)
}

// TriggerHealthCheckHandler handles POST /admin/health-check by running one
// sweep synchronously and returning its results
func (h *AdminHandler) TriggerHealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	checker := h.loadBalancer.HealthChecker()
	if checker == nil {
		h.writeErrorResponse(w, "health checker not configured", http.StatusConflict)
		return
	}

	results := checker.Sweep(r.Context())

	h.logger.WithField("backends", len(results)).Info("Manual health check completed")
	h.writeJSON(w, http.StatusOK, HealthCheckResponse{
		Results:   results,
		Enabled:   len(h.loadBalancer.GetEnabledBackends()),
		Total:     len(h.loadBalancer.GetBackends()),
		Timestamp: time.Now().UTC(),
	})
}

// NewAdminRouter wires the admin, probe and metrics endpoints
func NewAdminRouter(admin *AdminHandler, health *HealthHandler, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/liveness", health.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/readiness", health.ReadinessHandler).Methods(http.MethodGet)

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/admin").Subrouter()
	api.HandleFunc("/backends", admin.ListBackendsHandler).Methods(http.MethodGet)
	api.HandleFunc("/backends/{id}", admin.GetBackendHandler).Methods(http.MethodGet)
	api.HandleFunc("/stats", admin.GetStatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/health-check", admin.TriggerHealthCheckHandler).Methods(http.MethodPost)

	return router
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("Failed to encode admin response")
	}
}

// writeErrorResponse writes a standardized error response
func (h *AdminHandler) writeErrorResponse(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, code, ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	})

	h.logger.WithFields(map[string]interface{}{
		"error": message,
		"code":  code,
	}).Warn("API error response")
}
