package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mir00r/proxy-balancer/internal/domain"
	lberrors "github.com/mir00r/proxy-balancer/internal/errors"
	"github.com/mir00r/proxy-balancer/internal/service"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

const (
	defaultForwardTimeout = 5 * time.Second

	noBackendsMessage     = "No backend servers available"
	backendFailureMessage = "Failed to connect to backend server"
)

type forwardStateKey struct{}

// forwardState travels with the outbound request so the proxy callbacks can
// report on the backend and caller that produced it.
type forwardState struct {
	backend *domain.Backend
	client  string
	start   time.Time
	log     *logger.Logger
}

// LoadBalancerHandler forwards each request to exactly one backend chosen by
// round-robin. A failed forward is answered with 500 and never retried
// against another backend. The forward timeout bounds connecting and
// waiting for response headers; once headers arrive the body is streamed
// to the caller for as long as the backend keeps sending.
type LoadBalancerHandler struct {
	loadBalancer *service.LoadBalancer
	metrics      domain.Metrics
	logger       *logger.Logger
	transport    http.RoundTripper

	mu      sync.RWMutex
	proxies map[string]*httputil.ReverseProxy
}

// NewLoadBalancerHandler creates a new load balancer handler
func NewLoadBalancerHandler(
	loadBalancer *service.LoadBalancer,
	metrics domain.Metrics,
	log *logger.Logger,
	config domain.LoadBalancerConfig,
) *LoadBalancerHandler {
	if metrics == nil {
		metrics = service.NopMetrics{}
	}
	if log == nil {
		log = logger.Discard()
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}

	h := &LoadBalancerHandler{
		loadBalancer: loadBalancer,
		metrics:      metrics,
		logger:       log.ProxyLogger(),
		transport:    newTransport(timeout),
		proxies:      make(map[string]*httputil.ReverseProxy),
	}

	for _, backend := range loadBalancer.GetBackends() {
		if _, err := h.proxyFor(backend); err != nil {
			h.logger.BackendLogger(backend.ID, backend.Address).WithError(err).
				Warn("Backend address cannot be proxied, requests routed to it will fail")
		}
	}

	return h
}

func newTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}
}

// ServeHTTP handles incoming HTTP requests
func (h *LoadBalancerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestCtx, ok := domain.RequestContextFrom(r.Context())
	if !ok {
		requestCtx = domain.NewRequestContext(r)
		r = r.WithContext(domain.WithRequestContext(r.Context(), requestCtx))
	}

	log := h.logger.RequestLogger(
		requestCtx.RequestID,
		r.Method,
		r.URL.Path,
		requestCtx.ClientIP,
	)

	backend, err := h.loadBalancer.GetBackend()
	if err != nil {
		log.WithAction(logger.ActionUnavailable).WithError(err).Warn("No backend available for request")
		http.Error(w, noBackendsMessage, lberrors.GetHTTPStatusCode(err))
		return
	}

	requestCtx.BackendID = backend.ID
	log = log.BackendLogger(backend.ID, backend.Address)
	backend.IncrementRequests()

	proxy, err := h.proxyFor(backend)
	if err != nil {
		h.fail(w, backend, log, err)
		return
	}

	state := &forwardState{
		backend: backend,
		client:  requestCtx.ClientIP,
		start:   time.Now(),
		log:     log,
	}
	ctx := context.WithValue(r.Context(), forwardStateKey{}, state)

	proxy.ServeHTTP(w, r.WithContext(ctx))
}

// proxyFor returns the cached reverse proxy for backend, building it on first use
func (h *LoadBalancerHandler) proxyFor(backend *domain.Backend) (*httputil.ReverseProxy, error) {
	h.mu.RLock()
	proxy, ok := h.proxies[backend.Address]
	h.mu.RUnlock()
	if ok {
		return proxy, nil
	}

	target, err := url.Parse(backend.Address)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("backend address must be an absolute URL")
	}

	proxy = httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = h.transport

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
	}
	proxy.ModifyResponse = h.modifyResponse
	proxy.ErrorHandler = h.handleError
	// body copy failures after headers were relayed
	proxy.ErrorLog = h.logger.BackendLogger(backend.ID, backend.Address).
		WithAction(logger.ActionError).StdLogger(logrus.ErrorLevel)

	h.mu.Lock()
	if existing, ok := h.proxies[backend.Address]; ok {
		proxy = existing
	} else {
		h.proxies[backend.Address] = proxy
	}
	h.mu.Unlock()

	return proxy, nil
}

// modifyResponse leaves the backend response untouched and only reports it
func (h *LoadBalancerHandler) modifyResponse(resp *http.Response) error {
	state, ok := resp.Request.Context().Value(forwardStateKey{}).(*forwardState)
	if !ok {
		return nil
	}

	duration := time.Since(state.start)
	h.metrics.RecordForward(state.backend.ID, resp.StatusCode, duration)

	state.log.WithAction(logger.ActionForwarded).WithFields(map[string]interface{}{
		"status_code": resp.StatusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("Request forwarded")

	return nil
}

// handleError answers transport failures with 500
func (h *LoadBalancerHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	state, ok := r.Context().Value(forwardStateKey{}).(*forwardState)
	if !ok {
		h.logger.WithAction(logger.ActionError).WithError(err).Error("Backend request failed")
		http.Error(w, backendFailureMessage, http.StatusInternalServerError)
		return
	}

	// the caller went away; the backend is not at fault and nobody reads a reply
	if r.Context().Err() != nil {
		state.log.WithError(err).WithField("duration_ms", time.Since(state.start).Milliseconds()).
			Debug("Client canceled request before backend responded")
		return
	}

	if isTimeout(err) {
		err = lberrors.NewBackendTimeoutError(state.backend.Address, err)
	} else {
		err = lberrors.NewBackendUnavailableError(state.backend.Address, err)
	}

	h.fail(w, state.backend, state.log.WithField("duration_ms", time.Since(state.start).Milliseconds()), err)
}

func (h *LoadBalancerHandler) fail(w http.ResponseWriter, backend *domain.Backend, log *logger.Logger, err error) {
	backend.IncrementFailures()
	h.metrics.RecordForwardError(backend.ID)

	log.WithAction(logger.ActionError).WithError(err).Error("Failed to forward request to backend")
	http.Error(w, backendFailureMessage, http.StatusInternalServerError)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
