package middleware

import (
	"net/http"
	"time"

	"github.com/mir00r/proxy-balancer/internal/domain"
	"github.com/mir00r/proxy-balancer/pkg/logger"
)

// Chain applies middlewares so that the first one listed is outermost
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestContextMiddleware attaches a RequestContext to every request and
// echoes its ID to the client and the backend as X-Request-ID
func RequestContextMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCtx := domain.NewRequestContext(r)

			r.Header.Set("X-Request-ID", requestCtx.RequestID)
			w.Header().Set("X-Request-ID", requestCtx.RequestID)

			next.ServeHTTP(w, r.WithContext(domain.WithRequestContext(r.Context(), requestCtx)))
		})
	}
}

// LoggingMiddleware writes one access line per request at debug level. The
// dispatcher already logs each outcome with its action tag.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestCtx, ok := domain.RequestContextFrom(r.Context())
			if !ok {
				requestCtx = domain.NewRequestContext(r)
				r = r.WithContext(domain.WithRequestContext(r.Context(), requestCtx))
			}

			// Create response writer wrapper to capture status code
			wrappedWriter := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrappedWriter, r)

			requestLogger := log.RequestLogger(
				requestCtx.RequestID,
				requestCtx.Method,
				requestCtx.Path,
				requestCtx.ClientIP,
			)
			if requestCtx.BackendID != "" {
				requestLogger = requestLogger.WithField("backend_id", requestCtx.BackendID)
			}

			requestLogger.WithFields(map[string]interface{}{
				"status_code":   wrappedWriter.statusCode,
				"duration_ms":   time.Since(start).Milliseconds(),
				"response_size": wrappedWriter.size,
			}).Debug("Request completed")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture response details
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

// Flush lets streamed backend responses through the wrapper
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RecoveryMiddleware provides panic recovery with logging
func RecoveryMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					// ReverseProxy aborts a broken response this way
					if err == http.ErrAbortHandler {
						panic(err)
					}

					var requestID string
					if requestCtx, ok := domain.RequestContextFrom(r.Context()); ok {
						requestID = requestCtx.RequestID
					}

					log.WithFields(map[string]interface{}{
						"request_id": requestID,
						"path":       r.URL.Path,
						"method":     r.Method,
						"panic":      err,
					}).WithAction(logger.ActionError).Error("Panic recovered in request handler")

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
