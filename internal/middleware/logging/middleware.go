package logging

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mcncl/worker-echo/internal/logging"
	"github.com/mcncl/worker-echo/internal/middleware/request"
)

// WithStructuredLogging logs the start and completion of every request and
// puts a logger tagged with the request ID into the request context.
func WithStructuredLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lrw := logging.NewLogResponseWriter(w)

			requestID := request.IDFromContext(r.Context())
			if requestID == "" {
				requestID = r.Header.Get(request.RequestIDHeader)
			}
			if requestID == "" {
				requestID = "unknown"
			}

			reqLogger := logger.With("request_id", requestID)

			reqLogger.Info("Request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			ctx := logging.WithContext(r.Context(), reqLogger)
			next.ServeHTTP(lrw, r.WithContext(ctx))

			reqLogger.Info("Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", lrw.StatusCode(),
				"duration_ms", time.Since(start).Milliseconds(),
				"size", lrw.Size(),
			)
		})
	}
}
