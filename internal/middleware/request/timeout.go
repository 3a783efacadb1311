package request

import (
	"context"
	"net/http"
	"time"
)

// WithTimeout bounds the request context. The handler sees the cancellation
// through r.Context(); blocking work such as body reads and store calls
// must honour it.
func WithTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
