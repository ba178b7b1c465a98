package gateway

import (
	"net/http"

	"github.com/dreamware/meshlite/internal/cluster"
	"github.com/dreamware/meshlite/internal/logging"
	"golang.org/x/time/rate"
)

// RateLimit rejects requests above rps (with the given burst) with 429.
// /health is never limited. A non-positive rps disables the limiter.
func RateLimit(rps float64, burst int) logging.Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" && !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				cluster.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
