package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
)

// Middleware wraps next with this limiter, writing a 429 with a
// Retry-After header when the sliding window is exceeded.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !l.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			err := apierr.RateLimitExceeded(l.tier.MaxRequests, int(l.tier.Window.Seconds()))
			_, _ = w.Write([]byte(`{"error":"` + err.Message + `"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
