package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
	"github.com/tangle-network/sandbox-controlplane/internal/sessionauth"
)

// securityHeadersMiddleware sets a conservative set of response headers
// on every route, since the control plane never serves browser content
// that needs a looser policy.
func securityHeadersMiddleware() func(http.Handler) http.Handler {
	headers := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Content-Security-Policy":   "default-src 'none'",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Cache-Control":             "no-store",
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for key, value := range headers {
				w.Header().Set(key, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware bounds handler execution so a wedged sidecar call
// can't hold a connection open indefinitely.
func timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			tw := &timeoutResponseWriter{ResponseWriter: w}
			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				tw.mu.Lock()
				wrote := tw.wroteHeader
				tw.mu.Unlock()
				if !wrote {
					jsonError(w, "request timed out", http.StatusGatewayTimeout)
				}
			}
		})
	}
}

const maxRequestBodyBytes int64 = 8 << 20

// bodyLimitMiddleware caps request bodies to reduce memory/CPU exhaustion
// from an oversized exec/prompt/batch payload.
func bodyLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxRequestBodyBytes {
				jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type timeoutResponseWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
}

func (tw *timeoutResponseWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.ResponseWriter.WriteHeader(code)
	}
}

func (tw *timeoutResponseWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	if !tw.wroteHeader {
		tw.wroteHeader = true
	}
	tw.mu.Unlock()
	return tw.ResponseWriter.Write(b)
}

type callerKey struct{}

// recoveryMiddleware turns a panicking handler into a 500 instead of
// taking the whole process down.
func recoveryMiddleware(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(map[string]interface{}{"panic": rec, "path": r.URL.Path}).Error("handler panicked")
					jsonError(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(map[string]interface{}{"method": r.Method, "path": r.URL.Path}).Debug("request received")
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware implements the three CORS_ALLOWED_ORIGINS modes: "none"
// disables cross-origin access, empty or "*" allows any origin, and a
// comma-separated list allows exactly those origins with credentials.
func corsMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	mode := strings.TrimSpace(cfg.Raw)
	var allowed map[string]bool
	if mode != "" && mode != "*" && mode != "none" {
		allowed = map[string]bool{}
		for _, origin := range strings.Split(mode, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowed[origin] = true
			}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case mode == "none":
				if origin == "http://localhost" || strings.HasPrefix(origin, "http://localhost:") {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
			case mode == "" || mode == "*":
				w.Header().Set("Access-Control-Allow-Origin", "*")
			default:
				if allowed[origin] {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Vary", "Origin")
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sessionAuthMiddleware extracts and validates the Bearer PASETO session,
// stashing the caller's address in the request context.
func sessionAuthMiddleware(auth *sessionauth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := auth.Principal(r)
			if err != nil {
				writeErr(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), callerKey{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func callerFromContext(r *http.Request) string {
	caller, _ := r.Context().Value(callerKey{}).(string)
	return caller
}
