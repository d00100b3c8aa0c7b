package util

import (
	"net/http"
	"sync"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/config"
)

var (
	sharedClientOnce sync.Once
	sharedClient     *http.Client
)

// SharedHTTPClient returns the process-wide HTTP client used for sidecar
// and TEE control-service calls, built once from REQUEST_TIMEOUT_SECS.
// Subsequent calls are infallible reads of the already-built client, per
// the "first successful init wins" singleton pattern used throughout the
// control plane.
func SharedHTTPClient() *http.Client {
	sharedClientOnce.Do(func() {
		timeout := time.Duration(config.GetEnvInt("REQUEST_TIMEOUT_SECS", 30)) * time.Second
		sharedClient = &http.Client{Timeout: timeout}
	})
	return sharedClient
}
