package api

import (
	"context"

	"github.com/tangle-network/sandbox-controlplane/internal/sidecarclient"
)

// forwardToSidecar POSTs body to path on the sandbox's sidecar, carrying
// its bearer token, and decodes the JSON response into out.
func forwardToSidecar(ctx context.Context, sidecarURL, token, path string, body, out interface{}) error {
	return sidecarclient.Post(ctx, sidecarURL, token, path, body, out)
}

// forwardDeleteToSidecar issues a DELETE instead of a POST, used by the
// SSH-key revocation endpoint.
func forwardDeleteToSidecar(ctx context.Context, sidecarURL, token, path string, body, out interface{}) error {
	return sidecarclient.Delete(ctx, sidecarURL, token, path, body, out)
}
