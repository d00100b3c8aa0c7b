// Package sidecarclient issues bearer-authenticated JSON requests against
// a sandbox's sidecar HTTP service, shared by the operator API, the batch
// fan-out service, and the workflow scheduler.
package sidecarclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/util"
)

// Post sends body as JSON to path on sidecarURL, carrying token as a
// bearer credential, and decodes the response into out.
func Post(ctx context.Context, sidecarURL, token, path string, body, out interface{}) error {
	return do(ctx, http.MethodPost, sidecarURL, token, path, body, out)
}

// Delete is Post's DELETE-method counterpart, used by SSH-key revocation.
func Delete(ctx context.Context, sidecarURL, token, path string, body, out interface{}) error {
	return do(ctx, http.MethodDelete, sidecarURL, token, path, body, out)
}

func do(ctx context.Context, method, sidecarURL, token, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apierr.Wrap(apierr.KindValidation, "failed to marshal sidecar request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, sidecarURL+path, bytes.NewReader(payload))
	if err != nil {
		return apierr.Wrap(apierr.KindSidecar, "failed to build sidecar request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := util.SharedHTTPClient().Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindSidecar, "sidecar request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierr.Wrap(apierr.KindSidecar, "failed to read sidecar response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierr.Sidecar(resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apierr.Wrap(apierr.KindSidecar, "failed to decode sidecar response", err)
	}
	return nil
}
