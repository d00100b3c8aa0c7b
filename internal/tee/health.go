package tee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/util"
)

// PollHealth polls GET {sidecarURL}/health until it returns 2xx or the
// deadline elapses. Shared by every non-Direct backend after deploy.
func PollHealth(ctx context.Context, sidecarURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := util.SharedHTTPClient()

	for {
		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, sidecarURL+"/health", nil)
		if err == nil {
			resp, doErr := client.Do(req)
			if doErr == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					cancel()
					return nil
				}
			}
		}
		cancel()

		if time.Now().After(deadline) {
			return apierr.New(apierr.KindCloudProvider, fmt.Sprintf("sidecar at %s did not become healthy in time", sidecarURL))
		}
		select {
		case <-ctx.Done():
			return apierr.Wrap(apierr.KindCloudProvider, "context cancelled while waiting for sidecar health", ctx.Err())
		case <-time.After(time.Second):
		}
	}
}

// FetchAttestation requests GET {sidecarURL}/attestation using the
// sidecar's bearer token, shared by every non-Direct backend.
func FetchAttestation(ctx context.Context, sidecarURL, bearerToken string) ([]byte, error) {
	client := util.SharedHTTPClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sidecarURL+"/attestation", nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCloudProvider, "failed to build attestation request", err)
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCloudProvider, "attestation request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.New(apierr.KindCloudProvider, fmt.Sprintf("attestation endpoint returned status %d", resp.StatusCode))
	}
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if readErr != nil {
			break
		}
	}
	return buf, nil
}

// ForwardSealedSecrets POSTs sealed to {sidecarURL}/sealed-secrets and
// returns the sidecar's own injection result. Shared by every backend that
// reaches its sidecar over a directly routable URL (nitro, gcp, azure);
// Phala proxies this call through its control service instead.
func ForwardSealedSecrets(ctx context.Context, sidecarURL, bearerToken string, sealed SealedSecret) (InjectResult, error) {
	body, err := json.Marshal(sealed)
	if err != nil {
		return InjectResult{}, apierr.Wrap(apierr.KindCloudProvider, "failed to marshal sealed secret", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sidecarURL+"/sealed-secrets", bytes.NewReader(body))
	if err != nil {
		return InjectResult{}, apierr.Wrap(apierr.KindCloudProvider, "failed to build sealed-secrets request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	client := util.SharedHTTPClient()
	resp, err := client.Do(req)
	if err != nil {
		return InjectResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return InjectResult{Success: false, Error: fmt.Sprintf("sidecar sealed-secrets endpoint returned status %d", resp.StatusCode)}, nil
	}
	var decoded InjectResult
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	decoded.Success = true
	return decoded, nil
}
