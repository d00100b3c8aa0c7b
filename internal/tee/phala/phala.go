// Package phala implements the TEE backend that wraps the sidecar image in
// a synthetic docker-compose deployment submitted to a Phala control
// service.
package phala

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
	"github.com/tangle-network/sandbox-controlplane/internal/util"
)

// Backend talks to a Phala cloud control service over HTTP.
type Backend struct {
	cfg    config.PhalaConfig
	client *http.Client
}

func New(cfg config.PhalaConfig) *Backend {
	return &Backend{cfg: cfg, client: util.SharedHTTPClient()}
}

// composeYAML builds the synthetic docker-compose declaration the control
// service deploys verbatim.
func composeYAML(params tee.DeployParams) string {
	var b strings.Builder
	b.WriteString("version: \"3.8\"\nservices:\n  sidecar:\n")
	fmt.Fprintf(&b, "    image: %s\n", params.Image)
	b.WriteString("    ports:\n      - \"8080:8080\"\n")
	if params.NeedsSSHPort {
		b.WriteString("      - \"22:22\"\n")
	}
	b.WriteString("    environment:\n")
	var env map[string]any
	if params.EnvJSON != "" {
		_ = json.Unmarshal([]byte(params.EnvJSON), &env)
	}
	for k, v := range env {
		fmt.Fprintf(&b, "      %s: %q\n", k, fmt.Sprint(v))
	}
	b.WriteString("    volumes:\n      - /var/run/tappd.sock:/var/run/tappd.sock\n")
	return b.String()
}

type deployRequest struct {
	Compose string `json:"compose"`
}

type deployResponse struct {
	DeploymentID string `json:"deployment_id"`
	PublicURL    string `json:"public_url"`
	InternalIP   string `json:"internal_ip"`
}

func (b *Backend) Deploy(ctx context.Context, params tee.DeployParams) (tee.Deployment, error) {
	body, err := json.Marshal(deployRequest{Compose: composeYAML(params)})
	if err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "failed to marshal phala deploy request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.ControlServiceURL+"/deployments", bytes.NewReader(body))
	if err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "failed to build phala deploy request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "phala deploy request failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tee.Deployment{}, apierr.New(apierr.KindCloudProvider, fmt.Sprintf("phala deploy returned status %d: %s", resp.StatusCode, string(raw)))
	}

	var decoded deployResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "failed to decode phala deploy response", err)
	}

	sidecarURL := decoded.PublicURL
	if sidecarURL == "" && decoded.InternalIP != "" {
		sidecarURL = fmt.Sprintf("http://%s:8080", decoded.InternalIP)
	}
	if sidecarURL == "" {
		return tee.Deployment{}, apierr.New(apierr.KindCloudProvider, "phala deploy response missing public_url and internal_ip")
	}

	if err := tee.PollHealth(ctx, sidecarURL, 2*time.Minute); err != nil {
		return tee.Deployment{}, err
	}
	attestation, err := b.Attestation(ctx, decoded.DeploymentID)
	if err != nil {
		return tee.Deployment{}, err
	}

	return tee.Deployment{
		DeploymentID: decoded.DeploymentID,
		SidecarURL:   sidecarURL,
		Attestation:  attestation,
	}, nil
}

func (b *Backend) Attestation(ctx context.Context, deploymentID string) (tee.AttestationReport, error) {
	evidence, err := tee.FetchAttestation(ctx, b.cfg.ControlServiceURL+"/deployments/"+deploymentID, b.cfg.APIKey)
	if err != nil {
		return tee.AttestationReport{}, err
	}
	return tee.AttestationReport{TEEType: tee.KindTDX, Evidence: evidence, Timestamp: time.Now()}, nil
}

func (b *Backend) doAction(ctx context.Context, deploymentID, action string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/deployments/%s/%s", b.cfg.ControlServiceURL, deploymentID, action), nil)
	if err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "failed to build phala "+action+" request", err)
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "phala "+action+" request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierr.New(apierr.KindCloudProvider, fmt.Sprintf("phala %s returned status %d", action, resp.StatusCode))
	}
	return nil
}

func (b *Backend) Stop(ctx context.Context, deploymentID string) error {
	return b.doAction(ctx, deploymentID, "stop")
}

func (b *Backend) Destroy(ctx context.Context, deploymentID string) error {
	return b.doAction(ctx, deploymentID, "destroy")
}

func (b *Backend) TEEType() tee.Kind { return tee.KindTDX }

func (b *Backend) DerivePublicKey(ctx context.Context, deploymentID string) (tee.PublicKey, error) {
	attestation, err := b.Attestation(ctx, deploymentID)
	if err != nil {
		return tee.PublicKey{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/deployments/%s/public-key", b.cfg.ControlServiceURL, deploymentID), nil)
	if err != nil {
		return tee.PublicKey{}, apierr.Wrap(apierr.KindCloudProvider, "failed to build public-key request", err)
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return tee.PublicKey{}, apierr.Wrap(apierr.KindCloudProvider, "public-key request failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tee.PublicKey{}, apierr.New(apierr.KindCloudProvider, fmt.Sprintf("public-key endpoint returned status %d", resp.StatusCode))
	}
	return tee.PublicKey{Algorithm: "secp256k1", PublicKey: raw, Attestation: attestation}, nil
}

func (b *Backend) InjectSealedSecrets(ctx context.Context, deploymentID string, sealed tee.SealedSecret) (tee.InjectResult, error) {
	body, err := json.Marshal(sealed)
	if err != nil {
		return tee.InjectResult{}, apierr.Wrap(apierr.KindCloudProvider, "failed to marshal sealed secret", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/deployments/%s/sealed-secrets", b.cfg.ControlServiceURL, deploymentID), bytes.NewReader(body))
	if err != nil {
		return tee.InjectResult{}, apierr.Wrap(apierr.KindCloudProvider, "failed to build inject request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return tee.InjectResult{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tee.InjectResult{Success: false, Error: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
	var decoded tee.InjectResult
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	decoded.Success = true
	return decoded, nil
}
