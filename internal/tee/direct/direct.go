// Package direct implements the TEE backend for operator-owned hardware
// that already exposes a sidecar and attestation endpoint on a fixed,
// pre-provisioned address. There is no cloud API to call: Deploy only
// verifies that the pre-existing sidecar answers health checks.
package direct

import (
	"context"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
)

// Backend targets a single fixed sidecar address supplied out of band by
// the operator, typically a bare-metal SGX or SEV host.
type Backend struct {
	SidecarURL string
}

func New(sidecarURL string) *Backend {
	return &Backend{SidecarURL: sidecarURL}
}

func (b *Backend) Deploy(ctx context.Context, params tee.DeployParams) (tee.Deployment, error) {
	if b.SidecarURL == "" {
		return tee.Deployment{}, apierr.New(apierr.KindCloudProvider, "direct backend requires a pre-provisioned sidecar URL")
	}
	if err := tee.PollHealth(ctx, b.SidecarURL, 30*time.Second); err != nil {
		return tee.Deployment{}, err
	}
	attestation, err := b.Attestation(ctx, params.SandboxID)
	if err != nil {
		return tee.Deployment{}, err
	}
	return tee.Deployment{
		DeploymentID: params.SandboxID,
		SidecarURL:   b.SidecarURL,
		Attestation:  attestation,
	}, nil
}

func (b *Backend) Attestation(ctx context.Context, deploymentID string) (tee.AttestationReport, error) {
	evidence, err := tee.FetchAttestation(ctx, b.SidecarURL, "")
	if err != nil {
		return tee.AttestationReport{}, err
	}
	return tee.AttestationReport{TEEType: tee.KindSGX, Evidence: evidence, Timestamp: time.Now()}, nil
}

// Stop is a no-op: the operator owns the hardware's lifecycle.
func (b *Backend) Stop(ctx context.Context, deploymentID string) error { return nil }

// Destroy is a no-op for the same reason Stop is.
func (b *Backend) Destroy(ctx context.Context, deploymentID string) error { return nil }

func (b *Backend) TEEType() tee.Kind { return tee.KindSGX }

func (b *Backend) DerivePublicKey(ctx context.Context, deploymentID string) (tee.PublicKey, error) {
	attestation, err := b.Attestation(ctx, deploymentID)
	if err != nil {
		return tee.PublicKey{}, err
	}
	raw, err := tee.FetchAttestation(ctx, b.SidecarURL+"/public-key", "")
	if err != nil {
		return tee.PublicKey{}, err
	}
	return tee.PublicKey{Algorithm: "secp256k1", PublicKey: raw, Attestation: attestation}, nil
}

func (b *Backend) InjectSealedSecrets(ctx context.Context, deploymentID string, sealed tee.SealedSecret) (tee.InjectResult, error) {
	return tee.ForwardSealedSecrets(ctx, b.SidecarURL, "", sealed)
}
