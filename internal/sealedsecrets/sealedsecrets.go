// Package sealedsecrets exposes the enclave public-key and secret-injection
// boundary (component H): the control plane forwards opaque,
// client-encrypted blobs to whichever tee.Backend is attached to a
// sandbox and never sees their plaintext.
package sealedsecrets

import (
	"context"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
)

// Provider looks up the tee.Backend and deployment id backing a sandbox,
// so Service stays backend-agnostic.
type Provider interface {
	BackendFor(sandboxID string) (tee.Backend, string, error)
}

type Service struct {
	backends Provider
}

func New(backends Provider) *Service {
	return &Service{backends: backends}
}

// PublicKey returns the enclave's ephemeral public key and the
// attestation binding it to the running sidecar image.
func (s *Service) PublicKey(ctx context.Context, sandboxID string) (tee.PublicKey, error) {
	backend, deploymentID, err := s.backends.BackendFor(sandboxID)
	if err != nil {
		return tee.PublicKey{}, err
	}
	return backend.DerivePublicKey(ctx, deploymentID)
}

// Inject forwards a client-sealed secret to the sandbox's enclave
// unmodified. The control plane never decrypts ciphertext.
func (s *Service) Inject(ctx context.Context, sandboxID string, sealed tee.SealedSecret) (tee.InjectResult, error) {
	if len(sealed.Ciphertext) == 0 {
		return tee.InjectResult{}, apierr.Validation("sealed secret ciphertext must not be empty")
	}
	backend, deploymentID, err := s.backends.BackendFor(sandboxID)
	if err != nil {
		return tee.InjectResult{}, err
	}
	return backend.InjectSealedSecrets(ctx, deploymentID, sealed)
}
