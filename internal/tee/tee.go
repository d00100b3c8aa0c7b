// Package tee defines the polymorphic TEE backend boundary (component G)
// and selects among the five supported implementations.
package tee

import (
	"context"
	"time"
)

// Kind identifies the hardware isolation technology a backend provides.
type Kind string

const (
	KindNone  Kind = "none"
	KindSGX   Kind = "sgx"
	KindTDX   Kind = "tdx"
	KindNitro Kind = "nitro"
	KindSEV   Kind = "sev"
)

// DeployParams carries everything a backend needs to stand up a sandbox.
type DeployParams struct {
	SandboxID    string
	Image        string
	EnvJSON      string
	CPUCores     float64
	MemoryMB     int64
	DiskGB       int64
	NeedsSSHPort bool
	MetadataJSON string
}

// Deployment is the result of a successful Deploy call.
type Deployment struct {
	DeploymentID string
	SidecarURL   string
	SSHPort      int
	Attestation  AttestationReport
	MetadataJSON string
}

// AttestationReport is the evidence a backend can produce binding a code
// measurement to an ephemeral public key and timestamp.
type AttestationReport struct {
	TEEType     Kind
	Evidence    []byte
	Measurement []byte
	Timestamp   time.Time
}

// PublicKey is the ephemeral key a backend derives inside the enclave,
// together with the attestation binding it to the running image.
type PublicKey struct {
	Algorithm   string
	PublicKey   []byte
	Attestation AttestationReport
}

// SealedSecret is the opaque, client-encrypted blob forwarded to a backend
// for injection; the operator never decrypts it.
type SealedSecret struct {
	Algorithm  string
	Ciphertext []byte
	Nonce      []byte
}

// InjectResult reports the outcome of forwarding a SealedSecret.
type InjectResult struct {
	Success      bool
	SecretsCount int
	Error        string
}

// Backend is the trait every TEE implementation satisfies. All methods may
// block on network I/O and must return a *apierr.SandboxError of kind
// CloudProvider on failure.
type Backend interface {
	Deploy(ctx context.Context, params DeployParams) (Deployment, error)
	Attestation(ctx context.Context, deploymentID string) (AttestationReport, error)
	Stop(ctx context.Context, deploymentID string) error
	Destroy(ctx context.Context, deploymentID string) error
	TEEType() Kind
	DerivePublicKey(ctx context.Context, deploymentID string) (PublicKey, error)
	InjectSealedSecrets(ctx context.Context, deploymentID string, sealed SealedSecret) (InjectResult, error)
}
