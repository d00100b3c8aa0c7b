// Package teefactory selects a concrete tee.Backend implementation based
// on configuration, keeping the tee package itself free of import cycles
// back to its own backend implementations.
package teefactory

import (
	"context"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
	"github.com/tangle-network/sandbox-controlplane/internal/tee/azure"
	"github.com/tangle-network/sandbox-controlplane/internal/tee/direct"
	"github.com/tangle-network/sandbox-controlplane/internal/tee/gcp"
	"github.com/tangle-network/sandbox-controlplane/internal/tee/nitro"
	"github.com/tangle-network/sandbox-controlplane/internal/tee/phala"
)

// New builds the backend named by cfg.Backend. An unrecognized or empty
// value is rejected with a validation error rather than silently falling
// back to a default backend.
func New(ctx context.Context, cfg config.TEEConfig, directSidecarURL string) (tee.Backend, error) {
	switch cfg.Backend {
	case config.TEEBackendPhala:
		return phala.New(cfg.Phala), nil
	case config.TEEBackendNitro:
		return nitro.New(ctx, cfg.Nitro)
	case config.TEEBackendGCP:
		return gcp.New(ctx, cfg.GCP)
	case config.TEEBackendAzure:
		return azure.New(cfg.Azure)
	case config.TEEBackendDirect:
		return direct.New(directSidecarURL), nil
	default:
		return nil, apierr.Validation("unsupported tee backend: " + string(cfg.Backend))
	}
}
