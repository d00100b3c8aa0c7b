package dockerruntime

import "github.com/tangle-network/sandbox-controlplane/internal/model"

// CreateSandboxParams is the caller-supplied description of a sandbox to
// provision, independent of whether it lands on the Docker or TEE path.
type CreateSandboxParams struct {
	ID                 string
	Image              string
	Name               string
	AgentIdentifier    string
	Stack              string
	MetadataJSON       string
	BaseEnvJSON        string
	UserEnvJSON        string
	Owner              string
	TokenOverride      string
	CPUCores           float64
	MemoryMB           int64
	DiskGB             int64
	IdleTimeoutSeconds int64
	MaxLifetimeSeconds int64
	NeedsSSHPort       bool
	TEEConfig          *model.TEERequirement
}
