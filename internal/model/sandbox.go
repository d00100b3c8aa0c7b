// Package model defines the persisted entities of the control plane.
package model

import "time"

// SandboxState is the lifecycle discriminant of a SandboxRecord.
type SandboxState string

const (
	StateRunning SandboxState = "running"
	StateStopped SandboxState = "stopped"
)

// InstanceRecordKey is the store key singleton-mode deployments use.
const InstanceRecordKey = "instance"

// TEERequirement captures whether a sandbox must be backed by a TEE, and if
// so which backend.
type TEERequirement struct {
	Required bool   `json:"required"`
	Backend  string `json:"backend,omitempty"`
}

// SandboxRecord is the central entity of the control plane; see spec §3.
type SandboxRecord struct {
	ID               string       `json:"id"`
	ContainerID      string       `json:"container_id,omitempty"`
	SidecarURL       string       `json:"sidecar_url,omitempty"`
	SidecarPort      int          `json:"sidecar_port,omitempty"`
	SSHPort          int          `json:"ssh_port,omitempty"`
	Token            string       `json:"token"`
	CreatedAt        time.Time    `json:"created_at"`
	LastActivityAt   time.Time    `json:"last_activity_at"`
	StoppedAt        *time.Time   `json:"stopped_at,omitempty"`
	ContainerRemovedAt *time.Time `json:"container_removed_at,omitempty"`
	ImageRemovedAt   *time.Time   `json:"image_removed_at,omitempty"`

	CPUCores float64 `json:"cpu_cores,omitempty"`
	MemoryMB int64   `json:"memory_mb,omitempty"`
	DiskGB   int64   `json:"disk_gb,omitempty"`

	IdleTimeoutSeconds int64 `json:"idle_timeout_seconds,omitempty"`
	MaxLifetimeSeconds int64 `json:"max_lifetime_seconds,omitempty"`

	State SandboxState `json:"state"`

	SnapshotImageID     string `json:"snapshot_image_id,omitempty"`
	SnapshotS3URL       string `json:"snapshot_s3_url,omitempty"`
	SnapshotDestination string `json:"snapshot_destination,omitempty"`

	OriginalImage   string `json:"original_image"`
	Name            string `json:"name,omitempty"`
	AgentIdentifier string `json:"agent_identifier,omitempty"`
	Stack           string `json:"stack,omitempty"`
	MetadataJSON    string `json:"metadata_json,omitempty"`
	BaseEnvJSON     string `json:"base_env_json,omitempty"`
	UserEnvJSON     string `json:"user_env_json,omitempty"`

	Owner string `json:"owner,omitempty"`

	TEEConfig       *TEERequirement `json:"tee_config,omitempty"`
	TEEDeploymentID string          `json:"tee_deployment_id,omitempty"`
	TEEMetadataJSON string          `json:"tee_metadata_json,omitempty"`
}

// IsTEERequired reports whether this record must be deployed through a TEE
// backend rather than the local Docker runtime.
func (s *SandboxRecord) IsTEERequired() bool {
	return s.TEEConfig != nil && s.TEEConfig.Required
}

// LastActivity returns the later of CreatedAt and LastActivityAt, the
// reference point the reaper uses for idle-timeout evaluation.
func (s *SandboxRecord) LastActivity() time.Time {
	if s.LastActivityAt.After(s.CreatedAt) {
		return s.LastActivityAt
	}
	return s.CreatedAt
}

// OwnerMatches implements the case-insensitive, empty-owner-matches-any
// comparison required by property P7.
func (s *SandboxRecord) OwnerMatches(caller string) bool {
	return OwnerMatches(s.Owner, caller)
}
