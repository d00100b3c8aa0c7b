package model

import "time"

// ProvisionPhase is the discriminant of a ProvisionStatus.
type ProvisionPhase string

const (
	PhaseQueued          ProvisionPhase = "queued"
	PhaseImagePull       ProvisionPhase = "image_pull"
	PhaseContainerCreate ProvisionPhase = "container_create"
	PhaseContainerStart  ProvisionPhase = "container_start"
	PhaseHealthCheck     ProvisionPhase = "health_check"
	PhaseReady           ProvisionPhase = "ready"
	PhaseFailed          ProvisionPhase = "failed"
)

// progressTable is the pure function (phase -> percent) required by
// property P3.
var progressTable = map[ProvisionPhase]int{
	PhaseQueued:          0,
	PhaseImagePull:       20,
	PhaseContainerCreate: 40,
	PhaseContainerStart:  60,
	PhaseHealthCheck:     80,
	PhaseReady:           100,
	PhaseFailed:          0,
}

// ProgressPercent returns the fixed percentage for a phase.
func ProgressPercent(phase ProvisionPhase) int {
	return progressTable[phase]
}

// IsTerminal reports whether a phase ends the provisioning run.
func (p ProvisionPhase) IsTerminal() bool {
	return p == PhaseReady || p == PhaseFailed
}

// ProvisionStatus tracks a single in-flight or recently terminated
// provisioning request, keyed by CallID.
type ProvisionStatus struct {
	CallID      string         `json:"call_id"`
	Phase       ProvisionPhase `json:"phase"`
	ProgressPct int            `json:"progress_pct"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	SandboxID   string         `json:"sandbox_id,omitempty"`
	SidecarURL  string         `json:"sidecar_url,omitempty"`
	Message     string         `json:"message,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
