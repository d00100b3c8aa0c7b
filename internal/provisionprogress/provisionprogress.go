// Package provisionprogress tracks per-call provisioning progress, backed
// by the persistent store (component F).
package provisionprogress

import (
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

// Tracker persists ProvisionStatus rows keyed by call id.
type Tracker struct {
	store *store.Store[model.ProvisionStatus]
	now   func() time.Time
}

func New(s *store.Store[model.ProvisionStatus]) *Tracker {
	return &Tracker{store: s, now: time.Now}
}

// Start writes a fresh Queued status for callID.
func (t *Tracker) Start(callID string) (model.ProvisionStatus, error) {
	now := t.now()
	status := model.ProvisionStatus{
		CallID:      callID,
		Phase:       model.PhaseQueued,
		ProgressPct: model.ProgressPercent(model.PhaseQueued),
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.Insert(callID, status); err != nil {
		return model.ProvisionStatus{}, err
	}
	return status, nil
}

// Update advances callID's phase. Optional fields are only overwritten
// when non-empty so a later update without a sandboxID, say, never clears
// one recorded by an earlier update.
func (t *Tracker) Update(callID string, phase model.ProvisionPhase, message, sandboxID, sidecarURL string) (model.ProvisionStatus, error) {
	return t.store.Update(callID, func(current model.ProvisionStatus, ok bool) (model.ProvisionStatus, error) {
		if !ok {
			return model.ProvisionStatus{}, apierr.NotFound("provision_status", callID)
		}
		current.Phase = phase
		current.ProgressPct = model.ProgressPercent(phase)
		current.UpdatedAt = t.now()
		if message != "" {
			current.Message = message
		}
		if sandboxID != "" {
			current.SandboxID = sandboxID
		}
		if sidecarURL != "" {
			current.SidecarURL = sidecarURL
		}
		return current, nil
	})
}

func (t *Tracker) Get(callID string) (model.ProvisionStatus, bool) {
	return t.store.Get(callID)
}

func (t *Tracker) List() []model.ProvisionStatus {
	return t.store.Values()
}

// GC removes terminal entries whose UpdatedAt predates now - maxAge.
func (t *Tracker) GC(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)
	removed := 0
	for _, status := range t.store.Values() {
		if status.Phase.IsTerminal() && status.UpdatedAt.Before(cutoff) {
			if err := t.store.Remove(status.CallID); err == nil {
				removed++
			}
		}
	}
	return removed
}
