package provisionprogress

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	s, err := store.Open[model.ProvisionStatus](filepath.Join(t.TempDir(), "provisions.json"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	return New(s)
}

func TestStartWritesQueued(t *testing.T) {
	tr := newTracker(t)
	status, err := tr.Start("call-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if status.Phase != model.PhaseQueued || status.ProgressPct != 0 {
		t.Fatalf("Start() = %+v, want Queued/0", status)
	}
}

func TestUpdatePreservesUnsetOptionalFields(t *testing.T) {
	tr := newTracker(t)
	_, _ = tr.Start("call-1")

	_, err := tr.Update("call-1", model.PhaseImagePull, "", "sandbox-1", "")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	status, err := tr.Update("call-1", model.PhaseContainerCreate, "starting", "", "")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if status.SandboxID != "sandbox-1" {
		t.Fatalf("SandboxID = %s, want sandbox-1 preserved", status.SandboxID)
	}
	if status.Message != "starting" {
		t.Fatalf("Message = %s, want starting", status.Message)
	}
	if status.ProgressPct != model.ProgressPercent(model.PhaseContainerCreate) {
		t.Fatalf("ProgressPct = %d, want %d", status.ProgressPct, model.ProgressPercent(model.PhaseContainerCreate))
	}
}

func TestUpdateUnknownCallIDFails(t *testing.T) {
	tr := newTracker(t)
	if _, err := tr.Update("missing", model.PhaseReady, "", "", ""); err == nil {
		t.Fatal("Update() expected error for unknown call id")
	}
}

func TestGCRemovesOldTerminalEntriesOnly(t *testing.T) {
	tr := newTracker(t)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }
	_, _ = tr.Start("old-terminal")
	_, _ = tr.Update("old-terminal", model.PhaseReady, "", "", "")

	_, _ = tr.Start("old-running")
	_, _ = tr.Update("old-running", model.PhaseHealthCheck, "", "", "")

	tr.now = func() time.Time { return fixed.Add(2 * time.Hour) }
	removed := tr.GC(time.Hour)
	if removed != 1 {
		t.Fatalf("GC() removed = %d, want 1", removed)
	}
	if _, ok := tr.Get("old-running"); !ok {
		t.Fatal("GC() should not remove non-terminal entries")
	}
}
