package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/dockerruntime"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
	"github.com/tangle-network/sandbox-controlplane/internal/metrics"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.Open[model.SandboxRecord](filepath.Join(t.TempDir(), "sandboxes.json"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	cfg := config.DockerConfig{
		HotRetention:  time.Hour,
		WarmRetention: time.Hour,
		ColdRetention: time.Hour,
	}
	return New(cfg, st, &dockerruntime.Runtime{}, metrics.New(), logging.New("lifecycle-test", "error", "json"))
}

func TestReaperTickSkipsRecordsWithoutTimeouts(t *testing.T) {
	e := newEngine(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	rec := model.SandboxRecord{ID: "sbx-1", State: model.StateRunning, CreatedAt: now.Add(-48 * time.Hour)}
	if err := e.store.Insert(rec.ID, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := e.ReaperTick(context.Background()); err != nil {
		t.Fatalf("ReaperTick() error = %v", err)
	}
	got, ok := e.store.Get("sbx-1")
	if !ok || got.State != model.StateRunning {
		t.Fatalf("record should be untouched without configured timeouts, got %+v ok=%v", got, ok)
	}
}

func TestReaperTickHardDeletesPastMaxLifetime(t *testing.T) {
	e := newEngine(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	rec := model.SandboxRecord{
		ID:                 "sbx-expired",
		State:              model.StateRunning,
		CreatedAt:          now.Add(-2 * time.Hour),
		MaxLifetimeSeconds: 3600,
	}
	if err := e.store.Insert(rec.ID, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := e.ReaperTick(context.Background()); err != nil {
		t.Fatalf("ReaperTick() error = %v", err)
	}
	if _, ok := e.store.Get("sbx-expired"); ok {
		t.Fatal("expected record past max lifetime to be removed")
	}
}

func TestGCTickRemovesEmptyShellRecords(t *testing.T) {
	e := newEngine(t)
	rec := model.SandboxRecord{ID: "sbx-shell", State: model.StateStopped}
	if err := e.store.Insert(rec.ID, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := e.GCTick(context.Background()); err != nil {
		t.Fatalf("GCTick() error = %v", err)
	}
	if _, ok := e.store.Get("sbx-shell"); ok {
		t.Fatal("expected empty-shell stopped record to be garbage collected")
	}
}

func TestResolveSnapshotDestinationPrefersRecordOverride(t *testing.T) {
	e := newEngine(t)
	e.cfg.SnapshotDestPrefix = "s3://operator-bucket"
	rec := model.SandboxRecord{ID: "sbx-1", SnapshotDestination: "s3://custom/path.tar.gz"}

	if got := e.resolveSnapshotDestination(rec); got != "s3://custom/path.tar.gz" {
		t.Fatalf("resolveSnapshotDestination() = %q, want record override", got)
	}

	rec.SnapshotDestination = ""
	if got := e.resolveSnapshotDestination(rec); got != "s3://operator-bucket/sbx-1/snapshot.tar.gz" {
		t.Fatalf("resolveSnapshotDestination() = %q, want operator-prefixed default", got)
	}
}
