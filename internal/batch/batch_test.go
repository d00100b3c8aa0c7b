package batch

import (
	"context"
	"testing"

	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

type stubLookup struct {
	known map[string]bool
}

func (s stubLookup) Get(id string) (string, string, bool) {
	if !s.known[id] {
		return "", "", false
	}
	return "http://sidecar", "tok", true
}

func newService(t *testing.T, known ...string) *Service {
	t.Helper()
	st, err := store.Open[model.BatchRecord]("")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	set := map[string]bool{}
	for _, k := range known {
		set[k] = true
	}
	return New(st, stubLookup{known: set})
}

func TestRunMarksUnknownSandboxAsFailedItem(t *testing.T) {
	s := newService(t)
	record, err := s.Run(context.Background(), "batch-1", []ItemRequest{{SandboxID: "ghost", Command: "echo hi"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if record.Status != model.BatchFailed {
		t.Fatalf("Status = %v, want failed", record.Status)
	}
	if len(record.Items) != 1 || record.Items[0].Error == "" {
		t.Fatalf("expected the unknown sandbox item to carry an error, got %+v", record.Items)
	}
}

func TestRunPersistsRecordUnderBatchID(t *testing.T) {
	s := newService(t)
	if _, err := s.Run(context.Background(), "batch-2", []ItemRequest{{SandboxID: "ghost", Message: "hello"}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	record, ok := s.Get("batch-2")
	if !ok {
		t.Fatal("expected batch-2 to be persisted")
	}
	if record.Items[0].ExecRequest != "hello" {
		t.Fatalf("ExecRequest = %q, want %q", record.Items[0].ExecRequest, "hello")
	}
}
