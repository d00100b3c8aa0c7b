package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

type stubLookup struct {
	sidecarURL string
	token      string
}

func (s stubLookup) Get(id string) (string, string, bool) {
	if s.sidecarURL == "" {
		return "", "", false
	}
	return s.sidecarURL, s.token, true
}

func newService(t *testing.T, lookup SandboxLookup) *Service {
	t.Helper()
	st, err := store.Open[model.WorkflowEntry]("")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	return New(st, lookup)
}

func TestCreateCronEntryComputesNextRunAt(t *testing.T) {
	s := newService(t, stubLookup{})
	entry, err := s.Create(model.WorkflowEntry{ID: "wf-1", Trigger: model.TriggerCron, CronExpr: "*/5 * * * *", SandboxID: "sbx-1", Active: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if entry.NextRunAt == nil {
		t.Fatal("expected next_run_at to be computed")
	}
}

func TestCreateCronEntryRejectsInvalidExpr(t *testing.T) {
	s := newService(t, stubLookup{})
	if _, err := s.Create(model.WorkflowEntry{ID: "wf-1", Trigger: model.TriggerCron, CronExpr: "not-a-cron", SandboxID: "sbx-1"}); err == nil {
		t.Fatal("expected an error for a malformed cron expression")
	}
}

func TestCreateWebhookEntryGeneratesToken(t *testing.T) {
	s := newService(t, stubLookup{})
	entry, err := s.Create(model.WorkflowEntry{ID: "wf-2", Trigger: model.TriggerWebhook, SandboxID: "sbx-1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if entry.WebhookToken == "" {
		t.Fatal("expected a generated webhook token")
	}
}

func TestInvokeWebhookRejectsWrongToken(t *testing.T) {
	s := newService(t, stubLookup{sidecarURL: "http://sidecar", token: "tok"})
	entry, err := s.Create(model.WorkflowEntry{ID: "wf-3", Trigger: model.TriggerWebhook, SandboxID: "sbx-1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.InvokeWebhook(context.Background(), entry.ID, "wrong-token"); err == nil {
		t.Fatal("expected invalid token to be rejected")
	}
}

func TestFireDueSkipsEntriesNotYetDue(t *testing.T) {
	s := newService(t, stubLookup{})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	future := now.Add(time.Hour)
	entry := model.WorkflowEntry{ID: "wf-4", Trigger: model.TriggerCron, CronExpr: "0 0 * * *", SandboxID: "sbx-1", Active: true, NextRunAt: &future}
	if err := s.store.Insert(entry.ID, entry); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if errs := s.FireDue(context.Background(), now); len(errs) != 0 {
		t.Fatalf("FireDue() errs = %v, want none", errs)
	}
}

func TestFireDueAdvancesNextRunAt(t *testing.T) {
	s := newService(t, stubLookup{sidecarURL: "http://sidecar", token: "tok"})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	past := now.Add(-time.Minute)
	entry := model.WorkflowEntry{ID: "wf-5", Trigger: model.TriggerCron, CronExpr: "0 0 * * *", SandboxID: "sbx-1", Active: true, NextRunAt: &past}
	if err := s.store.Insert(entry.ID, entry); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	_ = s.FireDue(context.Background(), now)

	updated, ok := s.store.Get("wf-5")
	if !ok {
		t.Fatal("expected entry to still exist")
	}
	if !updated.NextRunAt.After(now) {
		t.Fatalf("NextRunAt = %v, want a time after %v", updated.NextRunAt, now)
	}
}
