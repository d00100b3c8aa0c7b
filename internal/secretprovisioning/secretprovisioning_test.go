package secretprovisioning

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

type fakeRecreator struct {
	lastID      string
	lastEnvJSON string
	result      model.SandboxRecord
}

func (f *fakeRecreator) RecreateWithEnv(ctx context.Context, id, newUserEnvJSON string) (model.SandboxRecord, error) {
	f.lastID = id
	f.lastEnvJSON = newUserEnvJSON
	return f.result, nil
}

func newService(t *testing.T) (*Service, *store.Store[model.SandboxRecord], *fakeRecreator) {
	t.Helper()
	st, err := store.Open[model.SandboxRecord](filepath.Join(t.TempDir(), "sandboxes.json"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	recreator := &fakeRecreator{}
	return New(st, recreator), st, recreator
}

func TestInjectMergesAndRecreates(t *testing.T) {
	svc, st, recreator := newService(t)
	rec := model.SandboxRecord{ID: "sbx-1", Owner: "0xABC", UserEnvJSON: `{"FOO":"old","KEEP":"1"}`}
	if err := st.Insert(rec.ID, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if _, err := svc.Inject(context.Background(), "sbx-1", "0xabc", `{"FOO":"new"}`); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	var merged map[string]string
	if err := json.Unmarshal([]byte(recreator.lastEnvJSON), &merged); err != nil {
		t.Fatalf("unmarshal recreate env: %v", err)
	}
	if merged["FOO"] != "new" || merged["KEEP"] != "1" {
		t.Fatalf("merged env = %+v, want FOO overridden and KEEP preserved", merged)
	}
	if recreator.lastID != "sbx-1" {
		t.Fatalf("lastID = %q", recreator.lastID)
	}
}

func TestInjectRejectsMismatchedOwner(t *testing.T) {
	svc, st, _ := newService(t)
	if err := st.Insert("sbx-1", model.SandboxRecord{ID: "sbx-1", Owner: "0xABC"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	_, err := svc.Inject(context.Background(), "sbx-1", "0xdef", `{}`)
	if !apierr.Is(err, apierr.KindAuth) {
		t.Fatalf("Inject() error = %v, want auth kind", err)
	}
}

func TestWipeSendsEmptyObject(t *testing.T) {
	svc, st, recreator := newService(t)
	if err := st.Insert("sbx-1", model.SandboxRecord{ID: "sbx-1"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if _, err := svc.Wipe(context.Background(), "sbx-1", "anyone"); err != nil {
		t.Fatalf("Wipe() error = %v", err)
	}
	if recreator.lastEnvJSON != "{}" {
		t.Fatalf("lastEnvJSON = %q, want empty object", recreator.lastEnvJSON)
	}
}
