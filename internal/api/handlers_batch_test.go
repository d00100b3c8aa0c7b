package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tangle-network/sandbox-controlplane/internal/model"
)

func TestHandleBatchCreateRequiresOwnership(t *testing.T) {
	s := newTestServer(t)
	if err := s.store.Insert("sbx-1", model.SandboxRecord{ID: "sbx-1", Owner: "0xabc", State: model.StateRunning, SidecarURL: "http://sidecar", Token: "tok"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	token, _, err := s.auth.Sessions.Mint("0xDEF")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{"requests": []map[string]string{{"sandbox_id": "sbx-1", "command": "echo hi"}}})
	req := httptest.NewRequest(http.MethodPost, "/api/sandboxes/sbx-1/batch", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleBatchCreateRejectsEmptyRequests(t *testing.T) {
	s := newTestServer(t)
	if err := s.store.Insert("sbx-2", model.SandboxRecord{ID: "sbx-2", Owner: "0xabc", State: model.StateRunning}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	token, _, err := s.auth.Sessions.Mint("0xABC")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{"requests": []map[string]string{}})
	req := httptest.NewRequest(http.MethodPost, "/api/sandboxes/sbx-2/batch", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetBatchReturnsNotFoundForUnknownID(t *testing.T) {
	s := newTestServer(t)
	token, _, err := s.auth.Sessions.Mint("0xABC")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/batches/ghost", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}
}
