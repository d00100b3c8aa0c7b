package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleWorkflowCreateRequiresSandboxID(t *testing.T) {
	s := newTestServer(t)
	token, _, err := s.auth.Sessions.Mint("0xABC")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{"trigger": "manual"})
	req := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleWorkflowCreateThenListRoundTrips(t *testing.T) {
	s := newTestServer(t)
	token, _, err := s.auth.Sessions.Mint("0xABC")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	createBody, _ := json.Marshal(map[string]interface{}{
		"name":       "nightly-report",
		"trigger":    "manual",
		"sandbox_id": "sbx-1",
	})
	createReq := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader(createBody))
	createReq.Header.Set("Authorization", "Bearer "+token)
	createRec := httptest.NewRecorder()
	s.Router().ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", createRec.Code, createRec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/workflows", nil)
	listReq.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	s.Router().ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", listRec.Code, listRec.Body.String())
	}
	if !containsSubstring(listRec.Body.String(), "nightly-report") {
		t.Fatalf("list body = %s, want it to contain the created entry", listRec.Body.String())
	}
}

func TestHandleWorkflowCreateRejectsBadCronExpr(t *testing.T) {
	s := newTestServer(t)
	token, _, err := s.auth.Sessions.Mint("0xABC")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"trigger":    "cron",
		"cron_expr":  "not-a-cron",
		"sandbox_id": "sbx-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}
