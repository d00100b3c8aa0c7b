package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/dockerruntime"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
	"github.com/tangle-network/sandbox-controlplane/internal/metrics"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/provisionprogress"
	"github.com/tangle-network/sandbox-controlplane/internal/sessionauth"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sandboxStore, err := store.Open[model.SandboxRecord](filepath.Join(t.TempDir(), "sandboxes.json"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	provisionStore, err := store.Open[model.ProvisionStatus](filepath.Join(t.TempDir(), "provisions.json"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	batchStore, err := store.Open[model.BatchRecord](filepath.Join(t.TempDir(), "batches.json"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	workflowStore, err := store.Open[model.WorkflowEntry](filepath.Join(t.TempDir(), "workflows.json"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	sessions, err := sessionauth.NewSessionManager("test-secret-at-least-this-long")
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}

	return New(Deps{
		CORS:          config.CORSConfig{Raw: ""},
		Store:         sandboxStore,
		Runtime:       &dockerruntime.Runtime{},
		Auth:          sessionauth.NewAuthenticator(sessions),
		Progress:      provisionprogress.New(provisionStore),
		BatchStore:    batchStore,
		WorkflowStore: workflowStore,
		Metrics:       metrics.New(),
		Log:           logging.New("api-test", "error", "json"),
	})
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthChallengeThenSessionRoundTrips(t *testing.T) {
	s := newTestServer(t)
	challenge, err := s.auth.Challenges.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if challenge.Nonce == "" || challenge.Message == "" {
		t.Fatal("expected a populated nonce and message")
	}
}

func TestListSandboxesRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sandboxes", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestListSandboxesFiltersByOwner(t *testing.T) {
	s := newTestServer(t)
	if err := s.store.Insert("sbx-mine", model.SandboxRecord{ID: "sbx-mine", Owner: "0xabc", State: model.StateRunning}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.store.Insert("sbx-theirs", model.SandboxRecord{ID: "sbx-theirs", Owner: "0xdef", State: model.StateRunning}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	token, _, err := s.auth.Sessions.Mint("0xABC")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sandboxes", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !containsSubstring(rec.Body.String(), "sbx-mine") || containsSubstring(rec.Body.String(), "sbx-theirs") {
		t.Fatalf("body = %s, want only sbx-mine", rec.Body.String())
	}
}

func containsSubstring(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestIDParamDefaultsToInstanceKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/sandbox/exec", nil)
	if got := idParam(req); got != model.InstanceRecordKey {
		t.Fatalf("idParam() = %q, want %q", got, model.InstanceRecordKey)
	}
}

func TestCORSMiddlewareWildcardAllowsAnyOrigin(t *testing.T) {
	mw := corsMiddleware(config.CORSConfig{Raw: ""})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestCORSMiddlewareExplicitListRejectsUnlistedOrigin(t *testing.T) {
	mw := corsMiddleware(config.CORSConfig{Raw: "https://allowed.example"})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://not-allowed.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}
