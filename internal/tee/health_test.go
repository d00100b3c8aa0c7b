package tee

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestForwardSealedSecretsPostsCiphertextAndReturnsSidecarResult(t *testing.T) {
	var gotPath string
	var gotBody SealedSecret
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(InjectResult{SecretsCount: 3})
	}))
	defer srv.Close()

	sealed := SealedSecret{Algorithm: "aes-256-gcm", Ciphertext: []byte("ciphertext"), Nonce: []byte("nonce")}
	result, err := ForwardSealedSecrets(context.Background(), srv.URL, "", sealed)
	if err != nil {
		t.Fatalf("ForwardSealedSecrets() error = %v", err)
	}
	if gotPath != "/sealed-secrets" {
		t.Fatalf("path = %q, want /sealed-secrets", gotPath)
	}
	if string(gotBody.Ciphertext) != "ciphertext" {
		t.Fatalf("forwarded ciphertext = %q, want %q", gotBody.Ciphertext, "ciphertext")
	}
	if !result.Success || result.SecretsCount != 3 {
		t.Fatalf("ForwardSealedSecrets() = %+v, want success with sidecar's real secrets_count", result)
	}
}

func TestForwardSealedSecretsReportsSidecarFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	result, err := ForwardSealedSecrets(context.Background(), srv.URL, "", SealedSecret{Ciphertext: []byte("x")})
	if err != nil {
		t.Fatalf("ForwardSealedSecrets() error = %v", err)
	}
	if result.Success {
		t.Fatalf("ForwardSealedSecrets() = %+v, want success=false on sidecar 500", result)
	}
}

func TestForwardSealedSecretsSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(InjectResult{SecretsCount: 1})
	}))
	defer srv.Close()

	if _, err := ForwardSealedSecrets(context.Background(), srv.URL, "tok-123", SealedSecret{Ciphertext: []byte("x")}); err != nil {
		t.Fatalf("ForwardSealedSecrets() error = %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("Authorization header = %q, want Bearer tok-123", gotAuth)
	}
}
