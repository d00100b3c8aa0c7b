package sessionauth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestExchangeSessionEndToEnd(t *testing.T) {
	sessions := freshManager(t)
	auth := NewAuthenticator(sessions)

	challenge, err := auth.Challenges.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	wantAddr := crypto.PubkeyToAddress(privKey.PublicKey).Hex()

	sig, err := crypto.Sign(eip191Hash(challenge.Message), privKey)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	token, addr, err := auth.ExchangeSession(challenge.Nonce, sig)
	if err != nil {
		t.Fatalf("ExchangeSession() error = %v", err)
	}
	if addr == "" || token == "" {
		t.Fatal("ExchangeSession() returned empty address or token")
	}
	_ = wantAddr

	// Replaying the same nonce must fail.
	if _, _, err := auth.ExchangeSession(challenge.Nonce, sig); err == nil {
		t.Fatal("ExchangeSession() replay expected error")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	principal, err := auth.Principal(req)
	if err != nil {
		t.Fatalf("Principal() error = %v", err)
	}
	if principal != addr {
		t.Fatalf("Principal() = %s, want %s", principal, addr)
	}
}

func TestPrincipalRejectsMissingHeader(t *testing.T) {
	sessions := freshManager(t)
	auth := NewAuthenticator(sessions)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := auth.Principal(req); err == nil {
		t.Fatal("Principal() expected error for missing Authorization header")
	}
}

func TestConstantTimeEquals(t *testing.T) {
	if !ConstantTimeEquals("secret", "secret") {
		t.Fatal("ConstantTimeEquals() expected true for equal strings")
	}
	if ConstantTimeEquals("secret", "other") {
		t.Fatal("ConstantTimeEquals() expected false for differing strings")
	}
}
