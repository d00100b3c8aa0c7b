package sessionauth

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestRecoverAddressRoundTrip(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	wantAddr := strings.ToLower(crypto.PubkeyToAddress(privKey.PublicKey).Hex())

	message := "Sign this message to authenticate with Tangle Sandbox.\n\nNonce: deadbeef\nExpires: 2030-01-01T00:00:00Z"
	sig, err := crypto.Sign(eip191Hash(message), privKey)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	gotAddr, err := RecoverAddress(message, sig)
	if err != nil {
		t.Fatalf("RecoverAddress() error = %v", err)
	}
	if gotAddr != wantAddr {
		t.Fatalf("RecoverAddress() = %s, want %s", gotAddr, wantAddr)
	}
}

func TestRecoverAddressNormalizesRecoveryID(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	wantAddr := strings.ToLower(crypto.PubkeyToAddress(privKey.PublicKey).Hex())

	message := "msg"
	sig, err := crypto.Sign(eip191Hash(message), privKey)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	legacySig := append([]byte(nil), sig...)
	legacySig[64] += 27

	gotAddr, err := RecoverAddress(message, legacySig)
	if err != nil {
		t.Fatalf("RecoverAddress() with v=27/28 error = %v", err)
	}
	if gotAddr != wantAddr {
		t.Fatalf("RecoverAddress() = %s, want %s", gotAddr, wantAddr)
	}
}

func TestRecoverAddressRejectsWrongLength(t *testing.T) {
	if _, err := RecoverAddress("msg", []byte{1, 2, 3}); err == nil {
		t.Fatal("RecoverAddress() expected error for short signature")
	}
}

func TestRecoverAddressRejectsBadRecoveryID(t *testing.T) {
	sig := make([]byte, 65)
	sig[64] = 99
	if _, err := RecoverAddress("msg", sig); err == nil {
		t.Fatal("RecoverAddress() expected error for invalid recovery id")
	}
}
