package teefactory

import (
	"context"
	"testing"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
)

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.TEEConfig{Backend: "not-a-real-backend"}, "")
	if !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("New() error = %v, want validation kind", err)
	}
}

func TestNewRejectsEmptyBackend(t *testing.T) {
	_, err := New(context.Background(), config.TEEConfig{Backend: config.TEEBackendNone}, "")
	if !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("New() error = %v, want validation kind", err)
	}
}

func TestNewBuildsPhalaBackend(t *testing.T) {
	backend, err := New(context.Background(), config.TEEConfig{
		Backend: config.TEEBackendPhala,
		Phala:   config.PhalaConfig{ControlServiceURL: "https://phala.example", APIKey: "key"},
	}, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if backend.TEEType() == "" {
		t.Fatal("expected a non-empty TEE type from phala backend")
	}
}

func TestNewBuildsDirectBackend(t *testing.T) {
	backend, err := New(context.Background(), config.TEEConfig{Backend: config.TEEBackendDirect}, "http://10.0.0.5:8080")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if backend.TEEType() == "" {
		t.Fatal("expected a non-empty TEE type from direct backend")
	}
}
