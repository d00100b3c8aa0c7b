package dockerruntime

import (
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"

	"github.com/tangle-network/sandbox-controlplane/internal/config"
)

func TestPortSpecIncludesSSHOnlyWhenRequested(t *testing.T) {
	r := &Runtime{cfg: config.DockerConfig{HTTPPort: 8080, SSHPort: 22}}

	exposed, bindings := r.portSpec(false)
	if len(exposed) != 1 || len(bindings) != 1 {
		t.Fatalf("expected only the http port without ssh, got exposed=%v bindings=%v", exposed, bindings)
	}

	exposed, bindings = r.portSpec(true)
	if len(exposed) != 2 || len(bindings) != 2 {
		t.Fatalf("expected http+ssh ports, got exposed=%v bindings=%v", exposed, bindings)
	}
}

func TestHostPortForReadsAllocatedBinding(t *testing.T) {
	info := types.ContainerJSON{
		NetworkSettings: &types.NetworkSettings{
			NetworkSettingsBase: types.NetworkSettingsBase{
				Ports: nat.PortMap{
					"8080/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "54321"}},
				},
			},
		},
	}
	port, err := hostPortFor(info, 8080)
	if err != nil {
		t.Fatalf("hostPortFor() error = %v", err)
	}
	if port != 54321 {
		t.Fatalf("port = %d, want 54321", port)
	}
}

func TestHostPortForMissingBindingErrors(t *testing.T) {
	info := types.ContainerJSON{NetworkSettings: &types.NetworkSettings{}}
	if _, err := hostPortFor(info, 8080); err == nil {
		t.Fatal("expected error for missing port binding")
	}
}
