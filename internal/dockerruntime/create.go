package dockerruntime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
)

// Create provisions a new sandbox container on the Docker path. Callers
// that need a TEE-backed sandbox must dispatch to component G instead;
// Create assumes params.TEEConfig is either nil or not Required.
func (r *Runtime) Create(ctx context.Context, params CreateSandboxParams) (model.SandboxRecord, error) {
	if params.ID == "" {
		return model.SandboxRecord{}, apierr.MissingParameter("id")
	}
	image := params.Image
	if image == "" {
		image = r.cfg.Image
	}
	if image == "" {
		return model.SandboxRecord{}, apierr.MissingParameter("image")
	}

	if err := r.ensureImagePulled(ctx); err != nil {
		return model.SandboxRecord{}, err
	}

	token := params.TokenOverride
	if token == "" {
		generated, err := generateToken()
		if err != nil {
			return model.SandboxRecord{}, err
		}
		token = generated
	}

	env, _, err := mergeEnv(params.BaseEnvJSON, params.UserEnvJSON)
	if err != nil {
		return model.SandboxRecord{}, err
	}
	env = append([]string{
		fmt.Sprintf("SIDECAR_PORT=%d", r.cfg.HTTPPort),
		"SIDECAR_AUTH_TOKEN=" + token,
	}, env...)

	labels, snapshotDestination, err := buildLabels(params.MetadataJSON, image, params.Stack)
	if err != nil {
		return model.SandboxRecord{}, err
	}

	exposedPorts, portBindings := r.portSpec(params.NeedsSSHPort)

	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
	}
	if params.CPUCores > 0 {
		hostCfg.NanoCPUs = int64(params.CPUCores * 1e9)
	}
	if params.MemoryMB > 0 {
		hostCfg.Memory = params.MemoryMB * 1024 * 1024
	}

	containerCfg := &container.Config{
		Image:        image,
		Env:          env,
		Labels:       labels,
		ExposedPorts: exposedPorts,
	}

	name := "sidecar-" + params.ID
	resp, err := r.api.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return model.SandboxRecord{}, apierr.Docker("create", err)
	}
	if err := r.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return model.SandboxRecord{}, apierr.Docker("start", err)
	}

	info, err := r.api.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return model.SandboxRecord{}, apierr.Docker("inspect", err)
	}

	httpHostPort, err := hostPortFor(info, r.cfg.HTTPPort)
	if err != nil {
		return model.SandboxRecord{}, err
	}
	sshHostPort := 0
	if params.NeedsSSHPort {
		sshHostPort, err = hostPortFor(info, r.cfg.SSHPort)
		if err != nil {
			return model.SandboxRecord{}, err
		}
	}

	now := r.now()
	record := model.SandboxRecord{
		ID:                  params.ID,
		ContainerID:         resp.ID,
		SidecarURL:          fmt.Sprintf("http://%s:%d", r.cfg.PublicHost, httpHostPort),
		SidecarPort:         httpHostPort,
		SSHPort:             sshHostPort,
		Token:               token,
		CreatedAt:           now,
		LastActivityAt:      now,
		CPUCores:            params.CPUCores,
		MemoryMB:            params.MemoryMB,
		DiskGB:              params.DiskGB,
		IdleTimeoutSeconds:  int64(r.cfg.EffectiveIdleTimeout(time.Duration(params.IdleTimeoutSeconds) * time.Second).Seconds()),
		MaxLifetimeSeconds:  int64(r.cfg.EffectiveMaxLifetime(time.Duration(params.MaxLifetimeSeconds) * time.Second).Seconds()),
		State:               model.StateRunning,
		SnapshotDestination: snapshotDestination,
		OriginalImage:       image,
		Name:                params.Name,
		AgentIdentifier:     params.AgentIdentifier,
		Stack:               params.Stack,
		MetadataJSON:        params.MetadataJSON,
		BaseEnvJSON:         params.BaseEnvJSON,
		UserEnvJSON:         params.UserEnvJSON,
		Owner:               params.Owner,
		TEEConfig:           params.TEEConfig,
	}

	if err := r.store.Insert(params.ID, record); err != nil {
		return model.SandboxRecord{}, err
	}

	r.metrics.IncActiveSandboxes()
	if params.CPUCores > 0 {
		r.metrics.AddCPUCores(int64(params.CPUCores * 1000))
	}
	if params.MemoryMB > 0 {
		r.metrics.AddMemoryMB(params.MemoryMB)
	}

	return record, nil
}

func (r *Runtime) portSpec(needsSSH bool) (nat.PortSet, nat.PortMap) {
	httpPort := nat.Port(fmt.Sprintf("%d/tcp", r.cfg.HTTPPort))
	exposed := nat.PortSet{httpPort: struct{}{}}
	bindings := nat.PortMap{httpPort: []nat.PortBinding{{HostIP: "0.0.0.0"}}}
	if needsSSH {
		sshPort := nat.Port(fmt.Sprintf("%d/tcp", r.cfg.SSHPort))
		exposed[sshPort] = struct{}{}
		bindings[sshPort] = []nat.PortBinding{{HostIP: "0.0.0.0"}}
	}
	return exposed, bindings
}

func hostPortFor(info types.ContainerJSON, containerPort int) (int, error) {
	if info.NetworkSettings == nil {
		return 0, apierr.New(apierr.KindDocker, "container has no network settings")
	}
	key := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
	bindings, ok := info.NetworkSettings.Ports[key]
	if !ok || len(bindings) == 0 {
		return 0, apierr.New(apierr.KindDocker, fmt.Sprintf("no host port bound for %s", key))
	}
	for _, binding := range bindings {
		if binding.HostPort != "" {
			port, err := strconv.Atoi(binding.HostPort)
			if err != nil {
				return 0, apierr.Wrap(apierr.KindDocker, "invalid host port", err)
			}
			return port, nil
		}
	}
	return 0, apierr.New(apierr.KindDocker, fmt.Sprintf("no host port bound for %s", key))
}
