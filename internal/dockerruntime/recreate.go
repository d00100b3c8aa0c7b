package dockerruntime

import (
	"context"

	"github.com/docker/docker/api/types/container"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
)

// RecreateWithEnv stops and deletes the current container, removes the
// store record, then reconstructs a CreateSandboxParams from the
// preserved creation descriptors and invokes Create with the same token
// and every other field — owner, TEE config, resources, lifetime —
// preserved bit-identically. newUserEnvJSON replaces user_env_json on the
// reconstructed record (merge, if any, happens in the caller).
func (r *Runtime) RecreateWithEnv(ctx context.Context, id, newUserEnvJSON string) (model.SandboxRecord, error) {
	rec, ok := r.store.Get(id)
	if !ok {
		return model.SandboxRecord{}, apierr.NotFound("sandbox", id)
	}

	if rec.ContainerID != "" {
		_ = r.api.ContainerStop(ctx, rec.ContainerID, container.StopOptions{})
		_ = r.api.ContainerRemove(ctx, rec.ContainerID, container.RemoveOptions{Force: true})
	}
	if err := r.store.Remove(id); err != nil {
		return model.SandboxRecord{}, err
	}

	originalImage := rec.OriginalImage
	if originalImage == "" {
		originalImage = r.cfg.Image
	}

	params := CreateSandboxParams{
		ID:                 rec.ID,
		Image:              originalImage,
		Name:               rec.Name,
		AgentIdentifier:    rec.AgentIdentifier,
		Stack:              rec.Stack,
		MetadataJSON:       rec.MetadataJSON,
		BaseEnvJSON:        rec.BaseEnvJSON,
		UserEnvJSON:        newUserEnvJSON,
		Owner:              rec.Owner,
		TokenOverride:      rec.Token,
		CPUCores:           rec.CPUCores,
		MemoryMB:           rec.MemoryMB,
		DiskGB:             rec.DiskGB,
		IdleTimeoutSeconds: rec.IdleTimeoutSeconds,
		MaxLifetimeSeconds: rec.MaxLifetimeSeconds,
		NeedsSSHPort:       rec.SSHPort > 0,
		TEEConfig:          rec.TEEConfig,
	}

	return r.Create(ctx, params)
}
