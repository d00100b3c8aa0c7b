package dockerruntime

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
	"github.com/tangle-network/sandbox-controlplane/internal/util"
)

// Stop stops the sandbox's container and marks the record Stopped.
func (r *Runtime) Stop(ctx context.Context, id string) (model.SandboxRecord, error) {
	rec, ok := r.store.Get(id)
	if !ok {
		return model.SandboxRecord{}, apierr.NotFound("sandbox", id)
	}
	if rec.ContainerID != "" {
		if err := r.api.ContainerStop(ctx, rec.ContainerID, container.StopOptions{}); err != nil {
			return model.SandboxRecord{}, apierr.Docker("stop", err)
		}
	}
	return r.store.Update(id, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
		if !ok {
			return model.SandboxRecord{}, apierr.NotFound("sandbox", id)
		}
		now := r.now()
		current.State = model.StateStopped
		current.StoppedAt = &now
		return current, nil
	})
}

// Resume restarts a sandbox following the three-tier hot/warm/cold
// decision order described by component I.
func (r *Runtime) Resume(ctx context.Context, id string) (model.SandboxRecord, error) {
	rec, ok := r.store.Get(id)
	if !ok {
		return model.SandboxRecord{}, apierr.NotFound("sandbox", id)
	}

	switch {
	case rec.ContainerRemovedAt == nil && rec.ContainerID != "":
		return r.resumeHot(ctx, rec)
	case rec.SnapshotImageID != "":
		return r.resumeWarm(ctx, rec)
	case rec.SnapshotS3URL != "":
		return r.resumeCold(ctx, rec)
	default:
		return model.SandboxRecord{}, apierr.New(apierr.KindDocker, "no hot container, warm image, or cold snapshot available for resume")
	}
}

func (r *Runtime) resumeHot(ctx context.Context, rec model.SandboxRecord) (model.SandboxRecord, error) {
	if err := r.api.ContainerStart(ctx, rec.ContainerID, container.StartOptions{}); err != nil {
		return model.SandboxRecord{}, apierr.Docker("start", err)
	}
	if err := tee.PollHealth(ctx, rec.SidecarURL, 30*time.Second); err != nil {
		return model.SandboxRecord{}, err
	}
	return r.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
		current.State = model.StateRunning
		current.StoppedAt = nil
		current.LastActivityAt = r.now()
		return current, nil
	})
}

func (r *Runtime) resumeWarm(ctx context.Context, rec model.SandboxRecord) (model.SandboxRecord, error) {
	env, _, err := mergeEnv(rec.BaseEnvJSON, rec.UserEnvJSON)
	if err != nil {
		return model.SandboxRecord{}, err
	}
	env = append([]string{
		fmt.Sprintf("SIDECAR_PORT=%d", r.cfg.HTTPPort),
		"SIDECAR_AUTH_TOKEN=" + rec.Token,
	}, env...)

	hostCfg := &container.HostConfig{}
	if rec.CPUCores > 0 {
		hostCfg.NanoCPUs = int64(rec.CPUCores * 1e9)
	}
	if rec.MemoryMB > 0 {
		hostCfg.Memory = rec.MemoryMB * 1024 * 1024
	}
	exposed, bindings := r.portSpec(rec.SSHPort > 0)
	hostCfg.PortBindings = bindings

	name := "sidecar-" + rec.ID + "-warm"
	resp, err := r.api.ContainerCreate(ctx, &container.Config{
		Image:        rec.SnapshotImageID,
		Env:          env,
		ExposedPorts: exposed,
	}, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return model.SandboxRecord{}, apierr.Docker("create_warm", err)
	}
	if err := r.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return model.SandboxRecord{}, apierr.Docker("start_warm", err)
	}
	info, err := r.api.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return model.SandboxRecord{}, apierr.Docker("inspect", err)
	}
	httpPort, err := hostPortFor(info, r.cfg.HTTPPort)
	if err != nil {
		return model.SandboxRecord{}, err
	}

	return r.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
		current.ContainerID = resp.ID
		current.SidecarURL = fmt.Sprintf("http://%s:%d", r.cfg.PublicHost, httpPort)
		current.SidecarPort = httpPort
		current.State = model.StateRunning
		current.StoppedAt = nil
		current.ContainerRemovedAt = nil
		current.LastActivityAt = r.now()
		return current, nil
	})
}

func (r *Runtime) resumeCold(ctx context.Context, rec model.SandboxRecord) (model.SandboxRecord, error) {
	originalImage := rec.OriginalImage
	if originalImage == "" {
		originalImage = r.cfg.Image
	}
	if ok, err := r.imageExists(ctx, originalImage); err != nil {
		return model.SandboxRecord{}, err
	} else if !ok {
		if err := r.pullNamedImage(ctx, originalImage); err != nil {
			return model.SandboxRecord{}, err
		}
	}

	env, _, err := mergeEnv(rec.BaseEnvJSON, rec.UserEnvJSON)
	if err != nil {
		return model.SandboxRecord{}, err
	}
	env = append([]string{
		fmt.Sprintf("SIDECAR_PORT=%d", r.cfg.HTTPPort),
		"SIDECAR_AUTH_TOKEN=" + rec.Token,
	}, env...)

	exposed, bindings := r.portSpec(rec.SSHPort > 0)
	name := "sidecar-" + rec.ID + "-cold"
	resp, err := r.api.ContainerCreate(ctx, &container.Config{
		Image:        originalImage,
		Env:          env,
		ExposedPorts: exposed,
	}, &container.HostConfig{PortBindings: bindings}, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return model.SandboxRecord{}, apierr.Docker("create_cold", err)
	}
	if err := r.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return model.SandboxRecord{}, apierr.Docker("start_cold", err)
	}
	info, err := r.api.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return model.SandboxRecord{}, apierr.Docker("inspect", err)
	}
	httpPort, err := hostPortFor(info, r.cfg.HTTPPort)
	if err != nil {
		return model.SandboxRecord{}, err
	}
	sidecarURL := fmt.Sprintf("http://%s:%d", r.cfg.PublicHost, httpPort)

	if err := tee.PollHealth(ctx, sidecarURL, 60*time.Second); err != nil {
		return model.SandboxRecord{}, err
	}

	restoreCmd, err := util.BuildSnapshotRestoreCommand(rec.SnapshotS3URL)
	if err != nil {
		return model.SandboxRecord{}, err
	}
	if err := r.execShell(ctx, resp.ID, restoreCmd); err != nil {
		return model.SandboxRecord{}, err
	}

	return r.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
		current.ContainerID = resp.ID
		current.SidecarURL = sidecarURL
		current.SidecarPort = httpPort
		current.State = model.StateRunning
		current.StoppedAt = nil
		current.ContainerRemovedAt = nil
		current.ImageRemovedAt = nil
		current.SnapshotS3URL = ""
		current.LastActivityAt = r.now()
		return current, nil
	})
}

func (r *Runtime) execShell(ctx context.Context, containerID, command string) error {
	execResp, err := r.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return apierr.Docker("exec_create", err)
	}
	attach, err := r.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return apierr.Docker("exec_attach", err)
	}
	defer attach.Close()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			_, readErr := attach.Reader.Read(buf)
			if readErr != nil {
				done <- nil
				return
			}
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return apierr.Wrap(apierr.KindDocker, "context cancelled during exec", ctx.Err())
	}

	inspect, err := r.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return apierr.Docker("exec_inspect", err)
	}
	if inspect.ExitCode != 0 {
		return apierr.New(apierr.KindDocker, fmt.Sprintf("exec %q exited with code %d", command, inspect.ExitCode))
	}
	return nil
}

// Delete removes a sandbox's container (or TEE deployment) and its store
// record, decrementing allocation gauges.
func (r *Runtime) Delete(ctx context.Context, id string, teeBackend tee.Backend) error {
	rec, ok := r.store.Get(id)
	if !ok {
		return apierr.NotFound("sandbox", id)
	}

	if rec.IsTEERequired() && teeBackend != nil {
		if err := teeBackend.Destroy(ctx, rec.TEEDeploymentID); err != nil {
			return err
		}
	} else if rec.ContainerID != "" {
		if err := r.api.ContainerRemove(ctx, rec.ContainerID, container.RemoveOptions{Force: true}); err != nil {
			return apierr.Docker("remove", err)
		}
	}

	if err := r.store.Remove(id); err != nil {
		return err
	}

	r.metrics.DecActiveSandboxes()
	if rec.CPUCores > 0 {
		r.metrics.AddCPUCores(-int64(rec.CPUCores * 1000))
	}
	if rec.MemoryMB > 0 {
		r.metrics.AddMemoryMB(-rec.MemoryMB)
	}
	return nil
}

// Commit snapshots a stopped container into sandbox-snapshot/{id}:latest.
func (r *Runtime) Commit(ctx context.Context, id string) (string, error) {
	rec, ok := r.store.Get(id)
	if !ok {
		return "", apierr.NotFound("sandbox", id)
	}
	if rec.ContainerID == "" {
		return "", apierr.New(apierr.KindDocker, "sandbox has no container to commit")
	}
	tag := fmt.Sprintf("sandbox-snapshot/%s:latest", id)
	resp, err := r.api.ContainerCommit(ctx, rec.ContainerID, container.CommitOptions{
		Reference: tag,
		Pause:     true,
	})
	if err != nil {
		return "", apierr.Docker("commit", err)
	}
	return resp.ID, nil
}

// RemoveSnapshotImage deletes the committed snapshot image tag for id.
func (r *Runtime) RemoveSnapshotImage(ctx context.Context, id string) error {
	tag := fmt.Sprintf("sandbox-snapshot/%s:latest", id)
	_, err := r.api.ImageRemove(ctx, tag, imagetypes.RemoveOptions{Force: true})
	if err != nil {
		return apierr.Docker("image_remove", err)
	}
	return nil
}
