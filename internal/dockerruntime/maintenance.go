package dockerruntime

import (
	"bytes"
	"context"
	"net/http"

	"github.com/docker/docker/api/types/container"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
)

// ExecShell runs command inside containerID via /bin/sh -c, exported for
// the lifecycle engine's reaper snapshot-upload step.
func (r *Runtime) ExecShell(ctx context.Context, containerID, command string) error {
	return r.execShell(ctx, containerID, command)
}

// RemoveContainerOnly removes a container without touching its store
// record or allocation gauges, used by the GC hot-to-warm transition.
func (r *Runtime) RemoveContainerOnly(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	if err := r.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return apierr.Docker("remove", err)
	}
	return nil
}

// DeleteSnapshotObject issues a best-effort DELETE against an
// operator-managed snapshot URL during the cold-to-gone GC transition.
func (r *Runtime) DeleteSnapshotObject(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, bytes.NewReader(nil))
	if err != nil {
		return apierr.Wrap(apierr.KindStorage, "failed to build snapshot delete request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindStorage, "snapshot delete request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != 404 {
		return apierr.New(apierr.KindStorage, "snapshot delete returned unexpected status")
	}
	return nil
}

// ContainerState reports whether containerID exists and is running,
// for startup reconciliation.
func (r *Runtime) ContainerState(ctx context.Context, containerID string) (exists bool, running bool, err error) {
	ok, info, err := r.containerExists(ctx, containerID)
	if err != nil || !ok {
		return ok, false, err
	}
	return true, info.State != nil && info.State.Running, nil
}
