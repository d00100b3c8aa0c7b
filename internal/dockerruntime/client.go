// Package dockerruntime implements the local Docker sandbox backend
// (component I): image management, container lifecycle, and snapshot
// commit/restore for sandboxes that do not require a TEE.
package dockerruntime

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
	"github.com/tangle-network/sandbox-controlplane/internal/metrics"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

// Runtime owns the Docker API client and the sandbox store, and
// implements every Docker-path operation component I describes.
type Runtime struct {
	api     *client.Client
	cfg     config.DockerConfig
	store   *store.Store[model.SandboxRecord]
	metrics *metrics.Metrics
	log     *logging.Logger

	pullOnce sync.Once
	pullErr  error

	now func() time.Time
}

func New(cfg config.DockerConfig, st *store.Store[model.SandboxRecord], m *metrics.Metrics, log *logging.Logger) (*Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = []client.Opt{client.WithHost(cfg.DockerHost), client.WithAPIVersionNegotiation()}
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, apierr.Docker("connect", err)
	}
	return &Runtime{api: cli, cfg: cfg, store: st, metrics: m, log: log, now: time.Now}, nil
}

// ensureImagePulled pulls cfg.Image exactly once per process lifetime; all
// subsequent Create calls reuse the cached result (success or failure).
func (r *Runtime) ensureImagePulled(ctx context.Context) error {
	if !r.cfg.PullImage {
		return nil
	}
	r.pullOnce.Do(func() {
		reader, err := r.api.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
		if err != nil {
			r.pullErr = apierr.Docker("image_pull", err)
			return
		}
		defer reader.Close()
		if _, err := io.Copy(io.Discard, reader); err != nil {
			r.pullErr = apierr.Docker("image_pull", err)
		}
	})
	return r.pullErr
}

func (r *Runtime) pullNamedImage(ctx context.Context, ref string) error {
	reader, err := r.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return apierr.Docker("image_pull", err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return apierr.Docker("image_pull", err)
	}
	return nil
}

func (r *Runtime) containerExists(ctx context.Context, containerID string) (bool, types.ContainerJSON, error) {
	if containerID == "" {
		return false, types.ContainerJSON{}, nil
	}
	info, err := r.api.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, types.ContainerJSON{}, nil
		}
		return false, types.ContainerJSON{}, apierr.Docker("inspect", err)
	}
	return true, info, nil
}

func (r *Runtime) imageExists(ctx context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	_, _, err := r.api.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, apierr.Docker("image_inspect", err)
	}
	return true, nil
}
