// Package lifecycle implements the three periodic tasks of component J:
// the idle/lifetime reaper, the tiered garbage collector, and startup
// reconciliation against the Docker daemon's actual container state.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/dockerruntime"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
	"github.com/tangle-network/sandbox-controlplane/internal/metrics"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
	"github.com/tangle-network/sandbox-controlplane/internal/util"
)

// WorkflowFirer fires every due cron-triggered workflow; the reaper tick
// calls it once per pass when one has been attached via SetWorkflows.
type WorkflowFirer interface {
	FireDue(ctx context.Context, now time.Time) []error
}

// Engine runs the reaper, GC, and startup-reconciliation tasks against a
// shared sandbox store and Docker runtime.
type Engine struct {
	cfg     config.DockerConfig
	store   *store.Store[model.SandboxRecord]
	runtime *dockerruntime.Runtime
	metrics *metrics.Metrics
	log     *logging.Logger

	workflows WorkflowFirer

	concurrency int
	now         func() time.Time
}

func New(cfg config.DockerConfig, st *store.Store[model.SandboxRecord], rt *dockerruntime.Runtime, m *metrics.Metrics, log *logging.Logger) *Engine {
	return &Engine{cfg: cfg, store: st, runtime: rt, metrics: m, log: log, concurrency: 8, now: time.Now}
}

// SetWorkflows attaches the cron-workflow firer the reaper tick drives;
// left unset, ticks skip workflow evaluation entirely.
func (e *Engine) SetWorkflows(w WorkflowFirer) {
	e.workflows = w
}

// Run blocks, firing the reaper and GC ticks on their configured
// intervals until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	reaperTicker := time.NewTicker(e.cfg.ReaperInterval)
	defer reaperTicker.Stop()
	gcTicker := time.NewTicker(e.cfg.GCInterval)
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reaperTicker.C:
			if err := e.ReaperTick(ctx); err != nil {
				e.log.WithError(err).Warn("reaper tick failed")
			}
		case <-gcTicker.C:
			if err := e.GCTick(ctx); err != nil {
				e.log.WithError(err).Warn("gc tick failed")
			}
		}
	}
}

// ReaperTick evaluates every Running record against its idle timeout and
// max lifetime, fanning out across records with a bounded concurrency
// limit so one slow Docker call never serializes the whole tick. The
// fan-out iterates the snapshot taken at tick start; records created
// mid-tick are picked up on the next tick.
func (e *Engine) ReaperTick(ctx context.Context) error {
	records := e.store.Values()
	now := e.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, rec := range records {
		rec := rec
		if rec.State != model.StateRunning {
			continue
		}
		g.Go(func() error {
			e.reapOne(gctx, rec, now)
			return nil
		})
	}

	if e.workflows != nil {
		g.Go(func() error {
			for _, err := range e.workflows.FireDue(gctx, now) {
				e.log.WithError(err).Warn("cron workflow fire failed")
			}
			return nil
		})
	}

	return g.Wait()
}

func (e *Engine) reapOne(ctx context.Context, rec model.SandboxRecord, now time.Time) {
	activity := rec.LastActivity()

	if rec.MaxLifetimeSeconds > 0 {
		deadline := rec.CreatedAt.Add(time.Duration(rec.MaxLifetimeSeconds) * time.Second)
		if !deadline.After(now) {
			if err := e.runtime.Delete(ctx, rec.ID, nil); err != nil {
				e.log.WithSandbox(rec.ID).WithError(err).Warn("failed to hard-delete sandbox past max lifetime")
				return
			}
			e.metrics.IncReapedLifetime()
			return
		}
	}

	if rec.IdleTimeoutSeconds <= 0 {
		return
	}
	idleDeadline := activity.Add(time.Duration(rec.IdleTimeoutSeconds) * time.Second)
	if idleDeadline.After(now) {
		return
	}

	if destination := e.resolveSnapshotDestination(rec); destination != "" {
		if cmd, err := util.BuildSnapshotUploadCommand(destination, nil); err == nil {
			if err := e.runtime.ExecShell(ctx, rec.ContainerID, cmd); err == nil {
				if _, updateErr := e.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
					current.SnapshotS3URL = destination
					return current, nil
				}); updateErr == nil {
					e.metrics.IncSnapshotUploaded()
				}
			} else {
				e.log.WithSandbox(rec.ID).WithError(err).Warn("idle snapshot upload failed, continuing with stop")
			}
		}
	}

	if _, err := e.runtime.Stop(ctx, rec.ID); err != nil {
		e.log.WithSandbox(rec.ID).WithError(err).Warn("failed to stop idle sandbox")
		return
	}

	if e.cfg.SnapshotAutoCommit {
		if imageID, err := e.runtime.Commit(ctx, rec.ID); err == nil {
			if _, updateErr := e.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
				current.SnapshotImageID = imageID
				return current, nil
			}); updateErr == nil {
				e.metrics.IncSnapshotCommitted()
			}
		} else {
			e.log.WithSandbox(rec.ID).WithError(err).Warn("idle auto-commit failed")
		}
	}

	e.metrics.IncReapedIdle()
}

func (e *Engine) resolveSnapshotDestination(rec model.SandboxRecord) string {
	if rec.SnapshotDestination != "" {
		return rec.SnapshotDestination
	}
	if e.cfg.SnapshotDestPrefix != "" {
		return fmt.Sprintf("%s/%s/snapshot.tar.gz", e.cfg.SnapshotDestPrefix, rec.ID)
	}
	return ""
}

// GCTick advances every Stopped record through the hot -> warm -> cold ->
// gone tier chain.
func (e *Engine) GCTick(ctx context.Context) error {
	records := e.store.Values()
	now := e.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, rec := range records {
		rec := rec
		if rec.State != model.StateStopped || rec.StoppedAt == nil {
			if rec.State == model.StateStopped && rec.ContainerID == "" && rec.SnapshotImageID == "" && rec.SnapshotS3URL == "" {
				g.Go(func() error {
					if err := e.store.Remove(rec.ID); err == nil {
						e.metrics.IncGarbageCollected()
					}
					return nil
				})
			}
			continue
		}
		g.Go(func() error {
			e.gcOne(gctx, rec, now)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) gcOne(ctx context.Context, rec model.SandboxRecord, now time.Time) {
	if rec.ContainerRemovedAt == nil {
		if !rec.StoppedAt.Add(e.cfg.HotRetention).After(now) {
			if rec.SnapshotImageID != "" {
				if err := e.removeContainerOnly(ctx, rec.ContainerID); err != nil {
					e.log.WithSandbox(rec.ID).WithError(err).Warn("failed to remove hot container during gc")
					return
				}
				if _, err := e.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
					t := e.now()
					current.ContainerRemovedAt = &t
					return current, nil
				}); err == nil {
					e.metrics.IncGCContainerRemoved()
				}
			} else {
				if err := e.runtime.Delete(ctx, rec.ID, nil); err == nil {
					e.metrics.IncGarbageCollected()
				}
			}
		}
		return
	}

	if rec.SnapshotImageID != "" {
		if !rec.ContainerRemovedAt.Add(e.cfg.WarmRetention).After(now) {
			if err := e.runtime.RemoveSnapshotImage(ctx, rec.ID); err != nil {
				e.log.WithSandbox(rec.ID).WithError(err).Warn("failed to remove warm image during gc")
				return
			}
			removedRecord := rec.SnapshotS3URL == ""
			if _, err := e.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
				current.SnapshotImageID = ""
				t := e.now()
				current.ImageRemovedAt = &t
				return current, nil
			}); err == nil {
				e.metrics.IncGCImageRemoved()
			}
			if removedRecord {
				if err := e.store.Remove(rec.ID); err == nil {
					e.metrics.IncGarbageCollected()
				}
			}
		}
		return
	}

	if rec.SnapshotS3URL != "" && rec.ImageRemovedAt != nil {
		if !rec.ImageRemovedAt.Add(e.cfg.ColdRetention).After(now) {
			if e.cfg.SnapshotDestPrefix != "" && len(rec.SnapshotS3URL) >= len(e.cfg.SnapshotDestPrefix) &&
				rec.SnapshotS3URL[:len(e.cfg.SnapshotDestPrefix)] == e.cfg.SnapshotDestPrefix &&
				rec.SnapshotDestination == "" {
				if err := e.runtime.DeleteSnapshotObject(ctx, rec.SnapshotS3URL); err == nil {
					e.metrics.IncGCS3Cleaned()
				}
			}
			if err := e.store.Remove(rec.ID); err == nil {
				e.metrics.IncGarbageCollected()
			}
		}
	}
}

func (e *Engine) removeContainerOnly(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	return e.runtime.RemoveContainerOnly(ctx, containerID)
}
