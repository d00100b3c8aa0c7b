package lifecycle

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tangle-network/sandbox-controlplane/internal/model"
)

// Reconcile runs once at startup, comparing every record against the
// Docker daemon's actual container state and correcting drift.
func (e *Engine) Reconcile(ctx context.Context) error {
	records := e.store.Values()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			e.reconcileOne(gctx, rec)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) reconcileOne(ctx context.Context, rec model.SandboxRecord) {
	if rec.IsTEERequired() {
		return
	}

	exists, running, err := e.runtime.ContainerState(ctx, rec.ContainerID)
	if err != nil {
		e.log.WithSandbox(rec.ID).WithError(err).Warn("failed to inspect container during startup reconciliation")
		return
	}

	if !exists {
		if rec.SnapshotImageID != "" || rec.SnapshotS3URL != "" {
			_, _ = e.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
				now := e.now()
				current.State = model.StateStopped
				current.StoppedAt = &now
				current.ContainerRemovedAt = &now
				return current, nil
			})
			return
		}
		if err := e.store.Remove(rec.ID); err == nil {
			e.metrics.IncGarbageCollected()
		}
		return
	}

	if running && rec.State == model.StateStopped {
		_, _ = e.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
			current.State = model.StateRunning
			current.StoppedAt = nil
			return current, nil
		})
		return
	}
	if !running && rec.State == model.StateRunning {
		_, _ = e.store.Update(rec.ID, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
			now := e.now()
			current.State = model.StateStopped
			current.StoppedAt = &now
			return current, nil
		})
	}
}
