// Package batch fans a single exec or prompt request out across many
// sandbox ids and aggregates the per-sandbox results under one batch id.
package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/sidecarclient"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

// SandboxLookup resolves the sidecar URL and bearer token for a sandbox id.
type SandboxLookup interface {
	Get(id string) (sidecarURL, token string, ok bool)
}

// ItemRequest is one fanned-out exec or prompt call against sandboxID.
type ItemRequest struct {
	SandboxID string
	Command   string
	Message   string
}

type Service struct {
	store     *store.Store[model.BatchRecord]
	sandboxes SandboxLookup
	now       func() time.Time
}

func New(st *store.Store[model.BatchRecord], sandboxes SandboxLookup) *Service {
	return &Service{store: st, sandboxes: sandboxes, now: time.Now}
}

// Run synchronously fans requests out with bounded concurrency, persists
// the aggregated BatchRecord, and returns it.
func (s *Service) Run(ctx context.Context, batchID string, requests []ItemRequest) (model.BatchRecord, error) {
	now := s.now()
	record := model.BatchRecord{
		ID:        batchID,
		Status:    model.BatchRunning,
		Items:     make([]model.BatchItemResult, len(requests)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(batchID, record); err != nil {
		return model.BatchRecord{}, apierr.Storage("insert", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	anyFailed := false

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			result := s.runOne(gctx, req)
			record.Items[i] = result
			if result.Error != "" {
				anyFailed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	record.Status = model.BatchCompleted
	if anyFailed {
		record.Status = model.BatchFailed
	}
	record.UpdatedAt = s.now()

	updated, err := s.store.Update(batchID, func(current model.BatchRecord, ok bool) (model.BatchRecord, error) {
		return record, nil
	})
	if err != nil {
		return model.BatchRecord{}, apierr.Storage("update", err)
	}
	return updated, nil
}

func (s *Service) runOne(ctx context.Context, req ItemRequest) model.BatchItemResult {
	result := model.BatchItemResult{SandboxID: req.SandboxID}

	sidecarURL, token, ok := s.sandboxes.Get(req.SandboxID)
	if !ok {
		result.Error = apierr.NotFound("sandbox", req.SandboxID).Error()
		return result
	}

	var out struct {
		Output string `json:"output"`
		Stdout string `json:"stdout"`
	}
	if req.Command != "" {
		result.ExecRequest = req.Command
		err := sidecarclient.Post(ctx, sidecarURL, token, "/terminals/commands", map[string]interface{}{
			"command": req.Command,
		}, &out)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Output = firstNonEmpty(out.Output, out.Stdout)
		return result
	}

	result.ExecRequest = req.Message
	err := sidecarclient.Post(ctx, sidecarURL, token, "/agents/run", map[string]interface{}{
		"identifier": "default",
		"message":    req.Message,
	}, &out)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Output = firstNonEmpty(out.Output, out.Stdout)
	return result
}

func (s *Service) Get(batchID string) (model.BatchRecord, bool) {
	return s.store.Get(batchID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
