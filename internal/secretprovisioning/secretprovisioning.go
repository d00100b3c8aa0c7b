// Package secretprovisioning implements component K: owner-gated
// injection and wipe of a sandbox's user-supplied environment, both
// applied by recreating the container so the sidecar picks up the new
// KEY=VALUE vector at startup.
package secretprovisioning

import (
	"context"
	"encoding/json"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

// Recreator is the subset of dockerruntime.Runtime this package needs.
type Recreator interface {
	RecreateWithEnv(ctx context.Context, id, newUserEnvJSON string) (model.SandboxRecord, error)
}

type Service struct {
	store     *store.Store[model.SandboxRecord]
	recreator Recreator
}

func New(st *store.Store[model.SandboxRecord], recreator Recreator) *Service {
	return &Service{store: st, recreator: recreator}
}

// Inject merges envJSON into the record's existing user_env_json
// (incoming keys override) and recreates the container, gated by owner
// equality between caller and the record's owner.
func (s *Service) Inject(ctx context.Context, sandboxID, caller, envJSON string) (model.SandboxRecord, error) {
	rec, ok := s.store.Get(sandboxID)
	if !ok {
		return model.SandboxRecord{}, apierr.NotFound("sandbox", sandboxID)
	}
	if !rec.OwnerMatches(caller) {
		return model.SandboxRecord{}, apierr.Forbidden("caller does not own this sandbox")
	}

	merged, err := mergeUserEnv(rec.UserEnvJSON, envJSON)
	if err != nil {
		return model.SandboxRecord{}, err
	}
	return s.recreator.RecreateWithEnv(ctx, sandboxID, merged)
}

// Wipe clears the record's user_env_json entirely and recreates the
// container, gated the same way Inject is.
func (s *Service) Wipe(ctx context.Context, sandboxID, caller string) (model.SandboxRecord, error) {
	rec, ok := s.store.Get(sandboxID)
	if !ok {
		return model.SandboxRecord{}, apierr.NotFound("sandbox", sandboxID)
	}
	if !rec.OwnerMatches(caller) {
		return model.SandboxRecord{}, apierr.Forbidden("caller does not own this sandbox")
	}
	return s.recreator.RecreateWithEnv(ctx, sandboxID, "{}")
}

func mergeUserEnv(existingJSON, incomingJSON string) (string, error) {
	merged := map[string]any{}
	if existingJSON != "" {
		if err := json.Unmarshal([]byte(existingJSON), &merged); err != nil {
			return "", apierr.Wrap(apierr.KindValidation, "invalid existing user_env_json", err)
		}
	}
	if incomingJSON != "" {
		var incoming map[string]any
		if err := json.Unmarshal([]byte(incomingJSON), &incoming); err != nil {
			return "", apierr.Wrap(apierr.KindValidation, "invalid incoming env_json", err)
		}
		for k, v := range incoming {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return "", apierr.Wrap(apierr.KindValidation, "failed to marshal merged user env", err)
	}
	return string(out), nil
}
