// Package workflow manages WorkflowEntry rows: named payloads that fire
// against a sandbox's agent endpoint on a cron schedule, a webhook call,
// or a manual trigger.
package workflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/sessionauth"
	"github.com/tangle-network/sandbox-controlplane/internal/sidecarclient"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

// SandboxLookup resolves the sidecar URL and bearer token for a sandbox,
// narrowed from model.SandboxRecord so this package never needs the full
// sandbox store's write surface.
type SandboxLookup interface {
	Get(id string) (sidecarURL, token string, ok bool)
}

type Service struct {
	store    *store.Store[model.WorkflowEntry]
	sandboxes SandboxLookup
	parser   cron.Parser
	now      func() time.Time
}

func New(st *store.Store[model.WorkflowEntry], sandboxes SandboxLookup) *Service {
	return &Service{
		store:     st,
		sandboxes: sandboxes,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:       time.Now,
	}
}

// Create inserts a new entry, computing next_run_at for Cron triggers and
// a constant-time-comparable secret token for Webhook triggers.
func (s *Service) Create(entry model.WorkflowEntry) (model.WorkflowEntry, error) {
	now := s.now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	switch entry.Trigger {
	case model.TriggerCron:
		schedule, err := s.parser.Parse(entry.CronExpr)
		if err != nil {
			return model.WorkflowEntry{}, apierr.InvalidInput("cron_expr", err.Error())
		}
		next := schedule.Next(now)
		entry.NextRunAt = &next
	case model.TriggerWebhook:
		token, err := randomToken()
		if err != nil {
			return model.WorkflowEntry{}, apierr.Wrap(apierr.KindStorage, "failed to generate webhook token", err)
		}
		entry.WebhookToken = token
	case model.TriggerManual:
	default:
		return model.WorkflowEntry{}, apierr.InvalidInput("trigger", "must be cron, webhook, or manual")
	}

	if err := s.store.Insert(entry.ID, entry); err != nil {
		return model.WorkflowEntry{}, apierr.Wrap(apierr.KindStorage, "failed to persist workflow entry", err)
	}
	return entry, nil
}

func (s *Service) List() []model.WorkflowEntry {
	return s.store.Values()
}

func (s *Service) Delete(id string) error {
	return s.store.Remove(id)
}

// InvokeWebhook fires id's payload immediately if token matches, in
// constant time, mirroring the session-token comparison property.
func (s *Service) InvokeWebhook(ctx context.Context, id, token string) error {
	entry, ok := s.store.Get(id)
	if !ok {
		return apierr.NotFound("workflow", id)
	}
	if entry.Trigger != model.TriggerWebhook {
		return apierr.Validation("workflow is not webhook-triggered")
	}
	if !sessionauth.ConstantTimeEquals(entry.WebhookToken, token) {
		return apierr.Unauthorized("invalid webhook token")
	}
	return s.fire(ctx, entry)
}

// FireDue forwards every active Cron entry whose next_run_at has passed,
// recomputing its next_run_at afterward. Called once per reaper tick.
func (s *Service) FireDue(ctx context.Context, now time.Time) []error {
	var errs []error
	for _, entry := range s.store.Values() {
		if !entry.Active || entry.Trigger != model.TriggerCron || entry.NextRunAt == nil {
			continue
		}
		if entry.NextRunAt.After(now) {
			continue
		}
		if err := s.fire(ctx, entry); err != nil {
			errs = append(errs, err)
		}
		schedule, err := s.parser.Parse(entry.CronExpr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next := schedule.Next(now)
		if _, err := s.store.Update(entry.ID, func(current model.WorkflowEntry, ok bool) (model.WorkflowEntry, error) {
			if !ok {
				return model.WorkflowEntry{}, apierr.NotFound("workflow", entry.ID)
			}
			current.NextRunAt = &next
			current.UpdatedAt = now
			return current, nil
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *Service) fire(ctx context.Context, entry model.WorkflowEntry) error {
	sidecarURL, token, ok := s.sandboxes.Get(entry.SandboxID)
	if !ok {
		return apierr.NotFound("sandbox", entry.SandboxID)
	}
	var out interface{}
	return sidecarclient.Post(ctx, sidecarURL, token, "/agents/run", map[string]interface{}{
		"identifier": "default",
		"message":    entry.PayloadJSON,
	}, &out)
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
