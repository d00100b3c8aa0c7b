package model

import "time"

// BatchStatus is the lifecycle discriminant of a BatchRecord.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchItemResult is the outcome of fanning one request out to one sandbox.
type BatchItemResult struct {
	SandboxID   string `json:"sandbox_id"`
	ExecRequest string `json:"exec_request"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchRecord fans a single exec/prompt request out across many sandboxes
// and aggregates the per-sandbox results under one id.
type BatchRecord struct {
	ID        string            `json:"id"`
	Status    BatchStatus       `json:"status"`
	Items     []BatchItemResult `json:"items"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TriggerType discriminates how a WorkflowEntry fires.
type TriggerType string

const (
	TriggerCron    TriggerType = "cron"
	TriggerWebhook TriggerType = "webhook"
	TriggerManual  TriggerType = "manual"
)

// WorkflowEntry is a named, optionally cron-scheduled payload forwarded to
// a sandbox's agent endpoint.
type WorkflowEntry struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	PayloadJSON    string      `json:"payload_json"`
	Trigger        TriggerType `json:"trigger"`
	CronExpr       string      `json:"cron_expr,omitempty"`
	WebhookToken   string      `json:"webhook_token,omitempty"`
	SandboxID      string      `json:"sandbox_id"`
	Active         bool        `json:"active"`
	NextRunAt      *time.Time  `json:"next_run_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
