// Package store defines the State Store port (spec.md §4.1): durable,
// atomically-written collections for tasks, grants, dynamic rules, admin
// pairing, plus an append-only audit stream.
package store

import (
	"context"
	"time"

	"github.com/portero-gateway/portero/internal/domain/admin"
	"github.com/portero-gateway/portero/internal/domain/grant"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/domain/task"
)

// TaskFilter narrows a task listing by status; a nil Status matches every
// task.
type TaskFilter struct {
	Status *task.Status
	Limit  int
}

// TaskMutator is applied to a task under the store's per-collection lock.
// Returning an error aborts the write, leaving the stored task unchanged.
type TaskMutator func(*task.Task) error

// Store is the exclusive path to durable gateway state (spec.md §5: "no
// component bypasses it").
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	UpdateTask(ctx context.Context, id string, mutate TaskMutator) (*task.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*task.Task, error)
	RemoveTask(ctx context.Context, id string) error

	// Grants
	CreateGrant(ctx context.Context, g *grant.Grant) error
	GetGrant(ctx context.Context, id string) (*grant.Grant, error)
	ListGrants(ctx context.Context, limit int) ([]*grant.Grant, error)
	RemoveGrant(ctx context.Context, id string) error

	// Dynamic rules: Upsert enforces spec.md §8 invariant 3 (exactly one
	// rule per pattern).
	UpsertRule(ctx context.Context, pattern string, action policy.Action) (*policy.DynamicRule, error)
	ListRules(ctx context.Context, limit int) ([]*policy.DynamicRule, error)
	RemoveRule(ctx context.Context, id string) error

	// Admin pairing
	GetPairing(ctx context.Context) (admin.Pairing, error)
	SetPairing(ctx context.Context, p admin.Pairing) error

	// Audit
	AppendAudit(ctx context.Context, record AuditRecord) error
	ListAudit(ctx context.Context, limit int) ([]AuditRecord, error)
}

// AuditRecord is one line of the append-only audit stream (spec.md §4.12,
// out of scope in detail but its interface is consumed by the Store).
type AuditRecord struct {
	Timestamp      time.Time      `json:"timestamp"`
	ToolName       string         `json:"tool_name"`
	TaskID         string         `json:"task_id,omitempty"`
	ApprovalStatus string         `json:"approval_status,omitempty"`
	Error          string         `json:"error,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}
