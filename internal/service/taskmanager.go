package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/domain/task"
	"github.com/portero-gateway/portero/internal/port/store"
)

// TaskManager is the stateful facade over the tasks collection (spec.md
// §4.7), the sole writer of task state transitions.
type TaskManager struct {
	store store.Store
}

// NewTaskManager builds a TaskManager over st.
func NewTaskManager(st store.Store) *TaskManager {
	return &TaskManager{store: st}
}

// Create starts a new task in pending-approval (spec.md §4.7 create).
func (m *TaskManager) Create(ctx context.Context, toolName string, realArgs, originalArgs anonymize.Value, policyAction policy.Action) (*task.Task, error) {
	t := task.New(uuid.NewString(), toolName, realArgs, originalArgs, policyAction, time.Now())
	if err := m.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// TransitionTo moves a task to target, enforcing the FSM.
func (m *TaskManager) TransitionTo(ctx context.Context, id string, target task.Status) (*task.Task, error) {
	return m.store.UpdateTask(ctx, id, func(t *task.Task) error {
		t.TransitionTo(target, time.Now())
		return nil
	})
}

// SetResult finalizes a task as completed with result.
func (m *TaskManager) SetResult(ctx context.Context, id string, result anonymize.Value) (*task.Task, error) {
	return m.store.UpdateTask(ctx, id, func(t *task.Task) error {
		t.SetResult(result, time.Now())
		return nil
	})
}

// SetError finalizes a task as errored with msg.
func (m *TaskManager) SetError(ctx context.Context, id, msg string) (*task.Task, error) {
	return m.store.UpdateTask(ctx, id, func(t *task.Task) error {
		t.SetError(msg, time.Now())
		return nil
	})
}

// SetApprovalHandle records the Approval Channel's message handle for id so
// a later portero/check_task or portero/list_tasks call can surface it.
func (m *TaskManager) SetApprovalHandle(ctx context.Context, id, handle string) (*task.Task, error) {
	return m.store.UpdateTask(ctx, id, func(t *task.Task) error {
		t.ApprovalHandle = handle
		return nil
	})
}

// MarkChecked stamps CheckedAt for observability.
func (m *TaskManager) MarkChecked(ctx context.Context, id string) (*task.Task, error) {
	return m.store.UpdateTask(ctx, id, func(t *task.Task) error {
		t.MarkChecked(time.Now())
		return nil
	})
}

// Get returns a task by id.
func (m *TaskManager) Get(ctx context.Context, id string) (*task.Task, error) {
	return m.store.GetTask(ctx, id)
}

// List returns tasks matching filter.
func (m *TaskManager) List(ctx context.Context, filter store.TaskFilter) ([]*task.Task, error) {
	return m.store.ListTasks(ctx, filter)
}

// ApplyDecision implements spec.md §4.8's decision-ingestion rules:
// idempotent (a task not in pending-approval is rejected as already
// processed) and serialized per task by the Store's per-collection lock.
// It only performs the FSM transition; side effects (grants, dynamic rule
// upserts) and Executor hand-off are the caller's responsibility, since they
// span other components the TaskManager does not own.
func (m *TaskManager) ApplyDecision(ctx context.Context, id string, approve bool) (*task.Task, error) {
	return m.store.UpdateTask(ctx, id, func(t *task.Task) error {
		if t.Status != task.StatusPendingApproval {
			return apperr.ErrAlreadyProcessed
		}
		if approve {
			t.TransitionTo(task.StatusApprovedQueued, time.Now())
		} else {
			t.TransitionTo(task.StatusDenied, time.Now())
		}
		return nil
	})
}
