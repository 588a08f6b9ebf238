// Package task defines the Task entity and its finite state machine
// (spec.md §3 "Task", §4.7 "Task Manager").
package task

import (
	"fmt"
	"time"

	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/policy"
)

// Status is one node of the task state machine.
type Status string

const (
	StatusPendingApproval Status = "pending-approval"
	StatusApprovedQueued  Status = "approved-queued"
	StatusExecuting       Status = "executing"
	StatusCompleted       Status = "completed"
	StatusDenied          Status = "denied"
	StatusError           Status = "error"
)

// Terminal reports whether s is one of the FSM's terminal states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDenied || s == StatusError
}

// Task is the central entity of the asynchronous approval pipeline.
type Task struct {
	ID             string
	ToolName       string
	RealArgs       anonymize.Value
	OriginalArgs   anonymize.Value
	Status         Status
	Result         *anonymize.Value
	Error          string
	PolicyAction   policy.Action
	ApprovalHandle string

	CreatedAt  time.Time
	ApprovedAt *time.Time
	ExecutedAt *time.Time
	CheckedAt  *time.Time
}

// New creates a task in the pending-approval state (spec.md §4.7 create).
func New(id, toolName string, realArgs, originalArgs anonymize.Value, policyAction policy.Action, now time.Time) *Task {
	return &Task{
		ID:           id,
		ToolName:     toolName,
		RealArgs:     realArgs,
		OriginalArgs: originalArgs,
		Status:       StatusPendingApproval,
		PolicyAction: policyAction,
		CreatedAt:    now,
	}
}

// legalTransitions enumerates the only permitted status -> status edges
// (spec.md §3 state machine diagram). Any edge not listed here is a
// programming error and TransitionTo panics rather than silently applying
// it (spec.md §4.7: "must fail loudly").
var legalTransitions = map[Status]map[Status]bool{
	StatusPendingApproval: {StatusApprovedQueued: true, StatusDenied: true, StatusError: true},
	StatusApprovedQueued:  {StatusExecuting: true},
	StatusExecuting:       {StatusCompleted: true, StatusError: true},
}

// TransitionTo moves the task to target, panicking if the edge is not
// permitted by the FSM. Callers that cannot guarantee legality (e.g. a
// decision arriving from an external channel) must check CanTransitionTo
// first and turn an illegal request into a user-facing error instead of
// calling TransitionTo blindly.
func (t *Task) TransitionTo(target Status, now time.Time) {
	if !t.CanTransitionTo(target) {
		panic(fmt.Sprintf("task: illegal transition %s -> %s for task %s", t.Status, target, t.ID))
	}
	t.Status = target
	switch target {
	case StatusApprovedQueued:
		t.ApprovedAt = &now
	case StatusExecuting:
		t.ExecutedAt = &now
	case StatusCompleted, StatusError:
		if t.ExecutedAt == nil {
			t.ExecutedAt = &now
		} else {
			// Re-stamp on the terminal transition out of "executing" so
			// ExecutedAt always reflects the moment execution finished for
			// tasks that dispatched, matching spec.md §4.7's "and on
			// terminal transitions from executing".
			t.ExecutedAt = &now
		}
	}
}

// CanTransitionTo reports whether target is a legal next state.
func (t *Task) CanTransitionTo(target Status) bool {
	edges, ok := legalTransitions[t.Status]
	return ok && edges[target]
}

// SetResult finalizes a task as completed. Precondition: status is executing
// or approved-queued (spec.md §4.7 table). Both prior states are accepted,
// so a caller may finalize an approved-queued task without an intermediate
// TransitionTo(executing) call; the Executor itself always passes through
// executing first.
func (t *Task) SetResult(result anonymize.Value, now time.Time) {
	if t.Status != StatusExecuting && t.Status != StatusApprovedQueued {
		panic(fmt.Sprintf("task: SetResult illegal from status %s for task %s", t.Status, t.ID))
	}
	t.Status = StatusCompleted
	t.Result = &result
	t.ExecutedAt = &now
}

// SetError finalizes a task as errored. Precondition: status is non-terminal.
func (t *Task) SetError(msg string, now time.Time) {
	if t.Status.Terminal() {
		panic(fmt.Sprintf("task: SetError illegal from terminal status %s for task %s", t.Status, t.ID))
	}
	t.Status = StatusError
	t.Error = msg
	t.ExecutedAt = &now
}

// MarkChecked stamps CheckedAt for observability; it never gates state.
func (t *Task) MarkChecked(now time.Time) {
	t.CheckedAt = &now
}
