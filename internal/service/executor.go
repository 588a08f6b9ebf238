package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/portero-gateway/portero/internal/adapter/router"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/task"
	"github.com/portero-gateway/portero/internal/port/approval"
	"github.com/portero-gateway/portero/internal/port/store"
)

// Executor drains approved tasks and dispatches them in the background
// (spec.md §4.9). It does not re-check policy: approval authorizes
// execution at the moment it is granted.
type Executor struct {
	tasks        *TaskManager
	router       *router.Router
	replacements []anonymize.ReplacementRule
	channel      approval.Channel
	audit        store.Store
	logger       *slog.Logger

	queue chan string
}

// NewExecutor builds an Executor with a bounded backlog of pending task IDs.
func NewExecutor(tasks *TaskManager, r *router.Router, replacements []anonymize.ReplacementRule, channel approval.Channel, audit store.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		tasks:        tasks,
		router:       r,
		replacements: replacements,
		channel:      channel,
		audit:        audit,
		logger:       logger,
		queue:        make(chan string, 256),
	}
}

// Enqueue schedules a task for background execution. Non-blocking up to the
// queue's backlog; callers should not enqueue a task not already in
// approved-queued.
func (e *Executor) Enqueue(id string) {
	e.queue <- id
}

// Run drains the queue with a fixed pool of worker goroutines until ctx is
// canceled, mirroring the teacher's own goroutine-supervised background
// loop shape (cmd/portero-gateway/main.go's server-plus-signal pattern)
// generalized to a worker pool via golang.org/x/sync/errgroup.
func (e *Executor) Run(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return e.drainLoop(ctx)
		})
	}
	return g.Wait()
}

func (e *Executor) drainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-e.queue:
			e.execute(ctx, id)
		}
	}
}

func (e *Executor) execute(ctx context.Context, id string) {
	t, err := e.tasks.TransitionTo(ctx, id, task.StatusExecuting)
	if err != nil {
		e.logger.Error("executor could not start task", "task_id", id, "error", err)
		return
	}

	result, err := e.router.Call(ctx, t.ToolName, t.RealArgs)
	if err != nil {
		e.fail(ctx, t, err)
		return
	}

	outbound := anonymize.Apply(result, e.replacements, anonymize.Outbound)
	if _, err := e.tasks.SetResult(ctx, id, outbound); err != nil {
		e.logger.Error("executor could not persist result", "task_id", id, "error", err)
		return
	}

	e.recordAudit(ctx, t.ToolName, id, "approved", "")
	e.channel.Notify(ctx, approval.Notice{Status: "completed", ToolName: t.ToolName, At: time.Now()})
}

func (e *Executor) fail(ctx context.Context, t *task.Task, cause error) {
	if _, err := e.tasks.SetError(ctx, t.ID, cause.Error()); err != nil {
		e.logger.Error("executor could not persist task error", "task_id", t.ID, "error", err)
	}
	e.recordAudit(ctx, t.ToolName, t.ID, "approved", cause.Error())
	e.channel.Notify(ctx, approval.Notice{Status: "error", ToolName: t.ToolName, Reason: cause.Error(), At: time.Now()})
}

func (e *Executor) recordAudit(ctx context.Context, toolName, taskID, approvalStatus, errMsg string) {
	if err := e.audit.AppendAudit(ctx, store.AuditRecord{
		Timestamp:      time.Now(),
		ToolName:       toolName,
		TaskID:         taskID,
		ApprovalStatus: approvalStatus,
		Error:          errMsg,
	}); err != nil {
		e.logger.Error("executor could not append audit record", "task_id", taskID, "error", err)
	}
}
