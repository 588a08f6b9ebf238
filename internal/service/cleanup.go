package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/portero-gateway/portero/internal/domain/task"
	"github.com/portero-gateway/portero/internal/port/store"
)

// CleanupLoop periodically removes expired grants and stale pending-approval
// tasks (spec.md §4.11), logging and swallowing failures so a single bad
// tick never stops the loop.
type CleanupLoop struct {
	store             store.Store
	interval          time.Duration
	pendingApprovalTTL time.Duration
	logger            *slog.Logger
}

// NewCleanupLoop builds a loop firing every interval. pendingApprovalTTL, if
// zero, disables stale pending-approval task removal (the Task entity
// carries no explicit expiresAt field of its own; DESIGN.md derives one
// from createdAt + this TTL).
func NewCleanupLoop(st store.Store, interval, pendingApprovalTTL time.Duration, logger *slog.Logger) *CleanupLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupLoop{store: st, interval: interval, pendingApprovalTTL: pendingApprovalTTL, logger: logger}
}

// Run ticks until ctx is canceled.
func (c *CleanupLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *CleanupLoop) tick(ctx context.Context) {
	c.cleanupGrants(ctx)
	if c.pendingApprovalTTL > 0 {
		c.cleanupStaleTasks(ctx)
	}
}

func (c *CleanupLoop) cleanupGrants(ctx context.Context) {
	grants, err := c.store.ListGrants(ctx, 0)
	if err != nil {
		c.logger.Warn("cleanup: list grants failed", "error", err)
		return
	}
	now := time.Now()
	for _, g := range grants {
		if g.Active(now) {
			continue
		}
		if err := c.store.RemoveGrant(ctx, g.ID); err != nil {
			c.logger.Warn("cleanup: remove expired grant failed", "grant_id", g.ID, "error", err)
		}
	}
}

func (c *CleanupLoop) cleanupStaleTasks(ctx context.Context) {
	pending := task.StatusPendingApproval
	tasks, err := c.store.ListTasks(ctx, store.TaskFilter{Status: &pending})
	if err != nil {
		c.logger.Warn("cleanup: list pending tasks failed", "error", err)
		return
	}
	deadline := time.Now().Add(-c.pendingApprovalTTL)
	for _, t := range tasks {
		if t.CreatedAt.After(deadline) {
			continue
		}
		if err := c.store.RemoveTask(ctx, t.ID); err != nil {
			c.logger.Warn("cleanup: remove stale pending task failed", "task_id", t.ID, "error", err)
		}
	}
}
