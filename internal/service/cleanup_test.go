package service

import (
	"context"
	"testing"
	"time"

	"github.com/portero-gateway/portero/internal/adapter/filestore"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/grant"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/domain/task"
)

func TestCleanupLoop_RemovesExpiredGrants(t *testing.T) {
	ctx := context.Background()
	st, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}

	expired := &grant.Grant{ID: "g1", Pattern: "gmail/*", CreatedAt: time.Now().Add(-2 * time.Hour), ExpiresAt: time.Now().Add(-time.Hour)}
	active := &grant.Grant{ID: "g2", Pattern: "slack/*", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	if err := st.CreateGrant(ctx, expired); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	if err := st.CreateGrant(ctx, active); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	loop := NewCleanupLoop(st, time.Minute, 0, nil)
	loop.tick(ctx)

	remaining, err := st.ListGrants(ctx, 0)
	if err != nil {
		t.Fatalf("ListGrants: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "g2" {
		t.Fatalf("expected only the active grant to remain, got %+v", remaining)
	}
}

func TestCleanupLoop_RemovesStalePendingTasksWhenTTLSet(t *testing.T) {
	ctx := context.Background()
	st, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	tasks := NewTaskManager(st)

	stale, err := tasks.Create(ctx, "gmail/send_email", anonymize.Null(), anonymize.Null(), policy.ActionRequireApproval)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := st.UpdateTask(ctx, stale.ID, func(tk *task.Task) error {
		tk.CreatedAt = time.Now().Add(-48 * time.Hour)
		return nil
	}); err != nil {
		t.Fatalf("backdate stale task: %v", err)
	}

	fresh, err := tasks.Create(ctx, "slack/post_message", anonymize.Null(), anonymize.Null(), policy.ActionRequireApproval)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	loop := NewCleanupLoop(st, time.Minute, 24*time.Hour, nil)
	loop.tick(ctx)

	if _, err := tasks.Get(ctx, stale.ID); err == nil {
		t.Fatalf("expected the stale pending task to be removed")
	}
	if _, err := tasks.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("expected the fresh pending task to remain: %v", err)
	}
}

func TestCleanupLoop_LeavesPendingTasksAloneWhenTTLDisabled(t *testing.T) {
	ctx := context.Background()
	st, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	tasks := NewTaskManager(st)

	old, err := tasks.Create(ctx, "gmail/send_email", anonymize.Null(), anonymize.Null(), policy.ActionRequireApproval)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := st.UpdateTask(ctx, old.ID, func(tk *task.Task) error {
		tk.CreatedAt = time.Now().Add(-365 * 24 * time.Hour)
		return nil
	}); err != nil {
		t.Fatalf("backdate task: %v", err)
	}

	loop := NewCleanupLoop(st, time.Minute, 0, nil)
	loop.tick(ctx)

	if _, err := tasks.Get(ctx, old.ID); err != nil {
		t.Fatalf("expected the old task to remain when the TTL is disabled: %v", err)
	}
}
