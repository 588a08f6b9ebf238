package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/grant"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/domain/task"
	"github.com/portero-gateway/portero/internal/port/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStore_CreateGetTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tk := task.New("t1", "gmail/send_email", anonymize.String("r"), anonymize.String("f"), policy.ActionRequireApproval, time.Now())
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.ToolName != "gmail/send_email" {
		t.Fatalf("got %+v", got)
	}
}

func TestStore_GetTask_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTask(context.Background(), "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestStore_UpdateTask_Mutator(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tk := task.New("t1", "x/y", anonymize.Null(), anonymize.Null(), policy.ActionRequireApproval, time.Now())
	_ = s.CreateTask(ctx, tk)

	updated, err := s.UpdateTask(ctx, "t1", func(t *task.Task) error {
		t.TransitionTo(task.StatusApprovedQueued, time.Now())
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Status != task.StatusApprovedQueued {
		t.Fatalf("got %s", updated.Status)
	}

	reloaded, _ := s.GetTask(ctx, "t1")
	if reloaded.Status != task.StatusApprovedQueued {
		t.Fatalf("update not persisted: %+v", reloaded)
	}
}

func TestStore_ListTasks_FilterAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		tk := task.New(id, "x/y", anonymize.Null(), anonymize.Null(), policy.ActionAllow, time.Now())
		if i%2 == 0 {
			tk.TransitionTo(task.StatusDenied, time.Now())
		}
		_ = s.CreateTask(ctx, tk)
	}

	denied := task.StatusDenied
	out, err := s.ListTasks(ctx, store.TaskFilter{Status: &denied, Limit: 2})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected limit=2, got %d", len(out))
	}
	for _, tk := range out {
		if tk.Status != task.StatusDenied {
			t.Fatalf("filter leaked non-denied task: %+v", tk)
		}
	}
}

func TestStore_UpsertRule_OnePerPattern(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertRule(ctx, "x/*", policy.ActionAllow); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if _, err := s.UpsertRule(ctx, "x/*", policy.ActionDeny); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	rules, err := s.ListRules(ctx, 0)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected exactly one rule per pattern, got %d", len(rules))
	}
	if rules[0].Action != policy.ActionDeny {
		t.Fatalf("expected most recent upsert to win, got %s", rules[0].Action)
	}
}

func TestStore_Grant_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g := &grant.Grant{Pattern: "gmail/*", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.CreateGrant(ctx, g); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	if g.ID == "" {
		t.Fatal("expected an ID to be assigned")
	}

	if err := s.RemoveGrant(ctx, g.ID); err != nil {
		t.Fatalf("RemoveGrant: %v", err)
	}
	if _, err := s.GetGrant(ctx, g.ID); err == nil {
		t.Fatal("expected not-found after removal")
	}
}

// TestStore_Atomicity simulates a crash between the temp-file write and the
// rename by writing valid content, then manually leaving a stray ".tmp"
// file behind: a read must still return the previously committed content
// (spec.md §8 invariant 7).
func TestStore_Atomicity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tk := task.New("t1", "x/y", anonymize.Null(), anonymize.Null(), policy.ActionAllow, time.Now())
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Simulate a crash mid-write: a stray temp file with corrupt content
	// must never be picked up by a reader.
	stray := filepath.Join(s.dir, ".tasks.json.tmp")
	if err := os.WriteFile(stray, []byte("{corrupt"), 0o644); err != nil {
		t.Fatalf("write stray tmp: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask after simulated crash: %v", err)
	}
	if got.ID != "t1" {
		t.Fatalf("got %+v", got)
	}
}
