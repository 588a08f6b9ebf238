package approvalchat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/portero-gateway/portero/internal/domain/admin"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/grant"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/domain/task"
	"github.com/portero-gateway/portero/internal/port/approval"
	"github.com/portero-gateway/portero/internal/port/notifier"
	"github.com/portero-gateway/portero/internal/port/store"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(_ context.Context, n notifier.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type memPairingStore struct {
	mu sync.Mutex
	p  admin.Pairing
}

func (m *memPairingStore) GetPairing(context.Context) (admin.Pairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p, nil
}

func (m *memPairingStore) SetPairing(_ context.Context, p admin.Pairing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p = p
	return nil
}

// memAdminStore extends memPairingStore with in-memory grant, dynamic-rule,
// task, and audit collections so tests can exercise the paired admin
// command surface without a filestore.
type memAdminStore struct {
	memPairingStore

	mu     sync.Mutex
	grants []*grant.Grant
	rules  []*policy.DynamicRule
	tasks  []*task.Task
	audit  []store.AuditRecord
}

func (m *memAdminStore) CreateGrant(_ context.Context, g *grant.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants = append(m.grants, g)
	return nil
}

func (m *memAdminStore) ListGrants(_ context.Context, _ int) ([]*grant.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*grant.Grant{}, m.grants...), nil
}

func (m *memAdminStore) RemoveGrant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.grants[:0]
	for _, g := range m.grants {
		if g.ID != id {
			out = append(out, g)
		}
	}
	m.grants = out
	return nil
}

func (m *memAdminStore) UpsertRule(_ context.Context, pattern string, action policy.Action) (*policy.DynamicRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.Pattern == pattern {
			r.Action = action
			return r, nil
		}
	}
	r := &policy.DynamicRule{ID: uuid.NewString(), Pattern: pattern, Action: action, CreatedAt: time.Now()}
	m.rules = append(m.rules, r)
	return r, nil
}

func (m *memAdminStore) ListRules(_ context.Context, _ int) ([]*policy.DynamicRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*policy.DynamicRule{}, m.rules...), nil
}

func (m *memAdminStore) RemoveRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.rules[:0]
	for _, r := range m.rules {
		if r.ID != id {
			out = append(out, r)
		}
	}
	m.rules = out
	return nil
}

func (m *memAdminStore) ListTasks(_ context.Context, filter store.TaskFilter) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if filter.Status == nil {
		return append([]*task.Task{}, m.tasks...), nil
	}
	var out []*task.Task
	for _, tk := range m.tasks {
		if tk.Status == *filter.Status {
			out = append(out, tk)
		}
	}
	return out, nil
}

func (m *memAdminStore) ListAudit(_ context.Context, _ int) ([]store.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.AuditRecord{}, m.audit...), nil
}

// mustHash bcrypt-hashes secret for tests that need a Channel built with a
// real pairing secret configured.
func mustHash(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword: %v", err)
	}
	return string(hash)
}

func TestChannel_Paired_ReflectsStore(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "s3cret"), time.Second, 25, nil)

	paired, err := ch.Paired(context.Background())
	if err != nil {
		t.Fatalf("Paired: %v", err)
	}
	if paired {
		t.Fatal("expected unpaired initially")
	}

	_ = st.SetPairing(context.Background(), admin.Pairing{ChatID: "chat1", PairedAt: time.Now()})
	paired, err = ch.Paired(context.Background())
	if err != nil {
		t.Fatalf("Paired: %v", err)
	}
	if !paired {
		t.Fatal("expected paired after SetPairing")
	}
}

func TestChannel_Notify_FlushesOnMaxNotices(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "s3cret"), time.Hour, 2, nil)

	ch.Notify(context.Background(), approval.Notice{Status: "completed", ToolName: "gmail/send_email", At: time.Now()})
	ch.noticeMu.Lock()
	pending := len(ch.notices)
	ch.noticeMu.Unlock()
	if pending != 1 {
		t.Fatalf("expected 1 pending notice, got %d", pending)
	}

	ch.Notify(context.Background(), approval.Notice{Status: "denied", ToolName: "gmail/send_email", At: time.Now()})
	ch.noticeMu.Lock()
	pending = len(ch.notices)
	ch.noticeMu.Unlock()
	if pending != 0 {
		t.Fatalf("expected the batch to flush at the max-notices cap, got %d pending", pending)
	}
}

func TestChannel_Notify_FlushesOnTimer(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "s3cret"), 20*time.Millisecond, 100, nil)

	ch.Notify(context.Background(), approval.Notice{Status: "completed", ToolName: "x/y", At: time.Now()})
	time.Sleep(60 * time.Millisecond)

	ch.noticeMu.Lock()
	defer ch.noticeMu.Unlock()
	if len(ch.notices) != 0 {
		t.Fatalf("expected the digest window to flush pending notices, got %d pending", len(ch.notices))
	}
}

func TestChannel_RequestApproval_EchoesToFallbackNotifier(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "s3cret"), time.Second, 25, nil)
	rec := &recordingNotifier{}
	ch.SetFallbackNotifier(rec)

	t1 := task.New("t1", "gmail/send_email", anonymize.Null(), anonymize.Null(), policy.ActionRequireApproval, time.Now())
	if _, err := ch.RequestApproval(context.Background(), t1); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected fallback notifier to receive 1 notification, got %d", rec.count())
	}
}

func TestChannel_Notify_FlushDigestEchoesToFallbackNotifier(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "s3cret"), time.Hour, 1, nil)
	rec := &recordingNotifier{}
	ch.SetFallbackNotifier(rec)

	ch.Notify(context.Background(), approval.Notice{Status: "completed", ToolName: "gmail/send_email", At: time.Now()})

	if rec.count() != 1 {
		t.Fatalf("expected fallback notifier to receive 1 digest notification, got %d", rec.count())
	}
}

func TestChannel_Decisions_ChannelReceivesInbound(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "s3cret"), time.Second, 25, nil)

	go ch.handleInbound(context.Background(), []byte(`{"type":"decision","task_id":"t1","approve":true,"chat_id":"admin"}`))

	select {
	case d := <-ch.Decisions():
		if d.TaskID != "t1" || !d.Approve || d.Principal != "admin" {
			t.Fatalf("unexpected decision: %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestChannel_HandleInbound_Whoami_DoesNotPanicWhenUnpaired(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "correct-secret"), time.Second, 25, nil)
	ch.handleInbound(context.Background(), []byte(`{"type":"whoami"}`))
}

func TestChannel_HandlePair_RejectsWrongSecret(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "correct-secret"), time.Second, 25, nil)

	ch.handleInbound(context.Background(), []byte(`{"type":"pair","chat_id":"admin","secret":"wrong"}`))

	paired, err := ch.Paired(context.Background())
	if err != nil {
		t.Fatalf("Paired: %v", err)
	}
	if paired {
		t.Fatal("expected pairing to be rejected with the wrong secret")
	}
}

func TestChannel_HandlePair_AcceptsCorrectSecret(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "correct-secret"), time.Second, 25, nil)

	ch.handleInbound(context.Background(), []byte(`{"type":"pair","chat_id":"admin","secret":"correct-secret"}`))

	pairing, err := st.GetPairing(context.Background())
	if err != nil {
		t.Fatalf("GetPairing: %v", err)
	}
	if pairing.ChatID != "admin" {
		t.Fatalf("expected chat_id admin to be paired, got %+v", pairing)
	}
}

func TestChannel_HandlePair_RejectsSecondPairAttempt(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "correct-secret"), time.Second, 25, nil)

	ch.handleInbound(context.Background(), []byte(`{"type":"pair","chat_id":"admin","secret":"correct-secret"}`))
	ch.handleInbound(context.Background(), []byte(`{"type":"pair","chat_id":"attacker","secret":"correct-secret"}`))

	pairing, err := st.GetPairing(context.Background())
	if err != nil {
		t.Fatalf("GetPairing: %v", err)
	}
	if pairing.ChatID != "admin" {
		t.Fatalf("expected the original pairing to survive a second pair attempt, got %+v", pairing)
	}
}

func TestChannel_HandlePair_NoConfiguredSecretRefusesEveryAttempt(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, "", time.Second, 25, nil)

	ch.handleInbound(context.Background(), []byte(`{"type":"pair","chat_id":"admin","secret":"anything"}`))

	paired, err := ch.Paired(context.Background())
	if err != nil {
		t.Fatalf("Paired: %v", err)
	}
	if paired {
		t.Fatal("expected pairing to stay refused with no pairing secret hash configured")
	}
}

func TestChannel_AdminCommand_RejectedWhenUnpaired(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "correct-secret"), time.Second, 25, nil)

	ch.handleInbound(context.Background(), []byte(`{"type":"grant_create","chat_id":"admin","pattern":"gmail/send_email"}`))

	if len(st.grants) != 0 {
		t.Fatalf("expected no grant created before pairing, got %+v", st.grants)
	}
}

func TestChannel_AdminCommand_RejectedForWrongPrincipal(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "correct-secret"), time.Second, 25, nil)
	ch.handleInbound(context.Background(), []byte(`{"type":"pair","chat_id":"admin","secret":"correct-secret"}`))

	ch.handleInbound(context.Background(), []byte(`{"type":"grant_create","chat_id":"someone-else","pattern":"gmail/send_email"}`))

	if len(st.grants) != 0 {
		t.Fatalf("expected no grant created by an unmatched principal, got %+v", st.grants)
	}
}

func TestChannel_AdminCommand_GrantCreateAndRevoke(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "correct-secret"), time.Second, 25, nil)
	ch.handleInbound(context.Background(), []byte(`{"type":"pair","chat_id":"admin","secret":"correct-secret"}`))

	ch.handleInbound(context.Background(), []byte(`{"type":"grant_create","chat_id":"admin","pattern":"gmail/send_email","ttl_seconds":60}`))
	if len(st.grants) != 1 || st.grants[0].Pattern != "gmail/send_email" {
		t.Fatalf("expected one grant for gmail/send_email, got %+v", st.grants)
	}

	grantID := st.grants[0].ID
	ch.handleInbound(context.Background(), []byte(`{"type":"grant_revoke","chat_id":"admin","grant_id":"`+grantID+`"}`))
	if len(st.grants) != 0 {
		t.Fatalf("expected the grant to be revoked, got %+v", st.grants)
	}
}

func TestChannel_AdminCommand_RuleUpsertAndRemove(t *testing.T) {
	st := &memAdminStore{}
	ch := New(st, mustHash(t, "correct-secret"), time.Second, 25, nil)
	ch.handleInbound(context.Background(), []byte(`{"type":"pair","chat_id":"admin","secret":"correct-secret"}`))

	ch.handleInbound(context.Background(), []byte(`{"type":"rule_upsert","chat_id":"admin","pattern":"github/*","action":"deny"}`))
	if len(st.rules) != 1 || st.rules[0].Action != policy.ActionDeny {
		t.Fatalf("expected one deny rule for github/*, got %+v", st.rules)
	}

	ruleID := st.rules[0].ID
	ch.handleInbound(context.Background(), []byte(`{"type":"rule_remove","chat_id":"admin","rule_id":"`+ruleID+`"}`))
	if len(st.rules) != 0 {
		t.Fatalf("expected the rule to be removed, got %+v", st.rules)
	}
}
