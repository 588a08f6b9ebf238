package approvalchat

import (
	"strings"
	"testing"
	"time"

	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/domain/task"
)

func mapArgs(entries ...anonymize.MapEntry) anonymize.Value {
	return anonymize.Mapping(entries...)
}

func TestRenderApprovalMessage_Email(t *testing.T) {
	args := mapArgs(
		anonymize.MapEntry{Key: "to", Value: anonymize.String("user@example.com")},
		anonymize.MapEntry{Key: "subject", Value: anonymize.String("Q3 numbers")},
		anonymize.MapEntry{Key: "body", Value: anonymize.String(strings.Repeat("x", 1000))},
	)
	tk := task.New("t1", "gmail/send_email", args, args, policy.ActionRequireApproval, time.Now())

	msg := renderApprovalMessage(tk)
	if !strings.Contains(msg, "to: user@example.com") {
		t.Fatalf("expected 'to' field, got %q", msg)
	}
	if !strings.Contains(msg, "subject: Q3 numbers") {
		t.Fatalf("expected 'subject' field, got %q", msg)
	}
	if strings.Contains(msg, strings.Repeat("x", 1000)) {
		t.Fatal("expected body to be truncated at 800 chars")
	}
}

func TestRenderApprovalMessage_SourceControl(t *testing.T) {
	args := mapArgs(
		anonymize.MapEntry{Key: "owner", Value: anonymize.String("acme")},
		anonymize.MapEntry{Key: "repo", Value: anonymize.String("widgets")},
		anonymize.MapEntry{Key: "title", Value: anonymize.String("Fix bug")},
		anonymize.MapEntry{Key: "branch", Value: anonymize.String("fix/bug")},
	)
	tk := task.New("t1", "github/create_pr", args, args, policy.ActionRequireApproval, time.Now())

	msg := renderApprovalMessage(tk)
	if !strings.Contains(msg, "owner: acme") || !strings.Contains(msg, "repo: widgets") {
		t.Fatalf("expected owner/repo fields, got %q", msg)
	}
}

func TestRenderApprovalMessage_Generic_FallsBackAndCaps(t *testing.T) {
	entries := make([]anonymize.MapEntry, 0, 12)
	for i := 0; i < 12; i++ {
		entries = append(entries, anonymize.MapEntry{Key: string(rune('a' + i)), Value: anonymize.String("v")})
	}
	args := mapArgs(entries...)
	tk := task.New("t1", "custom/do_thing", args, args, policy.ActionRequireApproval, time.Now())

	msg := renderApprovalMessage(tk)
	if !strings.Contains(msg, "more fields") {
		t.Fatalf("expected the generic fallback to cap fields, got %q", msg)
	}
}
