package approvalchat

import (
	"fmt"
	"strings"

	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/task"
)

const (
	bodyTruncateLen    = 800
	genericValueLen    = 200
	genericFieldsLimit = 8
)

// renderApprovalMessage builds the human-readable summary shown to the admin
// (spec.md §6 "Approval message format"), operating on the task's
// caller-facing pseudonymized args so the chat surface never sees a real
// secret.
func renderApprovalMessage(t *task.Task) string {
	args := t.OriginalArgs
	var b strings.Builder
	fmt.Fprintf(&b, "Approval requested: %s\n", t.ToolName)

	switch family(t.ToolName, args) {
	case familyEmail:
		renderEmail(&b, args)
	case familyCalendar:
		renderCalendar(&b, args)
	case familyFile:
		renderFile(&b, args)
	case familySourceControl:
		renderSourceControl(&b, args)
	case familyPayment:
		renderPayment(&b, args)
	default:
		renderGeneric(&b, args)
	}
	return b.String()
}

type toolFamily int

const (
	familyGeneric toolFamily = iota
	familyEmail
	familyCalendar
	familyFile
	familySourceControl
	familyPayment
)

// family classifies a tool invocation by inspecting which distinguished
// fields its args carry, since the gateway has no static schema registry to
// consult (spec.md §6: recognized families are distinguished by field
// shape, not by declared type).
func family(_ string, args anonymize.Value) toolFamily {
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := args.Get(k); ok {
				return true
			}
		}
		return false
	}
	switch {
	case has("to", "cc", "bcc") && has("subject", "body"):
		return familyEmail
	case has("summary", "start", "end") && has("attendees", "location"):
		return familyCalendar
	case has("owner", "repo") && has("title", "branch", "head", "base"):
		return familySourceControl
	case has("amount", "currency"):
		return familyPayment
	case has("path", "destination") || has("content-length"):
		return familyFile
	default:
		return familyGeneric
	}
}

func renderEmail(b *strings.Builder, args anonymize.Value) {
	writeField(b, "to", args)
	writeField(b, "cc", args)
	writeField(b, "bcc", args)
	writeField(b, "subject", args)
	if body, ok := args.Get("body"); ok {
		fmt.Fprintf(b, "body: %s\n", truncate(valueString(body), bodyTruncateLen))
	}
}

func renderCalendar(b *strings.Builder, args anonymize.Value) {
	writeField(b, "summary", args)
	writeField(b, "start", args)
	writeField(b, "end", args)
	writeField(b, "attendees", args)
	writeField(b, "location", args)
	writeField(b, "description", args)
}

func renderFile(b *strings.Builder, args anonymize.Value) {
	writeField(b, "path", args)
	writeField(b, "destination", args)
	writeField(b, "content-length", args)
}

func renderSourceControl(b *strings.Builder, args anonymize.Value) {
	writeField(b, "owner", args)
	writeField(b, "repo", args)
	writeField(b, "title", args)
	writeField(b, "body", args)
	writeField(b, "branch", args)
	writeField(b, "head", args)
	writeField(b, "base", args)
}

func renderPayment(b *strings.Builder, args anonymize.Value) {
	writeField(b, "amount", args)
	writeField(b, "currency", args)
	writeField(b, "customer", args)
	writeField(b, "description", args)
	writeField(b, "email", args)
	writeField(b, "name", args)
}

// renderGeneric handles unrecognized shapes and documents/database records,
// falling back to a bounded key-value dump (spec.md §6).
func renderGeneric(b *strings.Builder, args anonymize.Value) {
	if args.Kind != anonymize.KindMapping {
		fmt.Fprintf(b, "args: %s\n", truncate(valueString(args), genericValueLen))
		return
	}
	for i, entry := range args.Mapping {
		if i >= genericFieldsLimit {
			fmt.Fprintf(b, "... (%d more fields)\n", len(args.Mapping)-genericFieldsLimit)
			break
		}
		fmt.Fprintf(b, "%s: %s\n", entry.Key, truncate(valueString(entry.Value), genericValueLen))
	}
}

func writeField(b *strings.Builder, key string, args anonymize.Value) {
	v, ok := args.Get(key)
	if !ok {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", key, valueString(v))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func valueString(v anonymize.Value) string {
	switch v.Kind {
	case anonymize.KindString:
		return v.Str
	case anonymize.KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case anonymize.KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case anonymize.KindNull:
		return "null"
	case anonymize.KindArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = valueString(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case anonymize.KindMapping:
		parts := make([]string, len(v.Mapping))
		for i, e := range v.Mapping {
			parts[i] = e.Key + "=" + valueString(e.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return ""
	}
}
