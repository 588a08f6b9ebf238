// Package virtualtool implements the gateway's own tools: entries in
// tools/list whose implementation lives inside the process instead of a
// backend (spec.md §6 "Virtual tools"). The Request Pipeline dispatches to
// this package before falling through to the full policy/anonymize/router
// pipeline.
package virtualtool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/task"
	"github.com/portero-gateway/portero/internal/domain/tool"
	"github.com/portero-gateway/portero/internal/port/store"
)

// Prefix namespaces every virtual tool the gateway exposes.
const Prefix = "portero"

// Names of the fixed virtual tool set (spec.md §6).
const (
	NameSearchTools = "portero/search_tools"
	NameCall        = "portero/call"
	NameCheckTask   = "portero/check_task"
	NameListTasks   = "portero/list_tasks"
)

// IsVirtual reports whether fullName names one of the gateway's own tools.
func IsVirtual(fullName string) bool {
	return strings.HasPrefix(fullName, Prefix+"/")
}

// Definitions returns the fixed set of virtual tool descriptors prepended to
// every tools/list response (spec.md §4.10 step "tools/list").
func Definitions() []tool.Tool {
	return []tool.Tool{
		{Backend: Prefix, LocalName: "search_tools", Description: "Filter the full tool catalog by query text or category keyword."},
		{Backend: Prefix, LocalName: "call", Description: "Delegate a call through the policy pipeline to any tool by its full name."},
		{Backend: Prefix, LocalName: "check_task", Description: "Retrieve a background task's status or final result."},
		{Backend: Prefix, LocalName: "list_tasks", Description: "Summarize recent tasks, optionally filtered by status."},
	}
}

// Searcher is the subset of the Aggregator a search dispatch needs.
type Searcher interface {
	Search(ctx context.Context, query string) ([]tool.Tool, error)
}

// categoryKeywords maps a fixed set of category names to the substrings
// checked against a tool's name and description (spec.md §6 "Category
// keywords for search are a fixed map"). An unknown category falls through
// to a literal substring match against the category string itself.
var categoryKeywords = map[string][]string{
	"filesystem": {"file", "directory", "path", "read", "write"},
	"google":     {"google", "gmail", "calendar", "drive", "sheet", "doc"},
	"gmail":      {"gmail", "email", "mail", "inbox", "label"},
	"calendar":   {"calendar", "event", "meeting", "invite"},
	"drive":      {"drive", "folder", "upload", "download"},
	"email":      {"email", "mail", "inbox", "smtp"},
	"stripe":     {"stripe", "payment", "charge", "invoice", "customer"},
}

// SearchTools implements portero/search_tools: query and/or category narrow
// the unfiltered catalog. Category is checked case-insensitively against
// each keyword, or as a literal substring when the category is not one of
// the fixed keys.
func SearchTools(ctx context.Context, agg Searcher, args anonymize.Value) (anonymize.Value, error) {
	query, _ := stringArg(args, "query")
	category, _ := stringArg(args, "category")

	tools, err := agg.Search(ctx, query)
	if err != nil {
		return anonymize.Value{}, apperr.Wrap(apperr.KindStore, "search tool catalog", err)
	}

	if category != "" {
		keywords, ok := categoryKeywords[strings.ToLower(category)]
		if !ok {
			keywords = []string{strings.ToLower(category)}
		}
		tools = filterByKeywords(tools, keywords)
	}

	sort.Slice(tools, func(i, j int) bool { return tools[i].FullName() < tools[j].FullName() })

	items := make([]anonymize.Value, len(tools))
	for i, t := range tools {
		items[i] = anonymize.Mapping(
			anonymize.MapEntry{Key: "name", Value: anonymize.String(t.FullName())},
			anonymize.MapEntry{Key: "description", Value: anonymize.String(t.Description)},
		)
	}

	return Envelope(textResult(anonymize.Mapping(
		anonymize.MapEntry{Key: "count", Value: anonymize.Number(float64(len(items)))},
		anonymize.MapEntry{Key: "tools", Value: anonymize.Value{Kind: anonymize.KindArray, Array: items}},
	)), false), nil
}

func filterByKeywords(tools []tool.Tool, keywords []string) []tool.Tool {
	var out []tool.Tool
	for _, t := range tools {
		hay := strings.ToLower(t.FullName()) + " " + strings.ToLower(t.Description)
		for _, kw := range keywords {
			if strings.Contains(hay, kw) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// CallArgs extracts the delegated tool name and arguments from a
// portero/call invocation.
func CallArgs(args anonymize.Value) (toolName string, callArgs anonymize.Value, err error) {
	toolName, ok := stringArg(args, "tool")
	if !ok || toolName == "" {
		return "", anonymize.Value{}, apperr.Wrap(apperr.KindTransport, "portero/call requires a \"tool\" argument", nil)
	}
	callArgs, _ = args.Get("args")
	return toolName, callArgs, nil
}

// CheckTask implements portero/check_task. A missing task is a structured
// response, not an error (spec.md §7 "Task-not-found ... returns a
// structured response").
func CheckTask(ctx context.Context, tasks TaskGetter, taskID string) (anonymize.Value, error) {
	t, err := tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Envelope(textResult(anonymize.Mapping(
				anonymize.MapEntry{Key: "status", Value: anonymize.String("not-found")},
				anonymize.MapEntry{Key: "task_id", Value: anonymize.String(taskID)},
			)), false), nil
		}
		return anonymize.Value{}, apperr.Wrap(apperr.KindStore, "load task", err)
	}

	if t.Status == task.StatusCompleted && t.Result != nil {
		return *t.Result, nil
	}

	entry := anonymize.Mapping(
		anonymize.MapEntry{Key: "status", Value: anonymize.String(string(t.Status))},
		anonymize.MapEntry{Key: "task_id", Value: anonymize.String(t.ID)},
		anonymize.MapEntry{Key: "tool_name", Value: anonymize.String(t.ToolName)},
	)
	if t.Status == task.StatusError {
		entry.Mapping = append(entry.Mapping, anonymize.MapEntry{Key: "error", Value: anonymize.String(t.Error)})
	}
	return Envelope(textResult(entry), t.Status == task.StatusError), nil
}

// TaskGetter is the subset of the Task Manager a check_task/list_tasks
// dispatch needs.
type TaskGetter interface {
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, filter store.TaskFilter) ([]*task.Task, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListTasks implements portero/list_tasks, rendering each summary with a
// human-relative age ("created 3m ago") instead of a raw timestamp.
func ListTasks(ctx context.Context, tasks TaskGetter, args anonymize.Value, now time.Time) (anonymize.Value, error) {
	var filter store.TaskFilter
	if s, ok := stringArg(args, "status"); ok && s != "" {
		st := task.Status(s)
		filter.Status = &st
	}

	limit := defaultListLimit
	if n, ok := numberArg(args, "limit"); ok {
		limit = int(n)
	}
	if limit <= 0 || limit > maxListLimit {
		limit = min(max(limit, 1), maxListLimit)
	}
	filter.Limit = limit

	found, err := tasks.List(ctx, filter)
	if err != nil {
		return anonymize.Value{}, apperr.Wrap(apperr.KindStore, "list tasks", err)
	}

	lines := make([]string, 0, len(found))
	for _, t := range found {
		lines = append(lines, fmt.Sprintf("%s  %-16s  %s  created %s ago", t.ID, t.Status, t.ToolName, relativeAge(now, t.CreatedAt)))
	}
	summary := strings.Join(lines, "\n")
	if summary == "" {
		summary = "no tasks match"
	}

	return Envelope(anonymize.Value{Kind: anonymize.KindArray, Array: []anonymize.Value{
		anonymize.Mapping(
			anonymize.MapEntry{Key: "type", Value: anonymize.String("text")},
			anonymize.MapEntry{Key: "text", Value: anonymize.String(summary)},
		),
	}}, false), nil
}

// relativeAge renders a coarse relative duration ("3m", "2h", "5d") the way
// a chat-facing summary favors over an ISO timestamp.
func relativeAge(now, at time.Time) string {
	d := now.Sub(at)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return strconv.Itoa(int(d.Seconds())) + "s"
	case d < time.Hour:
		return strconv.Itoa(int(d.Minutes())) + "m"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d.Hours())) + "h"
	default:
		return strconv.Itoa(int(d.Hours()/24)) + "d"
	}
}

// Envelope wraps a content array in the {content, isError} mapping shape
// that both virtual-tool replies and real backend results share, so
// callers never have to special-case which produced a given CallTool
// result.
func Envelope(content anonymize.Value, isError bool) anonymize.Value {
	return anonymize.Mapping(
		anonymize.MapEntry{Key: "content", Value: content},
		anonymize.MapEntry{Key: "isError", Value: anonymize.Bool(isError)},
	)
}

// textResult wraps v as MCP text content, JSON-encoding it into the text
// field the way spec.md §6 describes for search_tools and check_task.
func textResult(v anonymize.Value) anonymize.Value {
	data, err := json.Marshal(v.ToJSON())
	if err != nil {
		data = []byte(`{}`)
	}
	return anonymize.Value{Kind: anonymize.KindArray, Array: []anonymize.Value{
		anonymize.Mapping(
			anonymize.MapEntry{Key: "type", Value: anonymize.String("text")},
			anonymize.MapEntry{Key: "text", Value: anonymize.String(string(data))},
		),
	}}
}

func stringArg(args anonymize.Value, key string) (string, bool) {
	v, ok := args.Get(key)
	if !ok || v.Kind != anonymize.KindString {
		return "", false
	}
	return v.Str, true
}

func numberArg(args anonymize.Value, key string) (float64, bool) {
	v, ok := args.Get(key)
	if !ok || v.Kind != anonymize.KindNumber {
		return 0, false
	}
	return v.Number, true
}
