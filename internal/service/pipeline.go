package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/portero-gateway/portero/internal/adapter/aggregator"
	"github.com/portero-gateway/portero/internal/adapter/router"
	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/domain/tool"
	"github.com/portero-gateway/portero/internal/port/approval"
	"github.com/portero-gateway/portero/internal/port/store"
	"github.com/portero-gateway/portero/internal/virtualtool"
)

// Pipeline implements the Request Pipeline (spec.md §4.10): it is the sole
// caller of the Anonymizer, Policy Resolver, Task Manager, Router, and
// Approval Channel for a synchronous JSON-RPC tools/call.
type Pipeline struct {
	aggregator   *aggregator.Aggregator
	router       *router.Router
	replacements []anonymize.ReplacementRule
	policy       *PolicyResolver
	tasks        *TaskManager
	channel      approval.Channel
	audit        store.Store
	logger       *slog.Logger
}

// NewPipeline wires the components a tools/call must pass through. Approved
// tasks are handed off to the Executor by the DecisionProcessor, not by the
// Pipeline itself: a synchronous tools/call never touches the Executor.
func NewPipeline(
	agg *aggregator.Aggregator,
	rtr *router.Router,
	replacements []anonymize.ReplacementRule,
	resolver *PolicyResolver,
	tasks *TaskManager,
	channel approval.Channel,
	audit store.Store,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		aggregator:   agg,
		router:       rtr,
		replacements: replacements,
		policy:       resolver,
		tasks:        tasks,
		channel:      channel,
		audit:        audit,
		logger:       logger,
	}
}

// ListTools returns the filtered aggregate prepended with the virtual tool
// definitions (spec.md §4.10 "tools/list").
func (p *Pipeline) ListTools(ctx context.Context) ([]tool.Tool, error) {
	filtered, err := p.aggregator.Filtered(ctx)
	if err != nil {
		return nil, err
	}
	return append(virtualtool.Definitions(), filtered...), nil
}

// ReadResource delegates to the Router (spec.md §4.10 "resources/read").
func (p *Pipeline) ReadResource(ctx context.Context, uri string) (anonymize.Value, error) {
	return p.router.ReadResource(ctx, uri)
}

// CallTool implements spec.md §4.10's tools/call flow in full: virtual tool
// dispatch, then anonymize/resolve/grant-check/deny/require-approval/allow.
func (p *Pipeline) CallTool(ctx context.Context, fullName string, rawArgs anonymize.Value) (anonymize.Value, error) {
	if virtualtool.IsVirtual(fullName) {
		return p.dispatchVirtual(ctx, fullName, rawArgs)
	}

	realArgs := anonymize.Apply(rawArgs, p.replacements, anonymize.Inbound)

	resolution, err := p.policy.Resolve(ctx, fullName)
	if err != nil {
		return anonymize.Value{}, apperr.Wrap(apperr.KindStore, "resolve policy", err)
	}

	hasGrant, err := p.hasActiveGrant(ctx, fullName)
	if err != nil {
		return anonymize.Value{}, apperr.Wrap(apperr.KindStore, "check grants", err)
	}

	switch {
	case resolution.Action == policy.ActionDeny:
		return p.deny(ctx, fullName, resolution)

	case resolution.Action == policy.ActionRequireApproval && !hasGrant:
		return p.parkForApproval(ctx, fullName, realArgs, rawArgs, resolution)

	case resolution.Action == policy.ActionRequireApproval:
		// hasGrant is true here: an active grant is standing in for the
		// approval this tool would otherwise require (spec.md §4.10 step c).
		return p.dispatchNow(ctx, fullName, realArgs, "approved")

	default:
		// Plain allow: no approval or grant was ever consulted, so the audit
		// record's approvalStatus stays empty/null (spec.md §8 Scenario S1).
		return p.dispatchNow(ctx, fullName, realArgs, "")
	}
}

func (p *Pipeline) dispatchVirtual(ctx context.Context, fullName string, args anonymize.Value) (anonymize.Value, error) {
	switch fullName {
	case virtualtool.NameSearchTools:
		return virtualtool.SearchTools(ctx, p.aggregator, args)

	case virtualtool.NameCall:
		toolName, callArgs, err := virtualtool.CallArgs(args)
		if err != nil {
			return anonymize.Value{}, err
		}
		return p.CallTool(ctx, toolName, callArgs)

	case virtualtool.NameCheckTask:
		taskID, _ := stringField(args, "task_id")
		result, err := virtualtool.CheckTask(ctx, p.tasks, taskID)
		if err == nil {
			_, _ = p.tasks.MarkChecked(ctx, taskID)
		}
		return result, err

	case virtualtool.NameListTasks:
		return virtualtool.ListTasks(ctx, p.tasks, args, time.Now())

	default:
		return anonymize.Value{}, apperr.New(apperr.KindTransport, "unknown virtual tool "+fullName)
	}
}

// hasActiveGrant implements spec.md §4.10 step c: "any active grant matches
// the tool name", where matching follows the same pattern language as
// policy resolution.
func (p *Pipeline) hasActiveGrant(ctx context.Context, fullName string) (bool, error) {
	grants, err := p.audit.ListGrants(ctx, 0)
	if err != nil {
		return false, err
	}
	now := time.Now()
	for _, g := range grants {
		if g.Active(now) && policy.MatchPattern(fullName, g.Pattern) {
			return true, nil
		}
	}
	return false, nil
}

func (p *Pipeline) deny(ctx context.Context, fullName string, resolution policy.Resolution) (anonymize.Value, error) {
	p.recordAudit(ctx, fullName, "", "denied", "denied by policy")
	p.channel.Notify(ctx, approval.Notice{Status: "blocked", ToolName: fullName, Reason: "denied by policy", At: time.Now()})
	return anonymize.Value{}, apperr.Wrap(apperr.KindPolicyDenied, "tool "+fullName+" is denied by policy", apperr.ErrPolicyDenied)
}

func (p *Pipeline) parkForApproval(ctx context.Context, fullName string, realArgs, originalArgs anonymize.Value, resolution policy.Resolution) (anonymize.Value, error) {
	t, err := p.tasks.Create(ctx, fullName, realArgs, originalArgs, resolution.Action)
	if err != nil {
		return anonymize.Value{}, apperr.Wrap(apperr.KindStore, "create pending-approval task", err)
	}

	handle, sendErr := p.channel.RequestApproval(ctx, t)
	if sendErr != nil {
		if _, err := p.tasks.SetError(ctx, t.ID, sendErr.Error()); err != nil {
			p.logger.Error("pipeline could not persist approval-send failure", "task_id", t.ID, "error", err)
		}
		p.recordAudit(ctx, fullName, t.ID, "error", sendErr.Error())
		return pendingReply(t.ID, fullName, "approval could not be delivered; check portero/check_task"), nil
	}
	if _, err := p.tasks.SetApprovalHandle(ctx, t.ID, handle); err != nil {
		p.logger.Error("pipeline could not persist approval handle", "task_id", t.ID, "error", err)
	}

	p.recordAudit(ctx, fullName, t.ID, "pending-approval", "")
	return pendingReply(t.ID, fullName, "awaiting admin approval"), nil
}

// dispatchNow issues the backend call itself. approvalStatus carries the
// provenance of this dispatch into the audit record: "" for a plain
// policy-allow that never touched approval, "approved" when a grant or an
// admin decision authorized it.
func (p *Pipeline) dispatchNow(ctx context.Context, fullName string, realArgs anonymize.Value, approvalStatus string) (anonymize.Value, error) {
	result, err := p.router.Call(ctx, fullName, realArgs)
	if err != nil {
		p.recordAudit(ctx, fullName, "", approvalStatus, err.Error())
		p.channel.Notify(ctx, approval.Notice{Status: "error", ToolName: fullName, Reason: err.Error(), At: time.Now()})
		return anonymize.Value{}, apperr.Wrap(apperr.KindBackend, "backend call failed", err)
	}

	outbound := anonymize.Apply(result, p.replacements, anonymize.Outbound)
	p.recordAudit(ctx, fullName, "", approvalStatus, "")
	p.channel.Notify(ctx, approval.Notice{Status: "completed", ToolName: fullName, At: time.Now()})
	return outbound, nil
}

func (p *Pipeline) recordAudit(ctx context.Context, toolName, taskID, approvalStatus, errMsg string) {
	if err := p.audit.AppendAudit(ctx, store.AuditRecord{
		Timestamp:      time.Now(),
		ToolName:       toolName,
		TaskID:         taskID,
		ApprovalStatus: approvalStatus,
		Error:          errMsg,
	}); err != nil {
		p.logger.Error("pipeline could not append audit record", "tool_name", toolName, "error", err)
	}
}

// pendingReply builds the caller-facing "pending-approval" envelope
// (spec.md §6 "Pending-approval reply shape").
func pendingReply(taskID, toolName, message string) anonymize.Value {
	payload, err := json.Marshal(map[string]string{
		"status":   "pending-approval",
		"taskId":   taskID,
		"toolName": toolName,
		"message":  message,
	})
	if err != nil {
		payload = []byte(`{"status":"pending-approval"}`)
	}
	return virtualtool.Envelope(anonymize.Value{Kind: anonymize.KindArray, Array: []anonymize.Value{
		anonymize.Mapping(
			anonymize.MapEntry{Key: "type", Value: anonymize.String("text")},
			anonymize.MapEntry{Key: "text", Value: anonymize.String(string(payload))},
		),
	}}, false)
}

func stringField(v anonymize.Value, key string) (string, bool) {
	f, ok := v.Get(key)
	if !ok || f.Kind != anonymize.KindString {
		return "", false
	}
	return f.Str, true
}
