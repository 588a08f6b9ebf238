package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/grant"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/port/approval"
	"github.com/portero-gateway/portero/internal/port/store"
)

// DecisionProcessor implements the admin-authorization half of spec.md
// §4.8 "Decision ingestion": it consumes the Approval Channel's decision
// stream, validates the deciding principal is the paired admin, applies the
// FSM transition through the Task Manager, applies any requested side
// effect, and hands approvals to the Executor.
type DecisionProcessor struct {
	channel   approval.Channel
	tasks     *TaskManager
	store     store.Store
	executor  *Executor
	grantTTLs map[approval.SideEffect]time.Duration
	logger    *slog.Logger
}

// NewDecisionProcessor builds a processor with the configured grant TTLs
// for the grant-short and grant-long side effects.
func NewDecisionProcessor(channel approval.Channel, tasks *TaskManager, st store.Store, executor *Executor, grantShortTTL, grantLongTTL time.Duration, logger *slog.Logger) *DecisionProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionProcessor{
		channel:  channel,
		tasks:    tasks,
		store:    st,
		executor: executor,
		grantTTLs: map[approval.SideEffect]time.Duration{
			approval.SideEffectGrantShort: grantShortTTL,
			approval.SideEffectGrantLong:  grantLongTTL,
		},
		logger: logger,
	}
}

// Run consumes decisions until ctx is canceled.
func (d *DecisionProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case dec := <-d.channel.Decisions():
			d.process(ctx, dec)
		}
	}
}

func (d *DecisionProcessor) process(ctx context.Context, dec approval.Decision) {
	pairing, err := d.store.GetPairing(ctx)
	if err != nil {
		d.logger.Error("decision processor could not load pairing", "error", err)
		return
	}
	if !pairing.Paired() || dec.Principal != pairing.ChatID {
		d.logger.Warn("decision from unauthorized principal ignored", "principal", dec.Principal, "task_id", dec.TaskID)
		return
	}

	t, err := d.tasks.ApplyDecision(ctx, dec.TaskID, dec.Approve)
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyProcessed) {
			d.logger.Info("decision on already-processed task ignored", "task_id", dec.TaskID)
			return
		}
		d.logger.Error("decision processor could not apply decision", "task_id", dec.TaskID, "error", err)
		return
	}

	d.applySideEffect(ctx, t.ToolName, dec.SideEffect)

	if dec.Approve {
		d.executor.Enqueue(t.ID)
	}
}

func (d *DecisionProcessor) applySideEffect(ctx context.Context, toolName string, effect approval.SideEffect) {
	switch effect {
	case approval.SideEffectNone:
		return

	case approval.SideEffectGrantShort, approval.SideEffectGrantLong:
		now := time.Now()
		g := &grant.Grant{
			ID:        uuid.NewString(),
			Pattern:   toolName,
			CreatedAt: now,
			ExpiresAt: now.Add(d.grantTTLs[effect]),
		}
		if err := d.store.CreateGrant(ctx, g); err != nil {
			d.logger.Error("decision processor could not create grant", "tool_name", toolName, "error", err)
		}

	case approval.SideEffectAlwaysAllow:
		if _, err := d.store.UpsertRule(ctx, toolName, policy.ActionAllow); err != nil {
			d.logger.Error("decision processor could not upsert allow rule", "tool_name", toolName, "error", err)
		}

	case approval.SideEffectAlwaysDeny:
		if _, err := d.store.UpsertRule(ctx, toolName, policy.ActionDeny); err != nil {
			d.logger.Error("decision processor could not upsert deny rule", "tool_name", toolName, "error", err)
		}

	default:
		d.logger.Warn("unknown decision side effect ignored", "side_effect", effect)
	}
}
