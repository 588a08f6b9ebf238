// Package approval defines the Approval Channel port (spec.md §4.8): the
// out-of-band human interaction surface that pairs an admin principal,
// renders approval requests, ingests decisions, and delivers a batched
// activity digest. The chat-bot transport library itself is out of scope
// (spec.md §1); this package is the boundary a concrete transport adapter
// implements.
package approval

import (
	"context"
	"time"

	"github.com/portero-gateway/portero/internal/domain/task"
)

// SideEffect is the optional consequence a decision carries beyond the bare
// state transition (spec.md §4.8).
type SideEffect string

const (
	SideEffectNone           SideEffect = ""
	SideEffectGrantShort     SideEffect = "grant-short"
	SideEffectGrantLong      SideEffect = "grant-long"
	SideEffectAlwaysAllow    SideEffect = "always-allow-tool"
	SideEffectAlwaysDeny     SideEffect = "always-deny-tool"
)

// Decision is a resolved admin response to a pending-approval task.
type Decision struct {
	TaskID     string
	Approve    bool
	Principal  string
	SideEffect SideEffect
}

// Notice is one entry of the activity digest (spec.md §4.8 "Activity
// digest"). The digest lists each notice separately in arrival order;
// notices that share Status, ToolName and Reason are not merged.
type Notice struct {
	Status   string
	ToolName string
	Reason   string
	At       time.Time
}

// Channel is the out-of-band approval surface. Implementations own pairing
// state, message rendering, and the batched digest timer.
type Channel interface {
	// RequestApproval renders and sends an approval request for t, returning
	// an opaque message handle to store on the task.
	RequestApproval(ctx context.Context, t *task.Task) (messageHandle string, err error)

	// Notify enqueues a notice for the next activity-digest flush.
	Notify(ctx context.Context, n Notice)

	// Decisions returns the channel the pipeline/executor's caller can range
	// over to learn about admin decisions as they arrive.
	Decisions() <-chan Decision

	// Paired reports whether an admin principal is currently bound.
	Paired(ctx context.Context) (bool, error)
}
