// Package policy defines the domain model for the gateway's layered
// authorization policy (spec.md §3, §4.6): static configuration, persisted
// dynamic rules, and the resolution result they combine into.
package policy

import "time"

// Action is the outcome a policy entry maps a tool-name pattern to.
type Action string

const (
	ActionAllow            Action = "allow"
	ActionDeny             Action = "deny"
	ActionRequireApproval  Action = "require-approval"
)

// Source identifies which layer produced a Resolution.
type Source string

const (
	SourceDynamicRule  Source = "dynamic-rule"
	SourceStaticExact  Source = "static-exact"
	SourceStaticPattern Source = "static-pattern"
	SourceDefault      Source = "default"
)

// Resolution is the outcome of resolving a tool name against the layered
// policy (spec.md §4.6).
type Resolution struct {
	Action  Action
	Source  Source
	Pattern string
	RuleID  string
}

// DynamicRule is a persisted, admin-editable policy entry (spec.md §3
// "Policy entry", dynamic provenance). Exactly one rule exists per Pattern
// at any time (spec.md §8 invariant 3); Upsert on the store enforces that.
type DynamicRule struct {
	ID        string
	Pattern   string
	Action    Action
	CreatedAt time.Time
}

// StaticEntry is one row of the exact-match or pattern static policy
// configuration (spec.md §3 "Policy entry", static provenance).
type StaticEntry struct {
	Pattern string
	Action  Action
}
