// Package service implements the stateful orchestration components that sit
// above the domain and port layers: the Policy Resolver, Task Manager,
// Executor, Request Pipeline, and Cleanup Loop (spec.md §4.6–4.11).
package service

import (
	"context"

	"github.com/portero-gateway/portero/internal/config"
	"github.com/portero-gateway/portero/internal/domain/policy"
	"github.com/portero-gateway/portero/internal/port/store"
)

// PolicyResolver implements spec.md §4.6: the sole component authorized to
// consult the dynamic-rule and static-policy stores for authorization
// purposes.
type PolicyResolver struct {
	store   store.Store
	static  config.Policy
}

// NewPolicyResolver builds a Resolver over the given static policy
// configuration and dynamic-rule store.
func NewPolicyResolver(st store.Store, staticPolicy config.Policy) *PolicyResolver {
	return &PolicyResolver{store: st, static: staticPolicy}
}

// Resolve implements spec.md §4.6's four-step resolution order: dynamic
// rules (exact, then pattern, in stored order), static exact, static
// pattern (insertion order), then the configured default.
func (p *PolicyResolver) Resolve(ctx context.Context, toolName string) (policy.Resolution, error) {
	rules, err := p.store.ListRules(ctx, 0)
	if err != nil {
		return policy.Resolution{}, err
	}

	for _, r := range rules {
		if r.Pattern == toolName {
			return policy.Resolution{Action: r.Action, Source: policy.SourceDynamicRule, Pattern: r.Pattern, RuleID: r.ID}, nil
		}
	}
	for _, r := range rules {
		if policy.MatchPattern(toolName, r.Pattern) {
			return policy.Resolution{Action: r.Action, Source: policy.SourceDynamicRule, Pattern: r.Pattern, RuleID: r.ID}, nil
		}
	}

	if action, ok := p.static.Exact[toolName]; ok {
		return policy.Resolution{Action: policy.Action(action), Source: policy.SourceStaticExact, Pattern: toolName}, nil
	}

	for _, entry := range p.static.Patterns {
		if policy.MatchPattern(toolName, entry.Pattern) {
			return policy.Resolution{Action: policy.Action(entry.Action), Source: policy.SourceStaticPattern, Pattern: entry.Pattern}, nil
		}
	}

	return policy.Resolution{Action: policy.Action(p.static.Default), Source: policy.SourceDefault}, nil
}
