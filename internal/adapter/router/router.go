// Package router implements the Router component (spec.md §4.4): it splits
// a caller-facing namespaced tool name into a backend and a local name, and
// dispatches the call or resource read to the resolved backend.
package router

import (
	"context"
	"strings"

	"github.com/portero-gateway/portero/internal/adapter/registry"
	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/tool"
)

// Router dispatches namespaced tool calls to the backend that owns them.
type Router struct {
	registry *registry.Registry
}

// New builds a Router over reg.
func New(reg *registry.Registry) *Router {
	return &Router{registry: reg}
}

// Resolve splits fullName into its backend and local parts and looks up the
// owning backend, marking fullName used in the registry's recency set on
// success (spec.md §4.4, §4.3 recency bias).
func (r *Router) Resolve(fullName string) (backendName, localName string, err error) {
	backendName, localName, ok := tool.Split(fullName)
	if !ok {
		return "", "", apperr.ErrMalformedName
	}
	if _, _, err := r.registry.Get(backendName); err != nil {
		return "", "", err
	}
	r.registry.MarkUsed(fullName)
	return backendName, localName, nil
}

// Call dispatches a post-anonymization call to the backend named by
// fullName's namespace prefix.
func (r *Router) Call(ctx context.Context, fullName string, args anonymize.Value) (anonymize.Value, error) {
	backendName, localName, err := r.Resolve(fullName)
	if err != nil {
		return anonymize.Value{}, err
	}
	b, _, err := r.registry.Get(backendName)
	if err != nil {
		return anonymize.Value{}, err
	}
	return b.Call(ctx, localName, args)
}

// ReadResource dispatches a resource read addressed as "backend://uri",
// peeling the backend namespace off the URI scheme (spec.md §4.4).
func (r *Router) ReadResource(ctx context.Context, uri string) (anonymize.Value, error) {
	backendName, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return anonymize.Value{}, apperr.ErrMalformedName
	}
	b, _, err := r.registry.Get(backendName)
	if err != nil {
		return anonymize.Value{}, err
	}
	return b.ReadResource(ctx, rest)
}
