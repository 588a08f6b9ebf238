// Package backend defines the Backend port (spec.md §4.2): a handle to
// dispatch a tool call or resource read against one connected backend, plus
// the metadata the Registry tracks about it.
package backend

import (
	"context"

	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/tool"
)

// Backend is a connected tool provider, referenced by the Registry under a
// short namespace key.
type Backend interface {
	// Name is the registry key used as the namespace prefix.
	Name() string

	// ListTools returns the backend's current tool catalog with local
	// (non-namespaced) names.
	ListTools(ctx context.Context) ([]tool.Tool, error)

	// Call dispatches a tool invocation with post-anonymization arguments
	// and returns the backend's raw reply verbatim (spec.md §4.4).
	Call(ctx context.Context, localName string, args anonymize.Value) (anonymize.Value, error)

	// ReadResource reads a resource by its backend-local URI (the part of
	// "backend://original-uri" after the scheme has been peeled).
	ReadResource(ctx context.Context, uri string) (anonymize.Value, error)
}

// PinnedSet, when non-nil, restricts a backend's contribution to the
// filtered aggregate to the named local tools (spec.md §4.3).
type PinnedSet map[string]bool
