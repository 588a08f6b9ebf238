// Package registry implements the Backend Registry component (spec.md
// §4.2): the in-memory table of connected backends, their pinned tool
// sets, and the recently-used tool tracking that feeds the filtered tool
// aggregate.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/port/backend"
)

// entry pairs a connected backend with its optional pinned tool set.
type entry struct {
	backend backend.Backend
	pinned  backend.PinnedSet
}

// maxRecentTools bounds the process-wide recency set so a long-lived
// gateway does not grow it without limit.
const maxRecentTools = 512

// Registry tracks connected backends by name and the process-wide set of
// fully namespaced tool names a caller has actually exercised, used to bias
// the filtered aggregate toward what has been used (spec.md §4.2
// "recently-used set of fully namespaced tool names").
type Registry struct {
	mu         sync.RWMutex
	backends   map[string]entry
	recentTools []string // most-recently-used full tool name last
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{backends: make(map[string]entry)}
}

// Register adds or replaces a connected backend under its own Name().
// pinned, if non-nil, restricts the backend's contribution to the filtered
// aggregate to the named local tools.
func (r *Registry) Register(b backend.Backend, pinned backend.PinnedSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = entry{backend: b, pinned: pinned}
}

// Unregister removes a backend, e.g. after a health check declares it dead.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, name)
}

// Get resolves a backend by namespace, returning apperr.ErrUnknownBackend if
// nothing is registered under that name.
func (r *Registry) Get(name string) (backend.Backend, backend.PinnedSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.backends[name]
	if !ok {
		return nil, nil, apperr.ErrUnknownBackend
	}
	return e.backend, e.pinned, nil
}

// All returns every registered backend, sorted by name for deterministic
// aggregation order.
func (r *Registry) All() []backend.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]backend.Backend, 0, len(r.backends))
	for _, e := range r.backends {
		out = append(out, e.backend)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Pinned returns the pinned tool set (possibly nil, meaning unrestricted)
// registered for name.
func (r *Registry) Pinned(name string) backend.PinnedSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[name].pinned
}

// Names returns the registered backend namespaces, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for name := range r.backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MarkUsed inserts fullName (a namespaced "backend/local" tool name) into
// the process-wide recency set, evicting the least-recently-used entry once
// the set exceeds maxRecentTools (spec.md §4.2 markUsed).
func (r *Registry) MarkUsed(fullName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.recentTools {
		if n == fullName {
			r.recentTools = append(r.recentTools[:i], r.recentTools[i+1:]...)
			break
		}
	}
	r.recentTools = append(r.recentTools, fullName)
	if len(r.recentTools) > maxRecentTools {
		r.recentTools = r.recentTools[len(r.recentTools)-maxRecentTools:]
	}
}

// RecentlyUsed reports whether fullName is in the process-wide recency set
// (spec.md §4.3 "or its full name is in the recency set").
func (r *Registry) RecentlyUsed(fullName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.recentTools {
		if n == fullName {
			return true
		}
	}
	return false
}

// Recent returns up to n full tool names in most-recently-used order.
func (r *Registry) Recent(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.recentTools) {
		n = len(r.recentTools)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = r.recentTools[len(r.recentTools)-1-i]
	}
	return out
}

// CloserBackend is implemented by backends that hold a live connection
// worth releasing on shutdown (spec.md §4.2 "graceful backend teardown").
type CloserBackend interface {
	backend.Backend
	Close() error
}

// CloseAll releases every registered backend that implements CloserBackend,
// collecting rather than short-circuiting on the first failure so a single
// wedged backend cannot block the others from shutting down.
func (r *Registry) CloseAll(_ context.Context) []error {
	r.mu.RLock()
	backends := make([]backend.Backend, 0, len(r.backends))
	for _, e := range r.backends {
		backends = append(backends, e.backend)
	}
	r.mu.RUnlock()

	var errs []error
	for _, b := range backends {
		if c, ok := b.(CloserBackend); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
