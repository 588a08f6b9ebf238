// Package aggregator implements the Aggregator component (spec.md §4.3):
// it unions the tool catalogs of every registered backend into the single
// namespaced surface the gateway exposes, caching the union with a TTL the
// same way the teacher's own ristretto cache wraps a Set/Get pair
// (internal/adapter/ristretto/cache.go), specialized here to the tool-list
// shape instead of raw bytes.
package aggregator

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/portero-gateway/portero/internal/adapter/registry"
	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/tool"
)

const unfilteredCacheKey = "\x00all"

// Aggregator unions and caches the tool catalog exposed across all
// registered backends.
type Aggregator struct {
	registry *registry.Registry
	cache    *ristretto.Cache[string, []byte]
	ttl      time.Duration
}

// New builds an Aggregator backed by a ristretto cache bounded at
// maxCostBytes, caching entries for ttl (spec.md §4.3 "cached with a TTL").
func New(reg *registry.Registry, maxCostBytes int64, ttl time.Duration) (*Aggregator, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnknown, "create aggregator cache", err)
	}
	return &Aggregator{registry: reg, cache: c, ttl: ttl}, nil
}

// Close releases the underlying cache.
func (a *Aggregator) Close() { a.cache.Close() }

// Invalidate drops every cached listing, used when a backend connects or
// disconnects and the union must be recomputed on next use (spec.md §4.3
// "invalidated on backend set change").
func (a *Aggregator) Invalidate() {
	a.cache.Clear()
}

// List returns the full namespaced union of every registered backend's
// tools, unrestricted by any pinned set (spec.md §4.3 "Unfiltered"). The
// result is cached for ttl.
func (a *Aggregator) List(ctx context.Context) ([]tool.Tool, error) {
	if cached, ok := a.fromCache(unfilteredCacheKey); ok {
		return cached, nil
	}

	backends := a.registry.All()
	var union []tool.Tool
	for _, b := range backends {
		tools, err := b.ListTools(ctx)
		if err != nil {
			// A single unreachable backend must not blank out the rest of
			// the catalog; it is simply absent this round.
			continue
		}
		for _, t := range tools {
			t.Backend = b.Name()
			union = append(union, t)
		}
	}
	sort.Slice(union, func(i, j int) bool { return union[i].FullName() < union[j].FullName() })

	a.toCache(unfilteredCacheKey, union)
	return union, nil
}

// Filtered returns the view published to the client (spec.md §4.3): equal
// to List when no registered backend declares a pinned set; otherwise, for
// each tool, included iff its backend declares no pinned set, its local
// name is pinned, or its full name is in the registry's recency set.
func (a *Aggregator) Filtered(ctx context.Context) ([]tool.Tool, error) {
	all, err := a.List(ctx)
	if err != nil {
		return nil, err
	}

	anyPinned := false
	for _, name := range a.registry.Names() {
		if a.registry.Pinned(name) != nil {
			anyPinned = true
			break
		}
	}
	if !anyPinned {
		return all, nil
	}

	var out []tool.Tool
	for _, t := range all {
		pinned := a.registry.Pinned(t.Backend)
		if pinned == nil || pinned[t.LocalName] || a.registry.RecentlyUsed(t.FullName()) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Search returns tools from List whose full name or description contains
// query as a case-insensitive substring match (both sides lower-cased),
// backing the portero/search_tools virtual tool (SPEC_FULL.md keyword
// search over the aggregate).
func (a *Aggregator) Search(ctx context.Context, query string) ([]tool.Tool, error) {
	all, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return all, nil
	}
	needle := strings.ToLower(query)
	var out []tool.Tool
	for _, t := range all {
		if strings.Contains(strings.ToLower(t.FullName()), needle) || strings.Contains(strings.ToLower(t.Description), needle) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (a *Aggregator) fromCache(key string) ([]tool.Tool, bool) {
	raw, found := a.cache.Get(key)
	if !found {
		return nil, false
	}
	var tools []tool.Tool
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, false
	}
	return tools, true
}

func (a *Aggregator) toCache(key string, tools []tool.Tool) {
	data, err := json.Marshal(tools)
	if err != nil {
		return
	}
	a.cache.SetWithTTL(key, data, int64(len(data)), a.ttl)
}
