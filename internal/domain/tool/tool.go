// Package tool defines the Tool entity and the backend/local namespaced
// name convention shared by the Registry, Aggregator, and Router
// (spec.md §3 "Tool").
package tool

import "strings"

// Tool is a namespaced, schema-described operation offered by a backend.
type Tool struct {
	Backend     string
	LocalName   string
	Description string
	InputSchema interface{} // opaque to the core, per spec.md §3
}

// FullName returns the namespaced identifier exposed upstream: backend/local.
func (t Tool) FullName() string {
	return Namespace(t.Backend, t.LocalName)
}

// Namespace joins a backend key and a local tool name into the exposed
// "backend/local" identifier.
func Namespace(backend, local string) string {
	return backend + "/" + local
}

// Split parses "backend/local" into its two parts. The backend is
// everything before the first '/'; the local name is the remainder, which
// may itself contain '/' (spec.md §4.4). ok is false for a malformed name
// (no separator).
func Split(fullName string) (backend, local string, ok bool) {
	idx := strings.IndexByte(fullName, '/')
	if idx < 0 {
		return "", "", false
	}
	return fullName[:idx], fullName[idx+1:], true
}
