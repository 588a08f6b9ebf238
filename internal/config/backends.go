package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BackendDef describes one backend tool provider entry in the backends
// document (spec.md §6 "Backend registration").
type BackendDef struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // stdio | sse | streamable-http
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Pinned    []string          `yaml:"pinned,omitempty"`
}

type backendsDocument struct {
	Backends []BackendDef `yaml:"backends"`
}

// LoadBackends reads and parses the backends document at path, expanding
// "${VAR}" placeholders from the process environment first. A backend whose
// definition still contains an unresolved placeholder after expansion is
// skipped rather than failing the whole load (spec.md §6: "a backend with an
// unresolved placeholder is skipped, not fatal"); its name is returned in
// skipped along with the offending variable.
func LoadBackends(path string) (defs []BackendDef, skipped []string, err error) {
	raw, readErr := os.ReadFile(path) //nolint:gosec // operator-configured path
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read backends file %s: %w", path, readErr)
	}

	expanded, unresolved := ExpandPlaceholders(string(raw))
	_ = unresolved // per-backend detection below is authoritative for skip decisions

	var doc backendsDocument
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, nil, fmt.Errorf("parse backends file %s: %w", path, err)
	}

	for _, b := range doc.Backends {
		if hasPlaceholder(b) {
			skipped = append(skipped, b.Name)
			continue
		}
		defs = append(defs, b)
	}
	return defs, skipped, nil
}

func hasPlaceholder(b BackendDef) bool {
	if strings.Contains(b.Command, "${") || strings.Contains(b.URL, "${") {
		return true
	}
	for _, a := range b.Args {
		if strings.Contains(a, "${") {
			return true
		}
	}
	for _, v := range b.Env {
		if strings.Contains(v, "${") {
			return true
		}
	}
	for _, v := range b.Headers {
		if strings.Contains(v, "${") {
			return true
		}
	}
	return false
}
