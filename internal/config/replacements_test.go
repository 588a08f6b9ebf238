package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeReplacementsFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replacements.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write replacements file: %v", err)
	}
	return path
}

func TestLoadReplacements_CaseSensitiveDefaultsTrueWhenOmitted(t *testing.T) {
	path := writeReplacementsFile(t, `
rules:
  - fake: "John Doe"
    real: "Jane Real"
`)

	rules, err := LoadReplacements(path)
	if err != nil {
		t.Fatalf("LoadReplacements: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected one rule, got %d", len(rules))
	}
	if !rules[0].CaseSensitive {
		t.Fatalf("expected case_sensitive to default true when omitted, got %+v", rules[0])
	}
}

func TestLoadReplacements_CaseSensitiveExplicitFalseIsHonored(t *testing.T) {
	path := writeReplacementsFile(t, `
rules:
  - fake: "John Doe"
    real: "Jane Real"
    case_sensitive: false
`)

	rules, err := LoadReplacements(path)
	if err != nil {
		t.Fatalf("LoadReplacements: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected one rule, got %d", len(rules))
	}
	if rules[0].CaseSensitive {
		t.Fatalf("expected explicit case_sensitive: false to be honored, got %+v", rules[0])
	}
}

func TestLoadReplacements_CaseSensitiveExplicitTrueIsHonored(t *testing.T) {
	path := writeReplacementsFile(t, `
rules:
  - fake: "John Doe"
    real: "Jane Real"
    case_sensitive: true
`)

	rules, err := LoadReplacements(path)
	if err != nil {
		t.Fatalf("LoadReplacements: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected one rule, got %d", len(rules))
	}
	if !rules[0].CaseSensitive {
		t.Fatalf("expected explicit case_sensitive: true to be honored, got %+v", rules[0])
	}
}

func TestLoadReplacements_MissingFileReturnsNoRulesNoError(t *testing.T) {
	rules, err := LoadReplacements(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadReplacements: %v", err)
	}
	if rules != nil {
		t.Fatalf("expected nil rules, got %+v", rules)
	}
}
