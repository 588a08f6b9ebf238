package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/portero-gateway/portero/internal/domain/anonymize"
)

// ReplacementDef is one YAML row of the replacements document (spec.md §3
// "Replacement rule").
type ReplacementDef struct {
	Fake          string `yaml:"fake"`
	Real          string `yaml:"real"`
	Bidirectional bool   `yaml:"bidirectional"`
	// CaseSensitive is a pointer so an absent "case_sensitive" key can be
	// told apart from an explicit "case_sensitive: false" (spec.md §3:
	// "Case-sensitivity is per-rule (default sensitive)").
	CaseSensitive       *bool  `yaml:"case_sensitive"`
	ResponseReplacement string `yaml:"response_replacement,omitempty"`
}

type replacementsDocument struct {
	Rules []ReplacementDef `yaml:"rules"`
}

// LoadReplacements reads and parses the replacements document at path,
// expanding "${VAR}" placeholders from the process environment. Rules whose
// "real" side still carries an unresolved placeholder are dropped, since a
// literal "${...}" substitution would rewrite text no caller ever sends.
func LoadReplacements(path string) ([]anonymize.ReplacementRule, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-configured path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read replacements file %s: %w", path, err)
	}

	expanded, _ := ExpandPlaceholders(string(raw))

	var doc replacementsDocument
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("parse replacements file %s: %w", path, err)
	}

	out := make([]anonymize.ReplacementRule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		if r.Real == "" || containsPlaceholder(r.Real) {
			continue
		}
		caseSensitive := true
		if r.CaseSensitive != nil {
			caseSensitive = *r.CaseSensitive
		}
		out = append(out, anonymize.ReplacementRule{
			Fake:                r.Fake,
			Real:                r.Real,
			Bidirectional:       r.Bidirectional,
			CaseSensitive:       caseSensitive,
			ResponseReplacement: r.ResponseReplacement,
		})
	}
	return out, nil
}

func containsPlaceholder(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '$' && s[i+1] == '{' {
			return true
		}
	}
	return false
}
