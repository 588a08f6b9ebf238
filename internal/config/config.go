// Package config provides hierarchical configuration loading for the
// gateway. Precedence: defaults < YAML documents < environment variables.
package config

import "time"

// Config holds all runtime configuration for the gateway process.
type Config struct {
	Server       Server       `yaml:"server"`
	Logging      Logging      `yaml:"logging"`
	State        State        `yaml:"state"`
	Aggregator   Aggregator   `yaml:"aggregator"`
	Approval     Approval     `yaml:"approval"`
	Cleanup      Cleanup      `yaml:"cleanup"`
	Policy       Policy       `yaml:"policy"`
	BackendsFile string       `yaml:"backends_file"`
	ReplacementsFile string   `yaml:"replacements_file"`
}

// Server holds HTTP server configuration.
type Server struct {
	Addr          string `yaml:"addr"`
	BearerToken   string `yaml:"bearer_token"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// State holds State Store configuration.
type State struct {
	Dir string `yaml:"dir"`
	// LegacyApprovalsPath, when set, points at a pre-portero "approvals"
	// document whose admin pairing gets folded into the State Store on
	// first startup (spec.md §9's legacy-collection open question).
	LegacyApprovalsPath string `yaml:"legacy_approvals_path"`
}

// Aggregator holds Backend Registry / Aggregator cache configuration.
type Aggregator struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	MaxCacheBytes int64         `yaml:"max_cache_bytes"`
}

// Approval holds Approval Channel configuration.
type Approval struct {
	PairingSecretHash string        `yaml:"pairing_secret_hash"`
	DigestWindow      time.Duration `yaml:"digest_window"`
	DigestMaxNotices  int           `yaml:"digest_max_notices"`
	StartupProbe      time.Duration `yaml:"startup_probe"`
	SlowStartWarning  time.Duration `yaml:"slow_start_warning"`
	ListenAddr        string        `yaml:"listen_addr"`
	GrantShortTTL     time.Duration `yaml:"grant_short_ttl"`
	GrantLongTTL      time.Duration `yaml:"grant_long_ttl"`
	SlackWebhookURL   string        `yaml:"slack_webhook_url"`
}

// Cleanup holds Cleanup Loop configuration.
type Cleanup struct {
	Interval            time.Duration `yaml:"interval"`
	PendingApprovalTTL  time.Duration `yaml:"pending_approval_ttl"`
}

// Policy holds static policy configuration: exact-name and pattern rules,
// plus the default action when nothing else matches.
type Policy struct {
	Default  string            `yaml:"default"`
	Exact    map[string]string `yaml:"exact"`
	Patterns []PatternRule     `yaml:"patterns"`
}

// PatternRule is one entry of the static pattern policy list. Order in the
// YAML document is the match-precedence order (spec.md §4.6 step 3).
type PatternRule struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"`
}

// Defaults returns a Config populated with the gateway's built-in defaults.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:         ":8443",
			MaxBodyBytes: 10 << 20, // 10 MiB, spec.md §6 floor
		},
		Logging: Logging{
			Level:   "info",
			Service: "portero-gateway",
		},
		State: State{
			Dir: "./data",
		},
		Aggregator: Aggregator{
			CacheTTL:      60 * time.Second,
			MaxCacheBytes: 8 << 20,
		},
		Approval: Approval{
			DigestWindow:     3 * time.Second,
			DigestMaxNotices: 25,
			StartupProbe:     5 * time.Second,
			SlowStartWarning: 30 * time.Second,
			ListenAddr:       ":8444",
			GrantShortTTL:    time.Hour,
			GrantLongTTL:     24 * time.Hour,
		},
		Cleanup: Cleanup{
			Interval:           60 * time.Second,
			PendingApprovalTTL: 7 * 24 * time.Hour,
		},
		Policy: Policy{
			Default: "deny",
		},
		BackendsFile:     "./backends.yaml",
		ReplacementsFile: "./replacements.yaml",
	}
}
