package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for the main YAML configuration.
const DefaultConfigFile = "portero.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional; a missing
// file is not an error (spec.md treats loader failures as out of scope, but
// a missing optional document must never be fatal).
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied at startup
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg. Only non-empty env values
// override the current config, matching the teacher's overlay style.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "PORTERO_ADDR")
	setString(&cfg.Server.BearerToken, "PORTERO_BEARER_TOKEN")
	setInt64(&cfg.Server.MaxBodyBytes, "PORTERO_MAX_BODY_BYTES")
	setString(&cfg.Logging.Level, "PORTERO_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PORTERO_LOG_SERVICE")
	setString(&cfg.State.Dir, "PORTERO_STATE_DIR")
	setString(&cfg.State.LegacyApprovalsPath, "PORTERO_LEGACY_APPROVALS_PATH")
	setDuration(&cfg.Aggregator.CacheTTL, "PORTERO_AGGREGATOR_CACHE_TTL")
	setInt64(&cfg.Aggregator.MaxCacheBytes, "PORTERO_AGGREGATOR_CACHE_BYTES")
	setString(&cfg.Approval.PairingSecretHash, "PORTERO_PAIRING_SECRET_HASH")
	setDuration(&cfg.Approval.DigestWindow, "PORTERO_DIGEST_WINDOW")
	setInt(&cfg.Approval.DigestMaxNotices, "PORTERO_DIGEST_MAX_NOTICES")
	setString(&cfg.Approval.ListenAddr, "PORTERO_APPROVAL_ADDR")
	setDuration(&cfg.Approval.GrantShortTTL, "PORTERO_GRANT_SHORT_TTL")
	setDuration(&cfg.Approval.GrantLongTTL, "PORTERO_GRANT_LONG_TTL")
	setString(&cfg.Approval.SlackWebhookURL, "PORTERO_SLACK_WEBHOOK_URL")
	setDuration(&cfg.Cleanup.Interval, "PORTERO_CLEANUP_INTERVAL")
	setDuration(&cfg.Cleanup.PendingApprovalTTL, "PORTERO_CLEANUP_PENDING_APPROVAL_TTL")
	setString(&cfg.Policy.Default, "PORTERO_POLICY_DEFAULT")
	setString(&cfg.BackendsFile, "PORTERO_BACKENDS_FILE")
	setString(&cfg.ReplacementsFile, "PORTERO_REPLACEMENTS_FILE")
}

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if cfg.Server.MaxBodyBytes < 10<<20 {
		return errors.New("server.max_body_bytes must be at least 10 MiB per the gateway contract")
	}
	switch cfg.Policy.Default {
	case "allow", "deny", "require-approval":
	default:
		return fmt.Errorf("policy.default must be one of allow|deny|require-approval, got %q", cfg.Policy.Default)
	}
	return nil
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandPlaceholders substitutes ${VAR} occurrences in doc from the process
// environment. It returns the expanded document and the list of variable
// names that could not be resolved, so the caller (the backend loader) can
// skip the owning backend non-fatally per spec.md §6.
func ExpandPlaceholders(doc string) (expanded string, unresolved []string) {
	seen := map[string]bool{}
	expanded = placeholderPattern.ReplaceAllStringFunc(doc, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if !seen[name] {
			seen[name] = true
			unresolved = append(unresolved, name)
		}
		return m
	})
	return expanded, unresolved
}
