package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so TOML values can be written as "90s", "5m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig groups process-wide settings.
type ServerConfig struct {
	Listen       string `toml:"listen"`
	DataDir      string `toml:"data_dir"`
	PubSecretEnv string `toml:"pub_secret_env"`
	RegistryURL  string `toml:"registry_url"`
	Verbose      bool   `toml:"verbose"`
}

// ProviderConfig describes one OpenAI-compatible endpoint.
type ProviderConfig struct {
	BaseURL   string   `toml:"base_url"`
	APIKeyEnv string   `toml:"api_key_env"`
	Timeout   Duration `toml:"timeout"`
	Models    []string `toml:"models"`
}

// UserConfig is one whitelisted user.
type UserConfig struct {
	Role   string   `toml:"role"` // "admin" or "user"
	Skills []string `toml:"skills"`
}

// IsAdmin reports whether the user has the admin role.
func (u UserConfig) IsAdmin() bool { return u.Role == "admin" }

// AllowsSkill reports whether the user may invoke the named skill.
// A single "*" entry grants all skills.
func (u UserConfig) AllowsSkill(name string) bool {
	for _, s := range u.Skills {
		if s == "*" || s == name {
			return true
		}
	}
	return false
}

// TokenConfig is one API bearer token. The token name doubles as the
// connector handle used to resolve aliases.
type TokenConfig struct {
	TokenEnv      string `toml:"token_env"`
	RatePerMinute int    `toml:"rate_per_minute"`
}

// WebhookConfig controls delivery of msg outputs to session-registered URLs.
type WebhookConfig struct {
	SecretEnv    string   `toml:"secret_env"`
	RequireHTTPS *bool    `toml:"require_https"`
	AllowList    []string `toml:"allow_list"`
	MaxPayload   int      `toml:"max_payload"`
}

// RequireTLS reports whether webhook URLs must use https. Defaults to true
// when unset. Pointer field so an explicit false survives defaults merging.
func (w WebhookConfig) RequireTLS() bool {
	return w.RequireHTTPS == nil || *w.RequireHTTPS
}

// SearchConfig holds web-search defaults.
type SearchConfig struct {
	MaxResults int    `toml:"max_results"`
	Lang       string `toml:"lang"`
	Country    string `toml:"country"`
}

// SandboxConfig holds the uid/gid exec and skill subprocesses run under for
// non-admin users. Zero values disable the uid switch.
type SandboxConfig struct {
	UID uint32 `toml:"uid"`
	GID uint32 `toml:"gid"`
}

// Enabled reports whether a sandbox uid is configured.
func (s SandboxConfig) Enabled() bool { return s.UID != 0 }

// Limits bounds the message lifecycle engine.
type Limits struct {
	MaxLLMCallsPerMessage     int      `toml:"max_llm_calls_per_message"`
	MaxValidationRetries      int      `toml:"max_validation_retries"`
	MaxWorkerRetries          int      `toml:"max_worker_retries"`
	MaxReplanDepth            int      `toml:"max_replan_depth"`
	MaxPlanTasks              int      `toml:"max_plan_tasks"`
	MaxOutputBytes            int      `toml:"max_output_bytes"`
	ExecTimeout               Duration `toml:"exec_timeout"`
	SkillTimeout              Duration `toml:"skill_timeout"`
	WorkerIdleTimeout         Duration `toml:"worker_idle_timeout"`
	QueueSize                 int      `toml:"queue_size"`
	SummarizeThreshold        int      `toml:"summarize_threshold"`
	KnowledgeMaxFacts         int      `toml:"knowledge_max_facts"`
	FactDecayDays             int      `toml:"fact_decay_days"`
	FactDecayRate             float64  `toml:"fact_decay_rate"`
	FactArchiveThreshold      float64  `toml:"fact_archive_threshold"`
	FactConsolidationMinRatio float64  `toml:"fact_consolidation_min_ratio"`
	PlannerContextMessages    int      `toml:"planner_context_messages"`
	FastPathEnabled           *bool    `toml:"fast_path_enabled"`
}

// FastPath reports whether the classifier fast path is enabled. Defaults to
// true when unset. Pointer field so an explicit false survives defaults
// merging.
func (l Limits) FastPath() bool {
	return l.FastPathEnabled == nil || *l.FastPathEnabled
}

// Config is the fully loaded, validated runtime configuration.
type Config struct {
	configDir string

	Server    ServerConfig              `toml:"server"`
	Models    map[string]string         `toml:"models"` // role → model name
	Providers map[string]ProviderConfig `toml:"providers"`
	Users     map[string]UserConfig     `toml:"users"`
	Aliases   map[string]map[string]string `toml:"aliases"` // connector → external id → username
	Tokens    map[string]TokenConfig    `toml:"tokens"`
	Webhook   WebhookConfig             `toml:"webhook"`
	Search    SearchConfig              `toml:"search"`
	Sandbox   SandboxConfig             `toml:"sandbox"`
	Limits    Limits                    `toml:"limits"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// ResolveUser maps a connector-scoped external identity to a whitelisted
// username. Returns the username and its config, or ok=false for unknown users.
func (c *Config) ResolveUser(connector, external string) (string, UserConfig, bool) {
	name := external
	if byConn, ok := c.Aliases[connector]; ok {
		if mapped, ok := byConn[external]; ok {
			name = mapped
		}
	}
	u, ok := c.Users[name]
	if !ok {
		return "", UserConfig{}, false
	}
	return name, u, true
}

// ProviderForModel returns the provider that serves the given model name.
func (c *Config) ProviderForModel(model string) (string, ProviderConfig, bool) {
	for name, p := range c.Providers {
		for _, m := range p.Models {
			if m == model {
				return name, p, true
			}
		}
	}
	return "", ProviderConfig{}, false
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Roles     int
	Providers int
	Users     int
	Tokens    int
}

// Stats returns counts of the loaded configuration sections.
func (c *Config) Stats() Stats {
	return Stats{
		Roles:     len(c.Models),
		Providers: len(c.Providers),
		Users:     len(c.Users),
		Tokens:    len(c.Tokens),
	}
}
