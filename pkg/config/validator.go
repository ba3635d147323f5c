package config

import (
	"fmt"
	"net/url"
	"regexp"
)

// Roles the LLM gateway must be able to route. Every one needs a model
// assignment in [models].
var requiredRoles = []string{
	"classifier",
	"planner",
	"exec",
	"reviewer",
	"searcher",
	"messenger",
	"curator",
	"summarizer",
	"paraphraser",
}

var usernameRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// Validator performs comprehensive validation of loaded configuration.
// Any failure aborts process startup; the runtime never starts partial.
type Validator struct {
	cfg *Config
}

// NewValidator creates a Validator for the given config.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation pass and returns the first failure.
func (v *Validator) ValidateAll() error {
	checks := []func() error{
		v.validateServer,
		v.validateProviders,
		v.validateModels,
		v.validateUsers,
		v.validateTokens,
		v.validateLimits,
		v.validateWebhook,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateServer() error {
	if v.cfg.Server.Listen == "" {
		return NewValidationError("server.listen", "must not be empty")
	}
	if v.cfg.Server.DataDir == "" {
		return NewValidationError("server.data_dir", "must not be empty")
	}
	return nil
}

func (v *Validator) validateProviders() error {
	if len(v.cfg.Providers) == 0 {
		return NewValidationError("providers", "at least one provider is required")
	}
	for name, p := range v.cfg.Providers {
		if p.BaseURL == "" {
			return NewValidationError("providers."+name+".base_url", "must not be empty")
		}
		if u, err := url.Parse(p.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return NewValidationError("providers."+name+".base_url", "must be an http(s) URL")
		}
		if p.APIKeyEnv == "" {
			return NewValidationError("providers."+name+".api_key_env", "must not be empty")
		}
		if len(p.Models) == 0 {
			return NewValidationError("providers."+name+".models", "must list at least one model")
		}
	}
	return nil
}

func (v *Validator) validateModels() error {
	for _, role := range requiredRoles {
		model, ok := v.cfg.Models[role]
		if !ok || model == "" {
			return NewValidationError("models."+role, "role must be assigned a model")
		}
		if _, _, ok := v.cfg.ProviderForModel(model); !ok {
			return NewValidationError("models."+role,
				fmt.Sprintf("model %q is not served by any configured provider", model))
		}
	}
	return nil
}

func (v *Validator) validateUsers() error {
	for name, u := range v.cfg.Users {
		if !usernameRe.MatchString(name) {
			return NewValidationError("users."+name, "username must match ^[a-z_][a-z0-9_-]{0,31}$")
		}
		if u.Role != "admin" && u.Role != "user" {
			return NewValidationError("users."+name+".role", `must be "admin" or "user"`)
		}
	}
	return nil
}

func (v *Validator) validateTokens() error {
	for name, t := range v.cfg.Tokens {
		if t.TokenEnv == "" {
			return NewValidationError("tokens."+name+".token_env", "must not be empty")
		}
		if t.RatePerMinute < 0 {
			return NewValidationError("tokens."+name+".rate_per_minute", "must be non-negative")
		}
	}
	return nil
}

func (v *Validator) validateLimits() error {
	l := v.cfg.Limits
	switch {
	case l.MaxLLMCallsPerMessage < 1:
		return NewValidationError("limits.max_llm_calls_per_message", "must be at least 1")
	case l.MaxValidationRetries < 0:
		return NewValidationError("limits.max_validation_retries", "must be non-negative")
	case l.MaxWorkerRetries < 0:
		return NewValidationError("limits.max_worker_retries", "must be non-negative")
	case l.MaxReplanDepth < 1:
		return NewValidationError("limits.max_replan_depth", "must be at least 1")
	case l.MaxOutputBytes < 1024:
		return NewValidationError("limits.max_output_bytes", "must be at least 1024")
	case l.ExecTimeout.Std() <= 0:
		return NewValidationError("limits.exec_timeout", "must be positive")
	case l.SkillTimeout.Std() <= 0:
		return NewValidationError("limits.skill_timeout", "must be positive")
	case l.WorkerIdleTimeout.Std() <= 0:
		return NewValidationError("limits.worker_idle_timeout", "must be positive")
	case l.QueueSize < 1:
		return NewValidationError("limits.queue_size", "must be at least 1")
	case l.FactArchiveThreshold < 0 || l.FactArchiveThreshold > 1:
		return NewValidationError("limits.fact_archive_threshold", "must be within [0, 1]")
	case l.FactConsolidationMinRatio < 0 || l.FactConsolidationMinRatio > 1:
		return NewValidationError("limits.fact_consolidation_min_ratio", "must be within [0, 1]")
	case l.FactDecayRate < 0 || l.FactDecayRate > 1:
		return NewValidationError("limits.fact_decay_rate", "must be within [0, 1]")
	}
	return nil
}

func (v *Validator) validateWebhook() error {
	if v.cfg.Webhook.MaxPayload < 1 {
		return NewValidationError("webhook.max_payload", "must be at least 1")
	}
	return nil
}
