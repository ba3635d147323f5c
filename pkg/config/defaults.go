package config

import "time"

// DefaultLimits returns the built-in lifecycle limits. User config overrides
// individual fields; unset fields keep these values.
func DefaultLimits() *Limits {
	return &Limits{
		MaxLLMCallsPerMessage:     40,
		MaxValidationRetries:      3,
		MaxWorkerRetries:          1,
		MaxReplanDepth:            5,
		MaxPlanTasks:              20,
		MaxOutputBytes:            1 << 20, // 1 MiB
		ExecTimeout:               Duration(5 * time.Minute),
		SkillTimeout:              Duration(10 * time.Minute),
		WorkerIdleTimeout:         Duration(300 * time.Second),
		QueueSize:                 32,
		SummarizeThreshold:        20,
		KnowledgeMaxFacts:         200,
		FactDecayDays:             30,
		FactDecayRate:             0.1,
		FactArchiveThreshold:      0.3,
		FactConsolidationMinRatio: 0.30,
		PlannerContextMessages:    7,
	}
}

// DefaultServer returns the built-in server settings.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Listen:       ":8420",
		DataDir:      defaultDataDir(),
		PubSecretEnv: "KISO_PUB_SECRET",
	}
}

// DefaultWebhook returns the built-in webhook delivery settings.
func DefaultWebhook() WebhookConfig {
	return WebhookConfig{
		SecretEnv:  "KISO_WEBHOOK_SECRET",
		MaxPayload: 1 << 20, // 1 MiB
	}
}

// DefaultSearch returns the built-in web-search defaults.
func DefaultSearch() SearchConfig {
	return SearchConfig{MaxResults: 10}
}
