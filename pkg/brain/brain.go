// Package brain implements the nine LLM roles: message builders, output
// schemas, validation loops, and the entry functions the worker calls.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kisohq/kiso/pkg/config"
	"github.com/kisohq/kiso/pkg/llm"
)

// Role names, used for model routing and prompt overrides.
const (
	RoleClassifier  = "classifier"
	RolePlanner     = "planner"
	RoleExec        = "exec"
	RoleReviewer    = "reviewer"
	RoleSearcher    = "searcher"
	RoleMessenger   = "messenger"
	RoleCurator     = "curator"
	RoleSummarizer  = "summarizer"
	RoleParaphraser = "paraphraser"
)

// Brain routes role entry functions through the LLM client, loading system
// prompts from the config directory with package-shipped defaults. Stateless
// apart from the prompt cache; safe for concurrent use.
type Brain struct {
	llm     llm.Client
	cfg     *config.Provider
	prompts *Prompts
}

// New builds a Brain over the given client and live config.
func New(client llm.Client, cfg *config.Provider) *Brain {
	return &Brain{
		llm:     client,
		cfg:     cfg,
		prompts: NewPrompts(cfg.Current().ConfigDir()),
	}
}

func (b *Brain) maxRetries() int {
	return b.cfg.Current().Limits.MaxValidationRetries
}

// validator inspects a structurally valid response and returns a targeted
// error message when a semantic rule is violated.
type validator func(res *llm.Result) error

// callValidated runs one role call with the retry loop shared by all
// structured roles: schema failures and validator failures both re-call with
// the prior response and a targeted error appended, up to
// max_validation_retries times.
func (b *Brain) callValidated(ctx context.Context, role string, base llm.PromptBuilder, schema *jsonschema.Schema, validate validator) (*llm.Result, error) {
	retries := b.maxRetries()
	var lastErr error
	var priorResponse, feedback string

	for attempt := 0; attempt <= retries; attempt++ {
		build := base
		if feedback != "" {
			prior, correction := priorResponse, feedback
			build = func(token string) []llm.Message {
				msgs := base(token)
				msgs = append(msgs,
					llm.Message{Role: llm.RoleAssistant, Content: prior},
					llm.Message{Role: llm.RoleUser, Content: "Your previous response was invalid: " + correction + "\nRespond again, fixing only this."},
				)
				return msgs
			}
		}

		res, err := b.llm.Call(ctx, role, build, schema)
		if err != nil {
			var schemaErr *llm.SchemaError
			if errors.As(err, &schemaErr) {
				lastErr = err
				priorResponse = schemaErr.Raw
				feedback = schemaErr.Detail
				continue
			}
			return nil, err
		}
		if validate != nil {
			if verr := validate(res); verr != nil {
				lastErr = verr
				priorResponse = res.Text
				feedback = verr.Error()
				continue
			}
		}
		return res, nil
	}
	return nil, fmt.Errorf("role %s failed validation after %d retries: %w", role, retries, lastErr)
}

// system wraps a system prompt and a user message into a PromptBuilder for
// roles whose user content does not depend on the fence token.
func system(prompt, user string) llm.PromptBuilder {
	return func(string) []llm.Message {
		return []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: user},
		}
	}
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
