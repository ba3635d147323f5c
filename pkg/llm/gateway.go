// Package llm routes role-addressed calls to OpenAI-compatible chat
// completion endpoints, validates structured output against JSON schemas,
// and keeps per-call audit and budget accounting.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kisohq/kiso/pkg/config"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/sanitize"
)

// Chat roles for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to a model.
type Message struct {
	Role    string
	Content string
}

// PromptBuilder produces the messages for one call. The gateway generates a
// fresh fence token per call and hands it to the builder so untrusted content
// can be fenced before inclusion.
type PromptBuilder func(fenceToken string) []Message

// Result is the outcome of one successful call.
type Result struct {
	Text             string
	JSON             any // decoded, schema-validated body; nil without a schema
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMs        int64
	FenceToken       string
}

// Record converts the result into a per-call audit record.
func (r *Result) Record(role string) models.LLMCallRecord {
	return models.LLMCallRecord{
		Role:             role,
		Model:            r.Model,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		LatencyMs:        r.LatencyMs,
		Status:           "ok",
	}
}

// Client is the calling surface the brain depends on. Satisfied by Gateway
// and by the scripted client in llmtest.
type Client interface {
	Call(ctx context.Context, role string, build PromptBuilder, schema *jsonschema.Schema) (*Result, error)
	Calls() int64
	CallsSince(start int64) int64
}

// Auditor receives one record per call, success or failure. Implementations
// must not block.
type Auditor interface {
	LLMCall(rec models.LLMCallRecord)
}

// chatClient is the subset of go-openai the gateway uses, extracted so tests
// can substitute a fake.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type cachedClient struct {
	chat    chatClient
	baseURL string
	apiKey  string
}

// Gateway implements Client against the live configuration. Provider clients
// are cached and rebuilt when a reload changes their base URL or key.
type Gateway struct {
	cfg     *config.Provider
	auditor Auditor

	mu      sync.Mutex
	clients map[string]*cachedClient

	calls atomic.Int64

	// newChat is swapped by tests.
	newChat func(apiKey, baseURL string, timeout time.Duration) chatClient
}

// NewGateway builds a gateway over the live config. auditor may be nil.
func NewGateway(cfg *config.Provider, auditor Auditor) *Gateway {
	return &Gateway{
		cfg:     cfg,
		auditor: auditor,
		clients: map[string]*cachedClient{},
		newChat: func(apiKey, baseURL string, timeout time.Duration) chatClient {
			c := openai.DefaultConfig(apiKey)
			if baseURL != "" {
				c.BaseURL = baseURL
			}
			if timeout > 0 {
				c.HTTPClient = &http.Client{Timeout: timeout}
			}
			return openai.NewClientWithConfig(c)
		},
	}
}

// Calls returns the number of calls attempted since process start.
func (g *Gateway) Calls() int64 { return g.calls.Load() }

// CallsSince returns how many calls were attempted after the given mark.
func (g *Gateway) CallsSince(start int64) int64 { return g.calls.Load() - start }

// Call resolves the role's model and provider, runs one chat completion, and
// validates the response against schema when one is given. Schema failures
// return a *SchemaError so callers can retry with the validator message.
func (g *Gateway) Call(ctx context.Context, role string, build PromptBuilder, schema *jsonschema.Schema) (*Result, error) {
	cfg := g.cfg.Current()

	model, ok := cfg.Models[role]
	if !ok {
		return nil, fmt.Errorf("%w: no model configured for role %q", ErrModelNotSupported, role)
	}
	providerName, provider, ok := cfg.ProviderForModel(model)
	if !ok {
		return nil, fmt.Errorf("%w: no provider serves model %q", ErrProviderNotFound, model)
	}
	apiKey := os.Getenv(provider.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s is unset for provider %q", ErrMissingAPIKey, provider.APIKeyEnv, providerName)
	}

	token := sanitize.NewFenceToken()
	msgs := build(token)
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if schema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	if cfg.Server.Verbose {
		slog.Debug("LLM request", "role", role, "model", model, "provider", providerName,
			"messages", len(req.Messages))
	}

	g.calls.Add(1)
	CountCall(ctx)
	start := time.Now()
	resp, err := g.client(providerName, provider, apiKey).CreateChatCompletion(ctx, req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		g.audit(models.LLMCallRecord{Role: role, Model: model, LatencyMs: latency, Status: "error"})
		return nil, fmt.Errorf("chat completion for role %s failed: %w", role, err)
	}
	if len(resp.Choices) == 0 {
		g.audit(models.LLMCallRecord{Role: role, Model: model, LatencyMs: latency, Status: "error"})
		return nil, fmt.Errorf("%w for role %s", ErrEmptyResponse, role)
	}

	result := &Result{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		LatencyMs:        latency,
		FenceToken:       token,
	}

	if schema != nil {
		var doc any
		if err := json.Unmarshal([]byte(result.Text), &doc); err != nil {
			g.audit(record(role, result, "schema_error"))
			return nil, &SchemaError{Role: role, Detail: "response is not valid JSON", Raw: result.Text}
		}
		if err := schema.Validate(doc); err != nil {
			g.audit(record(role, result, "schema_error"))
			return nil, &SchemaError{Role: role, Detail: err.Error(), Raw: result.Text}
		}
		result.JSON = doc
	}

	if cfg.Server.Verbose {
		slog.Debug("LLM response", "role", role, "model", model,
			"prompt_tokens", result.PromptTokens, "completion_tokens", result.CompletionTokens,
			"latency_ms", latency)
	}
	g.audit(record(role, result, "ok"))
	return result, nil
}

func (g *Gateway) client(name string, p config.ProviderConfig, apiKey string) chatClient {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[name]; ok && c.baseURL == p.BaseURL && c.apiKey == apiKey {
		return c.chat
	}
	chat := g.newChat(apiKey, p.BaseURL, p.Timeout.Std())
	g.clients[name] = &cachedClient{chat: chat, baseURL: p.BaseURL, apiKey: apiKey}
	return chat
}

func (g *Gateway) audit(rec models.LLMCallRecord) {
	if g.auditor != nil {
		g.auditor.LLMCall(rec)
	}
}

func record(role string, r *Result, status string) models.LLMCallRecord {
	rec := r.Record(role)
	rec.Status = status
	return rec
}
