// Package llmtest provides a scripted llm.Client for worker and handler
// tests: responses are queued per role or sequentially, and every prompt is
// captured for assertions.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kisohq/kiso/pkg/llm"
	"github.com/kisohq/kiso/pkg/sanitize"
)

// ScriptEntry defines one scripted response.
type ScriptEntry struct {
	Text  string // response body; exactly one of Text/Error is set
	Error error  // returned from Call

	// BlockUntilCancelled makes Call block until the context is cancelled,
	// for cancellation-path tests.
	BlockUntilCancelled bool
	// OnBlock, when set, is notified as Call enters its blocking path.
	OnBlock chan<- struct{}
}

// CapturedCall records one prompt the client was asked to run.
type CapturedCall struct {
	Role       string
	Messages   []llm.Message
	FenceToken string
}

// ScriptedClient implements llm.Client with dual dispatch: role-routed
// entries first, then a sequential fallback, matching how worker tests mix
// deterministic and role-specific phases.
type ScriptedClient struct {
	mu         sync.Mutex
	sequential []ScriptEntry
	seqIndex   int
	routes     map[string][]ScriptEntry
	routeIndex map[string]int
	captured   []CapturedCall

	calls atomic.Int64
}

// NewScriptedClient creates an empty scripted client.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{
		routes:     map[string][]ScriptEntry{},
		routeIndex: map[string]int{},
	}
}

// AddSequential queues an entry consumed in order by any role without a
// routed script.
func (c *ScriptedClient) AddSequential(entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
}

// AddRouted queues an entry for a specific role.
func (c *ScriptedClient) AddRouted(role string, entry ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[role] = append(c.routes[role], entry)
}

// Captured returns a copy of every call seen so far.
func (c *ScriptedClient) Captured() []CapturedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CapturedCall, len(c.captured))
	copy(out, c.captured)
	return out
}

// Calls implements llm.Client.
func (c *ScriptedClient) Calls() int64 { return c.calls.Load() }

// CallsSince implements llm.Client.
func (c *ScriptedClient) CallsSince(start int64) int64 { return c.calls.Load() - start }

// Call implements llm.Client. Scripted responses still go through schema
// validation so tests exercise the same retry paths as production.
func (c *ScriptedClient) Call(ctx context.Context, role string, build llm.PromptBuilder, schema *jsonschema.Schema) (*llm.Result, error) {
	token := sanitize.NewFenceToken()
	msgs := build(token)

	c.mu.Lock()
	c.captured = append(c.captured, CapturedCall{Role: role, Messages: msgs, FenceToken: token})
	entry, err := c.nextEntry(role)
	c.mu.Unlock()
	c.calls.Add(1)
	llm.CountCall(ctx)
	if err != nil {
		return nil, err
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if entry.Error != nil {
		return nil, entry.Error
	}

	result := &llm.Result{
		Text:       entry.Text,
		Model:      "scripted",
		FenceToken: token,
	}
	if schema != nil {
		var doc any
		if err := json.Unmarshal([]byte(entry.Text), &doc); err != nil {
			return nil, &llm.SchemaError{Role: role, Detail: "response is not valid JSON", Raw: entry.Text}
		}
		if err := schema.Validate(doc); err != nil {
			return nil, &llm.SchemaError{Role: role, Detail: err.Error(), Raw: entry.Text}
		}
		result.JSON = doc
	}
	return result, nil
}

func (c *ScriptedClient) nextEntry(role string) (ScriptEntry, error) {
	if script, ok := c.routes[role]; ok {
		i := c.routeIndex[role]
		if i >= len(script) {
			return ScriptEntry{}, fmt.Errorf("scripted client: role %s script exhausted after %d calls", role, i)
		}
		c.routeIndex[role] = i + 1
		return script[i], nil
	}
	if c.seqIndex >= len(c.sequential) {
		return ScriptEntry{}, fmt.Errorf("scripted client: sequential script exhausted after %d calls", c.seqIndex)
	}
	entry := c.sequential[c.seqIndex]
	c.seqIndex++
	return entry, nil
}
