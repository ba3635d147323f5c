package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"github.com/kisohq/kiso/pkg/llm"
)

// SearchQuery is the parsed input of one search task.
type SearchQuery struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	Lang       string `json:"lang,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Clamp bounds max_results into [1, 100], applying the configured default
// for zero.
func (q *SearchQuery) Clamp(defaultResults int) {
	if q.MaxResults == 0 {
		q.MaxResults = defaultResults
	}
	if q.MaxResults < 1 {
		q.MaxResults = 1
	}
	if q.MaxResults > 100 {
		q.MaxResults = 100
	}
}

// SearchResult is one hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchOutcome is the searcher's full response.
type SearchOutcome struct {
	Results []SearchResult `json:"results"`
	Summary string         `json:"summary"`
	Sources []string       `json:"sources"`
}

// Search runs one searcher call. Near-JSON responses are repaired once
// before the single re-attempt the contract allows; a second failure
// surfaces as an error the handler records as a task failure.
func (b *Brain) Search(ctx context.Context, q SearchQuery) (*SearchOutcome, error) {
	prompt := b.prompts.Get(RoleSearcher)
	user := fmt.Sprintf("Query: %s\nMax results: %d", q.Query, q.MaxResults)
	if q.Lang != "" {
		user += "\nLanguage: " + q.Lang
	}
	if q.Country != "" {
		user += "\nCountry: " + q.Country
	}
	build := system(prompt, user)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := b.llm.Call(ctx, RoleSearcher, build, searchSchema)
		if err != nil {
			var schemaErr *llm.SchemaError
			if errors.As(err, &schemaErr) {
				if outcome, ok := repairSearch(schemaErr.Raw); ok {
					return outcome, nil
				}
				lastErr = err
				continue
			}
			return nil, err
		}
		var outcome SearchOutcome
		if err := json.Unmarshal([]byte(res.Text), &outcome); err != nil {
			lastErr = err
			continue
		}
		return &outcome, nil
	}
	return nil, fmt.Errorf("searcher returned unparseable output: %w", lastErr)
}

// repairSearch tries to salvage a near-JSON searcher response.
func repairSearch(raw string) (*SearchOutcome, bool) {
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, false
	}
	var outcome SearchOutcome
	if err := json.Unmarshal([]byte(repaired), &outcome); err != nil {
		return nil, false
	}
	if outcome.Summary == "" && len(outcome.Results) == 0 {
		return nil, false
	}
	return &outcome, true
}
