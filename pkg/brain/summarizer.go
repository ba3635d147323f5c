package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kisohq/kiso/pkg/llm"
	"github.com/kisohq/kiso/pkg/models"
)

// SummarizeSession folds the oldest messages (and the msg outputs between
// them) into the session's structured summary. Returns the replacement
// summary text.
func (b *Brain) SummarizeSession(ctx context.Context, current string, msgs []models.Message, outputs []string) (string, error) {
	prompt := b.prompts.Get(RoleSummarizer)
	build := func(token string) []llm.Message {
		user := joinNonEmpty([]string{
			sectionOrEmpty("Current Summary", current),
			formatMessages(msgs),
			formatFenced("Delivered Replies", outputs, token),
		}, "\n")
		return []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: user},
		}
	}
	res, err := b.llm.Call(ctx, RoleSummarizer, build, nil)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(res.Text)
	if summary == "" {
		return "", fmt.Errorf("summarizer returned an empty summary")
	}
	return summary, nil
}

// ConsolidateFacts asks the facts summarizer for a merged replacement set.
// Confidence is clamped here; the count-ratio and length gates live in the
// knowledge service, which decides whether to apply the result.
func (b *Brain) ConsolidateFacts(ctx context.Context, facts []models.Fact) ([]FactSpec, error) {
	var sb strings.Builder
	sb.WriteString("## Current Facts\n")
	for _, f := range facts {
		fmt.Fprintf(&sb, "- [%s, confidence %.2f] %s\n", f.Category, f.Confidence, f.Content)
	}
	build := system(b.prompts.Get(promptFactsSummarizer), sb.String())

	var specs []FactSpec
	_, err := b.callValidated(ctx, RoleSummarizer, build, factsSchema, func(res *llm.Result) error {
		var doc struct {
			Facts []FactSpec `json:"facts"`
		}
		if err := json.Unmarshal([]byte(res.Text), &doc); err != nil {
			return fmt.Errorf("response is not a valid facts document: %v", err)
		}
		specs = doc.Facts
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range specs {
		if specs[i].Confidence < 0 {
			specs[i].Confidence = 0
		}
		if specs[i].Confidence > 1 {
			specs[i].Confidence = 1
		}
	}
	return specs, nil
}
