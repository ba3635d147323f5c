package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kisohq/kiso/pkg/llm"
	"github.com/kisohq/kiso/pkg/models"
)

// Curator verdicts.
const (
	VerdictPromote = "promote"
	VerdictAsk     = "ask"
	VerdictDiscard = "discard"
)

// FactSpec is a fact as emitted by the curator or the facts summarizer.
type FactSpec struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Evaluation is the curator's decision for one learning.
type Evaluation struct {
	LearningID int64     `json:"learning_id"`
	Verdict    string    `json:"verdict"`
	Fact       *FactSpec `json:"fact,omitempty"`
	Question   string    `json:"question,omitempty"`
	Reason     string    `json:"reason"`
}

// Curate evaluates pending learnings into promote/ask/discard decisions.
func (b *Brain) Curate(ctx context.Context, learnings []models.Learning) ([]Evaluation, error) {
	var sb strings.Builder
	sb.WriteString("## Pending Learnings\n")
	for _, l := range learnings {
		fmt.Fprintf(&sb, "- id %d (session %s): %s\n", l.ID, l.Session, l.Content)
	}
	build := system(b.prompts.Get(RoleCurator), sb.String())

	known := make(map[int64]bool, len(learnings))
	for _, l := range learnings {
		known[l.ID] = true
	}

	var evals []Evaluation
	_, err := b.callValidated(ctx, RoleCurator, build, curatorSchema, func(res *llm.Result) error {
		var doc struct {
			Evaluations []Evaluation `json:"evaluations"`
		}
		if err := json.Unmarshal([]byte(res.Text), &doc); err != nil {
			return fmt.Errorf("response is not a valid evaluations document: %v", err)
		}
		for _, e := range doc.Evaluations {
			if !known[e.LearningID] {
				return fmt.Errorf("evaluation references unknown learning id %d", e.LearningID)
			}
			if strings.TrimSpace(e.Reason) == "" {
				return fmt.Errorf("evaluation for learning %d has an empty reason", e.LearningID)
			}
			switch e.Verdict {
			case VerdictPromote:
				if e.Fact == nil || strings.TrimSpace(e.Fact.Content) == "" {
					return fmt.Errorf(`learning %d: verdict "promote" requires a non-empty fact`, e.LearningID)
				}
			case VerdictAsk:
				if strings.TrimSpace(e.Question) == "" {
					return fmt.Errorf(`learning %d: verdict "ask" requires a non-empty question`, e.LearningID)
				}
			}
		}
		evals = doc.Evaluations
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evals, nil
}
