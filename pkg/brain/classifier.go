package brain

import (
	"context"
	"log/slog"
	"strings"
)

// Intent is the classifier's verdict.
type Intent string

const (
	IntentPlan Intent = "plan"
	IntentChat Intent = "chat"
)

// Classify routes a message to the fast chat path or the planner. Any
// unexpected output, and any error, coerces to plan — the expensive path is
// the safe one.
func (b *Brain) Classify(ctx context.Context, message string) Intent {
	res, err := b.llm.Call(ctx, RoleClassifier,
		system(b.prompts.Get(RoleClassifier), message), nil)
	if err != nil {
		slog.Warn("Classifier call failed, taking the plan path", "error", err)
		return IntentPlan
	}
	switch strings.ToLower(strings.TrimSpace(strings.Trim(res.Text, `"'.`))) {
	case "chat":
		return IntentChat
	case "plan":
		return IntentPlan
	default:
		return IntentPlan
	}
}
