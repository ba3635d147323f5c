package brain

import (
	"context"

	"github.com/kisohq/kiso/pkg/llm"
	"github.com/kisohq/kiso/pkg/models"
)

// MessengerInput carries the context for composing one user-facing message.
// Task outputs are untrusted and fenced at build time; the result is
// free-form text and is never truncated.
type MessengerInput struct {
	Goal        string
	Detail      string
	Facts       []models.Fact
	Summary     string
	TaskOutputs []string
}

// Compose writes the user-facing reply for a msg task.
func (b *Brain) Compose(ctx context.Context, in MessengerInput) (string, error) {
	prompt := b.prompts.Get(RoleMessenger)
	build := func(token string) []llm.Message {
		user := joinNonEmpty([]string{
			"## User Request\n" + in.Goal,
			"## What To Write\n" + in.Detail,
			sectionOrEmpty("Session Summary", in.Summary),
			formatFacts(in.Facts),
			formatFenced("Task Outputs", in.TaskOutputs, token),
		}, "\n")
		return []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: user},
		}
	}
	res, err := b.llm.Call(ctx, RoleMessenger, build, nil)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
