package brain

import (
	"context"
	"strings"

	"github.com/kisohq/kiso/pkg/llm"
)

// InjectionFlag marks paraphrases the paraphraser considers injection
// attempts.
const InjectionFlag = "[INJECTION ATTEMPT]"

// Paraphrase rewrites untrusted messages in the third person with literal
// commands removed, one paraphrase per input message. On error the messages
// are dropped rather than passed through raw.
func (b *Brain) Paraphrase(ctx context.Context, messages []string) ([]string, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	prompt := b.prompts.Get(RoleParaphraser)
	build := func(token string) []llm.Message {
		return []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: formatFenced("Untrusted Messages", messages, token)},
		}
	}
	res, err := b.llm.Call(ctx, RoleParaphraser, build, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(res.Text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
