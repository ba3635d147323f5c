package brain

import (
	"context"
	"errors"
	"strings"

	"github.com/kisohq/kiso/pkg/llm"
)

// CannotTranslate is the literal token the exec translator emits when a task
// has no safe shell rendering.
const CannotTranslate = "CANNOT_TRANSLATE"

// ErrCannotTranslate means the translator declined the task.
var ErrCannotTranslate = errors.New("task cannot be translated to a shell command")

// TranslateInput carries the context for one exec translation.
type TranslateInput struct {
	Detail      string
	Environment Environment
	RetryHint   string
	PriorTasks  []string // fenced outputs of preceding tasks in this plan
}

// Translate turns a task description into one shell command line.
func (b *Brain) Translate(ctx context.Context, in TranslateInput) (string, error) {
	prompt := b.prompts.Get(RoleExec)
	build := func(token string) []llm.Message {
		user := joinNonEmpty([]string{
			formatEnvironment(in.Environment),
			formatFenced("Preceding Task Outputs", in.PriorTasks, token),
			sectionOrEmpty("Retry Hint", in.RetryHint),
			"## Task\n" + in.Detail,
		}, "\n")
		return []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: user},
		}
	}

	res, err := b.llm.Call(ctx, RoleExec, build, nil)
	if err != nil {
		return "", err
	}
	cmd := strings.TrimSpace(res.Text)
	// Models wrap commands in code fences despite instructions; strip them.
	cmd = strings.TrimSpace(strings.Trim(cmd, "`"))
	cmd = strings.TrimSpace(strings.TrimPrefix(cmd, "sh\n"))
	cmd = strings.TrimSpace(strings.TrimPrefix(cmd, "bash\n"))
	if cmd == "" || strings.Contains(cmd, CannotTranslate) {
		return "", ErrCannotTranslate
	}
	return cmd, nil
}
