package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kisohq/kiso/pkg/llm"
	"github.com/kisohq/kiso/pkg/models"
)

// Review is the reviewer's verdict for one task.
type Review struct {
	Status    models.ReviewVerdict `json:"status"`
	Reason    string               `json:"reason,omitempty"`
	Learn     []string             `json:"learn,omitempty"`
	RetryHint string               `json:"retry_hint,omitempty"`
}

// ReviewInput carries the task outcome under review. Output must already be
// sanitized; it is fenced at build time.
type ReviewInput struct {
	Goal        string
	Detail      string
	Expect      string
	Output      string
	UserMessage string
	ExitCode    *int // set for exec tasks
}

// ReviewTask judges a task's output against its expectation.
func (b *Brain) ReviewTask(ctx context.Context, in ReviewInput) (*Review, error) {
	prompt := b.prompts.Get(RoleReviewer)
	build := func(token string) []llm.Message {
		var exitLine string
		if in.ExitCode != nil {
			exitLine = fmt.Sprintf("Exit code: %d\n", *in.ExitCode)
		}
		user := joinNonEmpty([]string{
			"## Plan Goal\n" + in.Goal,
			"## Task\n" + in.Detail,
			"## Expected\n" + in.Expect,
			exitLine,
			formatFenced("Task Output", []string{in.Output}, token),
			sectionOrEmpty("Original User Message", in.UserMessage),
		}, "\n")
		return []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: user},
		}
	}

	var review Review
	_, err := b.callValidated(ctx, RoleReviewer, build, reviewSchema, func(res *llm.Result) error {
		review = Review{}
		if err := json.Unmarshal([]byte(res.Text), &review); err != nil {
			return fmt.Errorf("response is not a valid review document: %v", err)
		}
		if review.Status == models.ReviewVerdictReplan && strings.TrimSpace(review.Reason) == "" {
			return fmt.Errorf(`status "replan" requires a non-empty reason`)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// An "ok" with a failing exit code and nothing to say is a rubber stamp;
	// treat it as a failure rather than trusting it.
	if review.Status == models.ReviewVerdictOK && in.ExitCode != nil && *in.ExitCode != 0 &&
		strings.TrimSpace(review.Reason) == "" {
		review.Status = models.ReviewVerdictReplan
		review.Reason = fmt.Sprintf("command exited with code %d", *in.ExitCode)
	}
	return &review, nil
}
