package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kisohq/kiso/pkg/llm"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/skills"
)

// TaskSpec is one task as emitted by the planner.
type TaskSpec struct {
	Type   models.TaskType `json:"type"`
	Detail string          `json:"detail"`
	Skill  string          `json:"skill,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Expect *string         `json:"expect"`
}

// PlanSpec is the planner's validated output.
type PlanSpec struct {
	Goal         string            `json:"goal"`
	Secrets      map[string]string `json:"secrets,omitempty"`
	Tasks        []TaskSpec        `json:"tasks"`
	ExtendReplan int               `json:"extend_replan,omitempty"`

	// Usage carried back for plan accounting.
	PromptTokens     int `json:"-"`
	CompletionTokens int `json:"-"`
}

// ReplanRecord summarizes one prior plan for the replan history section.
type ReplanRecord struct {
	Goal    string
	Failure string
	Tried   []string
}

// PlannerInput carries everything the planner prompt is built from. Strings
// holding untrusted content (paraphrases, task outputs) are fenced at build
// time with the call's token.
type PlannerInput struct {
	Summary              string
	Facts                []models.Fact
	PendingItems         []models.PendingItem
	Messages             []models.Message
	RecentMsgOutputs     []string
	Skills               []*skills.Skill
	Registry             *skills.Registry
	Environment          Environment
	UntrustedParaphrases []string
	ReplanHistory        []ReplanRecord
	UserMessage          string
}

// PlanError means the planner could not produce a valid plan within the
// retry budget; the worker turns it into a recovery msg task.
type PlanError struct {
	Err error
}

func (e *PlanError) Error() string { return "planner failed: " + e.Err.Error() }
func (e *PlanError) Unwrap() error { return e.Err }

// Plan compiles a user message into a validated PlanSpec.
func (b *Brain) Plan(ctx context.Context, in PlannerInput) (*PlanSpec, error) {
	maxTasks := b.cfg.Current().Limits.MaxPlanTasks
	prompt := b.prompts.Get(RolePlanner)

	build := func(token string) []llm.Message {
		user := joinNonEmpty([]string{
			sectionOrEmpty("Session Summary", in.Summary),
			formatFacts(in.Facts),
			formatPendingItems(in.PendingItems),
			formatMessages(in.Messages),
			formatFenced("Recent Task Outputs", in.RecentMsgOutputs, token),
			formatSkills(in.Skills),
			formatEnvironment(in.Environment),
			formatFenced("Messages From Untrusted Senders (paraphrased)", in.UntrustedParaphrases, token),
			formatReplanHistory(in.ReplanHistory),
			"## Request\n" + in.UserMessage,
		}, "\n")
		return []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: user},
		}
	}

	var spec PlanSpec
	res, err := b.callValidated(ctx, RolePlanner, build, planSchema, func(res *llm.Result) error {
		spec = PlanSpec{}
		if err := json.Unmarshal([]byte(res.Text), &spec); err != nil {
			return fmt.Errorf("response is not a valid plan document: %v", err)
		}
		return validatePlan(&spec, in.Registry, maxTasks)
	})
	if err != nil {
		return nil, &PlanError{Err: err}
	}
	spec.PromptTokens = res.PromptTokens
	spec.CompletionTokens = res.CompletionTokens
	return &spec, nil
}

// validatePlan enforces the structural plan rules; its messages are fed back
// to the planner verbatim on retry.
func validatePlan(p *PlanSpec, reg *skills.Registry, maxTasks int) error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks; emit at least one task")
	}
	if maxTasks > 0 && len(p.Tasks) > maxTasks {
		return fmt.Errorf("plan has %d tasks, the limit is %d", len(p.Tasks), maxTasks)
	}
	if p.ExtendReplan != 0 && (p.ExtendReplan < 1 || p.ExtendReplan > 3) {
		return fmt.Errorf("extend_replan must be an integer between 1 and 3, got %d", p.ExtendReplan)
	}
	for i, t := range p.Tasks {
		last := i == len(p.Tasks)-1
		switch t.Type {
		case models.TaskTypeExec, models.TaskTypeSkill, models.TaskTypeSearch:
			if t.Expect == nil || strings.TrimSpace(*t.Expect) == "" {
				return fmt.Errorf("task %d (%s) needs a non-null expect", i+1, t.Type)
			}
		case models.TaskTypeMsg, models.TaskTypeReplan:
			if t.Expect != nil {
				return fmt.Errorf("task %d (%s) must have expect: null", i+1, t.Type)
			}
		default:
			return fmt.Errorf("task %d has unknown type %q", i+1, t.Type)
		}
		if t.Type == models.TaskTypeReplan && !last {
			return fmt.Errorf("task %d is replan but not last; replan may only be the final task", i+1)
		}
		if t.Type == models.TaskTypeSkill {
			skill, err := reg.Get(t.Skill)
			if err != nil {
				return fmt.Errorf("task %d names unknown skill %q", i+1, t.Skill)
			}
			if _, err := skill.ValidateArgs(string(t.Args)); err != nil {
				return fmt.Errorf("task %d: %v", i+1, err)
			}
		}
	}
	lastType := p.Tasks[len(p.Tasks)-1].Type
	if lastType != models.TaskTypeMsg && lastType != models.TaskTypeReplan {
		return fmt.Errorf("the last task must be msg or replan, got %s", lastType)
	}
	return nil
}

func formatReplanHistory(history []ReplanRecord) string {
	if len(history) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Replan History\nEarlier plans for this request failed. Do not repeat them.\n")
	for i, r := range history {
		fmt.Fprintf(&sb, "### Attempt %d\nGoal: %s\nFailure: %s\n", i+1, r.Goal, r.Failure)
		for _, t := range r.Tried {
			sb.WriteString("- tried: " + t + "\n")
		}
	}
	return sb.String()
}

func sectionOrEmpty(heading, body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	return "## " + heading + "\n" + body + "\n"
}
