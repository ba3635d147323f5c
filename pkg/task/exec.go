package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/pubfiles"
	"github.com/kisohq/kiso/pkg/sanitize"
)

// Run dispatches one task to its handler by type.
func Run(ctx context.Context, tc *TaskContext, t *models.Task) Result {
	switch t.Type {
	case models.TaskTypeExec:
		return Exec(ctx, tc, t)
	case models.TaskTypeSkill:
		return Skill(ctx, tc, t)
	case models.TaskTypeSearch:
		return Search(ctx, tc, t)
	case models.TaskTypeMsg:
		return Msg(ctx, tc, t)
	}
	return Result{ReplanReason: fmt.Sprintf("unknown task type %q", t.Type)}
}

// execAttempt is one translate-run-review cycle.
type execAttempt struct {
	Command string
	Output  string
	Stderr  string
	Review  *brain.Review
}

// Exec runs an exec task: translate, deny-check, run in the sandboxed
// subshell, review. A replan verdict with a retry hint gets one more
// translate-run-review cycle per max_worker_retries before escalating.
func Exec(ctx context.Context, tc *TaskContext, t *models.Task) Result {
	limits := tc.Config.Current().Limits
	retryDetail := ""
	for attempt := 0; ; attempt++ {
		a, fail := tc.execOnce(ctx, t, retryDetail)
		if fail != nil {
			return *fail
		}
		tc.recordReview(ctx, t.ID, a.Review)
		if a.Review.Status == models.ReviewVerdictOK {
			return Result{Success: true, Output: a.Output, Stderr: a.Stderr, Learn: a.Review.Learn}
		}
		if a.Review.RetryHint != "" && attempt < limits.MaxWorkerRetries {
			retryDetail = fmt.Sprintf("Previous command: %s\nStderr: %s\nHint: %s",
				a.Command, snippet(a.Stderr, 500), a.Review.RetryHint)
			slog.Info("Retrying exec task with reviewer hint",
				"session", tc.Session, "task_id", t.ID, "attempt", attempt+1)
			continue
		}
		return Result{
			Output:       a.Output,
			Stderr:       a.Stderr,
			ReplanReason: a.Review.Reason,
			Learn:        a.Review.Learn,
		}
	}
}

func (tc *TaskContext) execOnce(ctx context.Context, t *models.Task, retryDetail string) (*execAttempt, *Result) {
	tc.setSubstatus(ctx, t.ID, models.SubstatusTranslating)
	command, err := tc.Brain.Translate(ctx, brain.TranslateInput{
		Detail:      t.Detail,
		Environment: tc.Environment,
		RetryHint:   retryDetail,
		PriorTasks:  tc.PriorOutputs(),
	})
	if err != nil {
		if err == brain.ErrCannotTranslate {
			return nil, &Result{ReplanReason: "task could not be translated to a shell command"}
		}
		return nil, tc.failInfra(t, "translator", err)
	}
	if err := CheckCommand(command); err != nil {
		slog.Warn("Command blocked by deny list",
			"session", tc.Session, "task_id", t.ID, "error", err)
		return nil, &Result{ReplanReason: err.Error()}
	}

	if err := tc.WritePlanOutputs(); err != nil {
		return nil, tc.failInfra(t, "plan outputs", err)
	}
	if err := tc.ensurePub(); err != nil {
		return nil, tc.failInfra(t, "pub dir", err)
	}

	tc.setSubstatus(ctx, t.ID, models.SubstatusExecuting)
	cfg := tc.Config.Current()
	before := pubfiles.Snapshot(tc.Workspace)
	res, err := runShell(ctx, command, tc.Workspace, execEnv(tc.Workspace),
		cfg.Sandbox, !tc.IsAdmin, cfg.Limits.ExecTimeout.Std(), cfg.Limits.MaxOutputBytes)
	if err != nil {
		return nil, tc.failInfra(t, "subshell", err)
	}

	output := sanitize.Sanitize(res.Stdout, tc.Secrets)
	stderr := sanitize.Sanitize(res.Stderr, tc.Secrets)
	if res.TimedOut {
		stderr = strings.TrimRight(stderr+"\n[timed out after "+cfg.Limits.ExecTimeout.Std().String()+"]", "\n")
	}
	output = tc.appendPubLinks(output, before)

	tc.setSubstatus(ctx, t.ID, models.SubstatusReviewing)
	review, err := tc.Brain.ReviewTask(ctx, brain.ReviewInput{
		Goal:        tc.Goal,
		Detail:      t.Detail,
		Expect:      expect(t),
		Output:      reviewText(output, stderr),
		UserMessage: tc.UserMessage,
		ExitCode:    &res.ExitCode,
	})
	if err != nil {
		return nil, tc.failInfra(t, "reviewer", err)
	}
	return &execAttempt{Command: command, Output: output, Stderr: stderr, Review: review}, nil
}

func (tc *TaskContext) setSubstatus(ctx context.Context, id int64, sub string) {
	if err := tc.Store.UpdateTaskSubstatus(ctx, id, sub); err != nil {
		slog.Warn("Failed to set task substatus", "task_id", id, "substatus", sub, "error", err)
	}
}

func (tc *TaskContext) recordReview(ctx context.Context, id int64, r *brain.Review) {
	err := tc.Store.UpdateTaskReview(ctx, id, r.Status, r.Reason, strings.Join(r.Learn, "\n"))
	if err != nil {
		slog.Warn("Failed to record task review", "task_id", id, "error", err)
	}
}

// failInfra turns an internal handler error into a task failure with a
// sanitized, user-safe reason.
func (tc *TaskContext) failInfra(t *models.Task, stage string, err error) *Result {
	msg := sanitize.Sanitize(err.Error(), tc.Secrets)
	slog.Error("Task handler failure",
		"session", tc.Session, "task_id", t.ID, "stage", stage, "error", msg)
	return &Result{ReplanReason: fmt.Sprintf("%s failed: %s", stage, msg)}
}

func expect(t *models.Task) string {
	if t.Expect == nil {
		return ""
	}
	return *t.Expect
}

// reviewText combines stdout and stderr for the reviewer.
func reviewText(output, stderr string) string {
	if strings.TrimSpace(stderr) == "" {
		return output
	}
	return output + "\n--- stderr ---\n" + stderr
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
