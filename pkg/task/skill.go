package task

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/pubfiles"
	"github.com/kisohq/kiso/pkg/sanitize"
)

// skillStdin is the JSON document piped to a skill's run.py.
type skillStdin struct {
	Args           map[string]any    `json:"args"`
	Session        string            `json:"session"`
	Workspace      string            `json:"workspace"`
	SessionSecrets map[string]string `json:"session_secrets"`
	PlanOutputs    []PlanOutput      `json:"plan_outputs"`
}

// Skill runs a skill task: validate args against the manifest, run the
// skill's venv python with the JSON stdin document, review. Skills never get
// a worker-level retry; a replan verdict escalates directly.
func Skill(ctx context.Context, tc *TaskContext, t *models.Task) Result {
	sk, err := tc.Skills.Get(t.Skill)
	if err != nil {
		return Result{ReplanReason: sanitize.Sanitize(err.Error(), tc.Secrets)}
	}
	args, err := sk.ValidateArgs(t.Args)
	if err != nil {
		return Result{ReplanReason: sanitize.Sanitize(err.Error(), tc.Secrets)}
	}

	if err := tc.WritePlanOutputs(); err != nil {
		return *tc.failInfra(t, "plan outputs", err)
	}
	if err := tc.ensurePub(); err != nil {
		return *tc.failInfra(t, "pub dir", err)
	}

	stdin, err := json.Marshal(skillStdin{
		Args:           args,
		Session:        tc.Session,
		Workspace:      tc.Workspace,
		SessionSecrets: declaredSecrets(sk.SessionSecrets, tc.Secrets),
		PlanOutputs:    tc.PlanOutputs,
	})
	if err != nil {
		return *tc.failInfra(t, "skill input", err)
	}

	tc.setSubstatus(ctx, t.ID, models.SubstatusExecuting)
	cfg := tc.Config.Current()
	before := pubfiles.Snapshot(tc.Workspace)
	argv := []string{
		filepath.Join(sk.Dir, ".venv", "bin", "python"),
		filepath.Join(sk.Dir, "run.py"),
	}
	res, err := runSubprocess(ctx, argv, tc.Workspace, skillEnv(tc.Workspace, sk.Env),
		stdin, cfg.Sandbox, !tc.IsAdmin, cfg.Limits.SkillTimeout.Std(), cfg.Limits.MaxOutputBytes)
	if err != nil {
		return *tc.failInfra(t, "skill subprocess", err)
	}

	output := sanitize.Sanitize(res.Stdout, tc.Secrets)
	stderr := sanitize.Sanitize(res.Stderr, tc.Secrets)
	if res.TimedOut {
		stderr = strings.TrimRight(stderr+"\n[timed out after "+cfg.Limits.SkillTimeout.Std().String()+"]", "\n")
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
		return *tc.failInfra(t, "reviewer", err)
	}
	tc.recordReview(ctx, t.ID, review)

	if review.Status != models.ReviewVerdictOK {
		return Result{Output: output, Stderr: stderr, ReplanReason: review.Reason, Learn: review.Learn}
	}
	return Result{Success: true, Output: output, Stderr: stderr, Learn: review.Learn}
}

// declaredSecrets filters the ephemeral secrets down to the keys the manifest
// declares. Undeclared secrets never reach a skill process.
func declaredSecrets(declared []string, secrets map[string]string) map[string]string {
	out := map[string]string{}
	for _, key := range declared {
		if v, ok := secrets[key]; ok {
			out[key] = v
		}
	}
	return out
}

// skillEnv extends the minimal exec environment with the env vars the
// manifest declares, passed through from the server process.
func skillEnv(workspace string, declared []string) []string {
	env := execEnv(workspace)
	for _, name := range declared {
		if v := os.Getenv(name); v != "" {
			env = append(env, name+"="+v)
		} else {
			slog.Warn("Declared skill env var is unset", "var", name)
		}
	}
	return env
}
