// Package task implements the four task handlers — exec, skill, search, msg
// — plus the deny list and the sandboxed subshell they run on.
package task

import (
	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/config"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/pubfiles"
	"github.com/kisohq/kiso/pkg/skills"
	"github.com/kisohq/kiso/pkg/store"
	"github.com/kisohq/kiso/pkg/webhook"
)

// PlanOutput is one completed task's record, chained into later tasks of the
// same plan and written to .kiso/plan_outputs.json before each exec.
type PlanOutput struct {
	Task   string `json:"task"`
	Type   string `json:"type"`
	Output string `json:"output"`
}

// Result is what a handler returns to the worker. Output carries stdout only;
// subprocess stderr is kept separate and persisted in its own column.
type Result struct {
	Success      bool
	Output       string
	Stderr       string
	ReplanReason string
	RetryHint    string
	Learn        []string
}

// TaskContext carries everything handlers need for one plan. The worker
// builds one per plan and mutates PlanOutputs and Secrets as tasks complete.
type TaskContext struct {
	Store  *store.Store
	Config *config.Provider
	Brain  *brain.Brain
	Skills *skills.Registry
	Pub    *pubfiles.Service
	Hook   *webhook.Deliverer

	Session     string
	User        string
	IsAdmin     bool
	PlanID      int64
	Goal        string
	UserMessage string
	Workspace   string
	Summary     string

	// Facts are the knowledge entries shown to the planner, reused by the
	// messenger and credited on plan success.
	Facts []models.Fact

	// Environment shown to the planner and the exec translator.
	Environment brain.Environment

	// PlanOutputs accumulates completed task records in task order.
	PlanOutputs []PlanOutput

	// Secrets holds ephemeral credentials extracted from the user message.
	// In-memory only; values are scrubbed from everything persisted.
	Secrets map[string]string

	// WebhookURL is the session's registered delivery target, empty if none.
	WebhookURL string

	// Final marks the current msg task as the last of the final plan.
	Final bool
}

// SecretValues returns the ephemeral secret values for sanitizing.
func (tc *TaskContext) SecretValues() []string {
	out := make([]string, 0, len(tc.Secrets))
	for _, v := range tc.Secrets {
		out = append(out, v)
	}
	return out
}

// PriorOutputs returns the accumulated outputs as fenced-ready strings.
func (tc *TaskContext) PriorOutputs() []string {
	out := make([]string, 0, len(tc.PlanOutputs))
	for _, p := range tc.PlanOutputs {
		out = append(out, p.Task+":\n"+p.Output)
	}
	return out
}
