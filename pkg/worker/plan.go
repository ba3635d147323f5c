package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/metrics"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/sanitize"
	"github.com/kisohq/kiso/pkg/store"
	"github.com/kisohq/kiso/pkg/task"
	"github.com/kisohq/kiso/pkg/webhook"
)

// planAndExecute compiles one plan for the message and executes it. Failed
// tasks recurse here with the accumulated replan history until the depth cap.
func (w *Worker) planAndExecute(ctx context.Context, cyc *cycle,
	history []brain.ReplanRecord, parentID *int64, depth, extend int) string {

	maxDepth := cyc.cfg.Limits.MaxReplanDepth
	if maxDepth <= 0 {
		maxDepth = defaultReplanDepth
	}
	if depth > maxDepth+extend {
		w.systemNotice(ctx, cyc, parentID,
			"I wasn't able to complete this request after repeated replanning. "+lastFailure(history))
		return "replan_cap"
	}
	if w.budgetExceeded(cyc) {
		w.systemNotice(ctx, cyc, parentID,
			"This request exceeded its LLM call budget before completing. Try a narrower request.")
		return "budget"
	}

	spec, err := w.deps.Brain.Plan(ctx, w.plannerInput(ctx, cyc, history))
	if err != nil {
		reason := sanitize.Sanitize(err.Error(), w.secrets)
		slog.Error("Planner failed", "session", w.session, "error", reason)
		w.systemNotice(ctx, cyc, parentID,
			"I couldn't work out a valid plan for this request: "+reason)
		return "plan_error"
	}

	// Ephemeral secrets stay in memory for the worker's lifetime; only the
	// count is ever logged.
	if len(spec.Secrets) > 0 {
		for k, v := range spec.Secrets {
			if k != "" && v != "" {
				w.secrets[k] = v
			}
		}
		slog.Info("Extracted ephemeral secrets", "session", w.session, "count", len(spec.Secrets))
	}
	if spec.ExtendReplan > extend {
		extend = spec.ExtendReplan
	}

	planID, err := w.deps.Store.CreatePlan(ctx, models.Plan{
		Session:   w.session,
		MessageID: cyc.msg.MessageID,
		ParentID:  parentID,
		Goal:      spec.Goal,
	})
	if err != nil {
		slog.Error("Failed to persist plan", "session", w.session, "error", err)
		w.systemNotice(ctx, cyc, parentID, "An internal storage error interrupted this request.")
		return "store_error"
	}
	w.activePlan.Store(planID)
	w.auditPlan(planID, models.PlanStatusRunning)
	if err := w.deps.Store.UpdatePlanUsage(ctx, planID,
		int64(spec.PromptTokens), int64(spec.CompletionTokens), store.KeepLLMCalls); err != nil {
		slog.Warn("Failed to record plan usage", "plan_id", planID, "error", err)
	}

	rows := make([]models.Task, 0, len(spec.Tasks))
	for _, ts := range spec.Tasks {
		// The planner may echo an extracted secret back into a task; scrub
		// the fields before they hit the store or any later prompt.
		row := models.Task{
			PlanID:  planID,
			Session: w.session,
			Type:    ts.Type,
			Detail:  sanitize.Sanitize(ts.Detail, w.secrets),
			Skill:   ts.Skill,
			Args:    sanitize.Sanitize(string(ts.Args), w.secrets),
			Expect:  ts.Expect,
		}
		id, err := w.deps.Store.CreateTask(ctx, row)
		if err != nil {
			slog.Error("Failed to persist task", "plan_id", planID, "error", err)
			w.finishPlan(ctx, planID, models.PlanStatusFailed)
			w.systemNotice(ctx, cyc, &planID, "An internal storage error interrupted this request.")
			return "store_error"
		}
		row.ID = id
		rows = append(rows, row)
	}

	return w.executePlan(ctx, cyc, spec, planID, rows, history, depth, extend)
}

func (w *Worker) executePlan(ctx context.Context, cyc *cycle, spec *brain.PlanSpec,
	planID int64, rows []models.Task, history []brain.ReplanRecord, depth, extend int) string {

	tc := w.taskContext(cyc, planID, spec.Goal)
	var completed []string

	for i := range rows {
		row := &rows[i]
		if w.cancelled() {
			return w.cancelPlan(ctx, cyc, tc, planID, len(completed))
		}
		if w.budgetExceeded(cyc) {
			w.failRemaining(ctx, planID)
			w.systemNotice(ctx, cyc, &planID,
				"This request exceeded its LLM call budget before completing. Try a narrower request.")
			return "budget"
		}

		if row.Type == models.TaskTypeReplan {
			// Planner-requested replan: this plan ends cleanly and a new one
			// starts with the history of what was already done.
			if err := w.deps.Store.UpdateTask(ctx, row.ID, models.TaskStatusDone, "", ""); err != nil {
				slog.Warn("Failed to close replan task", "task_id", row.ID, "error", err)
			}
			w.finishPlan(ctx, planID, models.PlanStatusDone)
			hist := append(history, brain.ReplanRecord{
				Goal:    spec.Goal,
				Failure: "the plan requested replanning: " + row.Detail,
				Tried:   completed,
			})
			pid := planID
			return w.planAndExecute(ctx, cyc, hist, &pid, depth+1, extend)
		}

		tc.Final = i == len(rows)-1 && row.Type == models.TaskTypeMsg
		if err := w.deps.Store.UpdateTaskStatus(ctx, row.ID, models.TaskStatusRunning); err != nil {
			slog.Warn("Failed to mark task running", "task_id", row.ID, "error", err)
		}
		w.auditTask(row.ID, models.TaskStatusRunning, "")

		start := time.Now()
		res := task.Run(ctx, tc, row)
		status := models.TaskStatusDone
		if !res.Success {
			status = models.TaskStatusFailed
		}
		if err := w.deps.Store.UpdateTask(ctx, row.ID, status, res.Output, res.Stderr); err != nil {
			slog.Warn("Failed to persist task result", "task_id", row.ID, "error", err)
		}
		w.auditTask(row.ID, status, "")
		metrics.TaskFinished(string(row.Type), string(status), time.Since(start))
		w.saveLearnings(ctx, cyc, res.Learn)

		if res.Success {
			tc.PlanOutputs = append(tc.PlanOutputs, task.PlanOutput{
				Task: row.Detail, Type: string(row.Type), Output: res.Output,
			})
			completed = append(completed, row.Detail)
			continue
		}

		w.failRemaining(ctx, planID)
		w.finishPlan(ctx, planID, models.PlanStatusFailed)
		if row.Type == models.TaskTypeMsg {
			// Replanning cannot fix a reply that failed to compose.
			w.systemNotice(ctx, cyc, &planID,
				"The work finished but the final reply could not be composed.")
			return "msg_failed"
		}
		hist := append(history, brain.ReplanRecord{
			Goal:    spec.Goal,
			Failure: failureText(row, res),
			Tried:   completed,
		})
		pid := planID
		return w.planAndExecute(ctx, cyc, hist, &pid, depth+1, extend)
	}

	w.finishPlan(ctx, planID, models.PlanStatusDone)
	if w.deps.Knowledge != nil && len(cyc.factIDs) > 0 {
		if err := w.deps.Knowledge.RecordFactUsage(ctx, cyc.factIDs); err != nil {
			slog.Warn("Failed to record fact usage", "session", w.session, "error", err)
		}
	}
	return "ok"
}

// runChat is the classifier fast path: a synthetic one-task plan that goes
// straight to the messenger, keeping a plan row for status polling.
func (w *Worker) runChat(ctx context.Context, cyc *cycle) string {
	goal := "reply to the user"
	planID, err := w.deps.Store.CreatePlan(ctx, models.Plan{
		Session: w.session, MessageID: cyc.msg.MessageID, Goal: goal,
	})
	if err != nil {
		slog.Error("Failed to persist chat plan", "session", w.session, "error", err)
		return "store_error"
	}
	w.activePlan.Store(planID)
	w.auditPlan(planID, models.PlanStatusRunning)

	row := models.Task{
		PlanID:  planID,
		Session: w.session,
		Type:    models.TaskTypeMsg,
		Detail:  "Reply to the user's message conversationally.",
	}
	row.ID, err = w.deps.Store.CreateTask(ctx, row)
	if err != nil {
		slog.Error("Failed to persist chat task", "plan_id", planID, "error", err)
		w.finishPlan(ctx, planID, models.PlanStatusFailed)
		return "store_error"
	}
	if err := w.deps.Store.UpdateTaskStatus(ctx, row.ID, models.TaskStatusRunning); err != nil {
		slog.Warn("Failed to mark task running", "task_id", row.ID, "error", err)
	}
	w.auditTask(row.ID, models.TaskStatusRunning, "")

	tc := w.taskContext(cyc, planID, goal)
	tc.Final = true
	start := time.Now()
	res := task.Run(ctx, tc, &row)
	status := models.TaskStatusDone
	planStatus := models.PlanStatusDone
	if !res.Success {
		status = models.TaskStatusFailed
		planStatus = models.PlanStatusFailed
	}
	if err := w.deps.Store.UpdateTask(ctx, row.ID, status, res.Output, res.Stderr); err != nil {
		slog.Warn("Failed to persist chat task result", "task_id", row.ID, "error", err)
	}
	w.auditTask(row.ID, status, "")
	metrics.TaskFinished(string(row.Type), string(status), time.Since(start))
	w.finishPlan(ctx, planID, planStatus)
	if !res.Success {
		return "chat_failed"
	}
	return "chat"
}

func (w *Worker) plannerInput(ctx context.Context, cyc *cycle, history []brain.ReplanRecord) brain.PlannerInput {
	limit := cyc.cfg.Limits.PlannerContextMessages
	if limit <= 0 {
		limit = defaultContextMsgs
	}

	var trusted []models.Message
	if msgs, err := w.deps.Store.RecentMessages(ctx, w.session, limit); err == nil {
		for _, m := range msgs {
			if m.Trusted {
				trusted = append(trusted, m)
			}
		}
	} else {
		slog.Warn("Failed to load recent messages", "session", w.session, "error", err)
	}

	pending, err := w.deps.Store.OpenPendingItems(ctx, w.session)
	if err != nil {
		slog.Warn("Failed to load pending items", "session", w.session, "error", err)
	}

	var outputs []string
	if after, err := w.deps.Store.SummarizedTo(ctx, w.session); err == nil {
		if outputs, err = w.deps.Store.MsgOutputsAfterMessage(ctx, w.session, after); err != nil {
			slog.Warn("Failed to load recent msg outputs", "session", w.session, "error", err)
		}
	}

	var paraphrases []string
	if untrusted, err := w.deps.Store.RecentUntrustedMessages(ctx, w.session, untrustedContextLimit); err == nil && len(untrusted) > 0 {
		contents := make([]string, len(untrusted))
		for i, m := range untrusted {
			contents[i] = m.Content
		}
		if paraphrases, err = w.deps.Brain.Paraphrase(ctx, contents); err != nil {
			slog.Warn("Paraphrasing failed, dropping untrusted context",
				"session", w.session, "error", err)
			paraphrases = nil
		}
	}

	return brain.PlannerInput{
		Summary:              cyc.summary,
		Facts:                cyc.facts,
		PendingItems:         pending,
		Messages:             trusted,
		RecentMsgOutputs:     outputs,
		Skills:               cyc.skills.List(),
		Registry:             cyc.skills,
		Environment:          w.environment(cyc),
		UntrustedParaphrases: paraphrases,
		ReplanHistory:        history,
		UserMessage:          cyc.msg.Content,
	}
}

// cancelPlan marks remaining tasks cancelled and composes a cancellation
// summary for the user.
func (w *Worker) cancelPlan(ctx context.Context, cyc *cycle, tc *task.TaskContext,
	planID int64, completed int) string {

	skipped, err := w.deps.Store.CancelPendingTasks(ctx, planID)
	if err != nil {
		slog.Warn("Failed to cancel pending tasks", "plan_id", planID, "error", err)
	}
	w.finishPlan(ctx, planID, models.PlanStatusCancelled)
	slog.Info("Plan cancelled", "session", w.session, "plan_id", planID,
		"completed", completed, "skipped", skipped)

	row := models.Task{
		PlanID:  planID,
		Session: w.session,
		Type:    models.TaskTypeMsg,
		Detail: fmt.Sprintf("The request was cancelled by the user: %d tasks completed, %d skipped. "+
			"Summarize what was done and suggest how to resume.", completed, skipped),
	}
	row.ID, err = w.deps.Store.CreateTask(ctx, row)
	if err != nil {
		slog.Warn("Failed to persist cancel summary task", "plan_id", planID, "error", err)
		return "cancelled"
	}
	tc.Final = true
	res := task.Run(ctx, tc, &row)
	status := models.TaskStatusDone
	output := res.Output
	if !res.Success {
		status = models.TaskStatusFailed
		output = fmt.Sprintf("Request cancelled: %d tasks completed, %d skipped.", completed, skipped)
	}
	if err := w.deps.Store.UpdateTask(ctx, row.ID, status, output, ""); err != nil {
		slog.Warn("Failed to persist cancel summary", "task_id", row.ID, "error", err)
	}
	return "cancelled"
}

// systemNotice records a user-visible failure reply without an LLM call and
// delivers it to the session webhook. Used when planning itself failed; the
// message must never vanish silently.
func (w *Worker) systemNotice(ctx context.Context, cyc *cycle, parentID *int64, text string) {
	planID, err := w.deps.Store.CreatePlan(ctx, models.Plan{
		Session:   w.session,
		MessageID: cyc.msg.MessageID,
		ParentID:  parentID,
		Goal:      "system notice",
	})
	if err != nil {
		slog.Error("Failed to persist system notice plan", "session", w.session, "error", err)
		return
	}
	w.activePlan.Store(planID)
	row := models.Task{PlanID: planID, Session: w.session, Type: models.TaskTypeMsg, Detail: text}
	row.ID, err = w.deps.Store.CreateTask(ctx, row)
	if err == nil {
		if err := w.deps.Store.UpdateTask(ctx, row.ID, models.TaskStatusDone, text, ""); err != nil {
			slog.Warn("Failed to persist system notice", "task_id", row.ID, "error", err)
		}
	}
	w.finishPlan(ctx, planID, models.PlanStatusFailed)

	if cyc.webhookURL != "" && w.deps.Hook != nil {
		err := w.deps.Hook.Deliver(ctx, cyc.webhookURL, webhook.Payload{
			Session: w.session,
			TaskID:  row.ID,
			Type:    string(models.TaskTypeMsg),
			Content: text,
			Final:   true,
		})
		if err != nil {
			metrics.WebhookDelivered("failed")
		} else {
			metrics.WebhookDelivered("ok")
		}
	}
}

func (w *Worker) failRemaining(ctx context.Context, planID int64) {
	if _, err := w.deps.Store.CancelPendingTasks(ctx, planID); err != nil {
		slog.Warn("Failed to cancel remaining tasks", "plan_id", planID, "error", err)
	}
}

func (w *Worker) finishPlan(ctx context.Context, planID int64, status models.PlanStatus) {
	if err := w.deps.Store.UpdatePlanStatus(ctx, planID, status); err != nil {
		slog.Warn("Failed to update plan status", "plan_id", planID, "status", status, "error", err)
	}
	w.auditPlan(planID, status)
	metrics.PlanFinished(string(status))
}

func (w *Worker) saveLearnings(ctx context.Context, cyc *cycle, learn []string) {
	for _, content := range learn {
		if strings.TrimSpace(content) == "" {
			continue
		}
		_, err := w.deps.Store.SaveLearning(ctx, models.Learning{
			Content: sanitize.Sanitize(content, w.secrets),
			Session: w.session,
			User:    cyc.msg.User,
		})
		if err != nil {
			slog.Warn("Failed to save learning", "session", w.session, "error", err)
		}
	}
}

func (w *Worker) auditTask(taskID int64, status models.TaskStatus, substatus string) {
	if w.deps.Audit != nil {
		w.deps.Audit.TaskTransition(w.session, taskID, status, substatus)
	}
}

func (w *Worker) auditPlan(planID int64, status models.PlanStatus) {
	if w.deps.Audit != nil {
		w.deps.Audit.PlanTransition(w.session, planID, status)
	}
}

func failureText(row *models.Task, res task.Result) string {
	if res.ReplanReason != "" {
		return fmt.Sprintf("task %q failed: %s", row.Detail, res.ReplanReason)
	}
	return fmt.Sprintf("task %q failed", row.Detail)
}

func lastFailure(history []brain.ReplanRecord) string {
	if len(history) == 0 {
		return ""
	}
	return "Last failure: " + history[len(history)-1].Failure
}
