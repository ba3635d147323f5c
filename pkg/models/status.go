// Package models holds the row structs and status enums shared by the store,
// the brain, the worker, and the API layer.
package models

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusDone      PlanStatus = "done"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// IsTerminal reports whether the plan can no longer change state.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusDone || s == PlanStatusFailed || s == PlanStatusCancelled
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the task can no longer change state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed || s == TaskStatusCancelled
}

// TaskType discriminates the four handlers plus the replan pseudo-task.
type TaskType string

const (
	TaskTypeExec   TaskType = "exec"
	TaskTypeSkill  TaskType = "skill"
	TaskTypeSearch TaskType = "search"
	TaskTypeMsg    TaskType = "msg"
	TaskTypeReplan TaskType = "replan"
)

// Valid reports whether the type is one of the five known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeExec, TaskTypeSkill, TaskTypeSearch, TaskTypeMsg, TaskTypeReplan:
		return true
	}
	return false
}

// RequiresExpect reports whether plans must give the task a non-null expect.
func (t TaskType) RequiresExpect() bool {
	switch t {
	case TaskTypeExec, TaskTypeSkill, TaskTypeSearch:
		return true
	}
	return false
}

// Task substatus phase labels, free-form by contract but written from this
// fixed set.
const (
	SubstatusTranslating = "translating"
	SubstatusExecuting   = "executing"
	SubstatusReviewing   = "reviewing"
	SubstatusSearching   = "searching"
	SubstatusComposing   = "composing"
)

// ReviewVerdict is the reviewer's decision for a task.
type ReviewVerdict string

const (
	ReviewVerdictOK     ReviewVerdict = "ok"
	ReviewVerdictReplan ReviewVerdict = "replan"
)

// MessageRole is who authored a stored message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// FactSource records which component produced a fact.
type FactSource string

const (
	FactSourceCurator    FactSource = "curator"
	FactSourceSummarizer FactSource = "summarizer"
	FactSourceManual     FactSource = "manual"
)

// FactCategory scopes fact visibility; user facts are session-scoped.
type FactCategory string

const (
	FactCategoryProject FactCategory = "project"
	FactCategoryUser    FactCategory = "user"
	FactCategoryTool    FactCategory = "tool"
	FactCategoryGeneral FactCategory = "general"
)

// LearningStatus is the curator pipeline state of a learning.
type LearningStatus string

const (
	LearningStatusPending   LearningStatus = "pending"
	LearningStatusPromoted  LearningStatus = "promoted"
	LearningStatusDiscarded LearningStatus = "discarded"
)

// PendingStatus is the state of an open question for the user.
type PendingStatus string

const (
	PendingStatusOpen     PendingStatus = "open"
	PendingStatusResolved PendingStatus = "resolved"
)
