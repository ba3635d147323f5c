package models

import "time"

// Plan is an ordered list of tasks derived from one user message.
// A replan child carries ParentID pointing at the plan it supersedes.
type Plan struct {
	ID               int64      `json:"id"`
	Session          string     `json:"session"`
	MessageID        int64      `json:"message_id"`
	ParentID         *int64     `json:"parent_id,omitempty"`
	Goal             string     `json:"goal"`
	Status           PlanStatus `json:"status"`
	PromptTokens     int64      `json:"prompt_tokens"`
	CompletionTokens int64      `json:"completion_tokens"`
	LLMCalls         string     `json:"llm_calls,omitempty"` // JSON array of per-call audit records
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Task is a unit of work within a plan.
type Task struct {
	ID            int64         `json:"id"`
	PlanID        int64         `json:"plan_id"`
	Session       string        `json:"session"`
	Type          TaskType      `json:"type"`
	Detail        string        `json:"detail"`
	Skill         string        `json:"skill,omitempty"`
	Args          string        `json:"args,omitempty"` // JSON document, bounded by size and depth
	Expect        *string       `json:"expect,omitempty"`
	Status        TaskStatus    `json:"status"`
	Output        string        `json:"output,omitempty"`
	Stderr        string        `json:"stderr,omitempty"`
	Substatus     string        `json:"substatus,omitempty"`
	ReviewVerdict ReviewVerdict `json:"review_verdict,omitempty"`
	ReviewReason  string        `json:"review_reason,omitempty"`
	ReviewLearn   string        `json:"review_learning,omitempty"`
	PromptTokens  int64         `json:"prompt_tokens"`
	CompletionTok int64         `json:"completion_tokens"`
	LLMCalls      string        `json:"llm_calls,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// LLMCallRecord is one per-call audit entry attached to plans and tasks.
type LLMCallRecord struct {
	Role             string `json:"role"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	LatencyMs        int64  `json:"latency_ms"`
	Status           string `json:"status"`
}
