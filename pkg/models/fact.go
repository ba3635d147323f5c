package models

import "time"

// Fact is a durable, categorized, confidence-weighted knowledge entry
// visible to the planner.
type Fact struct {
	ID         int64        `json:"id"`
	Content    string       `json:"content"`
	Source     FactSource   `json:"source"`
	Session    *string      `json:"session,omitempty"` // nil = legacy global
	Category   FactCategory `json:"category"`
	Confidence float64      `json:"confidence"`
	LastUsed   *time.Time   `json:"last_used,omitempty"`
	UseCount   int64        `json:"use_count"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Learning is a candidate fact emitted by the reviewer, pending curator
// evaluation.
type Learning struct {
	ID        int64          `json:"id"`
	Content   string         `json:"content"`
	Session   string         `json:"session"`
	User      string         `json:"user,omitempty"`
	Status    LearningStatus `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PendingItem is an open question to ask the user, produced by the curator.
type PendingItem struct {
	ID        int64         `json:"id"`
	Content   string        `json:"content"`
	Scope     string        `json:"scope"` // "global" or a session id
	Source    string        `json:"source"`
	Status    PendingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}
