package models

import "time"

// Message is one stored conversation entry for a session.
type Message struct {
	ID        int64       `json:"id"`
	Session   string      `json:"session"`
	User      *string     `json:"user,omitempty"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Trusted   bool        `json:"trusted"`
	Processed bool        `json:"processed"`
	CreatedAt time.Time   `json:"created_at"`
}

// Session is a conversation scope owning messages, plans and workspace state.
type Session struct {
	ID          string    `json:"session"`
	Connector   string    `json:"connector,omitempty"`
	WebhookURL  string    `json:"webhook,omitempty"`
	Description string    `json:"description,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InboundMessage is the unit the supervisor enqueues for a session worker.
type InboundMessage struct {
	MessageID int64
	Session   string
	User      string
	Content   string
}
