package api

import (
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/worker"
)

// MsgResponse answers POST /msg with 202.
type MsgResponse struct {
	Session   string `json:"session"`
	Queued    bool   `json:"queued"`
	Untrusted bool   `json:"untrusted,omitempty"`
}

// StatusResponse is the GET /status/{session} body.
type StatusResponse struct {
	Tasks         []models.Task `json:"tasks"`
	QueueLength   int           `json:"queue_length"`
	Plan          *models.Plan  `json:"plan,omitempty"`
	WorkerRunning bool          `json:"worker_running"`
	ActiveTask    *int64        `json:"active_task,omitempty"`
}

// SessionResponse answers POST /sessions.
type SessionResponse struct {
	Session string `json:"session"`
	Webhook string `json:"webhook,omitempty"`
}

// CancelResponse answers POST /sessions/{session}/cancel.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	PlanID    *int64 `json:"plan_id,omitempty"`
}

// ReloadResponse answers POST /admin/reload-env with the reloaded counts.
type ReloadResponse struct {
	Roles     int `json:"roles"`
	Providers int `json:"providers"`
	Users     int `json:"users"`
	Tokens    int `json:"tokens"`
}

// HealthCheck is one component's health entry.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Workers worker.Stats           `json:"workers"`
	Checks  map[string]HealthCheck `json:"checks"`
}
