package api

import "regexp"

// Identifier shapes enforced at the edge so the core never sees a malformed
// session id or username.
var (
	sessionRe  = regexp.MustCompile(`^[A-Za-z0-9_@.\-]{1,255}$`)
	usernameRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
)

// MsgRequest is the body of POST /msg.
type MsgRequest struct {
	Session string `json:"session"`
	User    string `json:"user"`
	Content string `json:"content"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Session     string `json:"session"`
	Webhook     string `json:"webhook,omitempty"`
	Description string `json:"description,omitempty"`
}

// ReloadEnvRequest is the body of POST /admin/reload-env. The user must
// resolve to an admin through the calling connector's aliases.
type ReloadEnvRequest struct {
	User string `json:"user"`
}
