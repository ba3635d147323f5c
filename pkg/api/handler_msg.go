package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/worker"
)

// msgHandler handles POST /msg: resolve the sender through the connector's
// aliases, persist the message, and enqueue it when the sender is whitelisted.
// Unknown senders still get 202 — their content is stored untrusted and only
// ever reaches the planner paraphrased.
func (s *Server) msgHandler(c *echo.Context) error {
	var req MsgRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !sessionRe.MatchString(req.Session) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if len(req.Content) > maxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "content too large")
	}

	cfg := s.cfg.Current()
	conn := connector(c)
	var username string
	if req.User != "" {
		if name, _, ok := cfg.ResolveUser(conn, req.User); ok {
			if !usernameRe.MatchString(name) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid username")
			}
			username = name
		}
	}
	trusted := username != ""

	ctx := c.Request().Context()
	if err := s.store.CreateOrUpdateSession(ctx, models.Session{
		ID: req.Session, Connector: conn,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to persist session")
	}

	acc, err := s.supervisor.OnMessage(ctx, req.Session, username, req.Content, trusted)
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		return echo.NewHTTPError(http.StatusTooManyRequests, "session queue is full")
	case errors.Is(err, worker.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to accept message")
	}

	return c.JSON(http.StatusAccepted, &MsgResponse{
		Session:   req.Session,
		Queued:    acc.Queued,
		Untrusted: acc.Untrusted,
	})
}
