package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/webhook"
)

// createSessionHandler handles POST /sessions: explicit registration with an
// optional delivery webhook. The webhook URL is validated against the
// https/allow-list policy before it is stored.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !sessionRe.MatchString(req.Session) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	if req.Webhook != "" {
		if err := webhook.ValidateURL(req.Webhook, s.cfg.Current().Webhook); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook: "+err.Error())
		}
	}

	err := s.store.CreateOrUpdateSession(c.Request().Context(), models.Session{
		ID:          req.Session,
		Connector:   connector(c),
		WebhookURL:  req.Webhook,
		Description: req.Description,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to persist session")
	}

	return c.JSON(http.StatusOK, &SessionResponse{
		Session: req.Session,
		Webhook: req.Webhook,
	})
}

// cancelSessionHandler handles POST /sessions/:session/cancel. Cancellation
// is cooperative: the worker stops before its next task and composes a
// summary of what was already done.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	session := c.Param("session")
	if !sessionRe.MatchString(session) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}

	planID, ok := s.supervisor.OnCancel(session)
	resp := &CancelResponse{Cancelled: ok}
	if ok && planID > 0 {
		resp.PlanID = &planID
	}
	return c.JSON(http.StatusOK, resp)
}
