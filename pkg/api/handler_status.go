package api

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/store"
)

// statusHandler handles GET /status/:session?after=<id>&verbose=<bool>.
// Pollers pass the highest task id they have seen as `after`. The per-call
// LLM audit is stripped unless verbose is set.
func (s *Server) statusHandler(c *echo.Context) error {
	session := c.Param("session")
	if !sessionRe.MatchString(session) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}

	var after int64
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after: must be a non-negative integer")
		}
		after = n
	}
	verbose := false
	if v := c.QueryParam("verbose"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid verbose: must be a boolean")
		}
		verbose = b
	}

	ctx := c.Request().Context()
	tasks, err := s.store.TasksAfter(ctx, session, after)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load tasks")
	}
	if tasks == nil {
		tasks = []models.Task{}
	}

	resp := &StatusResponse{
		Tasks:         tasks,
		QueueLength:   s.supervisor.QueueLength(session),
		WorkerRunning: s.supervisor.IsRunning(session),
	}

	plan, err := s.store.LatestPlan(ctx, session)
	switch {
	case err == nil:
		resp.Plan = plan
	case errors.Is(err, store.ErrNotFound):
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load plan")
	}

	for i := range resp.Tasks {
		if resp.Tasks[i].Status == models.TaskStatusRunning && resp.ActiveTask == nil {
			id := resp.Tasks[i].ID
			resp.ActiveTask = &id
		}
		if !verbose {
			resp.Tasks[i].LLMCalls = ""
		}
	}
	if !verbose && resp.Plan != nil {
		resp.Plan.LLMCalls = ""
	}

	return c.JSON(http.StatusOK, resp)
}
