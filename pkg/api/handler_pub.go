package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// pubFileHandler handles GET /pub/:token/:filename without authentication.
// The HMAC token is the whole capability; everything that does not resolve to
// exactly one session pub file is a 404, never a distinguishable error.
func (s *Server) pubFileHandler(c *echo.Context) error {
	if s.pub == nil {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	path, ok := s.pub.Resolve(c.Param("token"), c.Param("filename"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	http.ServeFile(c.Response(), c.Request(), path)
	return nil
}
