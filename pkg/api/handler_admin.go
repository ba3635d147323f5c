package api

import (
	"net/http"
	"path/filepath"

	"github.com/joho/godotenv"
	echo "github.com/labstack/echo/v5"
)

// reloadEnvHandler handles POST /admin/reload-env: re-read the .env file and
// swap in a freshly validated config. Admin-only; the previous config stays
// active when reload fails.
func (s *Server) reloadEnvHandler(c *echo.Context) error {
	var req ReloadEnvRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cfg := s.cfg.Current()
	_, userCfg, ok := cfg.ResolveUser(connector(c), req.User)
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "unknown user")
	}
	if !userCfg.IsAdmin() {
		return echo.NewHTTPError(http.StatusForbidden, "admin role required")
	}

	// Overload so changed values take effect; missing .env is not an error,
	// the variables may come from the process environment.
	envPath := filepath.Join(cfg.ConfigDir(), ".env")
	_ = godotenv.Overload(envPath)

	reloaded, err := s.cfg.Reload(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "reload failed: "+err.Error())
	}

	stats := reloaded.Stats()
	return c.JSON(http.StatusOK, &ReloadResponse{
		Roles:     stats.Roles,
		Providers: stats.Providers,
		Users:     stats.Users,
		Tokens:    stats.Tokens,
	})
}
