package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// maxBodyBytes caps request bodies at the edge; /msg content is bounded well
// below this by the connectors.
const maxBodyBytes = 256 * 1024

// securityHeaders returns middleware that sets standard security response
// headers on every route, the pub-file downloads included.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes)
			return next(c)
		}
	}
}
