package api

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	echo "github.com/labstack/echo/v5"
	"golang.org/x/time/rate"
)

// connectorKey is the echo context key holding the authenticated token name.
// The token name doubles as the connector handle for alias resolution.
const connectorKey = "connector"

// bearerAuth returns middleware that checks the Authorization header against
// the configured tokens and applies the token's per-minute rate limit. Token
// values live in the environment; config only names the variables.
func (s *Server) bearerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			value, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || value == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			cfg := s.cfg.Current()
			name := ""
			for n, tok := range cfg.Tokens {
				want := os.Getenv(tok.TokenEnv)
				if want != "" && subtle.ConstantTimeCompare([]byte(value), []byte(want)) == 1 {
					name = n
					break
				}
			}
			if name == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			if !s.limiter(name, cfg.Tokens[name].RatePerMinute).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			c.Set(connectorKey, name)
			return next(c)
		}
	}
}

// limiter returns the per-token limiter, creating it on first use. A zero
// rate_per_minute means unlimited.
func (s *Server) limiter(name string, perMinute int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[name]
	if !ok {
		limit := rate.Inf
		burst := 1
		if perMinute > 0 {
			limit = rate.Limit(float64(perMinute) / 60)
			burst = perMinute
		}
		l = rate.NewLimiter(limit, burst)
		s.limiters[name] = l
	}
	return l
}

// connector returns the authenticated token name set by bearerAuth.
func connector(c *echo.Context) string {
	if v, ok := c.Get(connectorKey).(string); ok {
		return v
	}
	return ""
}
