package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kisohq/kiso/pkg/config"
)

func TestBearerAuth_MissingToken(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/status/s1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuth_WrongToken(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/status/s1", "not-the-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuth_ValidToken(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/status/s1", testToken, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerAuth_RateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Tokens["slack"] = config.TokenConfig{
			TokenEnv:      "KISO_TEST_API_TOKEN",
			RatePerMinute: 1,
		}
	})

	rec := ts.do(http.MethodGet, "/status/s1", testToken, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/status/s1", testToken, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestBearerAuth_HealthIsPublic(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
