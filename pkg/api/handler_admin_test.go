package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadEnvHandler_RequiresAdmin(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/admin/reload-env", testToken, `{"user":"bob"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/reload-env", testToken, `{"user":"nobody"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReloadEnvHandler_AdminReloads(t *testing.T) {
	ts := newTestServerFromDir(t)

	rec := ts.do(http.MethodPost, "/admin/reload-env", testToken, `{"user":"U123"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 9, resp.Roles)
	assert.Equal(t, 1, resp.Providers)
	assert.Equal(t, 1, resp.Users)
	assert.Equal(t, 1, resp.Tokens)
}
