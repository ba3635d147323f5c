package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionHandler_RegistersWebhook(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/sessions", testToken,
		`{"session":"s1","webhook":"https://hooks.example.com/kiso","description":"ci channel"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := ts.st.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/kiso", sess.WebhookURL)
	assert.Equal(t, "ci channel", sess.Description)
	assert.Equal(t, "slack", sess.Connector)
}

func TestCreateSessionHandler_RejectsBadWebhook(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"plain http", `{"session":"s1","webhook":"http://hooks.example.com/kiso"}`},
		{"host not allow-listed", `{"session":"s1","webhook":"https://evil.example.net/x"}`},
		{"bad session id", `{"session":"../etc","webhook":"https://hooks.example.com/x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/sessions", testToken, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCancelSessionHandler_NoWorker(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/sessions/s1/cancel", testToken, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Cancelled)
	assert.Nil(t, resp.PlanID)
}
