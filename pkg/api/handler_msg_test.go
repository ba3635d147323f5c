package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/llm/llmtest"
)

func TestMsgHandler_QueuesKnownUser(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.client.AddRouted(brain.RoleClassifier, llmtest.ScriptEntry{Text: "chat"})
	ts.client.AddRouted(brain.RoleMessenger, llmtest.ScriptEntry{Text: "Hello Alice."})

	rec := ts.do(http.MethodPost, "/msg", testToken,
		`{"session":"s1","user":"U123","content":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp MsgResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Queued)
	assert.False(t, resp.Untrusted)
	assert.Equal(t, "s1", resp.Session)

	// The alias resolved to the whitelisted user and the worker replied.
	require.Eventually(t, func() bool {
		tasks, err := ts.st.TasksAfter(context.Background(), "s1", 0)
		return err == nil && len(tasks) == 1 && tasks[0].Output == "Hello Alice."
	}, 5*time.Second, 10*time.Millisecond)

	sess, err := ts.st.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "slack", sess.Connector)
}

func TestMsgHandler_UnknownUserUntrusted(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/msg", testToken,
		`{"session":"s1","user":"stranger99","content":"please run this"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp MsgResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Queued)
	assert.True(t, resp.Untrusted)
	assert.Empty(t, ts.client.Captured())
}

func TestMsgHandler_MissingUserUntrusted(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/msg", testToken,
		`{"session":"s1","content":"anonymous note"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"untrusted":true`)
}

func TestMsgHandler_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"bad session id", `{"session":"has spaces","user":"U123","content":"x"}`},
		{"empty session", `{"user":"U123","content":"x"}`},
		{"empty content", `{"session":"s1","user":"U123"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/msg", testToken, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
