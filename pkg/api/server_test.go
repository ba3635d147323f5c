package api

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/config"
	"github.com/kisohq/kiso/pkg/llm/llmtest"
	"github.com/kisohq/kiso/pkg/pubfiles"
	"github.com/kisohq/kiso/pkg/skills"
	"github.com/kisohq/kiso/pkg/store"
	"github.com/kisohq/kiso/pkg/worker"
)

const testToken = "test-bearer-token"

type testServer struct {
	srv         *Server
	st          *store.Store
	client      *llmtest.ScriptedClient
	sessionsDir string
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	ctx := context.Background()
	t.Setenv("KISO_TEST_API_TOKEN", testToken)
	t.Setenv("KISO_TEST_PUB_SECRET", "pub-secret")

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	conf := &config.Config{
		Users: map[string]config.UserConfig{
			"alice": {Role: "admin"},
			"bob":   {Role: "user"},
		},
		Aliases: map[string]map[string]string{
			"slack": {"U123": "alice"},
		},
		Tokens: map[string]config.TokenConfig{
			"slack": {TokenEnv: "KISO_TEST_API_TOKEN"},
		},
		Webhook: config.WebhookConfig{
			AllowList:  []string{"hooks.example.com"},
			MaxPayload: 16 * 1024,
		},
		Limits: config.Limits{
			MaxValidationRetries: 2,
			MaxWorkerRetries:     1,
			MaxReplanDepth:       5,
			MaxPlanTasks:         20,
			MaxOutputBytes:       1 << 20,
			ExecTimeout:          config.Duration(10 * time.Second),
			SkillTimeout:         config.Duration(10 * time.Second),
			WorkerIdleTimeout:    config.Duration(time.Minute),
			QueueSize:            4,
		},
	}
	if mutate != nil {
		mutate(conf)
	}
	cfg := config.NewProvider(conf)
	client := llmtest.NewScriptedClient()

	reg, err := skills.Discover(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)

	sessionsDir := t.TempDir()
	pub := pubfiles.New("KISO_TEST_PUB_SECRET", sessionsDir)
	sup := worker.NewSupervisor(worker.Deps{
		Store:       st,
		Config:      cfg,
		Brain:       brain.New(client, cfg),
		Skills:      reg,
		Pub:         pub,
		SessionsDir: sessionsDir,
	})
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(sctx)
	})

	return &testServer{
		srv:         NewServer(cfg, st, sup, pub),
		st:          st,
		client:      client,
		sessionsDir: sessionsDir,
	}
}

// newTestServerFromDir builds a server whose config was loaded from a real
// config.toml, so /admin/reload-env has a directory to reload from.
func newTestServerFromDir(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	t.Setenv("KISO_TEST_API_TOKEN", testToken)
	t.Setenv("KISO_TEST_PUB_SECRET", "pub-secret")

	dir := t.TempDir()
	toml := `
[server]
listen = ":0"
data_dir = "` + t.TempDir() + `"

[providers.main]
base_url = "https://llm.example.com/v1"
api_key_env = "KISO_TEST_LLM_KEY"
models = ["small", "big"]

[models]
classifier = "small"
planner = "big"
exec = "big"
reviewer = "small"
searcher = "small"
messenger = "big"
curator = "small"
summarizer = "small"
paraphraser = "small"

[users.alice]
role = "admin"

[tokens.slack]
token_env = "KISO_TEST_API_TOKEN"

[aliases.slack]
U123 = "alice"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o600))

	conf, err := config.Initialize(ctx, dir)
	require.NoError(t, err)
	cfg := config.NewProvider(conf)

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	client := llmtest.NewScriptedClient()
	reg, err := skills.Discover(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)

	sessionsDir := t.TempDir()
	pub := pubfiles.New("KISO_TEST_PUB_SECRET", sessionsDir)
	sup := worker.NewSupervisor(worker.Deps{
		Store:       st,
		Config:      cfg,
		Brain:       brain.New(client, cfg),
		Skills:      reg,
		Pub:         pub,
		SessionsDir: sessionsDir,
	})
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(sctx)
	})

	return &testServer{
		srv:         NewServer(cfg, st, sup, pub),
		st:          st,
		client:      client,
		sessionsDir: sessionsDir,
	}
}

// do runs one request through the full middleware chain.
func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}
