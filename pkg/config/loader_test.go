package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
[server]
listen = ":9000"
data_dir = "/tmp/kiso-test"

[models]
classifier = "small-1"
planner = "big-1"
exec = "small-1"
reviewer = "big-1"
searcher = "small-1"
messenger = "big-1"
curator = "big-1"
summarizer = "small-1"
paraphraser = "small-1"

[providers.local]
base_url = "http://localhost:11434/v1"
api_key_env = "LOCAL_API_KEY"
timeout = "90s"
models = ["small-1", "big-1"]

[users.alice]
role = "admin"
skills = ["*"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600))
	return dir
}

func TestInitialize_Minimal(t *testing.T) {
	dir := writeConfig(t, minimalConfig)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "/tmp/kiso-test", cfg.Server.DataDir)
	assert.Equal(t, 90*time.Second, cfg.Providers["local"].Timeout.Std())

	// Defaults fill unset sections.
	assert.Equal(t, 40, cfg.Limits.MaxLLMCallsPerMessage)
	assert.Equal(t, 1<<20, cfg.Limits.MaxOutputBytes)
	assert.Equal(t, 300*time.Second, cfg.Limits.WorkerIdleTimeout.Std())
	assert.True(t, cfg.Limits.FastPath())
	assert.True(t, cfg.Webhook.RequireTLS())
	assert.Equal(t, 0.3, cfg.Limits.FactArchiveThreshold)
}

func TestInitialize_UserOverrides(t *testing.T) {
	dir := writeConfig(t, minimalConfig+`
[limits]
max_llm_calls_per_message = 10
fast_path_enabled = false
exec_timeout = "30s"

[webhook]
require_https = false
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Limits.MaxLLMCallsPerMessage)
	assert.False(t, cfg.Limits.FastPath())
	assert.Equal(t, 30*time.Second, cfg.Limits.ExecTimeout.Std())
	assert.False(t, cfg.Webhook.RequireTLS())
	// Untouched limits keep their defaults.
	assert.Equal(t, 5, cfg.Limits.MaxReplanDepth)
}

func TestInitialize_MissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("KISO_TEST_LISTEN", ":7777")
	dir := writeConfig(t, `
[server]
listen = "{{.KISO_TEST_LISTEN}}"

[models]
classifier = "m"
planner = "m"
exec = "m"
reviewer = "m"
searcher = "m"
messenger = "m"
curator = "m"
summarizer = "m"
paraphraser = "m"

[providers.p]
base_url = "https://api.example.test/v1"
api_key_env = "EXAMPLE_KEY"
models = ["m"]
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Listen)
}

func TestValidate_ModelWithoutProvider(t *testing.T) {
	dir := writeConfig(t, `
[models]
classifier = "ghost"
planner = "ghost"
exec = "ghost"
reviewer = "ghost"
searcher = "ghost"
messenger = "ghost"
curator = "ghost"
summarizer = "ghost"
paraphraser = "ghost"

[providers.p]
base_url = "https://api.example.test/v1"
api_key_env = "EXAMPLE_KEY"
models = ["other"]
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not served by any configured provider")
}

func TestValidate_BadUsername(t *testing.T) {
	dir := writeConfig(t, minimalConfig+`
[users."Bad User"]
role = "user"
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username must match")
}

func TestResolveUser(t *testing.T) {
	cfg := &Config{
		Users: map[string]UserConfig{
			"alice": {Role: "admin", Skills: []string{"*"}},
			"bob":   {Role: "user", Skills: []string{"weather"}},
		},
		Aliases: map[string]map[string]string{
			"slack": {"U123": "bob"},
		},
	}

	name, u, ok := cfg.ResolveUser("slack", "U123")
	require.True(t, ok)
	assert.Equal(t, "bob", name)
	assert.False(t, u.IsAdmin())
	assert.True(t, u.AllowsSkill("weather"))
	assert.False(t, u.AllowsSkill("shell"))

	// Direct username without alias.
	name, u, ok = cfg.ResolveUser("cli", "alice")
	require.True(t, ok)
	assert.Equal(t, "alice", name)
	assert.True(t, u.AllowsSkill("anything"))

	_, _, ok = cfg.ResolveUser("cli", "mallory")
	assert.False(t, ok)
}

func TestProviderReload(t *testing.T) {
	dir := writeConfig(t, minimalConfig)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	p := NewProvider(cfg)
	assert.Same(t, cfg, p.Current())

	// Rewrite the file and reload; the swap must be visible.
	updated := minimalConfig + "\n[limits]\nmax_replan_depth = 2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(updated), 0o600))

	next, err := p.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, next.Limits.MaxReplanDepth)
	assert.Same(t, next, p.Current())

	// A broken file keeps the previous config live.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not toml ["), 0o600))
	_, err = p.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, next, p.Current())
}
