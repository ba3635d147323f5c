package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisohq/kiso/pkg/models"
)

func readToday(t *testing.T, dir string) []string {
	t.Helper()
	day := time.Now().UTC().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, day+".jsonl"))
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestLogger_WritesDailyJSONL(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, nil)
	defer l.Close()

	l.LLMCall(models.LLMCallRecord{Role: "planner", Model: "m", PromptTokens: 10, Status: "ok"})
	l.TaskTransition("s1", 42, models.TaskStatusRunning, models.SubstatusExecuting)
	l.PlanTransition("s1", 7, models.PlanStatusDone)

	lines := readToday(t, dir)
	require.Len(t, lines, 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "llm_call", entry["kind"])
	assert.Equal(t, "planner", entry["role"])
	assert.NotEmpty(t, entry["ts"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "task", entry["kind"])
	assert.Equal(t, "executing", entry["substatus"])
}

func TestLogger_ScrubsSecrets(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, func() []string { return []string{"hunter2"} })
	defer l.Close()

	l.TaskTransition("session-hunter2", 1, models.TaskStatusFailed, "")

	lines := readToday(t, dir)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "hunter2")
	assert.Contains(t, lines[0], "«REDACTED»")
}
