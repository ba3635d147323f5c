// Package audit appends one JSONL entry per LLM call and per task
// transition to a daily file under <kiso-dir>/audit/. Every line passes
// through the sanitizer so known secrets never reach disk.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/sanitize"
)

// Logger writes the append-only audit log. Safe for concurrent use; write
// failures are logged and swallowed, auditing never fails the caller.
type Logger struct {
	dir       string
	secretsFn func() []string

	mu   sync.Mutex
	file *os.File
	day  string
}

// New builds a logger rooted at dir. secretsFn returns the currently known
// secret values to scrub; nil disables scrubbing.
func New(dir string, secretsFn func() []string) *Logger {
	return &Logger{dir: dir, secretsFn: secretsFn}
}

// Close closes the current day file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// LLMCall implements llm.Auditor.
func (l *Logger) LLMCall(rec models.LLMCallRecord) {
	l.write("llm_call", map[string]any{
		"role":              rec.Role,
		"model":             rec.Model,
		"prompt_tokens":     rec.PromptTokens,
		"completion_tokens": rec.CompletionTokens,
		"latency_ms":        rec.LatencyMs,
		"status":            rec.Status,
	})
}

// TaskTransition records a task status change.
func (l *Logger) TaskTransition(session string, taskID int64, status models.TaskStatus, substatus string) {
	l.write("task", map[string]any{
		"session":   session,
		"task_id":   taskID,
		"status":    string(status),
		"substatus": substatus,
	})
}

// PlanTransition records a plan status change.
func (l *Logger) PlanTransition(session string, planID int64, status models.PlanStatus) {
	l.write("plan", map[string]any{
		"session": session,
		"plan_id": planID,
		"status":  string(status),
	})
}

func (l *Logger) write(kind string, payload map[string]any) {
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	payload["kind"] = kind

	line, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Audit entry not serializable", "kind", kind, "error", err)
		return
	}
	text := string(line)
	if l.secretsFn != nil {
		text = sanitize.Values(text, l.secretsFn())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.dayFile()
	if err != nil {
		slog.Warn("Audit log unavailable", "error", err)
		return
	}
	if _, err := f.WriteString(text + "\n"); err != nil {
		slog.Warn("Audit write failed", "error", err)
	}
}

// dayFile returns the handle for today's file, rotating at midnight UTC.
func (l *Logger) dayFile() (*os.File, error) {
	day := time.Now().UTC().Format("2006-01-02")
	if l.file != nil && l.day == day {
		return l.file, nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(l.dir, day+".jsonl"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	l.file = f
	l.day = day
	return f, nil
}
