// Package worker runs the per-session message lifecycle: one worker goroutine
// per active session, owned by the Supervisor, executing plans task by task.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kisohq/kiso/pkg/audit"
	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/config"
	"github.com/kisohq/kiso/pkg/knowledge"
	"github.com/kisohq/kiso/pkg/llm"
	"github.com/kisohq/kiso/pkg/metrics"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/pubfiles"
	"github.com/kisohq/kiso/pkg/skills"
	"github.com/kisohq/kiso/pkg/store"
	"github.com/kisohq/kiso/pkg/task"
	"github.com/kisohq/kiso/pkg/webhook"
)

const (
	defaultIdleTimeout    = 5 * time.Minute
	defaultQueueSize      = 16
	defaultContextMsgs    = 10
	defaultReplanDepth    = 5
	plannerFactLimit      = 20
	untrustedContextLimit = 5
)

// Deps bundles the services a worker needs. Audit and Knowledge may be nil
// in tests.
type Deps struct {
	Store       *store.Store
	Config      *config.Provider
	Brain       *brain.Brain
	Skills      *skills.Registry
	Pub         *pubfiles.Service
	Hook        *webhook.Deliverer
	Knowledge   *knowledge.Service
	Audit       *audit.Logger
	SessionsDir string
}

// Worker processes one session's messages sequentially. The ephemeral
// secrets map lives only as long as the worker; idle shutdown discards it.
type Worker struct {
	deps    Deps
	session string
	queue   chan models.InboundMessage
	secrets map[string]string

	cancelFlag atomic.Bool
	activePlan atomic.Int64

	// retire asks the supervisor to remove this worker; it refuses when the
	// queue refilled while the worker was idle.
	retire func() bool
	// stop is the supervisor's graceful-stop broadcast, observed only between
	// messages so in-flight work finishes before the worker exits.
	stop <-chan struct{}
	done chan struct{}
}

func newWorker(deps Deps, session string, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Worker{
		deps:    deps,
		session: session,
		queue:   make(chan models.InboundMessage, queueSize),
		secrets: map[string]string{},
		done:    make(chan struct{}),
	}
}

// run is the worker loop: drain the queue, exit after the idle timeout.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()
	slog.Info("Worker started", "session", w.session)

	idleTimeout := w.deps.Config.Current().Limits.WorkerIdleTimeout.Std()
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-w.stop:
			slog.Info("Worker stopping on shutdown", "session", w.session)
			return
		case <-ctx.Done():
			slog.Info("Worker stopping on shutdown", "session", w.session)
			return
		case msg := <-w.queue:
			w.processMessage(ctx, msg)
			select {
			case <-w.stop:
				slog.Info("Worker stopping on shutdown", "session", w.session)
				return
			default:
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)
		case <-idle.C:
			if w.retire == nil || w.retire() {
				slog.Info("Worker idle, exiting", "session", w.session)
				return
			}
			idle.Reset(idleTimeout)
		}
	}
}

// cycle carries the per-message state shared between planning rounds. calls
// tallies this message's LLM calls only; concurrent sessions never count
// against each other's budget.
type cycle struct {
	msg        models.InboundMessage
	cfg        *config.Config
	userCfg    config.UserConfig
	skills     *skills.Registry
	workspace  string
	summary    string
	webhookURL string
	facts      []models.Fact
	factIDs    []int64
	calls      *atomic.Int64
}

func (w *Worker) processMessage(ctx context.Context, msg models.InboundMessage) {
	w.cancelFlag.Store(false)
	cfg := w.deps.Config.Current()
	cyc := &cycle{msg: msg, cfg: cfg, calls: new(atomic.Int64)}
	ctx = llm.WithCallCounter(ctx, cyc.calls)

	if err := w.deps.Store.MarkMessageProcessed(ctx, msg.MessageID); err != nil {
		slog.Warn("Failed to mark message processed",
			"session", w.session, "message_id", msg.MessageID, "error", err)
	}

	workspace, err := w.ensureWorkspace(cfg)
	if err != nil {
		slog.Error("Workspace unavailable", "session", w.session, "error", err)
		w.systemNotice(ctx, cyc, nil, "The session workspace could not be prepared. Please retry.")
		metrics.MessageProcessed("workspace_error")
		return
	}
	cyc.workspace = workspace

	// Permissions are re-read from the live config: grants may have changed
	// between enqueue and execution.
	userCfg, ok := cfg.Users[msg.User]
	if !ok {
		w.systemNotice(ctx, cyc, nil,
			fmt.Sprintf("User %q is no longer authorized; this message was not processed.", msg.User))
		metrics.MessageProcessed("unauthorized")
		return
	}
	cyc.userCfg = userCfg
	cyc.skills = w.deps.Skills.Filtered(userCfg.AllowsSkill)

	if sess, err := w.deps.Store.GetSession(ctx, w.session); err == nil {
		cyc.summary = sess.Summary
		cyc.webhookURL = sess.WebhookURL
	}

	facts, err := w.deps.Store.SearchFacts(ctx, msg.Content, w.session, userCfg.IsAdmin(), plannerFactLimit)
	if err != nil {
		slog.Warn("Fact lookup failed", "session", w.session, "error", err)
	}
	cyc.facts = facts
	for _, f := range facts {
		cyc.factIDs = append(cyc.factIDs, f.ID)
	}

	outcome := w.runMessage(ctx, cyc)

	if w.deps.Knowledge != nil {
		w.deps.Knowledge.AfterMessage(ctx, w.session)
	}
	w.cleanupChainingFile(cyc)
	metrics.MessageProcessed(outcome)
	slog.Info("Message processed",
		"session", w.session, "message_id", msg.MessageID, "outcome", outcome,
		"llm_calls", cyc.calls.Load())
}

func (w *Worker) runMessage(ctx context.Context, cyc *cycle) string {
	if cyc.cfg.Limits.FastPath() && w.deps.Brain.Classify(ctx, cyc.msg.Content) == brain.IntentChat {
		return w.runChat(ctx, cyc)
	}
	return w.planAndExecute(ctx, cyc, nil, nil, 0, 0)
}

func (w *Worker) budgetExceeded(cyc *cycle) bool {
	limit := cyc.cfg.Limits.MaxLLMCallsPerMessage
	return limit > 0 && cyc.calls.Load() >= int64(limit)
}

func (w *Worker) cancelled() bool { return w.cancelFlag.Load() }

// ensureWorkspace creates the session workspace with its .kiso/ and pub/
// subdirectories, locked down to the owner and chowned to the sandbox uid
// when one is configured.
func (w *Worker) ensureWorkspace(cfg *config.Config) (string, error) {
	ws := filepath.Join(w.deps.SessionsDir, w.session)
	for _, dir := range []string{ws, filepath.Join(ws, ".kiso"), filepath.Join(ws, "pub")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.Chmod(ws, 0o700); err != nil {
		return "", fmt.Errorf("failed to chmod workspace: %w", err)
	}
	if cfg.Sandbox.Enabled() {
		for _, dir := range []string{ws, filepath.Join(ws, "pub")} {
			if err := os.Chown(dir, int(cfg.Sandbox.UID), int(cfg.Sandbox.GID)); err != nil {
				slog.Warn("Failed to chown workspace dir", "dir", dir, "error", err)
			}
		}
	}
	return ws, nil
}

func (w *Worker) cleanupChainingFile(cyc *cycle) {
	if cyc.workspace == "" {
		return
	}
	task.RemovePlanOutputs(cyc.workspace)
}

func (w *Worker) environment(cyc *cycle) brain.Environment {
	return brain.Environment{
		OS:             runtime.GOOS,
		Binaries:       availableBinaries(),
		WorkDir:        cyc.workspace,
		WorkspaceFiles: listWorkspace(cyc.workspace),
		RegistryURL:    cyc.cfg.Server.RegistryURL,
		BlockedHints:   task.DenyHints(),
		MaxPlanTasks:   cyc.cfg.Limits.MaxPlanTasks,
	}
}

func (w *Worker) taskContext(cyc *cycle, planID int64, goal string) *task.TaskContext {
	return &task.TaskContext{
		Store:       w.deps.Store,
		Config:      w.deps.Config,
		Brain:       w.deps.Brain,
		Skills:      cyc.skills,
		Pub:         w.deps.Pub,
		Hook:        w.deps.Hook,
		Session:     w.session,
		User:        cyc.msg.User,
		IsAdmin:     cyc.userCfg.IsAdmin(),
		PlanID:      planID,
		Goal:        goal,
		UserMessage: cyc.msg.Content,
		Workspace:   cyc.workspace,
		Summary:     cyc.summary,
		Facts:       cyc.facts,
		Environment: w.environment(cyc),
		Secrets:     w.secrets,
		WebhookURL:  cyc.webhookURL,
	}
}

var (
	binariesOnce sync.Once
	binaries     []string
)

// availableBinaries probes PATH once per process for the tools the exec
// translator is told about.
func availableBinaries() []string {
	binariesOnce.Do(func() {
		for _, name := range []string{
			"git", "curl", "wget", "jq", "python3", "tar", "unzip", "sqlite3", "make",
		} {
			if _, err := exec.LookPath(name); err == nil {
				binaries = append(binaries, name)
			}
		}
	})
	return binaries
}

// workspaceListCap bounds the file listing shown to the planner and exec
// translator; a crowded workspace must not bloat every prompt.
const workspaceListCap = 30

// listWorkspace returns up to workspaceListCap top-level entries, directories
// with a trailing slash, the runtime's own dir skipped. An overflow note
// replaces the entries beyond the cap.
func listWorkspace(workspace string) []string {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return nil
	}
	var out []string
	hidden := 0
	for _, e := range entries {
		if e.Name() == ".kiso" {
			continue
		}
		if len(out) == workspaceListCap {
			hidden++
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		out = append(out, name)
	}
	if hidden > 0 {
		out = append(out, fmt.Sprintf("(and %d more)", hidden))
	}
	return out
}
