package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/config"
	"github.com/kisohq/kiso/pkg/llm/llmtest"
	"github.com/kisohq/kiso/pkg/models"
)

const eventually = 5 * time.Second

func TestSupervisor_UntrustedStoredNotQueued(t *testing.T) {
	e := newEnv(t, nil)
	s := NewSupervisor(e.deps)
	defer shutdown(t, s)

	acc, err := s.OnMessage(context.Background(), "s1", "", "new issue opened", false)
	require.NoError(t, err)
	assert.True(t, acc.Untrusted)
	assert.False(t, acc.Queued)
	assert.False(t, s.IsRunning("s1"))

	m, err := e.st.GetMessage(context.Background(), acc.MessageID)
	require.NoError(t, err)
	assert.False(t, m.Trusted)
	assert.Empty(t, e.client.Captured())
}

func TestSupervisor_ProcessesTrustedMessage(t *testing.T) {
	e := newEnv(t, nil)
	e.client.AddRouted(brain.RoleClassifier, llmtest.ScriptEntry{Text: "chat"})
	e.client.AddRouted(brain.RoleMessenger, llmtest.ScriptEntry{Text: "Hi!"})

	s := NewSupervisor(e.deps)
	defer shutdown(t, s)

	acc, err := s.OnMessage(context.Background(), "s1", "alice", "hello", true)
	require.NoError(t, err)
	assert.True(t, acc.Queued)
	assert.True(t, s.IsRunning("s1"))

	require.Eventually(t, func() bool {
		tasks, err := e.st.TasksAfter(context.Background(), "s1", 0)
		return err == nil && len(tasks) == 1 && tasks[0].Output == "Hi!"
	}, eventually, 10*time.Millisecond)

	st := s.Stats()
	assert.Equal(t, 1, st.ActiveWorkers)
	assert.Equal(t, 0, st.QueuedMessages)
}

func TestSupervisor_QueueFull(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Limits.QueueSize = 1 })
	blocked := make(chan struct{})
	e.client.AddRouted(brain.RoleClassifier, llmtest.ScriptEntry{
		BlockUntilCancelled: true, OnBlock: blocked,
	})

	s := NewSupervisor(e.deps)
	ctx := context.Background()

	_, err := s.OnMessage(ctx, "s1", "alice", "first", true)
	require.NoError(t, err)
	<-blocked // the worker is now busy with "first"

	_, err = s.OnMessage(ctx, "s1", "alice", "second", true)
	require.NoError(t, err)
	assert.Equal(t, 1, s.QueueLength("s1"))

	acc, err := s.OnMessage(ctx, "s1", "alice", "third", true)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Nil(t, acc)

	// The rejected message is still stored for a later retry.
	msgs, err := e.st.RecentMessages(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	forceShutdown(t, s)
}

func TestSupervisor_OnCancel(t *testing.T) {
	e := newEnv(t, nil)
	s := NewSupervisor(e.deps)
	defer forceShutdown(t, s)

	_, ok := s.OnCancel("nobody")
	assert.False(t, ok)

	blocked := make(chan struct{})
	e.client.AddRouted(brain.RoleClassifier, llmtest.ScriptEntry{
		BlockUntilCancelled: true, OnBlock: blocked,
	})
	_, err := s.OnMessage(context.Background(), "s1", "alice", "long job", true)
	require.NoError(t, err)
	<-blocked

	_, ok = s.OnCancel("s1")
	assert.True(t, ok)
}

func TestSupervisor_IdleRetire(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Limits.WorkerIdleTimeout = config.Duration(30 * time.Millisecond)
	})
	e.client.AddRouted(brain.RoleClassifier, llmtest.ScriptEntry{Text: "chat"})
	e.client.AddRouted(brain.RoleMessenger, llmtest.ScriptEntry{Text: "Done."})

	s := NewSupervisor(e.deps)
	defer shutdown(t, s)

	_, err := s.OnMessage(context.Background(), "s1", "alice", "hello", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !s.IsRunning("s1") },
		eventually, 10*time.Millisecond)
	assert.Equal(t, 0, s.Stats().ActiveWorkers)
}

func TestSupervisor_OnStartupReenqueues(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	// A message the previous process accepted but never finished, with its
	// plan still marked running.
	msg := e.saveMsg(t, "s1", "alice", "resume me")
	planID, err := e.st.CreatePlan(ctx, models.Plan{
		Session: "s1", MessageID: msg.MessageID, Goal: "interrupted",
	})
	require.NoError(t, err)
	require.NoError(t, e.st.UpdatePlanStatus(ctx, planID, models.PlanStatusRunning))

	e.client.AddRouted(brain.RoleClassifier, llmtest.ScriptEntry{Text: "chat"})
	e.client.AddRouted(brain.RoleMessenger, llmtest.ScriptEntry{Text: "Resumed."})

	s := NewSupervisor(e.deps)
	defer shutdown(t, s)
	require.NoError(t, s.OnStartup(ctx))

	// The interrupted plan was failed and the message reprocessed.
	plan, err := e.st.GetPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusFailed, plan.Status)

	require.Eventually(t, func() bool {
		m, err := e.st.GetMessage(context.Background(), msg.MessageID)
		return err == nil && m.Processed
	}, eventually, 10*time.Millisecond)
}

func TestSupervisor_ShutdownRejectsNewWork(t *testing.T) {
	e := newEnv(t, nil)
	s := NewSupervisor(e.deps)
	shutdown(t, s)

	_, err := s.OnMessage(context.Background(), "s1", "alice", "late", true)
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestSupervisor_ShutdownWaitsForInFlightWork(t *testing.T) {
	e := newEnv(t, nil)
	blocked := make(chan struct{})
	e.client.AddRouted(brain.RoleClassifier, llmtest.ScriptEntry{
		BlockUntilCancelled: true, OnBlock: blocked,
	})
	s := NewSupervisor(e.deps)

	_, err := s.OnMessage(context.Background(), "s1", "alice", "long job", true)
	require.NoError(t, err)
	<-blocked

	// The graceful stop must not cancel the in-flight call; only the grace
	// deadline does, so Shutdown holds for the full period.
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func shutdown(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

// forceShutdown stops a supervisor whose worker is deliberately stuck in a
// blocked call: the grace period is kept short and its expiry is expected.
func forceShutdown(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
}
