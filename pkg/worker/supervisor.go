package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kisohq/kiso/pkg/models"
)

// ErrQueueFull means the session's queue is at capacity; the sender should
// retry later. The message stays stored with processed=false.
var ErrQueueFull = errors.New("session queue is full")

// ErrShuttingDown rejects new work during graceful shutdown.
var ErrShuttingDown = errors.New("shutting down")

// Accepted is the supervisor's answer to an inbound message.
type Accepted struct {
	MessageID int64
	Queued    bool
	Untrusted bool
}

// Stats summarizes supervisor state for /health.
type Stats struct {
	ActiveWorkers  int `json:"active_workers"`
	QueuedMessages int `json:"queued_messages"`
}

// Supervisor owns the session→worker map. The check-then-spawn sequence and
// every enqueue run under one mutex, so a worker can never retire while a
// message is being handed to it.
type Supervisor struct {
	deps Deps

	mu      sync.Mutex
	workers map[string]*Worker
	closed  bool

	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	// stop is the graceful-stop broadcast; workers drain their current
	// message before honoring it. baseCtx is cancelled only when the
	// shutdown grace period expires.
	stop chan struct{}
}

// NewSupervisor builds a supervisor; workers run until Shutdown.
func NewSupervisor(deps Deps) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		deps:    deps,
		workers: map[string]*Worker{},
		baseCtx: ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}
}

// OnMessage saves the message and, when trusted, hands it to the session
// worker. Untrusted messages are stored for paraphrased context only.
func (s *Supervisor) OnMessage(ctx context.Context, session, user, content string, trusted bool) (*Accepted, error) {
	var userPtr *string
	if user != "" {
		userPtr = &user
	}
	id, err := s.deps.Store.SaveMessage(ctx, models.Message{
		Session: session,
		User:    userPtr,
		Role:    models.MessageRoleUser,
		Content: content,
		Trusted: trusted,
	})
	if err != nil {
		return nil, err
	}
	if !trusted {
		slog.Info("Stored untrusted message", "session", session, "message_id", id)
		return &Accepted{MessageID: id, Untrusted: true}, nil
	}
	if err := s.enqueue(session, models.InboundMessage{
		MessageID: id, Session: session, User: user, Content: content,
	}); err != nil {
		return nil, err
	}
	return &Accepted{MessageID: id, Queued: true}, nil
}

func (s *Supervisor) enqueue(session string, msg models.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	w := s.workers[session]
	if w == nil {
		w = s.spawnLocked(session)
	}
	select {
	case w.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Supervisor) spawnLocked(session string) *Worker {
	w := newWorker(s.deps, session, s.deps.Config.Current().Limits.QueueSize)
	w.retire = func() bool { return s.tryRetire(session, w) }
	w.stop = s.stop
	s.workers[session] = w
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.run(s.baseCtx)
	}()
	return w
}

func (s *Supervisor) tryRetire(session string, w *Worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(w.queue) > 0 {
		return false
	}
	if s.workers[session] == w {
		delete(s.workers, session)
	}
	return true
}

// OnCancel flips the session worker's cancel signal. Returns the active plan
// id, or ok=false when no worker is running.
func (s *Supervisor) OnCancel(session string) (planID int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.workers[session]
	if w == nil {
		return 0, false
	}
	w.cancelFlag.Store(true)
	slog.Info("Cancel requested", "session", session, "plan_id", w.activePlan.Load())
	return w.activePlan.Load(), true
}

// OnStartup runs store recovery and re-enqueues the messages the previous
// process accepted but never finished. Called once, before the API listens.
func (s *Supervisor) OnStartup(ctx context.Context) error {
	pending, err := s.deps.Store.RecoverRunningOnStartup(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		m, err := s.deps.Store.GetMessage(ctx, p.MessageID)
		if err != nil {
			slog.Warn("Recovered message vanished", "message_id", p.MessageID, "error", err)
			continue
		}
		user := ""
		if m.User != nil {
			user = *m.User
		}
		err = s.enqueue(p.Session, models.InboundMessage{
			MessageID: m.ID, Session: p.Session, User: user, Content: m.Content,
		})
		if err != nil {
			slog.Warn("Failed to re-enqueue recovered message",
				"session", p.Session, "message_id", p.MessageID, "error", err)
		}
	}
	return nil
}

// Shutdown stops accepting work and broadcasts the graceful stop: each worker
// finishes the message it is on, then exits. When the context's grace period
// expires first, in-flight LLM calls and subprocesses are hard-cancelled. The
// caller closes the store afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("All workers stopped")
		s.cancel()
		return nil
	case <-ctx.Done():
		slog.Warn("Shutdown grace period elapsed, cancelling in-flight work")
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// IsRunning reports whether the session currently has a worker.
func (s *Supervisor) IsRunning(session string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers[session] != nil
}

// QueueLength returns the session's backlog, 0 when no worker exists.
func (s *Supervisor) QueueLength(session string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.workers[session]; w != nil {
		return len(w.queue)
	}
	return 0
}

// ActivePlan returns the plan the session worker is executing, ok=false when
// no worker is running.
func (s *Supervisor) ActivePlan(session string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.workers[session]; w != nil {
		return w.activePlan.Load(), true
	}
	return 0, false
}

// Stats summarizes the worker pool for /health.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{ActiveWorkers: len(s.workers)}
	for _, w := range s.workers {
		st.QueuedMessages += len(w.queue)
	}
	return st
}
