package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskdeck/taskdeck/internal/backend"
	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/notify"
	"github.com/taskdeck/taskdeck/internal/permission"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/workdir"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// Service orchestrates agent sessions: it validates preconditions,
// owns the registry of active sessions, and exposes the command surface
// consumed by the UI layer.
type Service struct {
	store    *store.Store
	bus      *event.Bus
	backends *backend.Registry
	grants   *permission.Store
	notifier notify.Dispatcher

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewService creates the orchestrator.
func NewService(st *store.Store, bus *event.Bus, backends *backend.Registry, grants *permission.Store, notifier notify.Dispatcher) *Service {
	if notifier == nil {
		notifier = notify.LogDispatcher{}
	}
	return &Service{
		store:    st,
		bus:      bus,
		backends: backends,
		grants:   grants,
		notifier: notifier,
		sessions: make(map[string]*Session),
	}
}

// Start begins a run for the task using its stored prompt. Fails fast,
// with no side effects, when the task is unknown, its working directory
// is invalid, or a session for the task already exists.
func (s *Service) Start(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("start task %s: %w", taskID, err)
	}
	return s.launch(ctx, task, task.Prompt)
}

// SendMessage begins a run for an idle task with a fresh prompt,
// resuming the backend session when the task has a resumable id.
func (s *Service) SendMessage(ctx context.Context, taskID, text string) error {
	if text == "" {
		return fmt.Errorf("send message: empty prompt")
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("send message to task %s: %w", taskID, err)
	}
	if !task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", task.ID, task.Status)
	}

	// The follow-up text replaces the task's prompt so the stored row
	// always reflects what the backend was last asked.
	task.Prompt = text
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("send message to task %s: %w", taskID, err)
	}
	return s.launch(ctx, task, text)
}

// launch is the shared entry point behind Start and SendMessage. The
// registry insert is an atomic check-and-insert so two concurrent
// launches for one task cannot both succeed.
func (s *Service) launch(ctx context.Context, task *types.Task, prompt string) error {
	if !task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", task.ID, task.Status)
	}
	if err := workdir.Validate(task.Directory); err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}

	adapter, err := s.backends.Get(task.BackendType)
	if err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}

	maxIdx, err := s.store.MaxMessageIndex(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("task %s: %w", task.ID, err)
	}

	sess := newSession(task.ID, task.BackendType, adapter, maxIdx+1)
	if task.ResumeSessionID != nil {
		sess.setResume(*task.ResumeSessionID)
	}

	s.mu.Lock()
	if _, exists := s.sessions[task.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task %s already has an active session", task.ID)
	}
	s.sessions[task.ID] = sess
	s.mu.Unlock()

	s.ensureName(ctx, task, prompt)
	s.setStatusLive(ctx, sess, types.StatusRunning)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(sess, prompt)
	}()
	return nil
}

// Stop interrupts the task's active run: the backend is aborted, the
// queue and pending requests are discarded, and a synthetic result
// message keeps the visible history coherent.
func (s *Service) Stop(ctx context.Context, taskID string) error {
	sess := s.lookup(taskID)
	if sess == nil {
		return fmt.Errorf("task %s has no active session", taskID)
	}

	if !sess.beginFinalize() {
		return nil
	}
	sess.markInterrupted()
	sess.clearPending()
	s.clearQueue(sess)
	sess.cancel()

	if h := sess.liveHandle(); h != nil {
		if err := sess.adapter.Stop(ctx, h.SessionID); err != nil {
			logging.Warn().Err(err).Str("task_id", taskID).Msg("backend stop failed")
		}
	}

	now := time.Now().UnixMilli()
	s.persistAndEmit(ctx, sess, &types.Message{
		ID:            ulid.Make().String(),
		Role:          types.RoleResult,
		Parts:         []types.Part{&types.TextPart{Type: "text", Text: "Interrupted by user"}},
		Time:          types.MessageTime{Created: now},
		ResultSummary: "Interrupted by user",
	}, nil)

	s.setStatusTerminal(ctx, sess, types.StatusInterrupted, "")
	return nil
}

// SetMode persists the task's interaction mode and, when a session is
// live, asks the backend to switch mid-run. The backend switch is
// best-effort.
func (s *Service) SetMode(ctx context.Context, taskID string, mode types.InteractionMode) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.Mode = mode
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	if sess := s.lookup(taskID); sess != nil {
		if h := sess.liveHandle(); h != nil {
			if err := sess.adapter.SetMode(ctx, h.SessionID, mode); err != nil {
				logging.Warn().Err(err).Str("task_id", taskID).Msg("live mode switch failed")
			}
		}
	}
	return nil
}

// GetMessages returns the task's normalized history in index order.
func (s *Service) GetMessages(ctx context.Context, taskID string) ([]*types.Message, error) {
	return s.store.GetMessages(ctx, taskID)
}

// GetMessageCount returns the number of persisted messages for a task.
func (s *Service) GetMessageCount(ctx context.Context, taskID string) (int, error) {
	return s.store.CountMessages(ctx, taskID)
}

// Shutdown stops every active session and waits for their loops to
// exit. Called once, before backend disposal.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Stop(ctx, id); err != nil {
			logging.Warn().Err(err).Str("task_id", id).Msg("shutdown stop failed")
		}
	}
	s.wg.Wait()
}

// lookup returns the active session for a task, or nil.
func (s *Service) lookup(taskID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[taskID]
}

// remove drops the session from the registry. The guaranteed cleanup
// step of every run.
func (s *Service) remove(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.TaskID] == sess {
		delete(s.sessions, sess.TaskID)
	}
}

// setStatus persists a status transition and announces it. Status
// writes are what the UI's task list renders, so failures are logged
// loudly but do not abort the run.
func (s *Service) setStatus(ctx context.Context, taskID string, status types.TaskStatus, errMsg string) {
	if err := s.store.SetTaskStatus(ctx, taskID, status, errMsg); err != nil {
		logging.Error().Err(err).Str("task_id", taskID).Str("status", string(status)).Msg("status write failed")
	}
	s.bus.PublishSync(event.Event{
		Type: event.TaskStatus,
		Data: event.StatusData{TaskID: taskID, Status: status, Error: errMsg},
	})
}

// setStatusLive writes a non-terminal transition for an active session.
// It shares a lock with setStatusTerminal and is skipped once the
// session is finalized, so a transition racing a stop or completion
// cannot land after the terminal write and wedge the task.
func (s *Service) setStatusLive(ctx context.Context, sess *Session, status types.TaskStatus) {
	sess.statusMu.Lock()
	defer sess.statusMu.Unlock()
	if sess.isFinalized() {
		return
	}
	s.setStatus(ctx, sess.TaskID, status, "")
}

// setStatusTerminal writes the session's terminal status. Callers hold
// the finalize claim.
func (s *Service) setStatusTerminal(ctx context.Context, sess *Session, status types.TaskStatus, errMsg string) {
	sess.statusMu.Lock()
	defer sess.statusMu.Unlock()
	s.setStatus(ctx, sess.TaskID, status, errMsg)
}

// updateTask applies a mutation to the task row. Used for merges that
// must read the latest persisted state first.
func (s *Service) updateTask(ctx context.Context, taskID string, apply func(*types.Task)) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	apply(task)
	return s.store.UpdateTask(ctx, task)
}
