package session

import (
	"context"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/backend"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/notify"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// run drives a session to its terminal state: one backend run per
// prompt, chained while queued prompts remain. Cleanup is guaranteed
// regardless of success, failure, or interruption, so the task is
// always restartable.
func (s *Service) run(sess *Session, prompt string) {
	defer s.remove(sess)
	defer sess.cancel()
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("task_id", sess.TaskID).Interface("panic", r).Msg("session loop panicked")
			s.finalize(sess, types.StatusErrored, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// Explicit drain loop rather than re-entry, so a long prompt queue
	// cannot grow the stack.
	for {
		next, again := s.runOnce(sess, prompt)
		if !again {
			return
		}
		prompt = next
	}
}

// runOnce executes a single backend run. It returns the next queued
// prompt and true when the run completed cleanly with prompts still
// queued; otherwise the session is finalized here.
func (s *Service) runOnce(sess *Session, prompt string) (string, bool) {
	ctx := sess.ctx

	task, err := s.store.GetTask(ctx, sess.TaskID)
	if err != nil {
		s.finalize(sess, types.StatusErrored, fmt.Sprintf("load task: %v", err))
		return "", false
	}

	cfg := backend.StartConfig{
		TaskID:          sess.TaskID,
		Directory:       task.Directory,
		Mode:            task.Mode,
		Model:           task.Model,
		ResumeSessionID: sess.resume(),
		AllowedTools:    s.effectiveAllowedTools(task),
	}

	handle, events, err := sess.adapter.Start(ctx, cfg, prompt)
	if err != nil {
		s.finalize(sess, types.StatusErrored, fmt.Sprintf("backend start: %v", err))
		return "", false
	}
	sess.setHandle(handle)

	for ev := range events {
		if sess.isInterrupted() || ctx.Err() != nil {
			return "", false
		}
		switch outcome := s.processEvent(ctx, sess, task, handle, ev); outcome {
		case outcomeContinue:
		case outcomeNextPrompt:
			next, ok := s.popPrompt(sess)
			if !ok {
				// Raced with a cancellation that cleared the queue.
				s.finalize(sess, types.StatusCompleted, "")
				return "", false
			}
			return next.Content, true
		case outcomeDone:
			return "", false
		}
	}

	// Stream closed without a terminal event.
	if sess.isInterrupted() || ctx.Err() != nil {
		return "", false
	}
	s.finalize(sess, types.StatusErrored, "backend stream ended unexpectedly")
	return "", false
}

// loopOutcome tells runOnce what to do after an event.
type loopOutcome int

const (
	outcomeContinue loopOutcome = iota
	outcomeNextPrompt
	outcomeDone
)

// processEvent applies one canonical event to persisted and in-memory
// state. Events for a task are processed strictly in emission order.
func (s *Service) processEvent(ctx context.Context, sess *Session, task *types.Task, handle *backend.Handle, ev backend.Event) loopOutcome {
	switch ev.Kind {
	case backend.EventSessionID:
		sess.setResume(ev.SessionID)
		if err := s.updateTask(ctx, sess.TaskID, func(t *types.Task) {
			t.ResumeSessionID = &ev.SessionID
		}); err != nil {
			logging.Warn().Err(err).Str("task_id", sess.TaskID).Msg("resume id write failed")
		}
		return outcomeContinue

	case backend.EventMessage:
		s.persistAndEmit(ctx, sess, ev.Message, ev.Raw)
		return outcomeContinue

	case backend.EventPermissionRequest:
		s.pushRequest(ctx, sess, task, pendingRequest{ID: ev.Permission.ID, Permission: ev.Permission})
		return outcomeContinue

	case backend.EventQuestion:
		s.pushRequest(ctx, sess, task, pendingRequest{ID: ev.Question.ID, Question: ev.Question})
		return outcomeContinue

	case backend.EventModeChange:
		if err := s.updateTask(ctx, sess.TaskID, func(t *types.Task) {
			t.Mode = ev.Mode
		}); err != nil {
			logging.Warn().Err(err).Str("task_id", sess.TaskID).Msg("mode write failed")
		}
		return outcomeContinue

	case backend.EventComplete:
		return s.handleComplete(ctx, sess, task, handle, ev)

	case backend.EventError:
		s.finalize(sess, types.StatusErrored, ev.Err)
		return outcomeDone
	}

	logging.Warn().Str("task_id", sess.TaskID).Str("kind", string(ev.Kind)).Msg("unhandled event kind")
	return outcomeContinue
}

// handleComplete merges backend-granted tools, then either hands the
// next queued prompt back to the loop or finalizes the task.
func (s *Service) handleComplete(ctx context.Context, sess *Session, task *types.Task, handle *backend.Handle, ev backend.Event) loopOutcome {
	if granted := sess.adapter.SessionAllowedTools(handle.SessionID); len(granted) > 0 {
		if err := s.updateTask(ctx, sess.TaskID, func(t *types.Task) {
			t.MergeAllowedTools(granted)
		}); err != nil {
			logging.Warn().Err(err).Str("task_id", sess.TaskID).Msg("allowed tools merge failed")
		}
	}

	// Queued prompts are only drained after a clean completion. On an
	// error result the queue is preserved for a future session.
	if !ev.IsError && s.queueLen(sess) > 0 {
		return outcomeNextPrompt
	}

	if ev.IsError {
		s.finalize(sess, types.StatusErrored, ev.ResultSummary)
	} else {
		s.finalize(sess, types.StatusCompleted, "")
	}
	return outcomeDone
}

// finalize writes the session's terminal status. The finalize claim
// makes this a no-op when Stop already interrupted the session.
func (s *Service) finalize(sess *Session, status types.TaskStatus, errMsg string) {
	if !sess.beginFinalize() {
		return
	}
	sess.clearPending()

	ctx := context.Background()
	s.setStatusTerminal(ctx, sess, status, errMsg)

	kind := notify.KindComplete
	body := "Run completed"
	if status == types.StatusErrored {
		kind = notify.KindError
		body = errMsg
	}
	s.notifier.Notify(notify.Notification{
		Kind:   kind,
		TaskID: sess.TaskID,
		Body:   body,
	})
}

// effectiveAllowedTools combines the task's session-scoped allow list
// with the persisted project and worktree grants for its directory.
func (s *Service) effectiveAllowedTools(task *types.Task) []string {
	merged := types.Task{AllowedTools: append([]string(nil), task.AllowedTools...)}
	if s.grants != nil {
		merged.MergeAllowedTools(s.grants.Granted(task.Directory))
	}
	return merged.AllowedTools
}
