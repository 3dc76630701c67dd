package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// QueuePrompt appends a follow-up prompt to a busy task's queue. The
// queue drains one entry at a time from the completion handler, never
// concurrently with a run.
func (s *Service) QueuePrompt(ctx context.Context, taskID, content string) (types.QueuedPrompt, error) {
	if content == "" {
		return types.QueuedPrompt{}, fmt.Errorf("queue prompt: empty content")
	}
	sess := s.lookup(taskID)
	if sess == nil {
		return types.QueuedPrompt{}, fmt.Errorf("task %s has no active session", taskID)
	}

	prompt := types.QueuedPrompt{
		ID:         uuid.NewString(),
		Content:    content,
		EnqueuedAt: time.Now().UnixMilli(),
	}

	sess.mu.Lock()
	sess.queue = append(sess.queue, prompt)
	sess.mu.Unlock()

	s.emitQueue(sess)
	return prompt, nil
}

// CancelQueuedPrompt removes one queued prompt by id, not necessarily
// the head.
func (s *Service) CancelQueuedPrompt(ctx context.Context, taskID, promptID string) error {
	sess := s.lookup(taskID)
	if sess == nil {
		return fmt.Errorf("task %s has no active session", taskID)
	}

	sess.mu.Lock()
	found := false
	for i, p := range sess.queue {
		if p.ID == promptID {
			sess.queue = append(sess.queue[:i], sess.queue[i+1:]...)
			found = true
			break
		}
	}
	sess.mu.Unlock()

	if !found {
		return fmt.Errorf("queued prompt %s not found for task %s", promptID, taskID)
	}
	s.emitQueue(sess)
	return nil
}

// GetQueuedPrompts returns a snapshot of the task's prompt queue.
func (s *Service) GetQueuedPrompts(taskID string) []types.QueuedPrompt {
	sess := s.lookup(taskID)
	if sess == nil {
		return nil
	}
	return sess.snapshotQueue()
}

// popPrompt dequeues the head prompt for the drain loop.
func (s *Service) popPrompt(sess *Session) (types.QueuedPrompt, bool) {
	sess.mu.Lock()
	if len(sess.queue) == 0 {
		sess.mu.Unlock()
		return types.QueuedPrompt{}, false
	}
	prompt := sess.queue[0]
	sess.queue = sess.queue[1:]
	sess.mu.Unlock()

	s.emitQueue(sess)
	return prompt, true
}

// clearQueue drops every queued prompt. Used by Stop.
func (s *Service) clearQueue(sess *Session) {
	sess.mu.Lock()
	had := len(sess.queue) > 0
	sess.queue = nil
	sess.mu.Unlock()

	if had {
		s.emitQueue(sess)
	}
}

// queueLen returns the current queue depth.
func (s *Service) queueLen(sess *Session) int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.queue)
}

func (sess *Session) snapshotQueue() []types.QueuedPrompt {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]types.QueuedPrompt, len(sess.queue))
	copy(out, sess.queue)
	return out
}

// emitQueue announces the queue's current contents.
func (s *Service) emitQueue(sess *Session) {
	s.bus.PublishSync(event.Event{
		Type: event.TaskQueueUpdate,
		Data: event.QueueUpdateData{TaskID: sess.TaskID, Prompts: sess.snapshotQueue()},
	})
}
