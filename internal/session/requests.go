package session

import (
	"context"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/notify"
	"github.com/taskdeck/taskdeck/internal/permission"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// Response is the user's decision on a pending request. Permission is
// set for permission requests, Answers for questions.
type Response struct {
	Permission *types.PermissionResponse
	Answers    map[string]string
}

// pushRequest queues a pause-point, moves the task to waiting, and
// surfaces the head. Only the head is ever exposed; further requests
// wait their turn. Requests arriving after the session finalized are
// dropped, since the backend they belong to is already gone.
func (s *Service) pushRequest(ctx context.Context, sess *Session, task *types.Task, req pendingRequest) {
	sess.mu.Lock()
	if sess.finalized {
		sess.mu.Unlock()
		return
	}
	sess.pending = append(sess.pending, req)
	isHead := len(sess.pending) == 1
	sess.mu.Unlock()

	s.setStatusLive(ctx, sess, types.StatusWaiting)
	if isHead {
		s.emitHead(sess)
	}

	kind := notify.KindPermission
	body := ""
	if req.Permission != nil {
		body = req.Permission.ToolName
	} else {
		kind = notify.KindQuestion
		if len(req.Question.Questions) > 0 {
			body = req.Question.Questions[0].Text
		}
	}
	s.notifier.Notify(notify.Notification{
		Kind:     kind,
		TaskID:   sess.TaskID,
		TaskName: task.Name,
		Body:     body,
	})
}

// emitHead announces the current head pause-point outward.
func (s *Service) emitHead(sess *Session) {
	sess.mu.Lock()
	if len(sess.pending) == 0 {
		sess.mu.Unlock()
		return
	}
	head := sess.pending[0]
	sess.mu.Unlock()

	if head.Permission != nil {
		s.bus.PublishSync(event.Event{
			Type: event.TaskPermission,
			Data: event.PermissionData{TaskID: sess.TaskID, Request: head.Permission},
		})
		return
	}
	s.bus.PublishSync(event.Event{
		Type: event.TaskQuestion,
		Data: event.QuestionData{TaskID: sess.TaskID, Request: head.Question},
	})
}

// GetPendingRequest returns the head pause-point for a task, or nil
// pointers when nothing is pending.
func (s *Service) GetPendingRequest(taskID string) (*types.PermissionRequest, *types.QuestionRequest) {
	sess := s.lookup(taskID)
	if sess == nil {
		return nil, nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.pending) == 0 {
		return nil, nil
	}
	return sess.pending[0].Permission, sess.pending[0].Question
}

// Respond resolves a pending request: the decision is forwarded to the
// backend, elevated grants are persisted, the task resumes running, and
// any remaining head is pushed outward immediately rather than waiting
// for the caller to poll.
func (s *Service) Respond(ctx context.Context, taskID, requestID string, resp Response) error {
	sess := s.lookup(taskID)
	if sess == nil {
		return fmt.Errorf("task %s has no active session", taskID)
	}

	// The handle check precedes the dequeue: a respond that cannot be
	// delivered must leave the pause-point in place for a retry.
	handle := sess.liveHandle()
	if handle == nil {
		return fmt.Errorf("task %s has no live backend run", taskID)
	}

	req, ok := sess.takeRequest(requestID)
	if !ok {
		return fmt.Errorf("request %s not found for task %s", requestID, taskID)
	}

	var err error
	switch {
	case req.Permission != nil:
		perm := types.PermissionResponse{Behavior: types.GrantDeny}
		if resp.Permission != nil {
			perm = *resp.Permission
		}
		s.applyElevatedGrant(ctx, sess.TaskID, req.Permission, perm)
		err = sess.adapter.RespondPermission(ctx, handle.SessionID, requestID, perm)
	default:
		err = sess.adapter.RespondQuestion(ctx, handle.SessionID, requestID, resp.Answers)
	}
	if err != nil {
		logging.Warn().Err(err).Str("task_id", taskID).Str("request_id", requestID).Msg("respond delivery failed")
	}

	s.setStatusLive(ctx, sess, types.StatusRunning)

	sess.mu.Lock()
	more := len(sess.pending) > 0
	sess.mu.Unlock()
	if more {
		s.setStatusLive(ctx, sess, types.StatusWaiting)
		s.emitHead(sess)
	}
	return err
}

// takeRequest removes a pending request by id, returning it. Responds
// are addressed at the head, but an id match anywhere in the queue is
// honored so a stale UI cannot wedge the session.
func (sess *Session) takeRequest(requestID string) (pendingRequest, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i, req := range sess.pending {
		if req.ID == requestID {
			sess.pending = append(sess.pending[:i], sess.pending[i+1:]...)
			return req, true
		}
	}
	return pendingRequest{}, false
}

// applyElevatedGrant persists an allow decision whose scope extends
// beyond the single request: session scope lands on the task row,
// project and worktree scopes additionally reach the scoped grant
// store. Grant-store failures never block the decision already
// forwarded to the backend.
func (s *Service) applyElevatedGrant(ctx context.Context, taskID string, req *types.PermissionRequest, resp types.PermissionResponse) {
	if !resp.Allowed() || resp.Behavior == types.GrantOnce {
		return
	}

	patterns := permission.DerivePatterns(req.ToolName, req.Input)

	if resp.Behavior == types.GrantProject || resp.Behavior == types.GrantWorktrees {
		task, err := s.store.GetTask(ctx, taskID)
		if err == nil && s.grants != nil {
			if err := s.grants.Grant(resp.Behavior, task.Directory, patterns); err != nil {
				logging.Warn().Err(err).Str("task_id", taskID).Msg("grant persistence failed")
			}
		}
	}

	if err := s.updateTask(ctx, taskID, func(t *types.Task) {
		t.MergeAllowedTools(patterns)
	}); err != nil {
		logging.Warn().Err(err).Str("task_id", taskID).Msg("allowed tools update failed")
	}
}
