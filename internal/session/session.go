// Package session is the orchestrator: it owns the registry of active
// sessions, runs one event loop per session, persists normalized
// messages with upsert-by-id semantics, negotiates permission and
// question pause-points, and drains queued follow-up prompts.
package session

import (
	"context"
	"sync"

	"github.com/taskdeck/taskdeck/internal/backend"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// pendingRequest is one queued pause-point. Exactly one of Permission
// and Question is set.
type pendingRequest struct {
	ID         string
	Permission *types.PermissionRequest
	Question   *types.QuestionRequest
}

// Session is the ephemeral runtime state for one active execution of a
// backend against a task. It is created by Start or SendMessage, lives
// for one run (or a chain of runs draining the prompt queue), and is
// removed from the registry in a guaranteed cleanup step.
type Session struct {
	TaskID      string
	BackendType string

	adapter backend.Adapter

	ctx    context.Context
	cancel context.CancelFunc

	// statusMu orders live status writes against the terminal one; see
	// Service.setStatusLive.
	statusMu sync.Mutex

	mu              sync.Mutex
	handle          *backend.Handle
	resumeSessionID string
	nextIndex       int
	ledger          map[string]int // message id -> assigned index
	pending         []pendingRequest
	queue           []types.QueuedPrompt
	interrupted     bool
	finalized       bool
}

// newSession creates the in-memory state for one task run. nextIndex
// seeds from the highest persisted index so resumed histories keep
// strictly increasing ordering.
func newSession(taskID, backendType string, adapter backend.Adapter, nextIndex int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		TaskID:      taskID,
		BackendType: backendType,
		adapter:     adapter,
		ctx:         ctx,
		cancel:      cancel,
		nextIndex:   nextIndex,
		ledger:      make(map[string]int),
	}
}

// assignIndex returns the persisted index for a message id, assigning
// and recording the next free index on first sight. The second return
// reports whether the id was already known.
func (sess *Session) assignIndex(messageID string) (int, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if idx, seen := sess.ledger[messageID]; seen {
		return idx, true
	}
	idx := sess.nextIndex
	sess.nextIndex++
	sess.ledger[messageID] = idx
	return idx, false
}

// setHandle records the live adapter handle for the current sub-run.
func (sess *Session) setHandle(h *backend.Handle) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.handle = h
}

// liveHandle returns the current adapter handle, if any.
func (sess *Session) liveHandle() *backend.Handle {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.handle
}

// setResume records the backend-native resumable session id.
func (sess *Session) setResume(id string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.resumeSessionID = id
}

// resume returns the resumable session id, or "" before the backend
// reported one.
func (sess *Session) resume() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.resumeSessionID
}

// markInterrupted flags the session as user-stopped. The run loop
// checks this at each iteration boundary and exits without finalizing.
func (sess *Session) markInterrupted() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.interrupted = true
}

func (sess *Session) isInterrupted() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.interrupted
}

// beginFinalize claims the right to write the session's terminal state.
// Exactly one caller wins between the run loop and Stop.
func (sess *Session) beginFinalize() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.finalized {
		return false
	}
	sess.finalized = true
	return true
}

func (sess *Session) isFinalized() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.finalized
}

// clearPending drops every queued pause-point. Used on stop so no
// request is left dangling when the session is discarded.
func (sess *Session) clearPending() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.pending = nil
}
