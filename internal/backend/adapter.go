// Package backend defines the capability interface every coding-agent
// runtime integration implements, the canonical event vocabulary those
// integrations emit, and a factory registry keyed by backend type.
package backend

import (
	"context"
	"encoding/json"

	"github.com/taskdeck/taskdeck/pkg/types"
)

// EventKind discriminates canonical events on an adapter's stream.
type EventKind string

const (
	// EventSessionID reports the backend-native session id usable for
	// later resumption. Emitted at most once per run, early.
	EventSessionID EventKind = "session-id"
	// EventMessage carries a normalized message. The same message id
	// may be emitted repeatedly while the backend streams partial
	// content; later sightings supersede earlier ones.
	EventMessage EventKind = "message"
	// EventPermissionRequest pauses the run on a tool permission.
	EventPermissionRequest EventKind = "permission-request"
	// EventQuestion pauses the run on a user-directed question.
	EventQuestion EventKind = "question"
	// EventComplete ends the run. IsError distinguishes failed runs.
	EventComplete EventKind = "complete"
	// EventError reports a runtime failure. Terminal for the run.
	EventError EventKind = "error"
	// EventModeChange reports that the backend switched interaction mode.
	EventModeChange EventKind = "mode-change"
)

// Event is one canonical occurrence on an adapter's stream. Exactly the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// SessionID for EventSessionID.
	SessionID string

	// Message and Raw for EventMessage. Raw is the backend-native
	// payload persisted alongside the normalized form.
	Message *types.Message
	Raw     json.RawMessage

	// Permission for EventPermissionRequest.
	Permission *types.PermissionRequest

	// Question for EventQuestion.
	Question *types.QuestionRequest

	// Complete fields for EventComplete.
	IsError       bool
	ResultSummary string

	// Err for EventError.
	Err string

	// Mode for EventModeChange.
	Mode types.InteractionMode
}

// StartConfig carries everything an adapter needs to create or resume
// a session.
type StartConfig struct {
	TaskID    string
	Directory string
	Mode      types.InteractionMode
	Model     string

	// ResumeSessionID resumes an earlier backend session when set.
	ResumeSessionID string

	// AllowedTools are tools pre-approved for this session.
	AllowedTools []string
}

// Handle identifies a live adapter session.
type Handle struct {
	SessionID string
}

// Adapter is the capability interface implemented once per supported
// agent runtime.
//
// Stream contract: after Start returns, events arrive on the returned
// channel strictly in emission order; the channel closes when the run
// ends or the context is canceled. Adapters never panic across the
// stream boundary. Runtime failures arrive as EventError; only Start
// itself may fail synchronously.
type Adapter interface {
	// Start creates or resumes a session and begins producing events.
	// Cancel the context to stop the stream at the next safe point.
	Start(ctx context.Context, cfg StartConfig, prompt string) (*Handle, <-chan Event, error)

	// Stop best-effort aborts the run. Must not fail on an
	// already-finished session.
	Stop(ctx context.Context, sessionID string) error

	// RespondPermission forwards a human permission decision. Any
	// internal waiter held for requestID is resolved even if the
	// underlying delivery fails.
	RespondPermission(ctx context.Context, sessionID, requestID string, resp types.PermissionResponse) error

	// RespondQuestion forwards answers to a question request, with the
	// same waiter-resolution guarantee as RespondPermission.
	RespondQuestion(ctx context.Context, sessionID, requestID string, answers map[string]string) error

	// SetMode best-effort switches the interaction mode on a live
	// session. Adapters that cannot do this treat it as a no-op.
	SetMode(ctx context.Context, sessionID string, mode types.InteractionMode) error

	// SessionAllowedTools returns tools the backend itself decided to
	// allow for the remainder of the session, if it tracks any.
	SessionAllowedTools(sessionID string) []string

	// Dispose releases shared backend resources. Called once at
	// shutdown, after all sessions have been stopped.
	Dispose() error
}
