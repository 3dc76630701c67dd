// Package claude integrates the Claude Code CLI as a session backend.
// Each run spawns the CLI in streaming JSON mode; output lines are
// normalized into canonical events and control requests are negotiated
// over the same pipe.
package claude

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/taskdeck/taskdeck/internal/backend"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// Adapter runs coding-agent sessions on the Claude Code CLI.
type Adapter struct {
	binary string

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs the adapter, resolving the CLI binary up front so a
// missing installation fails at registration rather than first use.
func New() (*Adapter, error) {
	path, err := exec.LookPath(defaultBinary)
	if err != nil {
		return nil, fmt.Errorf("claude binary not found: %w", err)
	}
	return &Adapter{
		binary:   path,
		sessions: make(map[string]*session),
	}, nil
}

// Start spawns a CLI process for the task and begins streaming events.
// The returned session id is a local handle; the backend's own
// resumable id arrives on the stream.
func (a *Adapter) Start(ctx context.Context, cfg backend.StartConfig, prompt string) (*backend.Handle, <-chan backend.Event, error) {
	s := &session{
		id:      ulid.Make().String(),
		taskID:  cfg.TaskID,
		events:  make(chan backend.Event, 64),
		exited:  make(chan struct{}),
		pending: make(map[string]string),
		log:     logging.With().Str("component", "claude").Str("task_id", cfg.TaskID).Logger(),
	}

	if err := s.spawn(ctx, a.binary, buildArgs(cfg), cfg.Directory); err != nil {
		return nil, nil, err
	}

	if err := s.sendPrompt(prompt); err != nil {
		s.terminate()
		return nil, nil, err
	}

	a.mu.Lock()
	a.sessions[s.id] = s
	a.mu.Unlock()
	go a.reap(s)

	s.log.Debug().Str("session_id", s.id).Msg("claude session started")
	return &backend.Handle{SessionID: s.id}, s.events, nil
}

// reap drops the registry entry once the session's process has exited,
// so finished runs do not accumulate in the map.
func (a *Adapter) reap(s *session) {
	<-s.exited
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessions[s.id] == s {
		delete(a.sessions, s.id)
	}
}

// Stop aborts a live session. Unknown or already-finished sessions are
// a no-op.
func (a *Adapter) Stop(_ context.Context, sessionID string) error {
	if s := a.lookup(sessionID); s != nil {
		s.terminate()
	}
	return nil
}

// RespondPermission forwards a permission decision as a control
// response frame. The tracked request is always resolved, even when the
// write fails, so a wedged pipe cannot strand the negotiation state.
func (a *Adapter) RespondPermission(_ context.Context, sessionID, requestID string, resp types.PermissionResponse) error {
	s := a.lookup(sessionID)
	if s == nil {
		return fmt.Errorf("unknown session: %s", sessionID)
	}

	tool, tracked := s.resolveRequest(requestID)
	if !tracked {
		return fmt.Errorf("unknown permission request: %s", requestID)
	}

	var body map[string]any
	if resp.Allowed() {
		body = map[string]any{"behavior": "allow", "updatedInput": nil}
		s.rememberAllowed(tool)
	} else {
		message := resp.Message
		if message == "" {
			message = "denied by operator"
		}
		body = map[string]any{"behavior": "deny", "message": message}
	}

	return s.writeFrame(map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response":   body,
		},
	})
}

// RespondQuestion forwards answers to a question request. Answers ride
// in the allow response's updated input, which is how the CLI completes
// its question tool call.
func (a *Adapter) RespondQuestion(_ context.Context, sessionID, requestID string, answers map[string]string) error {
	s := a.lookup(sessionID)
	if s == nil {
		return fmt.Errorf("unknown session: %s", sessionID)
	}

	if _, tracked := s.resolveRequest(requestID); !tracked {
		return fmt.Errorf("unknown question request: %s", requestID)
	}

	return s.writeFrame(map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response": map[string]any{
				"behavior":     "allow",
				"updatedInput": map[string]any{"answers": answers},
			},
		},
	})
}

// SetMode switches the permission mode on a live session.
func (a *Adapter) SetMode(_ context.Context, sessionID string, mode types.InteractionMode) error {
	s := a.lookup(sessionID)
	if s == nil {
		return fmt.Errorf("unknown session: %s", sessionID)
	}

	cliMode := mapMode(mode)
	if cliMode == "" {
		cliMode = "default"
	}

	return s.writeFrame(map[string]any{
		"type":       "control_request",
		"request_id": "mode_" + ulid.Make().String(),
		"request": map[string]any{
			"subtype": "set_permission_mode",
			"mode":    cliMode,
		},
	})
}

// SessionAllowedTools returns the tools approved for the remainder of
// the session through permission responses.
func (a *Adapter) SessionAllowedTools(sessionID string) []string {
	s := a.lookup(sessionID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.allowed))
	copy(out, s.allowed)
	return out
}

// Dispose terminates every live session.
func (a *Adapter) Dispose() error {
	a.mu.Lock()
	sessions := make([]*session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[string]*session)
	a.mu.Unlock()

	for _, s := range sessions {
		s.terminate()
	}
	return nil
}

func (a *Adapter) lookup(sessionID string) *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[sessionID]
}
