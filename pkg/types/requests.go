package types

import "encoding/json"

// PermissionRequest is a backend-issued pause point asking whether a
// tool invocation may proceed. Ordering is queue position within the
// session, not a timestamp.
type PermissionRequest struct {
	ID       string          `json:"id"`
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input,omitempty"`

	// ElevatedGrants lists the scopes beyond a one-shot allow that the
	// UI may offer for this tool, if any.
	ElevatedGrants []GrantScope `json:"elevatedGrants,omitempty"`
}

// QuestionRequest is a backend-issued pause point asking the user to
// answer one or more free-form questions.
type QuestionRequest struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Question is a single prompt within a QuestionRequest.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// GrantScope describes how far a permission decision extends.
type GrantScope string

const (
	// GrantOnce allows exactly the pending invocation.
	GrantOnce GrantScope = "once"
	// GrantSession allows the tool for the remainder of the session.
	GrantSession GrantScope = "session"
	// GrantProject allows the tool for the whole project.
	GrantProject GrantScope = "project"
	// GrantWorktrees allows the tool for the project and its worktrees.
	GrantWorktrees GrantScope = "worktrees"
	// GrantDeny rejects the pending invocation.
	GrantDeny GrantScope = "deny"
)

// PermissionResponse is the user's decision on a PermissionRequest.
type PermissionResponse struct {
	Behavior GrantScope `json:"behavior"`

	// Message optionally explains a denial to the backend.
	Message string `json:"message,omitempty"`
}

// Allowed reports whether the response permits the invocation.
func (r PermissionResponse) Allowed() bool {
	return r.Behavior != GrantDeny && r.Behavior != ""
}

// QueuedPrompt is a follow-up prompt submitted while a run was busy.
type QueuedPrompt struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	EnqueuedAt int64  `json:"enqueuedAt"`
}
