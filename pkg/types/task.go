// Package types contains the shared data model for taskdeck: tasks,
// normalized messages and their parts, and the pause-point request types
// exchanged between the orchestrator and the UI layer.
package types

// TaskStatus represents the lifecycle phase of a task.
type TaskStatus string

const (
	// StatusWaiting means a run is paused on a permission or question.
	StatusWaiting TaskStatus = "waiting"
	// StatusRunning means a backend run is in flight.
	StatusRunning TaskStatus = "running"
	// StatusCompleted means the last run finished without error.
	StatusCompleted TaskStatus = "completed"
	// StatusErrored means the last run ended with a backend or runtime error.
	StatusErrored TaskStatus = "errored"
	// StatusInterrupted means the user stopped the run, or a previous
	// process lifetime left the task mid-run and the recovery sweep
	// reconciled it.
	StatusInterrupted TaskStatus = "interrupted"
)

// Terminal reports whether the status is a resting state from which a
// new run may be started.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusRunning, StatusWaiting:
		return false
	}
	return true
}

// InteractionMode controls how eagerly the backend may act without
// asking. Values map onto the backend CLI's permission modes.
type InteractionMode string

const (
	ModeDefault     InteractionMode = "default"
	ModeAcceptEdits InteractionMode = "acceptEdits"
	ModePlan        InteractionMode = "plan"
	ModeBypass      InteractionMode = "bypassPermissions"
)

// Task is a persisted unit of agent-assisted work. Task rows are owned
// by the store; the orchestrator mutates them through store updates and
// never holds one in memory beyond a single operation.
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectID"`
	Name      string `json:"name,omitempty"`
	Prompt    string `json:"prompt"`
	Directory string `json:"directory"`

	Status TaskStatus      `json:"status"`
	Mode   InteractionMode `json:"mode,omitempty"`

	// BackendType selects the adapter used to run this task.
	BackendType string `json:"backendType"`

	// ResumeSessionID is the backend-native session id for --resume
	// style continuation. Nil until the backend reports one.
	ResumeSessionID *string `json:"resumeSessionID,omitempty"`

	// AllowedTools is the session-scoped allow list. Mutations are
	// idempotent set unions (see MergeAllowedTools).
	AllowedTools []string `json:"allowedTools,omitempty"`

	// Model is the model preference passed to the backend, if any.
	Model string `json:"model,omitempty"`

	// Error carries the human-readable failure message when Status is
	// errored.
	Error string `json:"error,omitempty"`

	Time TaskTime `json:"time"`
}

// TaskTime contains timestamps for a task, in Unix milliseconds.
type TaskTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// MergeAllowedTools unions tools into the task's allowed list,
// preserving order of first sight. Repeated merges are no-ops.
func (t *Task) MergeAllowedTools(tools []string) {
	seen := make(map[string]bool, len(t.AllowedTools))
	for _, existing := range t.AllowedTools {
		seen[existing] = true
	}
	for _, tool := range tools {
		if tool == "" || seen[tool] {
			continue
		}
		seen[tool] = true
		t.AllowedTools = append(t.AllowedTools, tool)
	}
}
