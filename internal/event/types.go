package event

import "github.com/taskdeck/taskdeck/pkg/types"

// EventType represents the type of event.
type EventType string

const (
	// TaskMessage carries a normalized message after it has been persisted.
	TaskMessage EventType = "task.message"
	// TaskStatus announces a task lifecycle transition.
	TaskStatus EventType = "task.status"
	// TaskPermission surfaces the head permission pause-point of a session.
	TaskPermission EventType = "task.permission"
	// TaskQuestion surfaces the head question pause-point of a session.
	TaskQuestion EventType = "task.question"
	// TaskNameUpdated announces a derived task name.
	TaskNameUpdated EventType = "task.name_updated"
	// TaskQueueUpdate announces a change to a task's queued prompts.
	TaskQueueUpdate EventType = "task.queue_update"
	// WorkdirBranchUpdated announces a git branch switch in a watched
	// working directory.
	WorkdirBranchUpdated EventType = "workdir.branch_updated"
)

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// MessageData is the payload for TaskMessage events.
type MessageData struct {
	TaskID  string         `json:"taskID"`
	Message *types.Message `json:"message"`
}

// StatusData is the payload for TaskStatus events.
type StatusData struct {
	TaskID string           `json:"taskID"`
	Status types.TaskStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// PermissionData is the payload for TaskPermission events.
type PermissionData struct {
	TaskID  string                   `json:"taskID"`
	Request *types.PermissionRequest `json:"request"`
}

// QuestionData is the payload for TaskQuestion events.
type QuestionData struct {
	TaskID  string                 `json:"taskID"`
	Request *types.QuestionRequest `json:"request"`
}

// NameUpdatedData is the payload for TaskNameUpdated events.
type NameUpdatedData struct {
	TaskID string `json:"taskID"`
	Name   string `json:"name"`
}

// QueueUpdateData is the payload for TaskQueueUpdate events.
type QueueUpdateData struct {
	TaskID  string               `json:"taskID"`
	Prompts []types.QueuedPrompt `json:"prompts"`
}

// BranchUpdatedData is the payload for WorkdirBranchUpdated events.
type BranchUpdatedData struct {
	Directory string `json:"directory"`
	Branch    string `json:"branch"`
}
