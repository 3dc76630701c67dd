// Package notify dispatches fire-and-forget operator notifications for
// moments that need a human: permission pause-points, questions, and
// run completion.
package notify

import (
	"github.com/taskdeck/taskdeck/internal/logging"
)

// Kind classifies a notification.
type Kind string

const (
	KindPermission Kind = "permission"
	KindQuestion   Kind = "question"
	KindComplete   Kind = "complete"
	KindError      Kind = "error"
)

// Notification is one operator-facing alert.
type Notification struct {
	Kind     Kind
	TaskID   string
	TaskName string
	Body     string
}

// Dispatcher delivers notifications. Delivery is best-effort; failures
// must never propagate back into the session loop.
type Dispatcher interface {
	Notify(n Notification)
}

// LogDispatcher writes notifications to the structured log. It is the
// default when no desktop or webhook integration is configured.
type LogDispatcher struct{}

// Notify logs the notification.
func (LogDispatcher) Notify(n Notification) {
	logging.Info().
		Str("kind", string(n.Kind)).
		Str("task_id", n.TaskID).
		Str("task", n.TaskName).
		Str("body", n.Body).
		Msg("notification")
}

// Discard drops every notification. Used in tests.
type Discard struct{}

// Notify discards the notification.
func (Discard) Notify(Notification) {}
