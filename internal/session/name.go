package session

import (
	"context"
	"strings"

	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/pkg/types"
)

const maxNameLength = 50

// ensureName derives a display name from the first prompt when the
// task has none yet, persists it, and announces the update.
func (s *Service) ensureName(ctx context.Context, task *types.Task, prompt string) {
	if task.Name != "" {
		return
	}

	name := deriveName(prompt)
	if name == "" {
		return
	}

	task.Name = name
	if err := s.store.UpdateTask(ctx, task); err != nil {
		logging.Warn().Err(err).Str("task_id", task.ID).Msg("name write failed")
		return
	}

	s.bus.PublishSync(event.Event{
		Type: event.TaskNameUpdated,
		Data: event.NameUpdatedData{TaskID: task.ID, Name: name},
	})
}

// deriveName condenses a prompt into a short single-line name: first
// non-empty line, whitespace collapsed, truncated on a word boundary
// where possible.
func deriveName(prompt string) string {
	var line string
	for _, candidate := range strings.Split(prompt, "\n") {
		candidate = strings.Join(strings.Fields(candidate), " ")
		if candidate != "" {
			line = candidate
			break
		}
	}
	if line == "" {
		return ""
	}

	runes := []rune(line)
	if len(runes) <= maxNameLength {
		return line
	}

	cut := string(runes[:maxNameLength])
	if i := strings.LastIndex(cut, " "); i > maxNameLength/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
