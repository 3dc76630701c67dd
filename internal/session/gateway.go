package session

import (
	"context"
	"encoding/json"

	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// persistAndEmit is the message persistence gateway: it dual-writes the
// raw backend payload and the normalized message, linked by the stable
// message id, and emits the normalized form outward only after the
// normalized write succeeded.
//
// The first sighting of an id assigns the next message index; repeat
// sightings reuse the ledger's index and update both rows in place, so
// streaming partial content never inflates the history.
//
// Persistence failures are logged and non-fatal to the run, but a
// message that failed to persist is not emitted: no observer may see a
// message it cannot subsequently fetch.
func (s *Service) persistAndEmit(ctx context.Context, sess *Session, msg *types.Message, raw json.RawMessage) {
	idx, _ := sess.assignIndex(msg.ID)
	msg.TaskID = sess.TaskID
	msg.Index = idx

	if len(raw) > 0 {
		if err := s.store.UpsertRawMessage(ctx, sess.TaskID, msg.ID, raw); err != nil {
			logging.Error().Err(err).
				Str("task_id", sess.TaskID).Str("message_id", msg.ID).
				Msg("raw message write failed")
		}
	}

	if err := s.store.UpsertMessage(ctx, msg); err != nil {
		logging.Error().Err(err).
			Str("task_id", sess.TaskID).Str("message_id", msg.ID).
			Msg("message write failed")
		return
	}

	s.bus.PublishSync(event.Event{
		Type: event.TaskMessage,
		Data: event.MessageData{TaskID: sess.TaskID, Message: msg},
	})
}
