package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/internal/logging"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes one SSE frame and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData)
	if err != nil {
		return err
	}

	// ResponseController flushes through middleware wrappers; fall back
	// to the plain Flusher if it cannot.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events handles GET /event. Streams bus events as SSE frames. An
// optional taskID query parameter narrows the stream to one task.
func (srv *Server) events(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Flush headers before the first event so the client sees the
	// stream open immediately.
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("message", event.Event{Type: "server.connected", Data: map[string]any{}}); err != nil {
		return
	}

	// Small buffer keeps streaming latency low; a stalled client drops
	// events rather than blocking the publisher.
	events := make(chan event.Event, 10)

	unsub := srv.bus.SubscribeAll(func(e event.Event) {
		if taskID != "" && !eventBelongsToTask(e, taskID) {
			return
		}
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("event_type", string(e.Type)).
				Msg("sse event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent("message", e); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// eventBelongsToTask checks if an event belongs to a task. Workdir
// events carry no task id and pass every filter.
func eventBelongsToTask(e event.Event, taskID string) bool {
	switch data := e.Data.(type) {
	case event.MessageData:
		return data.TaskID == taskID
	case event.StatusData:
		return data.TaskID == taskID
	case event.PermissionData:
		return data.TaskID == taskID
	case event.QuestionData:
		return data.TaskID == taskID
	case event.NameUpdatedData:
		return data.TaskID == taskID
	case event.QueueUpdateData:
		return data.TaskID == taskID
	case event.BranchUpdatedData:
		return true
	}
	return false
}
