package server

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// readFrame reads one SSE data line from the stream.
func readFrame(t *testing.T, scanner *bufio.Scanner) string {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatal("sse stream ended before a data frame arrived")
	return ""
}

func TestEvents_StreamsBusEvents(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/event")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)

	// The connection handshake frame arrives first.
	frame := readFrame(t, scanner)
	assert.Contains(t, frame, "server.connected")

	// The handler subscribes after the handshake frame, so publish on a
	// ticker until the stream delivers.
	stop := publishUntilStopped(t, func() {
		f.bus.PublishSync(event.Event{
			Type: event.TaskStatus,
			Data: event.StatusData{TaskID: "task-1", Status: types.StatusRunning},
		})
	})
	defer stop()

	frame = readFrame(t, scanner)
	assert.Contains(t, frame, `"task.status"`)
	assert.Contains(t, frame, `"task-1"`)
}

// publishUntilStopped invokes publish on a short ticker until the
// returned stop function is called.
func publishUntilStopped(t *testing.T, publish func()) func() {
	t.Helper()
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				publish()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

func TestEvents_TaskFilter(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/event?taskID=task-a")
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	readFrame(t, scanner) // server.connected

	stop := publishUntilStopped(t, func() {
		f.bus.PublishSync(event.Event{
			Type: event.TaskStatus,
			Data: event.StatusData{TaskID: "task-b", Status: types.StatusRunning},
		})
		f.bus.PublishSync(event.Event{
			Type: event.TaskStatus,
			Data: event.StatusData{TaskID: "task-a", Status: types.StatusCompleted},
		})
	})
	defer stop()

	// Only task-a frames pass the filter.
	frame := readFrame(t, scanner)
	assert.Contains(t, frame, `"task-a"`)
	assert.NotContains(t, frame, `"task-b"`)
}

func TestEventBelongsToTask(t *testing.T) {
	tests := []struct {
		name string
		e    event.Event
		want bool
	}{
		{
			name: "matching message",
			e:    event.Event{Type: event.TaskMessage, Data: event.MessageData{TaskID: "t1"}},
			want: true,
		},
		{
			name: "other task message",
			e:    event.Event{Type: event.TaskMessage, Data: event.MessageData{TaskID: "t2"}},
			want: false,
		},
		{
			name: "matching status",
			e:    event.Event{Type: event.TaskStatus, Data: event.StatusData{TaskID: "t1"}},
			want: true,
		},
		{
			name: "matching permission",
			e:    event.Event{Type: event.TaskPermission, Data: event.PermissionData{TaskID: "t1"}},
			want: true,
		},
		{
			name: "matching question",
			e:    event.Event{Type: event.TaskQuestion, Data: event.QuestionData{TaskID: "t1"}},
			want: true,
		},
		{
			name: "matching queue update",
			e:    event.Event{Type: event.TaskQueueUpdate, Data: event.QueueUpdateData{TaskID: "t1"}},
			want: true,
		},
		{
			name: "name update for other task",
			e:    event.Event{Type: event.TaskNameUpdated, Data: event.NameUpdatedData{TaskID: "t2"}},
			want: false,
		},
		{
			name: "branch update passes every filter",
			e:    event.Event{Type: event.WorkdirBranchUpdated, Data: event.BranchUpdatedData{Directory: "/w", Branch: "main"}},
			want: true,
		},
		{
			name: "unknown payload",
			e:    event.Event{Type: "custom", Data: 42},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventBelongsToTask(tt.e, "t1"))
		})
	}
}

func TestSSEWriter_Format(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := newSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sse.writeEvent("message", map[string]string{"hello": "world"}))
	sse.writeHeartbeat()

	body := rec.Body.String()
	assert.Contains(t, body, "event: message\n")
	assert.Contains(t, body, `data: {"hello":"world"}`)
	assert.Contains(t, body, ": heartbeat\n\n")
}
