package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "taskdeck.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTask(id string, status types.TaskStatus) *types.Task {
	now := time.Now().UnixMilli()
	return &types.Task{
		ID:          id,
		Prompt:      "fix the build",
		Directory:   "/tmp/proj",
		Status:      status,
		BackendType: "claude",
		Time:        types.TaskTime{Created: now, Updated: now},
	}
}

func TestStore_TaskCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := newTask("t1", types.StatusRunning)
	task.AllowedTools = []string{"Read", "Write"}
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "fix the build", got.Prompt)
	assert.Equal(t, types.StatusRunning, got.Status)
	assert.Equal(t, []string{"Read", "Write"}, got.AllowedTools)
	assert.Nil(t, got.ResumeSessionID)

	resumeID := "sess-abc"
	got.ResumeSessionID = &resumeID
	got.Status = types.StatusCompleted
	got.Name = "Fixing build"
	require.NoError(t, s.UpdateTask(ctx, got))

	got2, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got2.ResumeSessionID)
	assert.Equal(t, "sess-abc", *got2.ResumeSessionID)
	assert.Equal(t, "Fixing build", got2.Name)

	require.NoError(t, s.DeleteTask(ctx, "t1"))
	_, err = s.GetTask(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SetTaskStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, newTask("t1", types.StatusRunning)))
	require.NoError(t, s.SetTaskStatus(ctx, "t1", types.StatusErrored, "boom"))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusErrored, got.Status)
	assert.Equal(t, "boom", got.Error)

	assert.ErrorIs(t, s.SetTaskStatus(ctx, "missing", types.StatusRunning, ""), ErrNotFound)
}

func TestStore_UpsertMessage_UpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &types.Message{
		ID:     "m1",
		TaskID: "t1",
		Role:   types.RoleAssistant,
		Index:  0,
		Parts:  []types.Part{&types.TextPart{Type: "text", Text: "Hel"}},
		Time:   types.MessageTime{Created: 1},
	}
	require.NoError(t, s.UpsertMessage(ctx, msg))

	// Streaming update for the same id: content replaced, no new row.
	msg.Parts = []types.Part{&types.TextPart{Type: "text", Text: "Hello"}}
	require.NoError(t, s.UpsertMessage(ctx, msg))

	count, err := s.CountMessages(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	msgs, err := s.GetMessages(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Text())
	assert.Equal(t, 0, msgs[0].Index)
}

func TestStore_GetMessages_IndexOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"mc", "ma", "mb"} {
		require.NoError(t, s.UpsertMessage(ctx, &types.Message{
			ID: id, TaskID: "t1", Role: types.RoleAssistant, Index: i,
			Parts: []types.Part{&types.TextPart{Type: "text", Text: id}},
		}))
	}

	msgs, err := s.GetMessages(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "mc", msgs[0].ID)
	assert.Equal(t, "ma", msgs[1].ID)
	assert.Equal(t, "mb", msgs[2].ID)
}

func TestStore_RawMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRawMessage(ctx, "t1", "m1", []byte(`{"type":"assistant","partial":true}`)))
	require.NoError(t, s.UpsertRawMessage(ctx, "t1", "m1", []byte(`{"type":"assistant","partial":false}`)))

	payload, err := s.GetRawMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"partial":false`)

	_, err = s.GetRawMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_MaxMessageIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	max, err := s.MaxMessageIndex(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, -1, max)

	require.NoError(t, s.UpsertMessage(ctx, &types.Message{ID: "m1", TaskID: "t1", Index: 0}))
	require.NoError(t, s.UpsertMessage(ctx, &types.Message{ID: "m2", TaskID: "t1", Index: 1}))

	max, err = s.MaxMessageIndex(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, max)
}

func TestStore_MarkInterrupted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, newTask("running", types.StatusRunning)))
	require.NoError(t, s.CreateTask(ctx, newTask("waiting", types.StatusWaiting)))
	require.NoError(t, s.CreateTask(ctx, newTask("done", types.StatusCompleted)))

	n, err := s.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"running", "waiting"} {
		task, err := s.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusInterrupted, task.Status, id)
	}

	done, err := s.GetTask(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, done.Status)

	// Sweep is idempotent.
	n, err = s.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_ListTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTask("a", types.StatusCompleted)
	a.Time.Created = 100
	b := newTask("b", types.StatusRunning)
	b.Time.Created = 200
	require.NoError(t, s.CreateTask(ctx, a))
	require.NoError(t, s.CreateTask(ctx, b))

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b", tasks[0].ID)
	assert.Equal(t, "a", tasks[1].ID)
}
