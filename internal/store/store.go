// Package store provides the sqlite-backed persistent store for tasks
// and their raw and normalized message history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taskdeck/taskdeck/pkg/types"
)

var (
	// ErrNotFound is returned when a task or message does not exist.
	ErrNotFound = errors.New("not found")
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL DEFAULT '',
	prompt            TEXT NOT NULL DEFAULT '',
	directory         TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	mode              TEXT NOT NULL DEFAULT '',
	backend_type      TEXT NOT NULL DEFAULT '',
	resume_session_id TEXT,
	allowed_tools     TEXT NOT NULL DEFAULT '[]',
	model             TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_messages (
	message_id TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_messages_task ON raw_messages(task_id);

CREATE TABLE IF NOT EXISTS messages (
	message_id TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id, idx);
`

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, task *types.Task) error {
	tools, err := json.Marshal(task.AllowedTools)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, name, prompt, directory, status, mode,
			backend_type, resume_session_id, allowed_tools, model, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.ProjectID, task.Name, task.Prompt, task.Directory,
		string(task.Status), string(task.Mode), task.BackendType,
		task.ResumeSessionID, string(tools), task.Model, task.Error,
		task.Time.Created, task.Time.Updated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, prompt, directory, status, mode,
			backend_type, resume_session_id, allowed_tools, model, error, created_at, updated_at
		FROM tasks WHERE id = ?`, taskID)

	var task types.Task
	var status, mode, tools string
	var resumeID sql.NullString
	err := row.Scan(&task.ID, &task.ProjectID, &task.Name, &task.Prompt, &task.Directory,
		&status, &mode, &task.BackendType, &resumeID, &tools, &task.Model, &task.Error,
		&task.Time.Created, &task.Time.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task.Status = types.TaskStatus(status)
	task.Mode = types.InteractionMode(mode)
	if resumeID.Valid {
		task.ResumeSessionID = &resumeID.String
	}
	if err := json.Unmarshal([]byte(tools), &task.AllowedTools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowed tools: %w", err)
	}
	return &task, nil
}

// UpdateTask rewrites the mutable columns of a task row.
func (s *Store) UpdateTask(ctx context.Context, task *types.Task) error {
	tools, err := json.Marshal(task.AllowedTools)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed tools: %w", err)
	}
	task.Time.Updated = time.Now().UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET name = ?, prompt = ?, status = ?, mode = ?, resume_session_id = ?,
			allowed_tools = ?, model = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		task.Name, task.Prompt, string(task.Status), string(task.Mode), task.ResumeSessionID,
		string(tools), task.Model, task.Error, task.Time.Updated, task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTaskStatus updates only the status and error columns.
func (s *Store) SetTaskStatus(ctx context.Context, taskID string, status types.TaskStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UnixMilli(), taskID)
	if err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks returns all tasks, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks := make([]*types.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// DeleteTask removes a task and its message history.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM raw_messages WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete raw messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return tx.Commit()
}

// UpsertRawMessage writes the backend-native payload for a message id,
// updating the row in place on repeat sightings.
func (s *Store) UpsertRawMessage(ctx context.Context, taskID, messageID string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_messages (message_id, task_id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		messageID, taskID, string(payload), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert raw message: %w", err)
	}
	return nil
}

// GetRawMessage returns the backend-native payload for a message id.
func (s *Store) GetRawMessage(ctx context.Context, messageID string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM raw_messages WHERE message_id = ?`, messageID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// UpsertMessage writes a normalized message, updating the existing row
// in place (body and updated time only, never idx) on repeat sightings.
func (s *Store) UpsertMessage(ctx context.Context, msg *types.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	now := time.Now().UnixMilli()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, task_id, idx, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		msg.ID, msg.TaskID, msg.Index, string(body), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// GetMessages returns all normalized messages for a task in index order.
func (s *Store) GetMessages(ctx context.Context, taskID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM messages WHERE task_id = ? ORDER BY idx ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*types.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var msg types.Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of normalized messages for a task.
func (s *Store) CountMessages(ctx context.Context, taskID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE task_id = ?`, taskID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// MaxMessageIndex returns the highest assigned index for a task, or -1
// when the task has no messages. Used to seed a session's next index.
func (s *Store) MaxMessageIndex(ctx context.Context, taskID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(idx) FROM messages WHERE task_id = ?`, taskID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max index: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// MarkInterrupted forces every task persisted as running or waiting to
// interrupted. It is the crash-recovery sweep: by definition no live
// session can exist for these rows at process start. Returns the number
// of tasks reconciled.
func (s *Store) MarkInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE status IN (?, ?)`,
		string(types.StatusInterrupted), time.Now().UnixMilli(),
		string(types.StatusRunning), string(types.StatusWaiting))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
