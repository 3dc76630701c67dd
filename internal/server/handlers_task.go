package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/workdir"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// CreateTaskRequest represents the request body for creating a task.
type CreateTaskRequest struct {
	Prompt    string `json:"prompt"`
	Directory string `json:"directory"`
	Name      string `json:"name,omitempty"`
	ProjectID string `json:"projectID,omitempty"`

	BackendType string                `json:"backendType,omitempty"`
	Model       string                `json:"model,omitempty"`
	Mode        types.InteractionMode `json:"mode,omitempty"`

	// Start launches a session for the task immediately after creation.
	Start bool `json:"start,omitempty"`
}

// listTasks handles GET /task
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Ensure we return an empty array [] instead of null
	if tasks == nil {
		tasks = []*types.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// createTask handles POST /task
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "prompt is required")
		return
	}
	if err := workdir.Validate(req.Directory); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	backendType := req.BackendType
	if backendType == "" {
		backendType = s.config.DefaultBackend
	}
	model := req.Model
	if model == "" {
		model = s.config.DefaultModel
	}
	mode := req.Mode
	if mode == "" {
		mode = s.config.DefaultMode
	}

	now := time.Now().UnixMilli()
	task := &types.Task{
		ID:          ulid.Make().String(),
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Prompt:      req.Prompt,
		Directory:   req.Directory,
		Mode:        mode,
		BackendType: backendType,
		Model:       model,
		Time:        types.TaskTime{Created: now, Updated: now},
	}

	if err := s.store.CreateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	s.watchDirectory(task.Directory)

	if req.Start {
		if err := s.service.Start(r.Context(), task.ID); err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}
		if refreshed, err := s.store.GetTask(r.Context(), task.ID); err == nil {
			task = refreshed
		}
	}

	writeJSON(w, http.StatusOK, task)
}

// getTask handles GET /task/{taskID}
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := s.store.GetTask(r.Context(), taskID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// deleteTask handles DELETE /task/{taskID}. Active tasks cannot be
// deleted; stop first.
func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := s.store.GetTask(r.Context(), taskID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if !task.Status.Terminal() {
		writeError(w, http.StatusConflict, ErrCodeConflict, "task has an active session")
		return
	}

	if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// startTask handles POST /task/{taskID}/start
func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if err := s.service.Start(r.Context(), taskID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// stopTask handles POST /task/{taskID}/stop
func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if err := s.service.Stop(r.Context(), taskID); err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}
	writeSuccess(w)
}

// SendMessageRequest represents the request body for a follow-up prompt.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// sendMessage handles POST /task/{taskID}/message
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	if err := s.service.SendMessage(r.Context(), taskID, req.Text); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// RespondRequest represents the request body for resolving a pause
// point. Permission is set for permission requests, Answers for
// questions.
type RespondRequest struct {
	RequestID  string                    `json:"requestID"`
	Permission *types.PermissionResponse `json:"permission,omitempty"`
	Answers    map[string]string         `json:"answers,omitempty"`
}

// respondRequest handles POST /task/{taskID}/respond
func (s *Server) respondRequest(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.RequestID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "requestID is required")
		return
	}

	err := s.service.Respond(r.Context(), taskID, req.RequestID, session.Response{
		Permission: req.Permission,
		Answers:    req.Answers,
	})
	if err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}
	writeSuccess(w)
}

// SetModeRequest represents the request body for switching modes.
type SetModeRequest struct {
	Mode types.InteractionMode `json:"mode"`
}

// setMode handles PUT /task/{taskID}/mode
func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req SetModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Mode == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "mode is required")
		return
	}

	if err := s.service.SetMode(r.Context(), taskID, req.Mode); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// getMessages handles GET /task/{taskID}/messages
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	messages, err := s.service.GetMessages(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// getMessageCount handles GET /task/{taskID}/messages/count
func (s *Server) getMessageCount(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	count, err := s.service.GetMessageCount(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// PendingResponse represents the head pause point of a task, if any.
type PendingResponse struct {
	Permission *types.PermissionRequest `json:"permission,omitempty"`
	Question   *types.QuestionRequest   `json:"question,omitempty"`
}

// getPending handles GET /task/{taskID}/pending
func (s *Server) getPending(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	perm, question := s.service.GetPendingRequest(taskID)
	writeJSON(w, http.StatusOK, PendingResponse{Permission: perm, Question: question})
}

// QueuePromptRequest represents the request body for queueing a prompt.
type QueuePromptRequest struct {
	Content string `json:"content"`
}

// queuePrompt handles POST /task/{taskID}/queue
func (s *Server) queuePrompt(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req QueuePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	prompt, err := s.service.QueuePrompt(r.Context(), taskID, req.Content)
	if err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

// getQueue handles GET /task/{taskID}/queue
func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	prompts := s.service.GetQueuedPrompts(taskID)
	if prompts == nil {
		prompts = []types.QueuedPrompt{}
	}
	writeJSON(w, http.StatusOK, prompts)
}

// cancelQueuedPrompt handles DELETE /task/{taskID}/queue/{promptID}
func (s *Server) cancelQueuedPrompt(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	promptID := chi.URLParam(r, "promptID")

	if err := s.service.CancelQueuedPrompt(r.Context(), taskID, promptID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeSuccess(w)
}

// writeServiceError maps orchestrator errors onto HTTP statuses: unknown
// tasks are 404, launch preconditions are 409.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
}
