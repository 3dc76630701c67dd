package claude

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskdeck/taskdeck/internal/backend"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// errSkipLine marks blank or whitespace-only output lines.
var errSkipLine = errors.New("skip line")

// askQuestionTool is the tool name the CLI uses for user-directed
// questions; its permission requests are surfaced as question
// pause-points rather than tool permissions.
const askQuestionTool = "AskUserQuestion"

// streamLine is the decoded envelope of one stream-json output line.
type streamLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	UUID      string `json:"uuid"`
	Mode      string `json:"mode"`

	Message *struct {
		ID      string            `json:"id"`
		Role    string            `json:"role"`
		Content []json.RawMessage `json:"content"`
	} `json:"message"`

	// Control request fields (permission negotiation).
	RequestID string `json:"request_id"`
	Request   *struct {
		Subtype  string          `json:"subtype"`
		ToolName string          `json:"tool_name"`
		Input    json.RawMessage `json:"input"`
	} `json:"request"`

	// Result fields.
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
	Error   string `json:"error"`
}

// contentBlock is one element of a message's content array.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// parseLine converts one stream-json output line into canonical events.
// A single line can yield more than one event: a result line produces
// both a normalized result message and the completion itself.
func (s *session) parseLine(line string) ([]backend.Event, error) {
	if strings.TrimSpace(line) == "" {
		return nil, errSkipLine
	}

	var msg streamLine
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, err
	}

	raw := json.RawMessage(line)

	switch msg.Type {
	case "system":
		return s.parseSystem(&msg)
	case "assistant", "user":
		ev, err := s.parseMessage(&msg, raw)
		if err != nil {
			return nil, err
		}
		return []backend.Event{ev}, nil
	case "control_request":
		return s.parseControlRequest(&msg)
	case "result":
		return s.parseResult(&msg, raw), nil
	case "error":
		text := msg.Error
		if text == "" {
			text = msg.Result
		}
		if text == "" {
			text = "backend error"
		}
		return []backend.Event{{Kind: backend.EventError, Err: text}}, nil
	}

	// Unknown line types are skipped rather than failing the stream.
	return nil, errSkipLine
}

// parseSystem handles "system" lines: init carries the resumable
// session id, mode_changed carries a live mode switch.
func (s *session) parseSystem(msg *streamLine) ([]backend.Event, error) {
	switch msg.Subtype {
	case "init":
		if msg.SessionID == "" {
			return nil, errSkipLine
		}
		return []backend.Event{{Kind: backend.EventSessionID, SessionID: msg.SessionID}}, nil
	case "mode_changed":
		if msg.Mode == "" {
			return nil, errSkipLine
		}
		return []backend.Event{{Kind: backend.EventModeChange, Mode: types.InteractionMode(msg.Mode)}}, nil
	}
	return nil, errSkipLine
}

// parseMessage converts an assistant or user line into a message event.
// The stable id comes from the nested API message id when present; the
// CLI repeats that id while streaming partial content, which is what
// drives the orchestrator's upsert path.
func (s *session) parseMessage(msg *streamLine, raw json.RawMessage) (backend.Event, error) {
	if msg.Message == nil {
		return backend.Event{}, errSkipLine
	}

	role := types.RoleAssistant
	if msg.Message.Role == "user" {
		role = types.RoleUser
	}

	parts := make([]types.Part, 0, len(msg.Message.Content))
	var firstToolUseID string
	for _, rawBlock := range msg.Message.Content {
		var block contentBlock
		if err := json.Unmarshal(rawBlock, &block); err != nil {
			continue
		}
		switch block.Type {
		case "text":
			parts = append(parts, &types.TextPart{Type: "text", Text: block.Text})
		case "thinking":
			parts = append(parts, &types.ThinkingPart{Type: "thinking", Text: block.Thinking})
		case "tool_use":
			parts = append(parts, &types.ToolUsePart{
				Type: "tool_use", ToolUseID: block.ID, ToolName: block.Name, Input: block.Input,
			})
		case "tool_result":
			if firstToolUseID == "" {
				firstToolUseID = block.ToolUseID
			}
			parts = append(parts, &types.ToolResultPart{
				Type: "tool_result", ToolUseID: block.ToolUseID,
				Output: flattenToolOutput(block.Content), IsError: block.IsError,
			})
		}
	}

	id := msg.Message.ID
	if id == "" {
		// Tool-result user messages carry no API message id; the
		// tool_use id is stable across repeat sightings of the same
		// result. Anything else gets a fresh id.
		if firstToolUseID != "" {
			id = "toolresult_" + firstToolUseID
		} else if msg.UUID != "" {
			id = msg.UUID
		} else {
			id = ulid.Make().String()
		}
	}

	return backend.Event{
		Kind: backend.EventMessage,
		Raw:  raw,
		Message: &types.Message{
			ID:    id,
			Role:  role,
			Parts: parts,
			Time:  types.MessageTime{Created: time.Now().UnixMilli()},
		},
	}, nil
}

// parseControlRequest handles can_use_tool permission negotiation.
// AskUserQuestion requests become question pause-points.
func (s *session) parseControlRequest(msg *streamLine) ([]backend.Event, error) {
	if msg.Request == nil || msg.Request.Subtype != "can_use_tool" || msg.RequestID == "" {
		return nil, errSkipLine
	}

	s.trackRequest(msg.RequestID, msg.Request.ToolName)

	if msg.Request.ToolName == askQuestionTool {
		return []backend.Event{{
			Kind: backend.EventQuestion,
			Question: &types.QuestionRequest{
				ID:        msg.RequestID,
				Questions: parseQuestions(msg.Request.Input),
			},
		}}, nil
	}

	return []backend.Event{{
		Kind: backend.EventPermissionRequest,
		Permission: &types.PermissionRequest{
			ID:       msg.RequestID,
			ToolName: msg.Request.ToolName,
			Input:    msg.Request.Input,
			ElevatedGrants: []types.GrantScope{
				types.GrantSession, types.GrantProject, types.GrantWorktrees,
			},
		},
	}}, nil
}

// parseResult turns a result line into a normalized result message
// followed by the completion event.
func (s *session) parseResult(msg *streamLine, raw json.RawMessage) []backend.Event {
	id := msg.UUID
	if id == "" {
		id = ulid.Make().String()
	}

	summary := msg.Result
	if summary == "" && msg.IsError {
		summary = msg.Error
	}

	resultMsg := &types.Message{
		ID:            id,
		Role:          types.RoleResult,
		Parts:         []types.Part{&types.TextPart{Type: "text", Text: summary}},
		Time:          types.MessageTime{Created: time.Now().UnixMilli()},
		IsError:       msg.IsError,
		ResultSummary: summary,
	}

	return []backend.Event{
		{Kind: backend.EventMessage, Message: resultMsg, Raw: raw},
		{Kind: backend.EventComplete, IsError: msg.IsError, ResultSummary: summary},
	}
}

// parseQuestions extracts the question list from an AskUserQuestion
// tool input. A malformed input degrades to a single free-form question.
func parseQuestions(input json.RawMessage) []types.Question {
	var payload struct {
		Questions []struct {
			Question string `json:"question"`
			Options  []struct {
				Label string `json:"label"`
			} `json:"options"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(input, &payload); err != nil || len(payload.Questions) == 0 {
		return []types.Question{{Text: string(input)}}
	}

	questions := make([]types.Question, 0, len(payload.Questions))
	for _, q := range payload.Questions {
		question := types.Question{Text: q.Question}
		for _, opt := range q.Options {
			question.Options = append(question.Options, opt.Label)
		}
		questions = append(questions, question)
	}
	return questions
}

// flattenToolOutput renders a tool_result content field, which may be a
// bare string or an array of text blocks, as plain text.
func flattenToolOutput(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text
	}

	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err == nil {
		var b strings.Builder
		for _, block := range blocks {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		return b.String()
	}

	return string(content)
}
