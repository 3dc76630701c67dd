package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{StatusRunning, false},
		{StatusWaiting, false},
		{StatusCompleted, true},
		{StatusErrored, true},
		{StatusInterrupted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestTask_MergeAllowedTools(t *testing.T) {
	task := &Task{AllowedTools: []string{"Read"}}

	task.MergeAllowedTools([]string{"Write", "Read", "Bash(git status:*)"})
	assert.Equal(t, []string{"Read", "Write", "Bash(git status:*)"}, task.AllowedTools)

	// Repeated merge is a no-op.
	task.MergeAllowedTools([]string{"Write", "Read"})
	assert.Equal(t, []string{"Read", "Write", "Bash(git status:*)"}, task.AllowedTools)

	// Empty entries are skipped.
	task.MergeAllowedTools([]string{""})
	assert.Len(t, task.AllowedTools, 3)
}

func TestMessage_RoundTrip(t *testing.T) {
	msg := &Message{
		ID:     "m1",
		TaskID: "t1",
		Role:   RoleAssistant,
		Index:  3,
		Parts: []Part{
			&TextPart{Type: "text", Text: "Hello"},
			&ToolUsePart{Type: "tool_use", ToolUseID: "tu1", ToolName: "Bash", Input: json.RawMessage(`{"command":"ls"}`)},
			&ToolResultPart{Type: "tool_result", ToolUseID: "tu1", Output: "ok"},
			&ThinkingPart{Type: "thinking", Text: "hmm"},
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Len(t, decoded.Parts, 4)
	assert.Equal(t, "text", decoded.Parts[0].PartType())
	assert.Equal(t, "tool_use", decoded.Parts[1].PartType())
	assert.Equal(t, "tool_result", decoded.Parts[2].PartType())
	assert.Equal(t, "thinking", decoded.Parts[3].PartType())
	assert.Equal(t, 3, decoded.Index)

	tool := decoded.Parts[1].(*ToolUsePart)
	assert.Equal(t, "Bash", tool.ToolName)
}

func TestMessage_UnknownPartDecodesAsText(t *testing.T) {
	raw := `{"id":"m1","taskID":"t1","role":"assistant","index":0,"parts":[{"type":"mystery","text":"x"}],"time":{"created":1}}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, "text", msg.Parts[0].PartType())
}

func TestMessage_Text(t *testing.T) {
	msg := &Message{Parts: []Part{
		&TextPart{Text: "Hel"},
		&ToolUsePart{ToolName: "Read"},
		&TextPart{Text: "lo"},
	}}
	assert.Equal(t, "Hello", msg.Text())
}

func TestPermissionResponse_Allowed(t *testing.T) {
	assert.True(t, PermissionResponse{Behavior: GrantOnce}.Allowed())
	assert.True(t, PermissionResponse{Behavior: GrantSession}.Allowed())
	assert.False(t, PermissionResponse{Behavior: GrantDeny}.Allowed())
	assert.False(t, PermissionResponse{}.Allowed())
}
