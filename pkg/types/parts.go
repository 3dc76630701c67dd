package types

import "encoding/json"

// Part represents a component of a normalized message.
type Part interface {
	PartType() string
}

// TextPart is plain assistant or user text.
type TextPart struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

func (p *TextPart) PartType() string { return "text" }

// ThinkingPart is extended reasoning content.
type ThinkingPart struct {
	Type string `json:"type"` // always "thinking"
	Text string `json:"text"`
}

func (p *ThinkingPart) PartType() string { return "thinking" }

// ToolUsePart records the backend invoking a tool.
type ToolUsePart struct {
	Type      string          `json:"type"` // always "tool_use"
	ToolUseID string          `json:"toolUseID"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input,omitempty"`
}

func (p *ToolUsePart) PartType() string { return "tool_use" }

// ToolResultPart records the outcome of a tool invocation.
type ToolResultPart struct {
	Type      string `json:"type"` // always "tool_result"
	ToolUseID string `json:"toolUseID"`
	Output    string `json:"output,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
}

func (p *ToolResultPart) PartType() string { return "tool_result" }

// UnmarshalPart unmarshals a JSON part into the appropriate type.
// Unknown part types decode as TextPart so unrecognized backend
// content still round-trips.
func UnmarshalPart(data []byte) (Part, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case "thinking":
		var p ThinkingPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool_use":
		var p ToolUsePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool_result":
		var p ToolResultPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}
