package types

import "encoding/json"

// Role identifies who produced a normalized message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleResult    Role = "result"
)

// Message is the canonical, backend-agnostic representation of one
// conversational turn or event. Messages are keyed by a stable id:
// a backend may emit the same id many times while streaming partial
// content, and every sighting after the first updates the persisted
// row in place without advancing the task's message index.
type Message struct {
	ID     string `json:"id"`
	TaskID string `json:"taskID"`
	Role   Role   `json:"role"`

	// Index is the task-scoped ordering position, assigned once on
	// first sight and never changed by streaming updates.
	Index int `json:"index"`

	Parts []Part `json:"parts"`

	Time MessageTime `json:"time"`

	// IsError marks result messages that describe a failed run.
	IsError bool `json:"isError,omitempty"`

	// ResultSummary is the backend's closing summary on result messages.
	ResultSummary string `json:"resultSummary,omitempty"`
}

// MessageTime contains timestamps for a message, in Unix milliseconds.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// UnmarshalJSON decodes a message, dispatching each part to its
// concrete type via UnmarshalPart.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Parts []json.RawMessage `json:"parts"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.Parts = make([]Part, 0, len(aux.Parts))
	for _, raw := range aux.Parts {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// Text concatenates the message's text parts. Convenience for naming
// and display fallbacks.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
