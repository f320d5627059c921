package messages

import (
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one entry of a conversation history.
//
// Tool-role messages carry the id of the invocation they answer in ToolCallID
// and a single ToolResultPart as content.
type Message struct {
	Role       Role
	Content    ContentOrParts
	ToolCallID string
	Timestamp  strfmt.DateTime
	_          struct{} // require keyed usage
}

// User creates a user message with plain text content.
func User(text string) Message {
	return Message{
		Role:      RoleUser,
		Content:   ContentOrParts{Text: text},
		Timestamp: strfmt.DateTime(time.Now()),
	}
}

// Assistant creates an assistant message from ordered parts. A single text part
// collapses to plain text content.
func Assistant(parts ...Part) Message {
	msg := Message{
		Role:      RoleAssistant,
		Timestamp: strfmt.DateTime(time.Now()),
	}
	if len(parts) == 1 {
		if tp, ok := parts[0].(TextPart); ok {
			msg.Content.Text = tp.Text
			return msg
		}
	}
	msg.Content.Parts = parts
	return msg
}

// ToolResult creates the tool-role message answering outcome's invocation.
func ToolResult(outcome ToolOutcome) Message {
	return Message{
		Role:       RoleTool,
		ToolCallID: outcome.InvocationID,
		Content: ContentOrParts{Parts: []Part{ToolResultPart{
			ToolCallID: outcome.InvocationID,
			ToolName:   outcome.ToolName,
			Content:    outcome.Content,
			IsError:    !outcome.Success,
		}}},
		Timestamp: strfmt.DateTime(time.Now()),
	}
}

// Text returns the concatenated text of the message.
func (m Message) Text() string {
	return m.Content.String()
}

// ToolInvocations returns the invocations declared by an assistant message, in
// declaration order.
func (m Message) ToolInvocations() []ToolInvocation {
	var result []ToolInvocation
	for _, part := range m.Content.Parts {
		if ip, ok := part.(ToolInvocationPart); ok {
			result = append(result, ip.Invocation)
		}
	}
	return result
}

// ToolResultPart returns the result part of a tool-role message. Tool messages
// that were built from plain text get a synthesized part.
func (m Message) ToolResultPart() (ToolResultPart, bool) {
	if m.Role != RoleTool {
		return ToolResultPart{}, false
	}
	for _, part := range m.Content.Parts {
		if rp, ok := part.(ToolResultPart); ok {
			if rp.ToolCallID == "" {
				rp.ToolCallID = m.ToolCallID
			}
			return rp, true
		}
	}
	return ToolResultPart{ToolCallID: m.ToolCallID, Content: m.Content.Text}, true
}

var messageJSON = []byte(`{}`)

func (m Message) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(messageJSON, "role", string(m.Role))
	if err != nil {
		return nil, err
	}

	content, err := m.Content.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}
	if result, err = sjson.SetRawBytes(result, "content", content); err != nil {
		return nil, err
	}

	if m.ToolCallID != "" {
		if result, err = sjson.SetBytes(result, "tool_call_id", m.ToolCallID); err != nil {
			return nil, err
		}
	}
	if !m.Timestamp.IsZero() {
		if result, err = sjson.SetBytes(result, "timestamp", m.Timestamp.String()); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (m *Message) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	role := gjson.GetBytes(data, "role")
	if !role.Exists() {
		return fmt.Errorf("missing required field 'role'")
	}
	m.Role = Role(role.String())
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}

	if content := gjson.GetBytes(data, "content"); content.Exists() {
		if err := m.Content.UnmarshalJSON([]byte(content.Raw)); err != nil {
			return fmt.Errorf("invalid content: %w", err)
		}
	}
	m.ToolCallID = gjson.GetBytes(data, "tool_call_id").String()

	if ts := gjson.GetBytes(data, "timestamp"); ts.Exists() {
		parsed, err := strfmt.ParseDateTime(ts.String())
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		m.Timestamp = parsed
	}
	return nil
}

// ToolInvocation is a structured request from the model to call a named tool.
type ToolInvocation struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// InputJSON renders the invocation input as a JSON object, never null.
func (t ToolInvocation) InputJSON() string {
	if len(t.Input) == 0 {
		return "{}"
	}
	b, err := json.Marshal(t.Input)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ToolOutcome is the result of executing one ToolInvocation.
type ToolOutcome struct {
	InvocationID string        `json:"invocation_id"`
	ToolName     string        `json:"tool_name"`
	Result       any           `json:"result,omitempty"`
	Content      string        `json:"content"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}
