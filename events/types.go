package events

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Type is the discriminator of an event envelope.
type Type string

const (
	TypeConnectionTest       Type = "connection_test"
	TypeStreamStart          Type = "stream_start"
	TypeMessageStart         Type = "message_start"
	TypeTextDelta            Type = "text_delta"
	TypeToolCall             Type = "tool_call"
	TypeToolResult           Type = "tool_result"
	TypeMessageComplete      Type = "message_complete"
	TypeMaxIterationsReached Type = "max_iterations_reached"
	TypeError                Type = "error"
)

// ResumeNote tells clients how to continue a conversation.
const ResumeNote = "Use this conversation_id in your next request to continue the conversation"

// Event is a client-facing stream event.
type Event interface {
	Type() Type
	json.Marshaler
	event()
}

// Terminal reports whether ev ends a stream.
func Terminal(ev Event) bool {
	switch ev.Type() {
	case TypeMessageComplete, TypeMaxIterationsReached, TypeError:
		return true
	}
	return false
}

type ConnectionTest struct {
	Message string `json:"message"`
}

// Connected is the first event of every stream.
func Connected() ConnectionTest { return ConnectionTest{Message: "stream_connected"} }

type StreamStart struct {
	ConversationID    string `json:"conversation_id"`
	MessageCount      int    `json:"message_count"`
	IsNewConversation bool   `json:"is_new_conversation"`
}

type MessageStart struct {
	ConversationID string `json:"conversation_id"`
	Iteration      int    `json:"iteration"`
}

type TextDelta struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
}

type ToolCall struct {
	ToolName       string         `json:"tool_name"`
	ToolID         string         `json:"tool_id"`
	Input          map[string]any `json:"input"`
	ConversationID string         `json:"conversation_id"`
}

type ToolResult struct {
	ToolName       string `json:"tool_name"`
	ToolID         string `json:"tool_id"`
	Success        bool   `json:"success"`
	Result         any    `json:"result"`
	Error          string `json:"error,omitempty"`
	DurationMS     int64  `json:"duration_ms"`
	ConversationID string `json:"conversation_id"`
}

type MessageComplete struct {
	ConversationID string `json:"conversation_id"`
	IterationsUsed int    `json:"iterations_used"`
	TotalMessages  int    `json:"total_messages"`
	Provider       string `json:"provider,omitempty"`
	UsedFallback   bool   `json:"used_fallback"`
	Note           string `json:"note"`
}

type MaxIterationsReached struct {
	ConversationID string `json:"conversation_id"`
	MaxIterations  int    `json:"max_iterations"`
	TotalMessages  int    `json:"total_messages"`
	Note           string `json:"note"`
}

// Error ends a stream that failed. Iteration is zero when the failure happened
// before the first provider turn.
type Error struct {
	Message        string `json:"error"`
	ConversationID string `json:"conversation_id,omitempty"`
	Iteration      int    `json:"iteration,omitempty"`
}

func (ConnectionTest) Type() Type       { return TypeConnectionTest }
func (StreamStart) Type() Type          { return TypeStreamStart }
func (MessageStart) Type() Type         { return TypeMessageStart }
func (TextDelta) Type() Type            { return TypeTextDelta }
func (ToolCall) Type() Type             { return TypeToolCall }
func (ToolResult) Type() Type           { return TypeToolResult }
func (MessageComplete) Type() Type      { return TypeMessageComplete }
func (MaxIterationsReached) Type() Type { return TypeMaxIterationsReached }
func (Error) Type() Type                { return TypeError }

func (ConnectionTest) event()       {}
func (StreamStart) event()          {}
func (MessageStart) event()         {}
func (TextDelta) event()            {}
func (ToolCall) event()             {}
func (ToolResult) event()           {}
func (MessageComplete) event()      {}
func (MaxIterationsReached) event() {}
func (Error) event()                {}

func (e ConnectionTest) MarshalJSON() ([]byte, error) {
	type data ConnectionTest
	return encode(e.Type(), data(e))
}

func (e StreamStart) MarshalJSON() ([]byte, error) {
	type data StreamStart
	return encode(e.Type(), data(e))
}

func (e MessageStart) MarshalJSON() ([]byte, error) {
	type data MessageStart
	return encode(e.Type(), data(e))
}

func (e TextDelta) MarshalJSON() ([]byte, error) {
	type data TextDelta
	return encode(e.Type(), data(e))
}

func (e ToolCall) MarshalJSON() ([]byte, error) {
	type data ToolCall
	if e.Input == nil {
		e.Input = map[string]any{}
	}
	return encode(e.Type(), data(e))
}

func (e ToolResult) MarshalJSON() ([]byte, error) {
	type data ToolResult
	return encode(e.Type(), data(e))
}

func (e MessageComplete) MarshalJSON() ([]byte, error) {
	type data MessageComplete
	return encode(e.Type(), data(e))
}

func (e MaxIterationsReached) MarshalJSON() ([]byte, error) {
	type data MaxIterationsReached
	return encode(e.Type(), data(e))
}

func (e Error) MarshalJSON() ([]byte, error) {
	type data Error
	return encode(e.Type(), data(e))
}

var envelope = []byte(`{"type":"","data":{}}`)

func encode(t Type, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", t, err)
	}
	result, err := sjson.SetBytes(envelope, "type", string(t))
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(result, "data", payload)
}

// ToJSON encodes ev as its envelope.
func ToJSON(ev Event) ([]byte, error) {
	return ev.MarshalJSON()
}

// FromJSON decodes an envelope produced by ToJSON.
func FromJSON(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return nil, fmt.Errorf("missing required field 'type'")
	}
	raw := []byte(gjson.GetBytes(data, "data").Raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	switch Type(typ.String()) {
	case TypeConnectionTest:
		return decode[ConnectionTest](raw)
	case TypeStreamStart:
		return decode[StreamStart](raw)
	case TypeMessageStart:
		return decode[MessageStart](raw)
	case TypeTextDelta:
		return decode[TextDelta](raw)
	case TypeToolCall:
		return decode[ToolCall](raw)
	case TypeToolResult:
		return decode[ToolResult](raw)
	case TypeMessageComplete:
		return decode[MessageComplete](raw)
	case TypeMaxIterationsReached:
		return decode[MaxIterationsReached](raw)
	case TypeError:
		return decode[Error](raw)
	default:
		return nil, fmt.Errorf("unknown event type: %s", typ.String())
	}
}

func decode[T Event](raw []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s data: %w", ev.Type(), err)
	}
	return ev, nil
}
