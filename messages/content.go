package messages

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var jsonNull = []byte(`null`)

// ContentOrParts is either plain text or an ordered list of parts.
// When Parts is non-empty it wins over Text.
type ContentOrParts struct {
	Text  string
	Parts []Part
	_     struct{} // require keyed usage
}

// String concatenates the text and tool-result parts, skipping invocations.
func (c ContentOrParts) String() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var b strings.Builder
	for _, part := range c.Parts {
		switch p := part.(type) {
		case TextPart:
			b.WriteString(p.Text)
		case ToolResultPart:
			b.WriteString(p.Content)
		}
	}
	return b.String()
}

// IsEmpty reports whether the content carries neither text nor parts.
func (c ContentOrParts) IsEmpty() bool {
	return c.Text == "" && len(c.Parts) == 0
}

// MarshalJSON writes the parts as an array when present, the text as a string
// otherwise, and null when both are empty.
func (c ContentOrParts) MarshalJSON() ([]byte, error) {
	if len(c.Parts) > 0 {
		return json.Marshal(c.Parts)
	}
	if c.Text != "" {
		return json.Marshal(c.Text)
	}
	return jsonNull, nil
}

// UnmarshalJSON accepts either a string or an array of typed parts.
func (c *ContentOrParts) UnmarshalJSON(input []byte) error {
	if !gjson.ValidBytes(input) {
		return fmt.Errorf("invalid json: %s", input)
	}
	jv := gjson.ParseBytes(input)
	if jv.Type == gjson.Null {
		return nil
	}
	if !jv.IsArray() {
		c.Text = jv.String()
		return nil
	}

	aj := jv.Array()
	parts := make([]Part, len(aj))
	for idx, ajv := range aj {
		part, err := decodePart(ajv)
		if err != nil {
			return fmt.Errorf("invalid part at %d: %w", idx, err)
		}
		parts[idx] = part
	}
	c.Parts = parts
	return nil
}

func decodePart(jv gjson.Result) (Part, error) {
	raw := []byte(jv.Raw)
	switch tpe := jv.Get("type").String(); tpe {
	case "text":
		var part TextPart
		if err := part.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return part, nil
	case "tool_invocation":
		var part ToolInvocationPart
		if err := part.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return part, nil
	case "tool_result":
		var part ToolResultPart
		if err := part.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return part, nil
	default:
		return nil, fmt.Errorf("unknown type %q", tpe)
	}
}

// Part marks the types that can appear in an ordered content list.
type Part interface {
	part()
}

// Text creates a TextPart.
func Text(text string) TextPart {
	return TextPart{Text: text}
}

// TextPart is a run of model or user text.
type TextPart struct {
	Text string
	_    struct{} // require keyed usage
}

func (TextPart) part() {}

var textPartJSON = []byte(`{"type":"text"}`)

func (t TextPart) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(textPartJSON, "text", t.Text)
}

func (t *TextPart) UnmarshalJSON(input []byte) error {
	text := gjson.GetBytes(input, "text")
	if !text.Exists() {
		return errors.New("missing required field 'text'")
	}
	t.Text = text.String()
	return nil
}

// Invocation wraps a ToolInvocation as a content part.
func Invocation(inv ToolInvocation) ToolInvocationPart {
	return ToolInvocationPart{Invocation: inv}
}

// ToolInvocationPart places a tool invocation at its position in an assistant turn.
type ToolInvocationPart struct {
	Invocation ToolInvocation
	_          struct{} // require keyed usage
}

func (ToolInvocationPart) part() {}

var invocationPartJSON = []byte(`{"type":"tool_invocation"}`)

func (t ToolInvocationPart) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(t.Invocation)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(invocationPartJSON, "invocation", b)
}

func (t *ToolInvocationPart) UnmarshalJSON(input []byte) error {
	inv := gjson.GetBytes(input, "invocation")
	if !inv.Exists() {
		return errors.New("missing required field 'invocation'")
	}
	return json.Unmarshal([]byte(inv.Raw), &t.Invocation)
}

// ToolResultPart is the content of a tool-role message.
type ToolResultPart struct {
	ToolCallID string
	ToolName   string
	Content    string
	IsError    bool
	_          struct{} // require keyed usage
}

func (ToolResultPart) part() {}

var toolResultPartJSON = []byte(`{"type":"tool_result"}`)

func (t ToolResultPart) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(toolResultPartJSON, "tool_call_id", t.ToolCallID)
	if err != nil {
		return nil, err
	}
	if t.ToolName != "" {
		if result, err = sjson.SetBytes(result, "tool_name", t.ToolName); err != nil {
			return nil, err
		}
	}
	if result, err = sjson.SetBytes(result, "content", t.Content); err != nil {
		return nil, err
	}
	if t.IsError {
		return sjson.SetBytes(result, "is_error", true)
	}
	return result, nil
}

func (t *ToolResultPart) UnmarshalJSON(input []byte) error {
	id := gjson.GetBytes(input, "tool_call_id")
	if !id.Exists() {
		return errors.New("missing required field 'tool_call_id'")
	}
	t.ToolCallID = id.String()
	t.ToolName = gjson.GetBytes(input, "tool_name").String()
	t.Content = gjson.GetBytes(input, "content").String()
	t.IsError = gjson.GetBytes(input, "is_error").Bool()
	return nil
}
