// Package blocks defines the block-based Messages wire dialect.
package blocks

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	TypeText       = "text"
	TypeToolUse    = "tool_use"
	TypeToolResult = "tool_result"
)

const (
	StopEndTurn      = "end_turn"
	StopToolUse      = "tool_use"
	StopMaxTokens    = "max_tokens"
	StopSequence     = "stop_sequence"
	StopRefusal      = "refusal"
	StopPauseTurn    = "pause_turn"
	defaultMaxTokens = 4096
)

// Request is the body of a messages call.
type Request struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	MaxTokens   int64     `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// EffectiveMaxTokens returns MaxTokens, or the dialect default when unset.
func (r Request) EffectiveMaxTokens() int64 {
	if r.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return r.MaxTokens
}

// Message is one turn: a role and its ordered blocks.
type Message struct {
	Role    string  `json:"role"`
	Content []Block `json:"content"`
}

// Block is a typed content block. Which fields are meaningful depends on Type.
type Block struct {
	Type string

	// text
	Text string

	// tool_use
	ID    string
	Name  string
	Input map[string]any

	// tool_result
	ToolUseID string
	Content   string
	IsError   bool
}

// TextBlock creates a text block.
func TextBlock(text string) Block {
	return Block{Type: TypeText, Text: text}
}

// ToolUseBlock creates a tool_use block.
func ToolUseBlock(id, name string, input map[string]any) Block {
	return Block{Type: TypeToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool_result block.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: TypeToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

func (b Block) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes([]byte(`{}`), "type", b.Type)
	if err != nil {
		return nil, err
	}

	switch b.Type {
	case TypeText:
		return sjson.SetBytes(result, "text", b.Text)
	case TypeToolUse:
		if result, err = sjson.SetBytes(result, "id", b.ID); err != nil {
			return nil, err
		}
		if result, err = sjson.SetBytes(result, "name", b.Name); err != nil {
			return nil, err
		}
		input := []byte(`{}`)
		if len(b.Input) > 0 {
			if input, err = json.Marshal(b.Input); err != nil {
				return nil, fmt.Errorf("failed to marshal tool input: %w", err)
			}
		}
		return sjson.SetRawBytes(result, "input", input)
	case TypeToolResult:
		if result, err = sjson.SetBytes(result, "tool_use_id", b.ToolUseID); err != nil {
			return nil, err
		}
		if result, err = sjson.SetBytes(result, "content", b.Content); err != nil {
			return nil, err
		}
		if b.IsError {
			return sjson.SetBytes(result, "is_error", true)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported block type %q", b.Type)
	}
}

func (b *Block) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}
	jv := gjson.ParseBytes(data)

	b.Type = jv.Get("type").String()
	switch b.Type {
	case TypeText:
		b.Text = jv.Get("text").String()
	case TypeToolUse:
		b.ID = jv.Get("id").String()
		b.Name = jv.Get("name").String()
		b.Input = map[string]any{}
		if input := jv.Get("input"); input.IsObject() {
			if err := json.Unmarshal([]byte(input.Raw), &b.Input); err != nil {
				return fmt.Errorf("invalid tool_use input: %w", err)
			}
		}
	case TypeToolResult:
		b.ToolUseID = jv.Get("tool_use_id").String()
		b.IsError = jv.Get("is_error").Bool()
		content := jv.Get("content")
		if content.IsArray() {
			// a result may also be a list of text blocks
			var sb strings.Builder
			for _, item := range content.Array() {
				sb.WriteString(item.Get("text").String())
			}
			b.Content = sb.String()
		} else {
			b.Content = content.String()
		}
	case "":
		return fmt.Errorf("missing required field 'type'")
	default:
		// unknown blocks (thinking, images) are kept by type only
	}
	return nil
}

// Tool is a tool definition in this dialect; the schema is kept as-is.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage reports token counts.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is a complete messages answer.
type Response struct {
	ID         string  `json:"id"`
	Type       string  `json:"type,omitempty"`
	Role       string  `json:"role"`
	Model      string  `json:"model"`
	Content    []Block `json:"content"`
	StopReason string  `json:"stop_reason"`
	Usage      Usage   `json:"usage"`
}
