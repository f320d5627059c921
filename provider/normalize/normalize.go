// Package normalize translates between the canonical message model and the two
// provider dialects, and between the dialects themselves.
//
// Translation never fails on malformed tool arguments: they degrade to an
// empty object and a FormatTranslationError is logged.
package normalize

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/casualjim/relay/dialect/blocks"
	"github.com/casualjim/relay/dialect/choices"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/jsonx"
	"github.com/casualjim/relay/pkg/slogx"
	json "github.com/goccy/go-json"
)

// FormatTranslationError reports a payload that could not be translated
// faithfully. It is logged, never returned to callers of the translators.
type FormatTranslationError struct {
	Field string
	Input string
	Err   error
}

func (e *FormatTranslationError) Error() string {
	return fmt.Sprintf("failed to translate %s %q: %v", e.Field, e.Input, e.Err)
}

func (e *FormatTranslationError) Unwrap() error { return e.Err }

func logger() *slog.Logger {
	return slog.Default().With(slogx.LoggerName("relay.normalize"))
}

// parseArguments parses stringified tool arguments, degrading to {} on failure.
func parseArguments(id, arguments string) map[string]any {
	input, err := jsonx.ParseObject(arguments)
	if err != nil {
		logger().Warn("tool arguments are not a json object",
			slogx.Error(&FormatTranslationError{Field: "arguments of " + id, Input: arguments, Err: err}),
		)
		return map[string]any{}
	}
	return input
}

// ParseToolInput parses an accumulated streamed tool input the same way
// stringified arguments are parsed.
func ParseToolInput(id, buffer string) map[string]any {
	return parseArguments(id, buffer)
}

func stringifyArguments(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	b, err := json.Marshal(input)
	if err != nil {
		logger().Warn("tool input could not be encoded",
			slogx.Error(&FormatTranslationError{Field: "input", Input: fmt.Sprint(input), Err: err}),
		)
		return "{}"
	}
	return string(b)
}

// ToBlocks converts canonical history into block dialect messages.
// Consecutive tool results are grouped into one user message.
func ToBlocks(history []messages.Message) []blocks.Message {
	result := make([]blocks.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case messages.RoleUser:
			result = append(result, blocks.Message{Role: blocks.RoleUser, Content: textBlocks(msg.Content)})

		case messages.RoleAssistant:
			content := make([]blocks.Block, 0, max(1, len(msg.Content.Parts)))
			if len(msg.Content.Parts) == 0 {
				if msg.Content.Text != "" {
					content = append(content, blocks.TextBlock(msg.Content.Text))
				}
			}
			for _, part := range msg.Content.Parts {
				switch p := part.(type) {
				case messages.TextPart:
					if p.Text != "" {
						content = append(content, blocks.TextBlock(p.Text))
					}
				case messages.ToolInvocationPart:
					content = append(content, blocks.ToolUseBlock(p.Invocation.ID, p.Invocation.Name, nonNil(p.Invocation.Input)))
				}
			}
			result = append(result, blocks.Message{Role: blocks.RoleAssistant, Content: content})

		case messages.RoleTool:
			rp, _ := msg.ToolResultPart()
			block := blocks.ToolResultBlock(rp.ToolCallID, rp.Content, rp.IsError)
			if n := len(result); n > 0 && result[n-1].Role == blocks.RoleUser && isToolResults(result[n-1].Content) {
				result[n-1].Content = append(result[n-1].Content, block)
				continue
			}
			result = append(result, blocks.Message{Role: blocks.RoleUser, Content: []blocks.Block{block}})
		}
	}
	return result
}

func textBlocks(content messages.ContentOrParts) []blocks.Block {
	if len(content.Parts) == 0 {
		return []blocks.Block{blocks.TextBlock(content.Text)}
	}
	out := make([]blocks.Block, 0, len(content.Parts))
	for _, part := range content.Parts {
		if tp, ok := part.(messages.TextPart); ok {
			out = append(out, blocks.TextBlock(tp.Text))
		}
	}
	return out
}

func isToolResults(content []blocks.Block) bool {
	for _, b := range content {
		if b.Type != blocks.TypeToolResult {
			return false
		}
	}
	return len(content) > 0
}

// FromBlocks converts block dialect messages into canonical history. A user
// message carrying tool results becomes one tool message per result, followed
// by a user message for any remaining text.
func FromBlocks(msgs []blocks.Message) []messages.Message {
	result := make([]messages.Message, 0, len(msgs))
	names := map[string]string{}
	for _, msg := range msgs {
		switch msg.Role {
		case blocks.RoleAssistant:
			parts := make([]messages.Part, 0, len(msg.Content))
			for _, b := range msg.Content {
				switch b.Type {
				case blocks.TypeText:
					parts = append(parts, messages.Text(b.Text))
				case blocks.TypeToolUse:
					names[b.ID] = b.Name
					parts = append(parts, messages.Invocation(messages.ToolInvocation{ID: b.ID, Name: b.Name, Input: nonNil(b.Input)}))
				}
			}
			result = append(result, messages.Assistant(parts...))

		default:
			var text strings.Builder
			for _, b := range msg.Content {
				switch b.Type {
				case blocks.TypeToolResult:
					result = append(result, messages.ToolResult(messages.ToolOutcome{
						InvocationID: b.ToolUseID,
						ToolName:     names[b.ToolUseID],
						Content:      b.Content,
						Success:      !b.IsError,
					}))
				case blocks.TypeText:
					text.WriteString(b.Text)
				}
			}
			if text.Len() > 0 {
				result = append(result, messages.User(text.String()))
			}
		}
	}
	return result
}

// ToChoices converts canonical history into choices dialect messages. A non
// empty system prompt becomes the leading system message.
func ToChoices(system string, history []messages.Message) []choices.Message {
	result := make([]choices.Message, 0, len(history)+1)
	if system != "" {
		result = append(result, choices.Message{Role: choices.RoleSystem, Content: system})
	}
	for _, msg := range history {
		switch msg.Role {
		case messages.RoleUser:
			result = append(result, choices.Message{Role: choices.RoleUser, Content: msg.Text()})

		case messages.RoleAssistant:
			out := choices.Message{Role: choices.RoleAssistant, Content: msg.Text()}
			for _, inv := range msg.ToolInvocations() {
				out.ToolCalls = append(out.ToolCalls, choices.ToolCall{
					ID:   inv.ID,
					Type: choices.TypeFunction,
					Function: choices.FunctionCall{
						Name:      inv.Name,
						Arguments: stringifyArguments(inv.Input),
					},
				})
			}
			result = append(result, out)

		case messages.RoleTool:
			rp, _ := msg.ToolResultPart()
			result = append(result, choices.Message{Role: choices.RoleTool, Content: rp.Content, ToolCallID: rp.ToolCallID})
		}
	}
	return result
}

// FromChoices converts choices dialect messages into canonical history and
// returns the text of the system messages separately.
func FromChoices(msgs []choices.Message) (string, []messages.Message) {
	var system []string
	result := make([]messages.Message, 0, len(msgs))
	names := map[string]string{}
	for _, msg := range msgs {
		switch msg.Role {
		case choices.RoleSystem:
			system = append(system, msg.Content)

		case choices.RoleUser:
			result = append(result, messages.User(msg.Content))

		case choices.RoleAssistant:
			parts := make([]messages.Part, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, messages.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				names[tc.ID] = tc.Function.Name
				parts = append(parts, messages.Invocation(messages.ToolInvocation{
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: parseArguments(tc.ID, tc.Function.Arguments),
				}))
			}
			result = append(result, messages.Assistant(parts...))

		case choices.RoleTool:
			result = append(result, messages.ToolResult(messages.ToolOutcome{
				InvocationID: msg.ToolCallID,
				ToolName:     names[msg.ToolCallID],
				Content:      msg.Content,
				Success:      true,
			}))
		}
	}
	return strings.Join(system, "\n\n"), result
}

func nonNil(input map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	return input
}
