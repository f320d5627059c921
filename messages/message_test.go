package messages

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentOrParts_MarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		content ContentOrParts
		want    string
	}{
		{
			name:    "empty",
			content: ContentOrParts{},
			want:    "null",
		},
		{
			name:    "plain text",
			content: ContentOrParts{Text: "hello world"},
			want:    `"hello world"`,
		},
		{
			name: "text part",
			content: ContentOrParts{Parts: []Part{
				Text("hello"),
			}},
			want: `[{"type":"text","text":"hello"}]`,
		},
		{
			name: "tool result part",
			content: ContentOrParts{Parts: []Part{
				ToolResultPart{ToolCallID: "call_1", Content: "4", IsError: true},
			}},
			want: `[{"type":"tool_result","tool_call_id":"call_1","content":"4","is_error":true}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.content)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestContentOrParts_UnmarshalJSON(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		var c ContentOrParts
		require.NoError(t, json.Unmarshal([]byte(`"hi"`), &c))
		assert.Equal(t, "hi", c.Text)
		assert.Empty(t, c.Parts)
	})

	t.Run("mixed parts keep order", func(t *testing.T) {
		var c ContentOrParts
		input := `[{"type":"text","text":"checking"},{"type":"tool_invocation","invocation":{"id":"c1","name":"calculator","input":{"expression":"2+2"}}}]`
		require.NoError(t, json.Unmarshal([]byte(input), &c))
		require.Len(t, c.Parts, 2)
		assert.Equal(t, Text("checking"), c.Parts[0])
		ip, ok := c.Parts[1].(ToolInvocationPart)
		require.True(t, ok)
		assert.Equal(t, "calculator", ip.Invocation.Name)
		assert.Equal(t, "2+2", ip.Invocation.Input["expression"])
	})

	t.Run("unknown part type", func(t *testing.T) {
		var c ContentOrParts
		err := json.Unmarshal([]byte(`[{"type":"image","url":"x"}]`), &c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown type "image"`)
	})

	t.Run("missing text", func(t *testing.T) {
		var c ContentOrParts
		err := json.Unmarshal([]byte(`[{"type":"text"}]`), &c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing required field 'text'")
	})
}

func TestMessage_JSON(t *testing.T) {
	msg := Assistant(
		Text("let me check"),
		Invocation(ToolInvocation{ID: "c1", Name: "calculator", Input: map[string]any{"expression": "1+1"}}),
	)

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, RoleAssistant, decoded.Role)
	assert.Equal(t, "let me check", decoded.Text())
	require.Len(t, decoded.ToolInvocations(), 1)
	assert.Equal(t, "c1", decoded.ToolInvocations()[0].ID)
	assert.Equal(t, msg.Timestamp.String(), decoded.Timestamp.String())
}

func TestMessage_UnmarshalJSON_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"invalid json", `{`, "invalid json"},
		{"missing role", `{"content":"x"}`, "missing required field 'role'"},
		{"bad role", `{"role":"system","content":"x"}`, `invalid role "system"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			err := m.UnmarshalJSON([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAssistant(t *testing.T) {
	t.Run("single text collapses", func(t *testing.T) {
		msg := Assistant(Text("done"))
		assert.Equal(t, "done", msg.Content.Text)
		assert.Empty(t, msg.Content.Parts)
	})

	t.Run("invocations in declaration order", func(t *testing.T) {
		msg := Assistant(
			Invocation(ToolInvocation{ID: "b", Name: "second"}),
			Text("between"),
			Invocation(ToolInvocation{ID: "a", Name: "first"}),
		)
		invs := msg.ToolInvocations()
		require.Len(t, invs, 2)
		assert.Equal(t, "b", invs[0].ID)
		assert.Equal(t, "a", invs[1].ID)
	})
}

func TestToolResult(t *testing.T) {
	msg := ToolResult(ToolOutcome{InvocationID: "c1", ToolName: "calculator", Content: "2+2 = 4", Success: true})
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "c1", msg.ToolCallID)
	assert.Equal(t, "2+2 = 4", msg.Text())

	part, ok := msg.ToolResultPart()
	require.True(t, ok)
	assert.False(t, part.IsError)
	assert.Equal(t, "calculator", part.ToolName)

	_, ok = User("x").ToolResultPart()
	assert.False(t, ok)

	plain := Message{Role: RoleTool, ToolCallID: "c2", Content: ContentOrParts{Text: "raw"}}
	part, ok = plain.ToolResultPart()
	require.True(t, ok)
	assert.Equal(t, "c2", part.ToolCallID)
	assert.Equal(t, "raw", part.Content)
}

func TestToolInvocation_InputJSON(t *testing.T) {
	assert.Equal(t, "{}", ToolInvocation{}.InputJSON())
	assert.JSONEq(t, `{"a":1}`, ToolInvocation{Input: map[string]any{"a": 1}}.InputJSON())
}

func TestResponse(t *testing.T) {
	resp := Response{
		Parts: []Part{
			Text("a"),
			Text(""),
			Invocation(ToolInvocation{ID: "1", Name: "x"}),
			Text("b"),
		},
		Usage:   Usage{InputTokens: 3, OutputTokens: 4},
		Routing: Routing{Primary: Anthropic, Fallback: OpenAI, Responded: OpenAI},
	}
	assert.Equal(t, "ab", resp.Text())
	assert.Len(t, resp.ToolInvocations(), 1)
	assert.Equal(t, int64(7), resp.Usage.Total())
	assert.True(t, resp.Routing.UsedFallback())

	msg := resp.Message()
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Len(t, msg.Content.Parts, 3)
}
