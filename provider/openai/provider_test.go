package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/casualjim/relay/dialect/blocks"
	"github.com/casualjim/relay/dialect/choices"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/tool"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func setupTestServer(t *testing.T, model string, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(model,
		option.WithBaseURL(server.URL+"/v1/"),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
}

func writeChunks(t *testing.T, w http.ResponseWriter, chunks ...string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, ok := w.(http.Flusher)
	require.True(t, ok)
	for _, chunk := range chunks {
		_, err := fmt.Fprintf(w, "data: %s\n\n", chunk)
		require.NoError(t, err)
		flusher.Flush()
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func collect(t *testing.T, ch <-chan provider.StreamEvent) []provider.StreamEvent {
	t.Helper()
	var out []provider.StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func calculatorRequest(stream bool) provider.Request {
	temp := 0.0
	return provider.ChoicesRequest(choices.Request{
		Messages: []choices.Message{
			{Role: choices.RoleSystem, Content: "be terse"},
			{Role: choices.RoleUser, Content: "2+2?"},
		},
		Tools:       []choices.Tool{tool.FunctionTool("calculator", "math", map[string]any{"type": "object"})},
		Temperature: &temp,
		Stream:      stream,
	})
}

func TestNew(t *testing.T) {
	a := New("")
	assert.Equal(t, DefaultModel, a.Model())
	assert.Equal(t, messages.OpenAI, a.Provider())
	assert.NotNil(t, a.client)

	assert.Equal(t, "gpt-4o", New("gpt-4o").Model())
}

func TestRequiresCompletionTokens(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{model: "gpt-5-mini-2025-08-07", want: true},
		{model: "gpt-5", want: true},
		{model: "o3-mini", want: true},
		{model: "gpt-4o", want: false},
		{model: "gpt-4.1-mini", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiresCompletionTokens(tt.model))
		})
	}
}

func TestChatCompletion_WrongDialect(t *testing.T) {
	_, err := New("").ChatCompletion(context.Background(), provider.BlocksRequest(blocks.Request{}))
	var ce *provider.ClientError
	require.ErrorAs(t, err, &ce)
}

func TestMessagesToOpenAI_UnknownRole(t *testing.T) {
	_, err := messagesToOpenAI([]choices.Message{{Role: "narrator", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narrator")
}

func TestChatCompletion_Stream(t *testing.T) {
	a := setupTestServer(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
		assert.True(t, gjson.GetBytes(body, "stream").Bool())
		assert.True(t, gjson.GetBytes(body, "stream_options.include_usage").Bool())
		assert.Equal(t, int64(DefaultMaxTokens), gjson.GetBytes(body, "max_tokens").Int())
		assert.False(t, gjson.GetBytes(body, "max_completion_tokens").Exists())
		assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
		assert.Equal(t, "calculator", gjson.GetBytes(body, "tools.0.function.name").String())

		writeChunks(t, w,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Let me "},"finish_reason":null}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"compute."},"finish_reason":null}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"calculator","arguments":""}}]},"finish_reason":null}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"expression\":"}}]},"finish_reason":null}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":" \"2+2\"}"}}]},"finish_reason":null}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":30,"total_tokens":42}}`,
		)
	})

	ch, err := a.ChatCompletion(context.Background(), calculatorRequest(true))
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 9)
	assert.Equal(t, provider.TurnStarted{Provider: messages.OpenAI, Model: "gpt-4o", ID: "chatcmpl-1"}, events[0])
	assert.Equal(t, provider.TextFragment{Text: "Let me "}, events[1])
	assert.Equal(t, provider.TextFragment{Text: "compute."}, events[2])
	assert.Equal(t, provider.ToolOpened{ID: "call_1", Name: "calculator"}, events[3])
	assert.Equal(t, provider.ToolInputFragment{ID: "call_1", Fragment: `{"expression":`}, events[4])
	assert.Equal(t, provider.ToolInputFragment{ID: "call_1", Fragment: ` "2+2"}`}, events[5])
	assert.Equal(t, provider.ToolClosed{ID: "call_1"}, events[6])
	assert.Equal(t, provider.TurnFinished{StopReason: messages.StopToolUse, Usage: messages.Usage{InputTokens: 12, OutputTokens: 30}}, events[7])

	final, ok := events[8].(provider.FinalResponse)
	require.True(t, ok)
	require.NotNil(t, final.Raw.Choices)
	assert.Equal(t, messages.OpenAI, final.Raw.Provider)
	assert.Equal(t, "Let me compute.", final.Response.Text())
	invs := final.Response.ToolInvocations()
	require.Len(t, invs, 1)
	assert.Equal(t, "call_1", invs[0].ID)
	assert.Equal(t, map[string]any{"expression": "2+2"}, invs[0].Input)
}

func TestChatCompletion_CompletionTokenModel(t *testing.T) {
	a := setupTestServer(t, DefaultModel, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, int64(DefaultMaxTokens), gjson.GetBytes(body, "max_completion_tokens").Int())
		assert.False(t, gjson.GetBytes(body, "max_tokens").Exists())
		assert.Equal(t, 1.0, gjson.GetBytes(body, "temperature").Float())

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-2","object":"chat.completion","created":1,"model":"gpt-5-mini","choices":[{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	})

	ch, err := a.ChatCompletion(context.Background(), calculatorRequest(false))
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 3)
	assert.Equal(t, provider.TurnStarted{Provider: messages.OpenAI, Model: "gpt-5-mini", ID: "chatcmpl-2"}, events[0])
	final, ok := events[2].(provider.FinalResponse)
	require.True(t, ok)
	assert.Equal(t, "4", final.Response.Text())
	assert.Equal(t, messages.StopEndTurn, final.Response.StopReason)
	assert.Equal(t, int64(4), final.Response.Usage.Total())
}

func TestChatCompletion_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		server bool
	}{
		{name: "internal", status: http.StatusInternalServerError, server: true},
		{name: "bad gateway", status: http.StatusBadGateway, server: true},
		{name: "bad request", status: http.StatusBadRequest, server: false},
		{name: "unauthorized", status: http.StatusUnauthorized, server: false},
	}

	for _, tt := range tests {
		for _, stream := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s stream=%t", tt.name, stream), func(t *testing.T) {
				a := setupTestServer(t, "gpt-4o", func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(tt.status)
					_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
				})

				ch, err := a.ChatCompletion(context.Background(), calculatorRequest(stream))
				require.NoError(t, err)
				events := collect(t, ch)
				require.Len(t, events, 1)
				errEvent, ok := events[0].(provider.Error)
				require.True(t, ok)
				assert.Equal(t, tt.server, provider.IsServerError(errEvent.Err))
			})
		}
	}
}

func TestChatCompletion_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	a := New("gpt-4o", option.WithBaseURL(url+"/v1/"), option.WithAPIKey("k"), option.WithMaxRetries(0))
	ch, err := a.ChatCompletion(context.Background(), calculatorRequest(true))
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 1)
	errEvent, ok := events[0].(provider.Error)
	require.True(t, ok)
	var se *provider.ServerError
	require.True(t, errors.As(errEvent.Err, &se))
	assert.Equal(t, 0, se.StatusCode)
}

func TestChatCompletion_Canceled(t *testing.T) {
	a := setupTestServer(t, "gpt-4o", func(w http.ResponseWriter, _ *http.Request) {
		writeChunks(t, w)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch, err := a.ChatCompletion(ctx, calculatorRequest(true))
	require.NoError(t, err)
	for ev := range ch {
		if e, ok := ev.(provider.Error); ok {
			assert.False(t, provider.IsServerError(e.Err))
		}
	}
}
