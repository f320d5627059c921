package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/casualjim/relay"
	"github.com/casualjim/relay/dialect/blocks"
	"github.com/casualjim/relay/dialect/choices"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/normalize"
	"github.com/casualjim/relay/tool/builtin"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blocksRequest(history ...messages.Message) provider.Request {
	return provider.BlocksRequest(blocks.Request{Messages: normalize.ToBlocks(history)})
}

func choicesRequest(history ...messages.Message) provider.Request {
	return provider.ChoicesRequest(choices.Request{Messages: normalize.ToChoices("be brief", history)})
}

func TestOfflineTurn(t *testing.T) {
	call := messages.ToolInvocation{ID: "call_1", Name: builtin.CalculatorName, Input: map[string]any{"expression": "2+2"}}
	answered := messages.ToolResult(messages.ToolOutcome{InvocationID: "call_1", ToolName: builtin.CalculatorName, Content: "2+2 = 4", Success: true})
	divided := messages.ToolResult(messages.ToolOutcome{
		InvocationID: "call_1",
		ToolName:     builtin.CalculatorName,
		Content:      `{"error": "Division by zero is not allowed", "result": null, "success": false}`,
	})

	tests := []struct {
		name       string
		req        provider.Request
		text       string
		expression string
	}{
		{name: "arithmetic", req: blocksRequest(messages.User("2+2?")), text: "Let me calculate that.", expression: "2+2"},
		{name: "arithmetic over choices", req: choicesRequest(messages.User("3 * (4 - 1) =")), text: "Let me calculate that.", expression: "3 * (4 - 1)"},
		{name: "chatter", req: blocksRequest(messages.User("hello there")), text: "You said: hello there"},
		{name: "not arithmetic", req: blocksRequest(messages.User("2+")), text: "You said: 2+"},
		{
			name: "tool answered",
			req:  blocksRequest(messages.User("2+2?"), messages.Assistant(messages.Invocation(call)), answered),
			text: "The tool answered: 2+2 = 4",
		},
		{
			name: "tool failed",
			req:  choicesRequest(messages.User("1/0"), messages.Assistant(messages.Invocation(call)), divided),
			text: "The tool failed: Division by zero is not allowed",
		},
		{name: "empty", req: blocksRequest(), text: "Hello! Ask me to calculate something."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn := offlineTurn(0, tt.req)
			assert.Equal(t, tt.text, strings.Join(turn.Text, ""))
			if tt.expression == "" {
				assert.Empty(t, turn.Invocations)
				return
			}
			require.Len(t, turn.Invocations, 1)
			assert.Equal(t, builtin.CalculatorName, turn.Invocations[0].Name)
			assert.Equal(t, tt.expression, turn.Invocations[0].Input["expression"])
			assert.True(t, strings.HasPrefix(turn.Invocations[0].ID, "offline_"))
		})
	}
}

func TestApp_Route(t *testing.T) {
	both := []provider.Adapter{offlineAdapter(messages.Anthropic), offlineAdapter(messages.OpenAI)}
	onlyOpenAI := []provider.Adapter{offlineAdapter(messages.OpenAI)}
	onlyAnthropic := []provider.Adapter{offlineAdapter(messages.Anthropic)}

	tests := []struct {
		name     string
		adapters []provider.Adapter
		want     provider.Route
		wantErr  string
	}{
		{name: "both", adapters: both, want: provider.Route{Primary: messages.Anthropic, Fallback: messages.OpenAI}},
		{name: "fallback missing", adapters: onlyAnthropic, want: provider.Route{Primary: messages.Anthropic}},
		{name: "primary missing", adapters: onlyOpenAI, wantErr: `no credentials for primary provider "anthropic"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &app{cfg: relay.DefaultConfig()}
			route, err := a.route(tt.adapters)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, route)
		})
	}
}

func TestApp_NoCredentials(t *testing.T) {
	a := &app{cfg: relay.DefaultConfig()}
	_, err := a.orchestrator(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--offline")
}

func TestConsole_Offline(t *testing.T) {
	color.NoColor = true

	a := &app{cfg: relay.DefaultConfig(), offline: true}
	orchestrator, err := a.orchestrator(nil)
	require.NoError(t, err)

	var out bytes.Buffer
	c := &console{out: &out}
	input := strings.NewReader("2+2?\nhello\n/clear\n/exit\nnever read\n")
	require.NoError(t, c.run(context.Background(), orchestrator, "", input))

	printed := out.String()
	assert.Contains(t, printed, `calculator{"expression":"2+2"}`)
	assert.Contains(t, printed, "The tool answered: 2+2 = 4")
	assert.Contains(t, printed, "2 iterations via anthropic")
	assert.Contains(t, printed, "You said: hello")
	assert.Contains(t, printed, "1 iterations via anthropic")
	assert.Contains(t, printed, "cleared successfully")
	assert.NotContains(t, printed, "never read")

	listed := orchestrator.Conversations().List(context.Background())
	assert.Zero(t, listed.Count)
}
