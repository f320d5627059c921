package fallback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/casualjim/relay/dialect/choices"
	"github.com/casualjim/relay/internal/telemetry"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/openai"
	"github.com/casualjim/relay/provider/providertest"
	"github.com/casualjim/relay/tool"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	usage     []telemetry.Usage
	fallbacks []telemetry.Fallback
	failures  []telemetry.Failure
}

func (r *recorder) RecordUsage(_ context.Context, u telemetry.Usage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, u)
}

func (r *recorder) RecordFallback(_ context.Context, f telemetry.Fallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, f)
}

func (r *recorder) RecordFailure(_ context.Context, f telemetry.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

var defaultRoute = provider.Route{Primary: messages.Anthropic, Fallback: messages.OpenAI}

func turnRequest() provider.TurnRequest {
	return provider.TurnRequest{
		ConversationID: "c1",
		System:         "be terse",
		Messages:       []messages.Message{messages.User("2+2?")},
		Tools:          []tool.Schema{{Name: "calculator", Description: "math"}},
		Stream:         true,
	}
}

func overloaded(p messages.Provider) error {
	return provider.FromStatus(p, provider.StatusOverloaded, "Overloaded", nil)
}

func setup(t *testing.T, primary, fallback *providertest.Scripted) (*Coordinator, *recorder) {
	t.Helper()
	rec := &recorder{}
	c, err := New(defaultRoute, []provider.Adapter{primary, fallback}, WithTelemetry(rec))
	require.NoError(t, err)
	return c, rec
}

func drain(ch <-chan provider.StreamEvent) []provider.StreamEvent {
	var out []provider.StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func finalOf(t *testing.T, evs []provider.StreamEvent) provider.FinalResponse {
	t.Helper()
	require.NotEmpty(t, evs)
	final, ok := evs[len(evs)-1].(provider.FinalResponse)
	require.True(t, ok, "last event is %T", evs[len(evs)-1])
	return final
}

func TestStream_PrimaryAnswers(t *testing.T) {
	primary := providertest.New(messages.Anthropic, providertest.Turn{Text: []string{"4"}, Usage: messages.Usage{InputTokens: 5, OutputTokens: 1}})
	fallback := providertest.New(messages.OpenAI)
	c, rec := setup(t, primary, fallback)

	ch, err := c.Stream(context.Background(), turnRequest())
	require.NoError(t, err)
	final := finalOf(t, drain(ch))

	assert.Equal(t, messages.Routing{Primary: messages.Anthropic, Fallback: messages.OpenAI, Responded: messages.Anthropic}, final.Response.Routing)
	assert.False(t, final.Response.Routing.UsedFallback())
	assert.Equal(t, 0, fallback.Calls())

	reqs := primary.Requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Blocks)
	assert.Equal(t, "be terse", reqs[0].Blocks.System)
	assert.Equal(t, primary.Model(), reqs[0].Blocks.Model)

	require.Len(t, rec.usage, 1)
	assert.Equal(t, "c1", rec.usage[0].ConversationID)
	assert.Equal(t, messages.Anthropic, rec.usage[0].Provider)
	assert.Equal(t, int64(6), rec.usage[0].TotalTokens)
	assert.Empty(t, rec.fallbacks)
}

func TestStream_FailsOverOnServerError(t *testing.T) {
	tests := []struct {
		name    string
		primary providertest.Turn
	}{
		{name: "overloaded event", primary: providertest.Turn{Err: overloaded(messages.Anthropic)}},
		{name: "internal error event", primary: providertest.Turn{Err: provider.FromStatus(messages.Anthropic, 500, "", nil)}},
		{name: "transport failure", primary: providertest.Turn{Err: provider.Transport(messages.Anthropic, errors.New("connection refused"))}},
		{name: "rejected call", primary: providertest.Turn{Reject: overloaded(messages.Anthropic)}},
		{name: "error after turn start", primary: providertest.Turn{MidStreamErr: overloaded(messages.Anthropic)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := providertest.New(messages.Anthropic, tt.primary)
			fallback := providertest.New(messages.OpenAI, providertest.Turn{Text: []string{"4"}})
			c, rec := setup(t, primary, fallback)

			ch, err := c.Stream(context.Background(), turnRequest())
			require.NoError(t, err)
			final := finalOf(t, drain(ch))

			assert.Equal(t, messages.OpenAI, final.Response.Routing.Responded)
			assert.True(t, final.Response.Routing.UsedFallback())
			assert.Equal(t, "4", final.Response.Text())
			assert.Equal(t, 1, fallback.Calls())

			reqs := fallback.Requests()
			require.NotNil(t, reqs[0].Choices)
			assert.Equal(t, fallback.Model(), reqs[0].Choices.Model)
			assert.Equal(t, choices.Message{Role: choices.RoleSystem, Content: "be terse"}, reqs[0].Choices.Messages[0])
			require.Len(t, reqs[0].Choices.Tools, 1)
			assert.Equal(t, choices.TypeFunction, reqs[0].Choices.Tools[0].Type)
			assert.Equal(t, false, reqs[0].Choices.Tools[0].Function.Parameters["additionalProperties"])

			require.Len(t, rec.fallbacks, 1)
			assert.Equal(t, messages.Anthropic, rec.fallbacks[0].Primary)
			require.Len(t, rec.usage, 1)
			assert.True(t, rec.usage[0].UsedFallback)
		})
	}
}

func TestStream_NoFallbackOnClientError(t *testing.T) {
	bad := provider.FromStatus(messages.Anthropic, 400, "max_tokens: required", nil)
	primary := providertest.New(messages.Anthropic, providertest.Turn{Err: bad})
	fallback := providertest.New(messages.OpenAI, providertest.Turn{Text: []string{"4"}})
	c, rec := setup(t, primary, fallback)

	_, err := c.Stream(context.Background(), turnRequest())
	var ce *provider.ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 400, ce.StatusCode)
	assert.Equal(t, 0, fallback.Calls())
	assert.Empty(t, rec.fallbacks)
}

func TestStream_NoFallbackOnCancel(t *testing.T) {
	primary := providertest.New(messages.Anthropic, providertest.Turn{Err: context.Canceled})
	fallback := providertest.New(messages.OpenAI, providertest.Turn{Text: []string{"4"}})
	c, _ := setup(t, primary, fallback)

	_, err := c.Stream(context.Background(), turnRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fallback.Calls())
}

func TestStream_BothFail(t *testing.T) {
	primaryErr := overloaded(messages.Anthropic)
	fallbackErr := provider.FromStatus(messages.OpenAI, 503, "unavailable", nil)
	primary := providertest.New(messages.Anthropic, providertest.Turn{Err: primaryErr})
	fallback := providertest.New(messages.OpenAI, providertest.Turn{Err: fallbackErr})
	c, rec := setup(t, primary, fallback)

	_, err := c.Stream(context.Background(), turnRequest())
	var both *provider.BothProvidersFailedError
	require.ErrorAs(t, err, &both)
	assert.ErrorIs(t, err, primaryErr)
	assert.ErrorIs(t, err, fallbackErr)
	assert.Equal(t, messages.Anthropic, both.Primary)
	assert.Equal(t, messages.OpenAI, both.Fallback)
	assert.Equal(t, 1, fallback.Calls())
	require.Len(t, rec.failures, 1)
	assert.Equal(t, "fallback", rec.failures[0].Component)
}

func TestStream_UnreachableFallback(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tests := []struct {
		name   string
		stream bool
	}{
		{name: "streaming", stream: true},
		{name: "non-streaming", stream: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := providertest.New(messages.Anthropic, providertest.Turn{Err: overloaded(messages.Anthropic)})
			gpt := openai.New("gpt-4o", option.WithBaseURL(url+"/v1/"), option.WithAPIKey("k"), option.WithMaxRetries(0))
			rec := &recorder{}
			c, err := New(defaultRoute, []provider.Adapter{primary, gpt}, WithTelemetry(rec))
			require.NoError(t, err)

			turn := turnRequest()
			turn.Stream = tt.stream
			_, err = c.Stream(context.Background(), turn)

			var both *provider.BothProvidersFailedError
			require.ErrorAs(t, err, &both)
			assert.True(t, provider.IsServerError(both.PrimaryErr))
			assert.True(t, provider.IsServerError(both.FallbackErr))
			require.Len(t, rec.fallbacks, 1)
			require.Len(t, rec.failures, 1)
		})
	}
}

func TestStream_MidStreamErrorIsNotFailedOver(t *testing.T) {
	primary := providertest.New(messages.Anthropic, providertest.Turn{Text: []string{"par"}, MidStreamErr: overloaded(messages.Anthropic)})
	fallback := providertest.New(messages.OpenAI, providertest.Turn{Text: []string{"4"}})
	c, _ := setup(t, primary, fallback)

	ch, err := c.Stream(context.Background(), turnRequest())
	require.NoError(t, err)
	evs := drain(ch)
	require.Len(t, evs, 3)
	assert.IsType(t, provider.TurnStarted{}, evs[0])
	assert.Equal(t, provider.TextFragment{Text: "par"}, evs[1])
	assert.IsType(t, provider.Error{}, evs[2])
	assert.Equal(t, 0, fallback.Calls())
}

func TestStream_WithoutFallback(t *testing.T) {
	primary := providertest.New(messages.Anthropic, providertest.Turn{Err: overloaded(messages.Anthropic)})
	c, err := New(provider.Route{Primary: messages.Anthropic}, []provider.Adapter{primary})
	require.NoError(t, err)

	_, err = c.Stream(context.Background(), turnRequest())
	var se *provider.ServerError
	require.ErrorAs(t, err, &se)
}

func TestRouteSelection(t *testing.T) {
	primary := providertest.Repeat(messages.Anthropic, providertest.Turn{Text: []string{"from anthropic"}})
	fallback := providertest.Repeat(messages.OpenAI, providertest.Turn{Text: []string{"from openai"}})
	c, _ := setup(t, primary, fallback)
	assert.Equal(t, []messages.Provider{messages.Anthropic, messages.OpenAI}, c.Providers())

	t.Run("invalid routes", func(t *testing.T) {
		assert.Error(t, c.SetRoute(provider.Route{Primary: messages.OpenAI, Fallback: messages.OpenAI}))
		assert.Error(t, c.SetRoute(provider.Route{Primary: "acme"}))
		assert.Error(t, c.SetRoute(provider.Route{Primary: messages.OpenAI, Fallback: "acme"}))
		assert.Equal(t, defaultRoute, c.Route())
	})

	t.Run("per turn override", func(t *testing.T) {
		turn := turnRequest()
		turn.Route = &provider.Route{Primary: messages.OpenAI, Fallback: messages.Anthropic}
		resp, err := c.Complete(context.Background(), turn)
		require.NoError(t, err)
		assert.Equal(t, "from openai", resp.Text())
		assert.Equal(t, messages.OpenAI, resp.Routing.Primary)
		assert.Equal(t, defaultRoute, c.Route())

		turn.Route = &provider.Route{Primary: messages.OpenAI, Fallback: messages.OpenAI}
		_, err = c.Stream(context.Background(), turn)
		var ce *provider.ClientError
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("set route", func(t *testing.T) {
		require.NoError(t, c.SetRoute(provider.Route{Primary: messages.OpenAI, Fallback: messages.Anthropic}))
		resp, err := c.Complete(context.Background(), turnRequest())
		require.NoError(t, err)
		assert.Equal(t, "from openai", resp.Text())
		assert.False(t, resp.Routing.UsedFallback())
	})
}

func TestComplete(t *testing.T) {
	primary := providertest.New(messages.Anthropic, providertest.Turn{Err: overloaded(messages.Anthropic)})
	fallback := providertest.New(messages.OpenAI, providertest.Turn{
		Invocations: []messages.ToolInvocation{{ID: "call_1", Name: "calculator", Input: map[string]any{"expression": "2+2"}}},
	})
	c, _ := setup(t, primary, fallback)

	resp, err := c.Complete(context.Background(), turnRequest())
	require.NoError(t, err)
	assert.Equal(t, messages.StopToolUse, resp.StopReason)
	assert.Equal(t, messages.OpenAI, resp.Routing.Responded)
	require.Len(t, resp.ToolInvocations(), 1)
	assert.False(t, fallback.Requests()[0].Streaming())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(defaultRoute, nil)
	assert.Error(t, err)

	_, err = New(provider.Route{Primary: messages.Anthropic, Fallback: messages.Anthropic}, []provider.Adapter{providertest.New(messages.Anthropic)})
	assert.Error(t, err)
}
