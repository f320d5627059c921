package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/casualjim/relay/dialect/choices"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/pkg/stdx"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/normalize"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

var _ provider.Adapter = (*Adapter)(nil)

// Adapter streams chat completions through the openai-go client.
type Adapter struct {
	client *openai.Client
	model  string
}

// New creates an adapter for model. An empty model selects DefaultModel.
func New(model string, options ...option.RequestOption) *Adapter {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Adapter{
		client: openai.NewClient(options...),
		model:  model,
	}
}

func (a *Adapter) Provider() messages.Provider { return messages.OpenAI }

func (a *Adapter) Model() string { return a.model }

func (a *Adapter) log() *slog.Logger {
	return slog.Default().With(slogx.LoggerName("relay.provider.openai"))
}

func (a *Adapter) buildRequest(req choices.Request) (openai.ChatCompletionNewParams, error) {
	model := stdx.Coalesce(req.Model, a.model)

	msgs, err := messagesToOpenAI(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tool := range req.Tools {
		if tool.Function.Name == "" {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("tool %d has no name", i)
		}
		parameters := tool.Function.Parameters
		if parameters == nil {
			parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		def := openai.FunctionDefinitionParam{
			Name:       openai.String(tool.Function.Name),
			Parameters: openai.F(shared.FunctionParameters(parameters)),
		}
		if strings.TrimSpace(tool.Function.Description) != "" {
			def.Description = openai.String(tool.Function.Description)
		}
		tools[i] = openai.ChatCompletionToolParam{
			Type:     openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(def),
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: openai.F(msgs),
		Model:    openai.F(model),
		N:        openai.Int(1),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if RequiresCompletionTokens(model) {
		params.MaxCompletionTokens = openai.Int(maxTokens)
		params.Temperature = openai.Float(1.0)
	} else {
		params.MaxTokens = openai.Int(maxTokens)
		if req.Temperature != nil {
			params.Temperature = openai.Float(*req.Temperature)
		}
	}

	if len(tools) > 0 {
		params.Tools = openai.F(tools)
		params.ParallelToolCalls = openai.Bool(true)
	}
	if req.Stream {
		params.StreamOptions = openai.F(openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		})
	}
	return params, nil
}

// ChatCompletion sends a choices dialect request. Requests in another dialect
// are rejected with a ClientError before anything is sent.
func (a *Adapter) ChatCompletion(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	if req.Provider != messages.OpenAI || req.Choices == nil {
		return nil, &provider.ClientError{Provider: messages.OpenAI, Message: fmt.Sprintf("expected a choices request, got %q", req.Provider)}
	}

	params, err := a.buildRequest(*req.Choices)
	if err != nil {
		return nil, &provider.ClientError{Provider: messages.OpenAI, Message: "failed to build request", Err: err}
	}

	events := make(chan provider.StreamEvent, 10)
	go func() {
		defer close(events)
		if req.Choices.Stream {
			a.runStream(ctx, params, events)
		} else {
			a.runOnce(ctx, params, events)
		}
	}()
	return events, nil
}

// toolCallState tracks one streamed tool call by its delta index.
type toolCallState struct {
	id     string
	opened bool
	closed bool
}

func (a *Adapter) runStream(ctx context.Context, params openai.ChatCompletionNewParams, events chan<- provider.StreamEvent) {
	strm := a.client.Chat.Completions.NewStreaming(ctx, params)
	// a stream that failed to connect has no decoder, and closing it panics
	if err := strm.Err(); err != nil {
		send(ctx, events, provider.Error{Err: classify(ctx, err)})
		return
	}
	defer strm.Close()

	var (
		acc     openai.ChatCompletionAccumulator
		started bool
		model   string
		id      string
		calls   = make(map[int64]*toolCallState)
		usage   messages.Usage
	)

	closeCalls := func() bool {
		indexes := make([]int64, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
		for _, idx := range indexes {
			st := calls[idx]
			if !st.opened || st.closed {
				continue
			}
			st.closed = true
			if !send(ctx, events, provider.ToolClosed{ID: st.id}) {
				return false
			}
		}
		return true
	}

	for strm.Next() {
		chunk := strm.Current()
		acc.AddChunk(chunk)

		if !started {
			started = true
			model, id = chunk.Model, chunk.ID
			if !send(ctx, events, provider.TurnStarted{Provider: messages.OpenAI, Model: model, ID: id}) {
				return
			}
		}
		if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 {
			usage = messages.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if !send(ctx, events, provider.TextFragment{Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			st, ok := calls[tc.Index]
			if !ok {
				st = &toolCallState{}
				calls[tc.Index] = st
			}
			if !st.opened && tc.ID != "" {
				st.id, st.opened = tc.ID, true
				if !send(ctx, events, provider.ToolOpened{ID: tc.ID, Name: tc.Function.Name}) {
					return
				}
			}
			if tc.Function.Arguments != "" && st.opened {
				if !send(ctx, events, provider.ToolInputFragment{ID: st.id, Fragment: tc.Function.Arguments}) {
					return
				}
			}
		}
		if choice.FinishReason != "" && !closeCalls() {
			return
		}
	}

	if err := strm.Err(); err != nil {
		send(ctx, events, provider.Error{Err: classify(ctx, err)})
		return
	}
	if err := ctx.Err(); err != nil {
		send(ctx, events, provider.Error{Err: err})
		return
	}
	if !started {
		send(ctx, events, provider.Error{Err: provider.Transport(messages.OpenAI, errors.New("stream ended without any chunk"))})
		return
	}
	if !closeCalls() {
		return
	}

	raw := fromCompletion(&acc.ChatCompletion)
	raw.ID, raw.Model = id, model
	if usage.Total() > 0 {
		raw.Usage = choices.Usage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.Total(),
		}
	}
	a.finish(ctx, raw, events)
}

func (a *Adapter) runOnce(ctx context.Context, params openai.ChatCompletionNewParams, events chan<- provider.StreamEvent) {
	chat, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		send(ctx, events, provider.Error{Err: classify(ctx, err)})
		return
	}

	raw := fromCompletion(chat)
	if !send(ctx, events, provider.TurnStarted{Provider: messages.OpenAI, Model: raw.Model, ID: raw.ID}) {
		return
	}
	a.finish(ctx, raw, events)
}

func (a *Adapter) finish(ctx context.Context, raw choices.Response, events chan<- provider.StreamEvent) {
	normalized := normalize.FromChoicesResponse(raw)
	a.log().DebugContext(ctx, "turn finished",
		slog.String("model", raw.Model),
		slog.String("stop_reason", string(normalized.StopReason)),
		slog.Int64("total_tokens", normalized.Usage.Total()),
	)
	_ = send(ctx, events, provider.TurnFinished{StopReason: normalized.StopReason, Usage: normalized.Usage}) &&
		send(ctx, events, provider.FinalResponse{
			Raw:      provider.RawResponse{Provider: messages.OpenAI, Choices: &raw},
			Response: normalized,
		})
}

// classify maps client library errors onto the provider error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return provider.FromStatus(messages.OpenAI, apierr.StatusCode, "", err)
	}
	return provider.Transport(messages.OpenAI, err)
}

func messagesToOpenAI(msgs []choices.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for i, msg := range msgs {
		switch msg.Role {
		case choices.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case choices.RoleUser:
			result = append(result, openai.UserMessage(msg.Content))
		case choices.RoleTool:
			result = append(result, openai.ToolMessage(msg.ToolCallID, msg.Content))
		case choices.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				am := openai.ChatCompletionAssistantMessageParam{
					Role: openai.F(openai.ChatCompletionAssistantMessageParamRoleAssistant),
				}
				am.Content.Value = append(am.Content.Value, openai.TextPart(msg.Content))
				result = append(result, am)
				continue
			}
			tcd := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				tcd[j] = openai.ChatCompletionMessageToolCallParam{
					ID:   openai.String(tc.ID),
					Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
					Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      openai.String(tc.Function.Name),
						Arguments: openai.String(tc.Function.Arguments),
					}),
				}
			}
			param := openai.ChatCompletionMessageParam{
				Role:      openai.F(openai.ChatCompletionMessageParamRoleAssistant),
				ToolCalls: openai.F[any](tcd),
			}
			if msg.Content != "" {
				param.Content = openai.F[any](msg.Content)
			}
			result = append(result, param)
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}
	return result, nil
}

// fromCompletion copies a client library completion into the choices dialect.
func fromCompletion(chat *openai.ChatCompletion) choices.Response {
	out := choices.Response{
		ID:    chat.ID,
		Model: chat.Model,
		Usage: choices.Usage{
			PromptTokens:     chat.Usage.PromptTokens,
			CompletionTokens: chat.Usage.CompletionTokens,
			TotalTokens:      chat.Usage.TotalTokens,
		},
	}
	for _, c := range chat.Choices {
		choice := choices.Choice{
			Index:        c.Index,
			FinishReason: string(c.FinishReason),
			Message: choices.Message{
				Role:    choices.RoleAssistant,
				Content: c.Message.Content,
			},
		}
		for _, tc := range c.Message.ToolCalls {
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, choices.ToolCall{
				ID:   tc.ID,
				Type: choices.TypeFunction,
				Function: choices.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, choice)
	}
	return out
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, events chan<- provider.StreamEvent, ev provider.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
