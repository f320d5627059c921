package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/casualjim/relay/dialect/blocks"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/pkg/stdx"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/normalize"
	"github.com/fogfish/opts"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-sonnet-4-20250514"

	defaultMaxRetries = 2
)

var _ provider.Adapter = (*Adapter)(nil)

// Adapter talks to the Messages API through anthropic-sdk-go.
type Adapter struct {
	client        anthropic.Client
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	model         string
	maxRetries    int
	promptCaching bool
}

// Option configures an Adapter.
type Option = opts.Option[Adapter]

var (
	// WithBaseURL points the adapter at another endpoint, e.g. a proxy or a test server.
	WithBaseURL = opts.ForName[Adapter, string]("baseURL")
	// WithAPIKey sets the key sent in the x-api-key header.
	WithAPIKey = opts.ForName[Adapter, string]("apiKey")
	// WithModel sets the model used when a request does not name one.
	WithModel = opts.ForName[Adapter, string]("model")
	// WithHTTPClient replaces the default HTTP client.
	WithHTTPClient = opts.ForName[Adapter, *http.Client]("httpClient")
	// WithMaxRetries sets how often the client retries overloaded or failed
	// calls before reporting them.
	WithMaxRetries = opts.ForName[Adapter, int]("maxRetries")
	// WithPromptCaching marks the system prompt and the last tool as cacheable.
	WithPromptCaching = opts.ForName[Adapter, bool]("promptCaching")
)

// New creates an Adapter. An API key is required.
func New(options ...Option) (*Adapter, error) {
	a := &Adapter{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		maxRetries: defaultMaxRetries,
	}
	if err := opts.Apply(a, options); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.apiKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	a.baseURL = stdx.Coalesce(strings.TrimRight(strings.TrimSpace(a.baseURL), "/"), DefaultBaseURL)
	a.model = stdx.Coalesce(strings.TrimSpace(a.model), DefaultModel)
	if a.maxRetries < 0 {
		a.maxRetries = 0
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(a.apiKey),
		option.WithBaseURL(a.baseURL),
		option.WithMaxRetries(a.maxRetries),
	}
	if a.httpClient != nil {
		clientOptions = append(clientOptions, option.WithHTTPClient(a.httpClient))
	}
	a.client = anthropic.NewClient(clientOptions...)
	return a, nil
}

func (a *Adapter) Provider() messages.Provider { return messages.Anthropic }

func (a *Adapter) Model() string { return a.model }

func (a *Adapter) log() *slog.Logger {
	return slog.Default().With(slogx.LoggerName("relay.provider.anthropic"))
}

// ChatCompletion sends a block dialect request. Requests in another dialect are
// rejected with a ClientError before anything is sent.
func (a *Adapter) ChatCompletion(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	if req.Provider != messages.Anthropic || req.Blocks == nil {
		return nil, &provider.ClientError{Provider: messages.Anthropic, Message: fmt.Sprintf("expected a blocks request, got %q", req.Provider)}
	}

	params, err := a.buildParams(*req.Blocks)
	if err != nil {
		return nil, &provider.ClientError{Provider: messages.Anthropic, Message: "failed to build request", Err: err}
	}

	events := make(chan provider.StreamEvent, 10)
	go func() {
		defer close(events)
		if req.Blocks.Stream {
			a.runStream(ctx, params, events)
		} else {
			a.runOnce(ctx, params, events)
		}
	}()
	return events, nil
}

func (a *Adapter) buildParams(req blocks.Request) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(stdx.Coalesce(req.Model, a.model)),
		MaxTokens: req.EffectiveMaxTokens(),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.System != "" {
		system := anthropic.TextBlockParam{Text: req.System}
		if a.promptCaching {
			system.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{system}
	}

	for i, msg := range req.Messages {
		content := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, b := range msg.Content {
			switch b.Type {
			case blocks.TypeText:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case blocks.TypeToolUse:
				input := b.Input
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case blocks.TypeToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			default:
				return anthropic.MessageNewParams{}, fmt.Errorf("message %d: unsupported block type %q", i, b.Type)
			}
		}
		switch msg.Role {
		case blocks.RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		case blocks.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}

	for i, tool := range req.Tools {
		if tool.Name == "" {
			return anthropic.MessageNewParams{}, fmt.Errorf("tool %d has no name", i)
		}
		param := anthropic.ToolParam{Name: tool.Name, InputSchema: inputSchema(tool.InputSchema)}
		if tool.Description != "" {
			param.Description = anthropic.String(tool.Description)
		}
		if a.promptCaching && i == len(req.Tools)-1 {
			param.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &param})
	}
	return params, nil
}

// inputSchema splits a JSON schema object into the fields the client library
// models and the rest, which is sent unchanged.
func inputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	var out anthropic.ToolInputSchemaParam
	for key, value := range schema {
		switch key {
		case "type":
		case "properties":
			out.Properties = value
		case "required":
			out.Required = requiredFields(value)
		default:
			if out.ExtraFields == nil {
				out.ExtraFields = make(map[string]any)
			}
			out.ExtraFields[key] = value
		}
	}
	return out
}

func requiredFields(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		fields := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				fields = append(fields, s)
			}
		}
		return fields
	}
	return nil
}

func (a *Adapter) runOnce(ctx context.Context, params anthropic.MessageNewParams, events chan<- provider.StreamEvent) {
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		send(ctx, events, provider.Error{Err: classify(ctx, err)})
		return
	}

	raw := fromMessage(msg)
	if !send(ctx, events, provider.TurnStarted{Provider: messages.Anthropic, Model: raw.Model, ID: raw.ID}) {
		return
	}
	a.finish(ctx, raw, events)
}

func (a *Adapter) finish(ctx context.Context, raw blocks.Response, events chan<- provider.StreamEvent) {
	normalized := normalize.FromBlocksResponse(raw)
	a.log().DebugContext(ctx, "turn finished",
		slog.String("model", raw.Model),
		slog.String("stop_reason", string(normalized.StopReason)),
		slog.Int64("total_tokens", normalized.Usage.Total()),
	)
	_ = send(ctx, events, provider.TurnFinished{StopReason: normalized.StopReason, Usage: normalized.Usage}) &&
		send(ctx, events, provider.FinalResponse{
			Raw:      provider.RawResponse{Provider: messages.Anthropic, Blocks: &raw},
			Response: normalized,
		})
}

// fromMessage copies a client library message into the block dialect. Block
// kinds outside the canonical model, such as thinking, are dropped.
func fromMessage(msg *anthropic.Message) blocks.Response {
	out := blocks.Response{
		ID:         msg.ID,
		Type:       "message",
		Role:       blocks.RoleAssistant,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: blocks.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, cb := range msg.Content {
		switch cb.Type {
		case blocks.TypeText:
			out.Content = append(out.Content, blocks.TextBlock(cb.Text))
		case blocks.TypeToolUse:
			out.Content = append(out.Content, blocks.ToolUseBlock(cb.ID, cb.Name, normalize.ParseToolInput(cb.ID, string(cb.Input))))
		}
	}
	return out
}

// streamErrorPrefix starts the error the client library reports for an error
// event inside a stream. The event payload follows it.
const streamErrorPrefix = "received error while streaming: "

// classify maps client library errors onto the provider error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return provider.FromStatus(messages.Anthropic, apierr.StatusCode, gjson.Get(apierr.RawJSON(), "error.message").String(), err)
	}
	if payload, ok := strings.CutPrefix(err.Error(), streamErrorPrefix); ok && gjson.Valid(payload) {
		doc := gjson.Parse(payload)
		return streamError(doc.Get("error.type").String(), doc.Get("error.message").String())
	}
	return provider.Transport(messages.Anthropic, err)
}

// streamError classifies an error event received inside the stream.
func streamError(errType, message string) error {
	switch errType {
	case "overloaded_error":
		return provider.FromStatus(messages.Anthropic, provider.StatusOverloaded, message, nil)
	case "api_error":
		return provider.FromStatus(messages.Anthropic, http.StatusInternalServerError, message, nil)
	case "rate_limit_error":
		return provider.FromStatus(messages.Anthropic, http.StatusTooManyRequests, message, nil)
	default:
		return provider.FromStatus(messages.Anthropic, http.StatusBadRequest, message, nil)
	}
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
