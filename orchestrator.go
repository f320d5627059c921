package relay

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/casualjim/relay/conversation"
	"github.com/casualjim/relay/events"
	"github.com/casualjim/relay/internal/broker"
	"github.com/casualjim/relay/internal/executor"
	"github.com/casualjim/relay/internal/telemetry"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/normalize"
	"github.com/casualjim/relay/tool"
	"github.com/fogfish/opts"
)

// ErrIncompleteTurn is reported when a provider stream ends without a final
// response.
var ErrIncompleteTurn = errors.New("provider stream ended without a final response")

// Coordinator starts provider turns. *fallback.Coordinator is the
// implementation used outside of tests.
type Coordinator interface {
	Stream(ctx context.Context, turn provider.TurnRequest) (<-chan provider.StreamEvent, error)
}

// ChatRequest is a user message sent to a conversation.
type ChatRequest struct {
	Message string `json:"message"`
	// ConversationID continues an existing conversation. Unknown ids create a
	// conversation with that id, an empty id creates one with a generated id.
	ConversationID string `json:"conversation_id,omitempty"`
	// SystemPrompt overrides the configured system prompt.
	SystemPrompt string   `json:"system_prompt,omitempty"`
	MaxTokens    int64    `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	// IncludeTools defaults to true.
	IncludeTools *bool `json:"include_tools,omitempty"`
	// PrimaryProvider overrides the configured route when set. An empty
	// FallbackProvider then disables failover for this request.
	PrimaryProvider  messages.Provider `json:"primary_provider,omitempty"`
	FallbackProvider messages.Provider `json:"fallback_provider,omitempty"`
}

func (r ChatRequest) route() *provider.Route {
	if r.PrimaryProvider == "" {
		return nil
	}
	return &provider.Route{Primary: r.PrimaryProvider, Fallback: r.FallbackProvider}
}

// Orchestrator runs the tool-calling loop of a conversation and streams its
// progress as events.
type Orchestrator struct {
	coordinator Coordinator
	tools       *tool.Registry
	config      Config
	store       conversation.Store
	broker      broker.Broker
	telemetry   telemetry.Recorder

	runner        *executor.Runner
	policy        executor.Policy
	conversations *conversation.Service
	log           *slog.Logger
}

// New creates an orchestrator. Options are applied in order, so WithConfig
// resets the effect of earlier field overrides.
func New(coordinator Coordinator, tools *tool.Registry, options ...Option) (*Orchestrator, error) {
	if coordinator == nil {
		return nil, errors.New("coordinator cannot be nil")
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}

	o := &Orchestrator{
		coordinator: coordinator,
		tools:       tools,
		config:      DefaultConfig(),
		telemetry:   telemetry.Log{},
		log:         slog.Default().With(slogx.LoggerName("relay")),
	}
	if err := opts.Apply(o, options); err != nil {
		return nil, err
	}
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if o.store == nil {
		o.store = conversation.NewMemory()
	}
	if o.telemetry == nil {
		o.telemetry = telemetry.Nop{}
	}
	o.runner = executor.NewRunner(tools, o.config.ToolTimeout)
	o.policy = o.config.Policy()
	o.conversations = conversation.NewService(o.store)
	return o, nil
}

// Config returns the validated configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Conversations returns the management operations over the orchestrator's store.
func (o *Orchestrator) Conversations() *conversation.Service {
	return o.conversations
}

// Tools returns the registry the orchestrator executes invocations against.
func (o *Orchestrator) Tools() *tool.Registry {
	return o.tools
}

// Stream sends req and yields the events of the resulting run.
//
// Every run starts with a connection test and, as long as the caller keeps
// iterating, ends with exactly one of message complete, max iterations
// reached or error. Events are produced on demand.
//
// A caller that stops iterating is treated as a disconnect: the provider turn
// in flight is drained, a started tool batch runs to completion and its
// outcomes are stored, but no further provider turn starts. Cancelling ctx
// aborts the provider turn without storing any part of it.
func (o *Orchestrator) Stream(ctx context.Context, req ChatRequest) iter.Seq[events.Event] {
	return func(yield func(events.Event) bool) {
		r := &run{
			o:         o,
			ctx:       ctx,
			req:       req,
			yield:     yield,
			connected: true,
			log:       o.log,
		}
		r.execute()
	}
}

type state int

const (
	awaitingModel state = iota
	streamingText
	streamingToolInput
	toolsPending
	toolsExecuting
	complete
	maxIterations
	failed
)

func (s state) String() string {
	switch s {
	case awaitingModel:
		return "awaiting_model"
	case streamingText:
		return "streaming_text"
	case streamingToolInput:
		return "streaming_tool_input"
	case toolsPending:
		return "tools_pending"
	case toolsExecuting:
		return "tools_executing"
	case complete:
		return "complete"
	case maxIterations:
		return "max_iterations"
	case failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// run is the state of one Stream call.
type run struct {
	o     *Orchestrator
	ctx   context.Context
	req   ChatRequest
	yield func(events.Event) bool
	log   *slog.Logger

	convID    string
	topic     broker.Topic
	state     state
	iteration int
	total     int
	toolCalls int
	routing   messages.Routing

	connected bool
	inYield   bool
	finished  bool
}

func (r *run) execute() {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		// panics of the caller's loop body belong to the caller
		if r.inYield {
			panic(rec)
		}
		r.log.ErrorContext(r.ctx, "orchestrator panicked",
			slogx.Conversation(r.convID),
			slog.Any("panic", rec),
			slog.String("stack", string(debug.Stack())),
		)
		r.fail(fmt.Errorf("panic: %v", rec))
	}()

	if !r.emit(events.Connected()) {
		return
	}
	if strings.TrimSpace(r.req.Message) == "" {
		r.fail(errors.New("message cannot be empty"))
		return
	}

	conv, created, err := r.o.store.GetOrCreate(r.ctx, r.req.ConversationID)
	if err != nil {
		r.fail(err)
		return
	}
	r.convID = conv.ID
	r.log = r.log.With(slogx.Conversation(r.convID))
	if r.o.broker != nil {
		r.topic = r.o.broker.Topic(r.ctx, broker.ConversationTopic(r.convID))
	}
	if created {
		r.log.InfoContext(r.ctx, "conversation created")
	}

	if err := r.o.store.Append(r.ctx, r.convID, messages.User(r.req.Message)); err != nil {
		r.fail(err)
		return
	}
	r.total = conv.Len() + 1
	if !r.emit(events.StreamStart{
		ConversationID:    r.convID,
		MessageCount:      r.total,
		IsNewConversation: r.total == 1,
	}) {
		return
	}

	for r.iteration < r.o.config.MaxIterations {
		if !r.connected {
			r.log.InfoContext(r.ctx, "client disconnected, not starting another turn", slog.Int("iteration", r.iteration))
			return
		}
		if err := r.ctx.Err(); err != nil {
			r.fail(err)
			return
		}
		r.iteration++

		resp, err := r.streamTurn()
		if err != nil {
			r.fail(err)
			return
		}
		r.routing = resp.Routing

		invocations := resp.ToolInvocations()
		stored := context.WithoutCancel(r.ctx)
		if err := r.o.store.Append(stored, r.convID, resp.Message()); err != nil {
			r.fail(err)
			return
		}
		r.total++

		if len(invocations) == 0 {
			r.transition(complete)
			r.emit(events.MessageComplete{
				ConversationID: r.convID,
				IterationsUsed: r.iteration,
				TotalMessages:  r.total,
				Provider:       string(r.routing.Responded),
				UsedFallback:   r.routing.UsedFallback(),
				Note:           events.ResumeNote,
			})
			return
		}

		r.transition(toolsPending)
		outcomes := r.executeTools(stored, invocations)
		results := make([]messages.Message, 0, len(outcomes))
		for _, outcome := range outcomes {
			results = append(results, messages.ToolResult(outcome))
		}
		if err := r.o.store.Append(stored, r.convID, results...); err != nil {
			r.fail(err)
			return
		}
		r.total += len(results)
		r.transition(awaitingModel)
	}

	if !r.connected {
		return
	}
	r.transition(maxIterations)
	r.log.WarnContext(r.ctx, "iteration limit reached", slog.Int("max_iterations", r.o.config.MaxIterations))
	r.emit(events.MaxIterationsReached{
		ConversationID: r.convID,
		MaxIterations:  r.o.config.MaxIterations,
		TotalMessages:  r.total,
		Note:           events.ResumeNote,
	})
}

// streamTurn runs one provider turn, forwarding text as it arrives, and
// returns the reconciled response.
func (r *run) streamTurn() (messages.Response, error) {
	r.transition(awaitingModel)
	conv, ok, err := r.o.store.Get(r.ctx, r.convID)
	if err != nil {
		return messages.Response{}, err
	}
	if !ok {
		return messages.Response{}, fmt.Errorf("%w: %s", conversation.ErrNotFound, r.convID)
	}

	r.log.InfoContext(r.ctx, "starting provider turn",
		slog.Int("iteration", r.iteration),
		slog.Int("messages", conv.Len()),
	)
	stream, err := r.o.coordinator.Stream(r.ctx, r.turnRequest(conv.Messages))
	if err != nil {
		return messages.Response{}, err
	}

	var (
		buffers = make(map[string]*strings.Builder)
		parsed  = make(map[string]map[string]any)
		final   *messages.Response
		failure error
	)
	// the channel is always drained so the producer can finish
	for ev := range stream {
		switch ev := ev.(type) {
		case provider.TurnStarted:
			r.emit(events.MessageStart{ConversationID: r.convID, Iteration: r.iteration})
		case provider.TextFragment:
			r.transition(streamingText)
			r.emit(events.TextDelta{Text: ev.Text, ConversationID: r.convID})
		case provider.ToolOpened:
			r.transition(streamingToolInput)
			buffers[ev.ID] = &strings.Builder{}
		case provider.ToolInputFragment:
			if buf, ok := buffers[ev.ID]; ok {
				buf.WriteString(ev.Fragment)
			}
		case provider.ToolClosed:
			if buf, ok := buffers[ev.ID]; ok {
				parsed[ev.ID] = normalize.ParseToolInput(ev.ID, buf.String())
				delete(buffers, ev.ID)
			}
		case provider.TurnFinished:
			r.log.DebugContext(r.ctx, "provider turn finished",
				slog.String("stop_reason", string(ev.StopReason)),
				slog.Int64("input_tokens", ev.Usage.InputTokens),
				slog.Int64("output_tokens", ev.Usage.OutputTokens),
			)
		case provider.FinalResponse:
			resp := ev.Response
			final = &resp
		case provider.Error:
			failure = ev.Err
		}
	}

	if failure != nil {
		return messages.Response{}, failure
	}
	if final == nil {
		if err := r.ctx.Err(); err != nil {
			return messages.Response{}, err
		}
		return messages.Response{}, ErrIncompleteTurn
	}
	return reconcile(*final, parsed), nil
}

func (r *run) turnRequest(history []messages.Message) provider.TurnRequest {
	turn := provider.TurnRequest{
		ConversationID: r.convID,
		System:         r.o.config.SystemPrompt,
		Messages:       history,
		MaxTokens:      r.o.config.MaxTokens,
		Temperature:    r.req.Temperature,
		Stream:         true,
		Route:          r.req.route(),
	}
	if r.req.SystemPrompt != "" {
		turn.System = r.req.SystemPrompt
	}
	if r.req.MaxTokens > 0 {
		turn.MaxTokens = r.req.MaxTokens
	}
	if turn.Temperature == nil {
		temperature := r.o.config.Temperature
		turn.Temperature = &temperature
	}
	if r.req.IncludeTools == nil || *r.req.IncludeTools {
		turn.Tools = r.o.tools.Schemas()
	}
	return turn
}

// reconcile fills invocations the final response carries without input with
// the input assembled from the stream.
func reconcile(resp messages.Response, streamed map[string]map[string]any) messages.Response {
	parts := make([]messages.Part, len(resp.Parts))
	for i, part := range resp.Parts {
		parts[i] = part
		ip, ok := part.(messages.ToolInvocationPart)
		if !ok || ip.Invocation.Input != nil {
			continue
		}
		inv := ip.Invocation
		if input, found := streamed[inv.ID]; found {
			inv.Input = input
		} else {
			inv.Input = map[string]any{}
		}
		parts[i] = messages.Invocation(inv)
	}
	resp.Parts = parts
	return resp
}

// executeTools runs one batch and returns its outcomes in declaration order.
// The batch always completes, ctx is detached from the caller's cancellation.
func (r *run) executeTools(ctx context.Context, invocations []messages.ToolInvocation) []messages.ToolOutcome {
	r.transition(toolsExecuting)

	remaining := r.o.config.MaxToolCalls - r.toolCalls
	if remaining < 0 {
		remaining = 0
	}
	plan := r.o.policy.Plan(invocations, remaining)
	r.log.InfoContext(r.ctx, "executing tools",
		slog.String("mode", string(plan.Mode)),
		slog.Int("run", len(plan.Run)),
		slog.Int("skipped", len(plan.Skipped)),
	)
	r.toolCalls += len(plan.Run)

	outcomes := make([]messages.ToolOutcome, len(invocations))
	for p := range r.o.runner.Dispatch(ctx, plan) {
		if p.Started() {
			r.emit(toolCallEvent(r.convID, p.Invocation))
			continue
		}
		if p.Skipped {
			r.emit(toolCallEvent(r.convID, p.Invocation))
		}
		outcomes[p.Index] = *p.Outcome
		r.emit(toolResultEvent(r.convID, *p.Outcome))
	}
	return outcomes
}

func toolCallEvent(convID string, inv messages.ToolInvocation) events.ToolCall {
	return events.ToolCall{
		ToolName:       inv.Name,
		ToolID:         inv.ID,
		Input:          inv.Input,
		ConversationID: convID,
	}
}

func toolResultEvent(convID string, outcome messages.ToolOutcome) events.ToolResult {
	result := outcome.Result
	if result == nil {
		result = outcome.Content
	}
	return events.ToolResult{
		ToolName:       outcome.ToolName,
		ToolID:         outcome.InvocationID,
		Success:        outcome.Success,
		Result:         result,
		Error:          outcome.Error,
		DurationMS:     outcome.Duration.Milliseconds(),
		ConversationID: convID,
	}
}

func (r *run) transition(next state) {
	if r.state == next {
		return
	}
	r.log.DebugContext(r.ctx, "state changed", slog.String("from", r.state.String()), slog.String("to", next.String()))
	r.state = next
}

// emit publishes ev to observers and hands it to the caller while the caller
// is still iterating. It reports whether the caller wants more events.
func (r *run) emit(ev events.Event) bool {
	if events.Terminal(ev) {
		r.finished = true
	}
	if r.topic != nil {
		if err := r.topic.Publish(context.WithoutCancel(r.ctx), ev); err != nil {
			r.log.WarnContext(r.ctx, "failed to publish event", slog.String("type", string(ev.Type())), slogx.Error(err))
		}
	}
	if !r.connected {
		return false
	}
	r.inYield = true
	r.connected = r.yield(ev)
	r.inYield = false
	return r.connected
}

// fail ends the run with an error event unless a terminal event was already
// emitted.
func (r *run) fail(err error) {
	if r.finished {
		return
	}
	r.transition(failed)

	var msg string
	if r.iteration > 0 {
		msg = fmt.Sprintf("Streaming iteration %d failed: %v", r.iteration, err)
	} else {
		msg = fmt.Sprintf("Streaming chat error: %v", err)
	}
	r.log.ErrorContext(r.ctx, "run failed", slog.Int("iteration", r.iteration), slogx.Error(err))
	r.o.telemetry.RecordFailure(context.WithoutCancel(r.ctx), telemetry.Failure{
		ConversationID: r.convID,
		Component:      "orchestrator",
		Message:        msg,
		Iteration:      r.iteration,
	})
	r.emit(events.Error{Message: msg, ConversationID: r.convID, Iteration: r.iteration})
}
