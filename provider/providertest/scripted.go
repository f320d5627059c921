// Package providertest provides a deterministic provider.Adapter that replays
// scripted turns. It is used by tests and by the offline mode of the host.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casualjim/relay/dialect/blocks"
	"github.com/casualjim/relay/dialect/choices"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/uuidx"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/normalize"
	json "github.com/goccy/go-json"
)

// Turn configures one provider turn.
type Turn struct {
	// Text is streamed as one fragment per element.
	Text        []string
	Invocations []messages.ToolInvocation
	// StopReason defaults to tool_use when there are invocations, end_turn otherwise.
	StopReason messages.StopReason
	Usage      messages.Usage

	// Err is emitted as the only event of the turn.
	Err error
	// MidStreamErr is emitted after the text fragments instead of finishing the turn.
	MidStreamErr error
	// Reject is returned by ChatCompletion before any event.
	Reject error
	// Latency delays the first event.
	Latency time.Duration
}

// Responder produces the turn for the n-th call (zero based).
type Responder func(n int, req provider.Request) Turn

// Scripted replays turns in order and records every request it receives.
type Scripted struct {
	mu        sync.Mutex
	provider  messages.Provider
	model     string
	responder Responder
	requests  []provider.Request
}

var _ provider.Adapter = (*Scripted)(nil)

// New creates an adapter that answers with turns in order and fails once the
// script is exhausted.
func New(p messages.Provider, turns ...Turn) *Scripted {
	cloned := make([]Turn, len(turns))
	copy(cloned, turns)
	return NewFunc(p, func(n int, _ provider.Request) Turn {
		if n >= len(cloned) {
			return Turn{Reject: fmt.Errorf("script exhausted at step %d", n+1)}
		}
		return cloned[n]
	})
}

// Repeat creates an adapter that answers every call with turn.
func Repeat(p messages.Provider, turn Turn) *Scripted {
	return NewFunc(p, func(int, provider.Request) Turn { return turn })
}

// NewFunc creates an adapter backed by fn.
func NewFunc(p messages.Provider, fn Responder) *Scripted {
	return &Scripted{
		provider:  p,
		model:     string(p) + "-scripted",
		responder: fn,
	}
}

func (s *Scripted) Provider() messages.Provider { return s.provider }

func (s *Scripted) Model() string { return s.model }

// Requests returns a copy of the requests received so far.
func (s *Scripted) Requests() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns the number of ChatCompletion calls received so far.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Scripted) ChatCompletion(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, &provider.ClientError{Provider: s.provider, Message: "invalid request", Err: err}
	}
	if req.Provider != s.provider {
		return nil, &provider.ClientError{Provider: s.provider, Message: fmt.Sprintf("expected a %s request, got %q", s.provider, req.Provider)}
	}

	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	turn := s.responder(n, req)
	if turn.Reject != nil {
		return nil, turn.Reject
	}

	events := make(chan provider.StreamEvent, 10)
	go func() {
		defer close(events)
		s.play(ctx, turn, events)
	}()
	return events, nil
}

func (s *Scripted) play(ctx context.Context, turn Turn, events chan<- provider.StreamEvent) {
	if turn.Latency > 0 {
		select {
		case <-time.After(turn.Latency):
		case <-ctx.Done():
			send(ctx, events, provider.Error{Err: ctx.Err()})
			return
		}
	}
	if turn.Err != nil {
		send(ctx, events, provider.Error{Err: turn.Err})
		return
	}

	id := uuidx.NewString()
	if !send(ctx, events, provider.TurnStarted{Provider: s.provider, Model: s.model, ID: id}) {
		return
	}
	for _, text := range turn.Text {
		if !send(ctx, events, provider.TextFragment{Text: text}) {
			return
		}
	}
	if turn.MidStreamErr != nil {
		send(ctx, events, provider.Error{Err: turn.MidStreamErr})
		return
	}
	for _, inv := range turn.Invocations {
		input := inv.InputJSON()
		half := len(input) / 2
		ok := send(ctx, events, provider.ToolOpened{ID: inv.ID, Name: inv.Name}) &&
			send(ctx, events, provider.ToolInputFragment{ID: inv.ID, Fragment: input[:half]}) &&
			send(ctx, events, provider.ToolInputFragment{ID: inv.ID, Fragment: input[half:]}) &&
			send(ctx, events, provider.ToolClosed{ID: inv.ID})
		if !ok {
			return
		}
	}

	raw, err := s.raw(id, turn)
	if err != nil {
		send(ctx, events, provider.Error{Err: err})
		return
	}
	var normalized messages.Response
	switch {
	case raw.Blocks != nil:
		normalized = normalize.FromBlocksResponse(*raw.Blocks)
	default:
		normalized = normalize.FromChoicesResponse(*raw.Choices)
	}
	_ = send(ctx, events, provider.TurnFinished{StopReason: normalized.StopReason, Usage: normalized.Usage}) &&
		send(ctx, events, provider.FinalResponse{Raw: raw, Response: normalized})
}

// raw renders turn in the wire dialect of the scripted provider.
func (s *Scripted) raw(id string, turn Turn) (provider.RawResponse, error) {
	var text string
	for _, t := range turn.Text {
		text += t
	}
	stop := turn.StopReason
	if stop == "" {
		stop = messages.StopEndTurn
		if len(turn.Invocations) > 0 {
			stop = messages.StopToolUse
		}
	}

	switch s.provider {
	case messages.Anthropic:
		resp := blocks.Response{
			ID:         id,
			Type:       "message",
			Role:       blocks.RoleAssistant,
			Model:      s.model,
			StopReason: string(stop),
			Usage:      blocks.Usage{InputTokens: turn.Usage.InputTokens, OutputTokens: turn.Usage.OutputTokens},
		}
		if text != "" {
			resp.Content = append(resp.Content, blocks.TextBlock(text))
		}
		for _, inv := range turn.Invocations {
			resp.Content = append(resp.Content, blocks.ToolUseBlock(inv.ID, inv.Name, inv.Input))
		}
		return provider.RawResponse{Provider: s.provider, Blocks: &resp}, nil

	case messages.OpenAI:
		msg := choices.Message{Role: choices.RoleAssistant, Content: text}
		for _, inv := range turn.Invocations {
			args, err := json.Marshal(inv.Input)
			if err != nil {
				return provider.RawResponse{}, fmt.Errorf("encode arguments of %s: %w", inv.ID, err)
			}
			if inv.Input == nil {
				args = []byte("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, choices.ToolCall{
				ID:       inv.ID,
				Type:     choices.TypeFunction,
				Function: choices.FunctionCall{Name: inv.Name, Arguments: string(args)},
			})
		}
		resp := choices.Response{
			ID:      id,
			Model:   s.model,
			Choices: []choices.Choice{{Message: msg, FinishReason: finishReason(stop)}},
			Usage: choices.Usage{
				PromptTokens:     turn.Usage.InputTokens,
				CompletionTokens: turn.Usage.OutputTokens,
				TotalTokens:      turn.Usage.Total(),
			},
		}
		return provider.RawResponse{Provider: s.provider, Choices: &resp}, nil

	default:
		return provider.RawResponse{}, fmt.Errorf("unknown provider %q", s.provider)
	}
}

func finishReason(stop messages.StopReason) string {
	switch stop {
	case messages.StopToolUse:
		return choices.FinishToolCalls
	case messages.StopMaxTokens:
		return choices.FinishLength
	case messages.StopRefusal:
		return choices.FinishContentFilter
	default:
		return choices.FinishStop
	}
}

func send(ctx context.Context, events chan<- provider.StreamEvent, ev provider.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
