package provider

import (
	"context"
	"fmt"

	"github.com/casualjim/relay/dialect/blocks"
	"github.com/casualjim/relay/dialect/choices"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/tool"
)

// Adapter is the transport boundary to a single model provider.
//
// ChatCompletion returns an error only when the request could not be started,
// for example because the request is in the wrong dialect. Everything that
// happens afterwards, including HTTP failures, is delivered as an Error event
// on the channel, which is closed when the turn ends.
type Adapter interface {
	Provider() messages.Provider
	Model() string
	ChatCompletion(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Request is a dialect request. Exactly one of Blocks or Choices is set,
// matching Provider.
type Request struct {
	Provider messages.Provider
	Blocks   *blocks.Request
	Choices  *choices.Request
}

// BlocksRequest wraps a block dialect request.
func BlocksRequest(req blocks.Request) Request {
	return Request{Provider: messages.Anthropic, Blocks: &req}
}

// ChoicesRequest wraps a choices dialect request.
func ChoicesRequest(req choices.Request) Request {
	return Request{Provider: messages.OpenAI, Choices: &req}
}

// Streaming reports whether the wrapped request asks for a streamed answer.
func (r Request) Streaming() bool {
	switch {
	case r.Blocks != nil:
		return r.Blocks.Stream
	case r.Choices != nil:
		return r.Choices.Stream
	}
	return false
}

// Model returns the model named by the wrapped request.
func (r Request) Model() string {
	switch {
	case r.Blocks != nil:
		return r.Blocks.Model
	case r.Choices != nil:
		return r.Choices.Model
	}
	return ""
}

// Validate checks that the union is populated consistently.
func (r Request) Validate() error {
	switch r.Provider {
	case messages.Anthropic:
		if r.Blocks == nil || r.Choices != nil {
			return fmt.Errorf("%s request must carry a blocks body", r.Provider)
		}
	case messages.OpenAI:
		if r.Choices == nil || r.Blocks != nil {
			return fmt.Errorf("%s request must carry a choices body", r.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q", r.Provider)
	}
	return nil
}

// RawResponse is a provider answer before normalization. Exactly one of Blocks
// or Choices is set, matching Provider.
type RawResponse struct {
	Provider messages.Provider
	Blocks   *blocks.Response
	Choices  *choices.Response
}

// Route names the provider tried first and the one used when it fails with a
// server-class error.
type Route struct {
	Primary  messages.Provider
	Fallback messages.Provider
}

// Validate rejects routes whose primary and fallback are the same provider.
func (r Route) Validate() error {
	if r.Primary == "" {
		return fmt.Errorf("route has no primary provider")
	}
	if r.Primary == r.Fallback {
		return fmt.Errorf("primary and fallback provider must differ, both are %q", r.Primary)
	}
	return nil
}

// TurnRequest is one model turn in canonical form.
type TurnRequest struct {
	ConversationID string
	System         string
	Messages       []messages.Message
	Tools          []tool.Schema
	MaxTokens      int64
	Temperature    *float64
	Stream         bool

	// Route overrides the coordinator's route for this turn when set.
	Route *Route
}
