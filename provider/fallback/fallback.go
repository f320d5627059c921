// Package fallback routes provider turns to a primary adapter and retries
// once on a fallback adapter when the primary fails with a server-class
// error.
//
// A failure is server-class when the provider answered with status 500 or
// above (including 529 overloaded) or could not be reached at all. Such a
// failure triggers the fallback only while no content has been streamed yet:
// the coordinator holds back the turn start of the primary stream and fails
// over when an error arrives before the first text or tool fragment. Client
// errors and context cancellation are surfaced unchanged.
//
// Before the fallback is called, the dialect request built for the primary is
// translated into the fallback's dialect, so the system prompt and tool
// schemas move to where the other provider expects them. When both providers
// fail the caller receives a provider.BothProvidersFailedError carrying both
// causes.
//
// Every FinalResponse passing through the coordinator is tagged with the
// route that produced it and its usage is recorded through telemetry.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/casualjim/relay/internal/registry"
	"github.com/casualjim/relay/internal/telemetry"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/normalize"
	"github.com/fogfish/opts"
)

// ErrNoResponse is returned by Complete when a stream ends without a final
// response.
var ErrNoResponse = errors.New("provider stream ended without a final response")

// Coordinator runs turns on a primary adapter and fails over to a fallback.
type Coordinator struct {
	adapters  registry.Registry[messages.Provider, provider.Adapter]
	telemetry telemetry.Recorder

	mu    sync.RWMutex
	route provider.Route
}

type Option = opts.Option[Coordinator]

// WithTelemetry sets the recorder for usage, fallback and failure records.
var WithTelemetry = opts.ForName[Coordinator, telemetry.Recorder]("telemetry")

// New creates a coordinator over adapters using route by default. A route
// without a fallback never fails over.
func New(route provider.Route, adapters []provider.Adapter, options ...Option) (*Coordinator, error) {
	c := &Coordinator{
		adapters:  registry.New[messages.Provider, provider.Adapter](),
		telemetry: telemetry.Log{},
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, err
	}
	if c.telemetry == nil {
		c.telemetry = telemetry.Nop{}
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		c.adapters.Add(a.Provider(), a)
	}
	if err := c.SetRoute(route); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) log() *slog.Logger {
	return slog.Default().With(slogx.LoggerName("relay.provider.fallback"))
}

// Providers returns the providers that have an adapter.
func (c *Coordinator) Providers() []messages.Provider {
	return c.adapters.Keys()
}

// Route returns the default route.
func (c *Coordinator) Route() provider.Route {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.route
}

// SetRoute changes the default route. The primary and the fallback, when
// set, must differ and both need an adapter.
func (c *Coordinator) SetRoute(route provider.Route) error {
	if err := c.checkRoute(route); err != nil {
		return err
	}
	c.mu.Lock()
	c.route = route
	c.mu.Unlock()
	c.log().Info("provider route changed",
		slog.String("primary", string(route.Primary)),
		slog.String("fallback", string(route.Fallback)),
	)
	return nil
}

func (c *Coordinator) checkRoute(route provider.Route) error {
	if err := route.Validate(); err != nil {
		return err
	}
	if _, ok := c.adapters.Get(route.Primary); !ok {
		return fmt.Errorf("no adapter for primary provider %q", route.Primary)
	}
	if route.Fallback != "" {
		if _, ok := c.adapters.Get(route.Fallback); !ok {
			return fmt.Errorf("no adapter for fallback provider %q", route.Fallback)
		}
	}
	return nil
}

func (c *Coordinator) resolve(turn provider.TurnRequest) (provider.Route, error) {
	if turn.Route == nil {
		return c.Route(), nil
	}
	if err := c.checkRoute(*turn.Route); err != nil {
		return provider.Route{}, err
	}
	return *turn.Route, nil
}

// Complete runs a non-streamed turn and returns the tagged response.
func (c *Coordinator) Complete(ctx context.Context, turn provider.TurnRequest) (messages.Response, error) {
	turn.Stream = false
	events, err := c.Stream(ctx, turn)
	if err != nil {
		return messages.Response{}, err
	}

	var (
		resp  messages.Response
		found bool
		fail  error
	)
	for ev := range events {
		switch ev := ev.(type) {
		case provider.FinalResponse:
			resp, found = ev.Response, true
		case provider.Error:
			fail = ev.Err
		}
	}
	if fail != nil {
		return messages.Response{}, fail
	}
	if !found {
		if err := ctx.Err(); err != nil {
			return messages.Response{}, err
		}
		return messages.Response{}, ErrNoResponse
	}
	return resp, nil
}

// Stream starts a turn on the primary provider, failing over to the fallback
// when the primary fails before producing any content.
func (c *Coordinator) Stream(ctx context.Context, turn provider.TurnRequest) (<-chan provider.StreamEvent, error) {
	route, err := c.resolve(turn)
	if err != nil {
		return nil, &provider.ClientError{Message: "invalid route", Err: err}
	}

	primary, _ := c.adapters.Get(route.Primary)
	req, err := normalize.Request(turn, primary.Provider(), primary.Model())
	if err != nil {
		return nil, &provider.ClientError{Provider: route.Primary, Message: "failed to build request", Err: err}
	}

	head, rest, perr := start(ctx, primary, req)
	if perr == nil {
		return c.forward(ctx, turn, route, route.Primary, head, rest), nil
	}
	if route.Fallback == "" || ctx.Err() != nil || !provider.IsServerError(perr) {
		return nil, perr
	}

	c.telemetry.RecordFallback(ctx, telemetry.Fallback{
		ConversationID: turn.ConversationID,
		Primary:        route.Primary,
		Fallback:       route.Fallback,
		StatusCode:     statusCode(perr),
		Reason:         perr.Error(),
	})

	fallback, _ := c.adapters.Get(route.Fallback)
	freq, err := normalize.Translate(req, fallback.Provider(), fallback.Model())
	if err != nil {
		return nil, c.bothFailed(ctx, turn, route, perr, &provider.ClientError{Provider: route.Fallback, Message: "failed to translate request", Err: err})
	}

	head, rest, ferr := start(ctx, fallback, freq)
	if ferr != nil {
		if ctx.Err() != nil {
			return nil, ferr
		}
		return nil, c.bothFailed(ctx, turn, route, perr, ferr)
	}
	return c.forward(ctx, turn, route, route.Fallback, head, rest), nil
}

func (c *Coordinator) bothFailed(ctx context.Context, turn provider.TurnRequest, route provider.Route, primaryErr, fallbackErr error) error {
	err := &provider.BothProvidersFailedError{
		Primary:     route.Primary,
		Fallback:    route.Fallback,
		PrimaryErr:  primaryErr,
		FallbackErr: fallbackErr,
	}
	c.telemetry.RecordFailure(ctx, telemetry.Failure{
		ConversationID: turn.ConversationID,
		Component:      "fallback",
		Message:        err.Error(),
	})
	return err
}

// start calls the adapter and holds back events until the first one with
// content. An error is returned when the call is rejected, when an error
// arrives before any content, or when the stream closes before that.
func start(ctx context.Context, adapter provider.Adapter, req provider.Request) ([]provider.StreamEvent, <-chan provider.StreamEvent, error) {
	events, err := adapter.ChatCompletion(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var head []provider.StreamEvent
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, nil, provider.Transport(adapter.Provider(), errors.New("stream closed before any content"))
			}
			if e, isErr := ev.(provider.Error); isErr {
				return nil, nil, e.Err
			}
			head = append(head, ev)
			if _, started := ev.(provider.TurnStarted); !started {
				return head, events, nil
			}
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

// forward relays the held back events and the rest of the stream, tagging final responses
// with the route and recording their usage.
func (c *Coordinator) forward(ctx context.Context, turn provider.TurnRequest, route provider.Route, responded messages.Provider, head []provider.StreamEvent, rest <-chan provider.StreamEvent) <-chan provider.StreamEvent {
	out := make(chan provider.StreamEvent, 10)
	routing := messages.Routing{Primary: route.Primary, Fallback: route.Fallback, Responded: responded}

	go func() {
		defer close(out)
		relay := func(ev provider.StreamEvent) bool {
			if final, ok := ev.(provider.FinalResponse); ok {
				final.Response.Routing = routing
				c.telemetry.RecordUsage(ctx, telemetry.NewUsage(turn.ConversationID, final.Response))
				ev = final
			}
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, ev := range head {
			if !relay(ev) {
				return
			}
		}
		for ev := range rest {
			if !relay(ev) {
				return
			}
		}
	}()
	return out
}

func statusCode(err error) int {
	var se *provider.ServerError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
