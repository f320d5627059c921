package relay

import (
	"github.com/casualjim/relay/conversation"
	"github.com/casualjim/relay/internal/broker"
	"github.com/casualjim/relay/internal/telemetry"
	"github.com/fogfish/opts"
)

type Option = opts.Option[Orchestrator]

var (
	// WithConfig replaces the whole configuration. It is validated by New.
	WithConfig = opts.ForName[Orchestrator, Config]("config")

	// WithStore sets the conversation store, an in-memory store is used otherwise.
	WithStore = opts.ForName[Orchestrator, conversation.Store]("store")

	// WithBroker publishes every stream event on the conversation's topic.
	WithBroker = opts.ForName[Orchestrator, broker.Broker]("broker")

	// WithTelemetry sets the recorder for run failures.
	WithTelemetry = opts.ForName[Orchestrator, telemetry.Recorder]("telemetry")
)

// WithMaxIterations overrides the iteration ceiling of the configuration.
func WithMaxIterations(n int) Option {
	return opts.Type[Orchestrator](func(o *Orchestrator) error {
		o.config.MaxIterations = n
		return nil
	})
}

// WithSystemPrompt overrides the default system prompt of the configuration.
func WithSystemPrompt(prompt string) Option {
	return opts.Type[Orchestrator](func(o *Orchestrator) error {
		o.config.SystemPrompt = prompt
		return nil
	})
}
