package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v9"
	"github.com/casualjim/relay"
	"github.com/casualjim/relay/internal/broker"
	"github.com/casualjim/relay/internal/telemetry"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/natsx"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/anthropic"
	"github.com/casualjim/relay/provider/fallback"
	"github.com/casualjim/relay/provider/openai"
	"github.com/casualjim/relay/tool"
	"github.com/casualjim/relay/tool/builtin"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
)

// hostEnv holds the settings that belong to the process rather than to the
// orchestrator.
type hostEnv struct {
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL"`
	NATSURL          string `env:"NATS_URL"`
	TelemetryPrefix  string `env:"RELAY_TELEMETRY_SUBJECT" envDefault:"relay.telemetry"`
	LogLevel         string `env:"RELAY_LOG_LEVEL" envDefault:"info"`
	Addr             string `env:"RELAY_ADDR" envDefault:":8000"`
}

type app struct {
	env     hostEnv
	cfg     relay.Config
	offline bool
	nc      *nats.Conn
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Streaming tool-calling chat with provider fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.close()
		},
	}
	root.PersistentFlags().BoolVar(&a.offline, "offline", false, "answer with a local scripted model instead of calling the providers")

	root.AddCommand(newChatCmd(a))
	root.AddCommand(newServeCmd(a))
	root.CompletionOptions.HiddenDefaultCmd = true
	return root
}

func (a *app) load() error {
	if err := env.Parse(&a.env); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	setLogLevel(a.env.LogLevel)

	cfg, err := relay.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	if a.env.NATSURL != "" {
		nc, err := natsx.NewClient(a.env.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		a.nc = nc
		slog.Info("connected to nats", slog.String("url", nc.ConnectedUrlRedacted()))
	}
	return nil
}

func (a *app) close() {
	if a.nc == nil {
		return
	}
	if err := a.nc.Drain(); err != nil {
		slog.Warn("failed to drain nats connection", slogx.Error(err))
	}
}

func (a *app) recorder() telemetry.Recorder {
	if a.nc == nil {
		return telemetry.Log{}
	}
	return telemetry.Multi{telemetry.Log{}, telemetry.NewNATS(a.nc, a.env.TelemetryPrefix)}
}

// broker returns the NATS broker when connected. Without NATS a local broker
// is returned only when local is set, since in-process subscribers only
// exist in the server.
func (a *app) broker(local bool) broker.Broker {
	switch {
	case a.nc != nil:
		return broker.NATS(a.nc)
	case local:
		return broker.Local()
	}
	return nil
}

func (a *app) adapters() []provider.Adapter {
	if a.offline {
		return []provider.Adapter{offlineAdapter(messages.Anthropic), offlineAdapter(messages.OpenAI)}
	}

	var adapters []provider.Adapter
	if a.env.AnthropicAPIKey != "" {
		claude, err := anthropic.New(
			anthropic.WithAPIKey(a.env.AnthropicAPIKey),
			anthropic.WithBaseURL(a.env.AnthropicBaseURL),
			anthropic.WithModel(a.cfg.AnthropicModel),
			anthropic.WithPromptCaching(true),
		)
		if err != nil {
			slog.Warn("anthropic adapter disabled", slogx.Error(err))
		} else {
			adapters = append(adapters, claude)
		}
	}
	if a.env.OpenAIAPIKey != "" {
		options := []option.RequestOption{option.WithAPIKey(a.env.OpenAIAPIKey)}
		if a.env.OpenAIBaseURL != "" {
			options = append(options, option.WithBaseURL(a.env.OpenAIBaseURL))
		}
		adapters = append(adapters, openai.New(a.cfg.OpenAIModel, options...))
	}
	return adapters
}

// route drops the configured fallback when it has no adapter, so a single
// configured key still gives a working host.
func (a *app) route(adapters []provider.Adapter) (provider.Route, error) {
	available := make(map[messages.Provider]bool, len(adapters))
	for _, adapter := range adapters {
		available[adapter.Provider()] = true
	}

	route := a.cfg.Route()
	if !available[route.Primary] {
		return provider.Route{}, fmt.Errorf("no credentials for primary provider %q, set its API key or use --offline", route.Primary)
	}
	if route.Fallback != "" && !available[route.Fallback] {
		slog.Warn("fallback provider disabled, no credentials", slogx.Provider(route.Fallback))
		route.Fallback = ""
	}
	return route, nil
}

func (a *app) orchestrator(b broker.Broker) (*relay.Orchestrator, error) {
	adapters := a.adapters()
	if len(adapters) == 0 {
		return nil, errors.New("no provider credentials configured, set ANTHROPIC_API_KEY or OPENAI_API_KEY, or use --offline")
	}
	route, err := a.route(adapters)
	if err != nil {
		return nil, err
	}

	recorder := a.recorder()
	coordinator, err := fallback.New(route, adapters, fallback.WithTelemetry(recorder))
	if err != nil {
		return nil, err
	}

	tools := tool.NewRegistry()
	builtin.Register(tools, builtin.SampleDirectory())

	cfg := a.cfg
	cfg.PrimaryProvider, cfg.FallbackProvider = route.Primary, route.Fallback
	options := []relay.Option{relay.WithConfig(cfg), relay.WithTelemetry(recorder)}
	if b != nil {
		options = append(options, relay.WithBroker(b))
	}
	return relay.New(coordinator, tools, options...)
}
