package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/casualjim/relay/internal/executor"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/provider/anthropic"
	"github.com/casualjim/relay/provider/openai"
)

// EnvPrefix is prepended to the variable names of every Config field.
const EnvPrefix = "RELAY_"

// DefaultSystemPrompt is used when neither the config nor the request sets one.
const DefaultSystemPrompt = `You are a helpful assistant with access to tools.
Use a tool whenever it gives a more reliable answer than reasoning alone, for example the calculator for arithmetic.
When a tool fails, read its error and decide whether to retry with different input or to answer without it.
Keep answers short and state the results you obtained from tools.`

// Config holds the limits and defaults of an Orchestrator.
type Config struct {
	// MaxIterations is the number of provider turns a single stream may take.
	MaxIterations int `env:"MAX_ITERATIONS"`
	// MaxToolCalls is the tool call budget of a single stream.
	MaxToolCalls int `env:"MAX_TOOL_CALLS"`
	// MaxParallelTools bounds the fan-out of a parallel batch.
	MaxParallelTools int  `env:"MAX_PARALLEL_TOOLS"`
	ParallelTools    bool `env:"PARALLEL_TOOLS"`
	// ReadOnlyTools and MutatingTools replace the default classification sets when set.
	ReadOnlyTools []string `env:"READ_ONLY_TOOLS" envSeparator:","`
	MutatingTools []string `env:"MUTATING_TOOLS" envSeparator:","`
	// ToolTimeout bounds a single tool execution, zero disables it.
	ToolTimeout time.Duration `env:"TOOL_TIMEOUT"`

	MaxTokens    int64   `env:"MAX_TOKENS"`
	Temperature  float64 `env:"TEMPERATURE"`
	SystemPrompt string  `env:"SYSTEM_PROMPT"`

	PrimaryProvider  messages.Provider `env:"PRIMARY_PROVIDER"`
	FallbackProvider messages.Provider `env:"FALLBACK_PROVIDER"`
	AnthropicModel   string            `env:"ANTHROPIC_MODEL"`
	OpenAIModel      string            `env:"OPENAI_MODEL"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    1000,
		MaxToolCalls:     100,
		MaxParallelTools: 10,
		ParallelTools:    true,
		ReadOnlyTools:    executor.DefaultReadOnly(),
		MutatingTools:    executor.DefaultMutating(),
		MaxTokens:        4096,
		Temperature:      0.0,
		SystemPrompt:     DefaultSystemPrompt,
		PrimaryProvider:  messages.Anthropic,
		FallbackProvider: messages.OpenAI,
		AnthropicModel:   anthropic.DefaultModel,
		OpenAIModel:      openai.DefaultModel,
	}
}

// LoadConfig reads RELAY_ prefixed environment variables over DefaultConfig
// and validates the result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations))
	}
	if c.MaxToolCalls <= 0 {
		errs = append(errs, fmt.Errorf("max tool calls must be positive, got %d", c.MaxToolCalls))
	}
	if c.MaxParallelTools <= 0 {
		errs = append(errs, fmt.Errorf("max parallel tools must be positive, got %d", c.MaxParallelTools))
	}
	if c.ToolTimeout < 0 {
		errs = append(errs, fmt.Errorf("tool timeout must not be negative, got %s", c.ToolTimeout))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 2, got %g", c.Temperature))
	}
	for _, p := range []messages.Provider{c.PrimaryProvider, c.FallbackProvider} {
		if p != "" && p != messages.Anthropic && p != messages.OpenAI {
			errs = append(errs, fmt.Errorf("unknown provider %q", p))
		}
	}
	if err := c.Route().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Route returns the provider route described by the config.
func (c Config) Route() provider.Route {
	return provider.Route{Primary: c.PrimaryProvider, Fallback: c.FallbackProvider}
}

// Policy returns the parallelism policy described by the config.
func (c Config) Policy() executor.Policy {
	return executor.NewPolicy(c.ParallelTools, c.MaxParallelTools, c.ReadOnlyTools, c.MutatingTools)
}
