package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/tool"
)

// Runner executes tool invocations against a registry.
type Runner struct {
	registry *tool.Registry
	timeout  time.Duration
	log      *slog.Logger
}

// NewRunner creates a Runner. A zero timeout lets tools run until they return.
func NewRunner(registry *tool.Registry, timeout time.Duration) *Runner {
	return &Runner{
		registry: registry,
		timeout:  timeout,
		log:      slog.Default().With(slogx.LoggerName("relay.executor")),
	}
}

// Execute runs a single invocation and always returns an outcome.
func (r *Runner) Execute(ctx context.Context, inv messages.ToolInvocation) messages.ToolOutcome {
	started := time.Now()
	outcome := messages.ToolOutcome{
		InvocationID: inv.ID,
		ToolName:     inv.Name,
	}

	t, err := r.registry.Resolve(inv.Name)
	if err != nil {
		r.log.WarnContext(ctx, "model requested an unknown tool", slogx.Tool(inv.Name))
		return failed(outcome, err, fmt.Sprintf("Error: %s", err), started)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	result, err := r.call(ctx, t, inv)
	if err != nil {
		execErr := &tool.ExecutionError{Name: inv.Name, Err: err}
		r.log.ErrorContext(ctx, "tool execution failed", slogx.Tool(inv.Name), slogx.Error(err))
		return failed(outcome, execErr, fmt.Sprintf("Error executing %s: %v", inv.Name, err), started)
	}

	content, err := Stringify(result)
	if err != nil {
		return failed(outcome, err, fmt.Sprintf("Error formatting result of %s: %v", inv.Name, err), started)
	}

	outcome.Result = result
	outcome.Content = content
	outcome.Success = true
	if msg, ok := reportedFailure(result); ok {
		outcome.Success = false
		outcome.Error = msg
	}
	outcome.Duration = time.Since(started)
	r.log.DebugContext(ctx, "tool executed",
		slogx.Tool(inv.Name),
		slog.Bool("success", outcome.Success),
		slog.Duration("duration", outcome.Duration),
	)
	return outcome
}

func (r *Runner) call(ctx context.Context, t tool.Tool, inv messages.ToolInvocation) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.ErrorContext(ctx, "tool panicked", slogx.Tool(inv.Name), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	input := inv.Input
	if input == nil {
		input = map[string]any{}
	}
	return t.Execute(ctx, input)
}

func failed(outcome messages.ToolOutcome, err error, content string, started time.Time) messages.ToolOutcome {
	outcome.Success = false
	outcome.Error = err.Error()
	outcome.Content = content
	outcome.Duration = time.Since(started)
	return outcome
}

// ErrNotExecuted marks invocations cut from a batch by the fan-out or budget limits.
var ErrNotExecuted = errors.New("not executed: tool call limit reached for this batch")

// NotExecuted is the outcome recorded for an invocation cut from a batch.
func NotExecuted(inv messages.ToolInvocation) messages.ToolOutcome {
	return messages.ToolOutcome{
		InvocationID: inv.ID,
		ToolName:     inv.Name,
		Success:      false,
		Error:        ErrNotExecuted.Error(),
		Content:      fmt.Sprintf("Error: %s was %s", inv.Name, ErrNotExecuted),
	}
}
