package telemetry

import (
	"context"
	"log/slog"

	"github.com/casualjim/relay/pkg/slogx"
)

// Log writes records to the default slog logger.
type Log struct{}

func (Log) logger() *slog.Logger {
	return slog.Default().With(slogx.LoggerName("relay.telemetry"))
}

func (l Log) RecordUsage(ctx context.Context, u Usage) {
	l.logger().InfoContext(ctx, "provider usage",
		slogx.Conversation(u.ConversationID),
		slogx.Provider(u.Provider),
		slog.String("model", u.Model),
		slog.String("request_id", u.RequestID),
		slog.Int64("input_tokens", u.InputTokens),
		slog.Int64("output_tokens", u.OutputTokens),
		slog.Int64("total_tokens", u.TotalTokens),
		slog.Bool("used_fallback", u.UsedFallback),
	)
}

func (l Log) RecordFallback(ctx context.Context, f Fallback) {
	l.logger().WarnContext(ctx, "falling back to secondary provider",
		slogx.Conversation(f.ConversationID),
		slog.String("primary", string(f.Primary)),
		slog.String("fallback", string(f.Fallback)),
		slog.Int("status_code", f.StatusCode),
		slog.String("reason", f.Reason),
	)
}

func (l Log) RecordFailure(ctx context.Context, f Failure) {
	l.logger().ErrorContext(ctx, "run failed",
		slogx.Conversation(f.ConversationID),
		slog.String("component", f.Component),
		slog.String("error", f.Message),
		slog.Int("iteration", f.Iteration),
	)
}
