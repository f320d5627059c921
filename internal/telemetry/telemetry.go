// Package telemetry records provider usage, fallbacks and run failures.
// Recording is fire-and-forget: implementations never block a stream on I/O
// and never return errors to the caller.
package telemetry

import (
	"context"
	"time"

	"github.com/casualjim/relay/messages"
	"github.com/go-openapi/strfmt"
)

// Usage is the token consumption of one successful provider turn.
type Usage struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	Provider       messages.Provider `json:"provider"`
	Model          string            `json:"model"`
	RequestID      string            `json:"request_id,omitempty"`
	InputTokens    int64             `json:"input_tokens"`
	OutputTokens   int64             `json:"output_tokens"`
	TotalTokens    int64             `json:"total_tokens"`
	UsedFallback   bool              `json:"used_fallback"`
	Timestamp      strfmt.DateTime   `json:"timestamp"`
}

// Fallback records a switch from the primary to the fallback provider.
type Fallback struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	Primary        messages.Provider `json:"primary"`
	Fallback       messages.Provider `json:"fallback"`
	StatusCode     int               `json:"status_code"`
	Reason         string            `json:"reason"`
	Timestamp      strfmt.DateTime   `json:"timestamp"`
}

// Failure records an error that ended a run or a provider call.
type Failure struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	Component      string          `json:"component"`
	Message        string          `json:"message"`
	Iteration      int             `json:"iteration,omitempty"`
	Timestamp      strfmt.DateTime `json:"timestamp"`
}

type Recorder interface {
	RecordUsage(context.Context, Usage)
	RecordFallback(context.Context, Fallback)
	RecordFailure(context.Context, Failure)
}

// NewUsage builds a usage record from a routed response.
func NewUsage(conversationID string, resp messages.Response) Usage {
	return Usage{
		ConversationID: conversationID,
		Provider:       resp.Routing.Responded,
		Model:          resp.Model,
		RequestID:      resp.ID,
		InputTokens:    resp.Usage.InputTokens,
		OutputTokens:   resp.Usage.OutputTokens,
		TotalTokens:    resp.Usage.Total(),
		UsedFallback:   resp.Routing.UsedFallback(),
		Timestamp:      now(),
	}
}

func now() strfmt.DateTime { return strfmt.DateTime(time.Now().UTC()) }

func stamp(ts *strfmt.DateTime) {
	if time.Time(*ts).IsZero() {
		*ts = now()
	}
}

// Nop discards every record.
type Nop struct{}

func (Nop) RecordUsage(context.Context, Usage)       {}
func (Nop) RecordFallback(context.Context, Fallback) {}
func (Nop) RecordFailure(context.Context, Failure)   {}

// Multi sends every record to all recorders in order.
type Multi []Recorder

func (m Multi) RecordUsage(ctx context.Context, u Usage) {
	for _, r := range m {
		r.RecordUsage(ctx, u)
	}
}

func (m Multi) RecordFallback(ctx context.Context, f Fallback) {
	for _, r := range m {
		r.RecordFallback(ctx, f)
	}
}

func (m Multi) RecordFailure(ctx context.Context, f Failure) {
	for _, r := range m {
		r.RecordFailure(ctx, f)
	}
}
