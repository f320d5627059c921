package messages

import (
	"strings"
)

// Provider tags the model provider that produced or should receive a payload.
type Provider string

const (
	// Anthropic speaks the block-based Messages dialect.
	Anthropic Provider = "anthropic"
	// OpenAI speaks the choice/delta Chat Completions dialect.
	OpenAI Provider = "openai"
)

func (p Provider) String() string { return string(p) }

// StopReason is the canonical reason a provider turn ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
	StopRefusal   StopReason = "refusal"
)

// Usage counts the tokens consumed by a provider turn.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Routing records which provider was configured as primary and fallback, and
// which one actually answered.
type Routing struct {
	Primary   Provider `json:"primary"`
	Fallback  Provider `json:"fallback"`
	Responded Provider `json:"responded"`
}

// UsedFallback reports whether the answer came from the fallback provider.
func (r Routing) UsedFallback() bool {
	return r.Responded != "" && r.Responded == r.Fallback && r.Responded != r.Primary
}

// Response is a provider answer in canonical form.
type Response struct {
	ID         string
	Model      string
	Parts      []Part
	StopReason StopReason
	Usage      Usage
	Routing    Routing
}

// Text concatenates the text parts of the response.
func (r Response) Text() string {
	var b strings.Builder
	for _, part := range r.Parts {
		if tp, ok := part.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ToolInvocations returns the declared invocations in order.
func (r Response) ToolInvocations() []ToolInvocation {
	var result []ToolInvocation
	for _, part := range r.Parts {
		if ip, ok := part.(ToolInvocationPart); ok {
			result = append(result, ip.Invocation)
		}
	}
	return result
}

// Message converts the response into the assistant message appended to history.
func (r Response) Message() Message {
	parts := make([]Part, 0, len(r.Parts))
	for _, part := range r.Parts {
		if tp, ok := part.(TextPart); ok && tp.Text == "" {
			continue
		}
		parts = append(parts, part)
	}
	return Assistant(parts...)
}
