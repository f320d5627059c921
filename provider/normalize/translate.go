package normalize

import (
	"fmt"

	"github.com/casualjim/relay/dialect/blocks"
	"github.com/casualjim/relay/dialect/choices"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/provider"
	"github.com/casualjim/relay/tool"
)

// BlocksToChoices translates a block dialect request into the choices dialect
// for model. The system prompt becomes the leading system message and tool
// schemas are wrapped in closed function envelopes.
func BlocksToChoices(req blocks.Request, model string) choices.Request {
	out := choices.Request{
		Model:       model,
		Messages:    ToChoices(req.System, FromBlocks(req.Messages)),
		MaxTokens:   req.EffectiveMaxTokens(),
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]choices.Tool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = tool.FunctionTool(t.Name, t.Description, t.InputSchema)
		}
	}
	return out
}

// ChoicesToBlocks translates a choices dialect request into the block dialect
// for model. System messages are moved into the system field.
func ChoicesToBlocks(req choices.Request, model string) blocks.Request {
	system, history := FromChoices(req.Messages)
	out := blocks.Request{
		Model:       model,
		System:      system,
		Messages:    ToBlocks(history),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	out.MaxTokens = out.EffectiveMaxTokens()
	if len(req.Tools) > 0 {
		out.Tools = make([]blocks.Tool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = blocks.Tool{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				InputSchema: t.Function.Parameters,
			}
		}
	}
	return out
}

// Translate converts req into the dialect of target.
func Translate(req provider.Request, target messages.Provider, model string) (provider.Request, error) {
	if err := req.Validate(); err != nil {
		return provider.Request{}, err
	}
	if req.Provider == target {
		return req, nil
	}
	switch target {
	case messages.OpenAI:
		return provider.ChoicesRequest(BlocksToChoices(*req.Blocks, model)), nil
	case messages.Anthropic:
		return provider.BlocksRequest(ChoicesToBlocks(*req.Choices, model)), nil
	default:
		return provider.Request{}, fmt.Errorf("unknown provider %q", target)
	}
}

// Request builds the dialect request of target from a canonical turn.
func Request(turn provider.TurnRequest, target messages.Provider, model string) (provider.Request, error) {
	tools, err := tool.SchemasFor(target, turn.Tools)
	if err != nil {
		return provider.Request{}, err
	}

	switch target {
	case messages.Anthropic:
		req := blocks.Request{
			Model:       model,
			System:      turn.System,
			Messages:    ToBlocks(turn.Messages),
			Tools:       tools.Blocks,
			MaxTokens:   turn.MaxTokens,
			Temperature: turn.Temperature,
			Stream:      turn.Stream,
		}
		req.MaxTokens = req.EffectiveMaxTokens()
		return provider.BlocksRequest(req), nil

	case messages.OpenAI:
		return provider.ChoicesRequest(choices.Request{
			Model:       model,
			Messages:    ToChoices(turn.System, turn.Messages),
			Tools:       tools.Choices,
			MaxTokens:   turn.MaxTokens,
			Temperature: turn.Temperature,
			Stream:      turn.Stream,
		}), nil

	default:
		return provider.Request{}, fmt.Errorf("unknown provider %q", target)
	}
}

// FromBlocksResponse normalizes a block dialect response.
func FromBlocksResponse(resp blocks.Response) messages.Response {
	out := messages.Response{
		ID:         resp.ID,
		Model:      resp.Model,
		StopReason: BlocksStopReason(resp.StopReason),
		Usage: messages.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, b := range resp.Content {
		switch b.Type {
		case blocks.TypeText:
			out.Parts = append(out.Parts, messages.Text(b.Text))
		case blocks.TypeToolUse:
			out.Parts = append(out.Parts, messages.Invocation(messages.ToolInvocation{ID: b.ID, Name: b.Name, Input: nonNil(b.Input)}))
		}
	}
	return out
}

// FromChoicesResponse normalizes a choices dialect response. Only the first
// choice is considered.
func FromChoicesResponse(resp choices.Response) messages.Response {
	out := messages.Response{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: messages.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		out.StopReason = messages.StopEndTurn
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = ChoicesStopReason(choice.FinishReason)
	if choice.Message.Content != "" {
		out.Parts = append(out.Parts, messages.Text(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Parts = append(out.Parts, messages.Invocation(messages.ToolInvocation{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: parseArguments(tc.ID, tc.Function.Arguments),
		}))
	}
	if len(choice.Message.ToolCalls) > 0 && out.StopReason == messages.StopEndTurn {
		out.StopReason = messages.StopToolUse
	}
	return out
}

// BlocksStopReason maps a block dialect stop reason to the canonical one.
func BlocksStopReason(reason string) messages.StopReason {
	switch reason {
	case blocks.StopToolUse:
		return messages.StopToolUse
	case blocks.StopMaxTokens:
		return messages.StopMaxTokens
	case blocks.StopSequence:
		return messages.StopSequence
	case blocks.StopRefusal:
		return messages.StopRefusal
	default:
		return messages.StopEndTurn
	}
}

// ChoicesStopReason maps a finish reason to the canonical stop reason.
func ChoicesStopReason(reason string) messages.StopReason {
	switch reason {
	case choices.FinishToolCalls, "function_call":
		return messages.StopToolUse
	case choices.FinishLength:
		return messages.StopMaxTokens
	case choices.FinishContentFilter:
		return messages.StopRefusal
	default:
		return messages.StopEndTurn
	}
}
