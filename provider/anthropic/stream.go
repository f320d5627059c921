package anthropic

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/provider"
)

func (a *Adapter) runStream(ctx context.Context, params anthropic.MessageNewParams, events chan<- provider.StreamEvent) {
	strm := a.client.Messages.NewStreaming(ctx, params)
	if err := strm.Err(); err != nil {
		send(ctx, events, provider.Error{Err: classify(ctx, err)})
		return
	}
	defer strm.Close()

	var (
		acc      anthropic.Message
		finished bool
		// tool call ids by content block index
		tools = make(map[int64]string)
	)

	for strm.Next() {
		event := strm.Current()
		if err := acc.Accumulate(event); err != nil {
			send(ctx, events, provider.Error{Err: provider.Transport(messages.Anthropic, err)})
			return
		}

		var ev provider.StreamEvent
		switch event := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			ev = provider.TurnStarted{Provider: messages.Anthropic, Model: string(event.Message.Model), ID: event.Message.ID}
		case anthropic.ContentBlockStartEvent:
			block := event.ContentBlock
			switch block.Type {
			case "tool_use":
				tools[event.Index] = block.ID
				ev = provider.ToolOpened{ID: block.ID, Name: block.Name}
			case "text":
				if block.Text != "" {
					ev = provider.TextFragment{Text: block.Text}
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := event.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				ev = provider.TextFragment{Text: delta.Text}
			case anthropic.InputJSONDelta:
				if id, ok := tools[event.Index]; ok {
					ev = provider.ToolInputFragment{ID: id, Fragment: delta.PartialJSON}
				}
			}
		case anthropic.ContentBlockStopEvent:
			if id, ok := tools[event.Index]; ok {
				delete(tools, event.Index)
				ev = provider.ToolClosed{ID: id}
			}
		case anthropic.MessageDeltaEvent:
			// stop reason and usage are read from acc
		case anthropic.MessageStopEvent:
			finished = true
		default:
			a.log().DebugContext(ctx, "ignoring stream event", slog.String("event", fmt.Sprintf("%T", event)), slogx.Provider(messages.Anthropic))
		}

		if ev != nil && !send(ctx, events, ev) {
			return
		}
		if finished {
			break
		}
	}

	if err := strm.Err(); err != nil {
		err = classify(ctx, err)
		a.log().WarnContext(ctx, "stream failed", slogx.Error(err))
		send(ctx, events, provider.Error{Err: err})
		return
	}
	if err := ctx.Err(); err != nil {
		send(ctx, events, provider.Error{Err: err})
		return
	}
	if !finished {
		send(ctx, events, provider.Error{Err: provider.Transport(messages.Anthropic, fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF))})
		return
	}
	a.finish(ctx, fromMessage(&acc), events)
}
