/*
Package openai implements provider.Adapter for the choice/delta Chat Completions
dialect on top of the official openai-go client.

# Streaming

Chunks are translated into provider stream events as they arrive:

  - the first chunk emits TurnStarted
  - content deltas emit TextFragment
  - a tool call delta carrying an id opens the call (ToolOpened); argument
    deltas for the same index emit ToolInputFragment
  - all open calls are closed (ToolClosed) once a finish reason arrives
  - the accumulated completion is normalized and emitted as TurnFinished
    followed by FinalResponse

Usage is requested through stream_options so streamed turns report token
counts like non-streamed ones.

# Model quirks

Reasoning families (gpt-5, o1, o3, o4) only accept max_completion_tokens and a
temperature of 1. RequiresCompletionTokens decides which fields are sent.

# Errors

API errors are classified by status code with provider.FromStatus. Everything
else that happens before a response is a transport failure and is reported as
a server-class error, which makes it eligible for fallback.

	adapter := openai.New("", option.WithAPIKey(key))
	events, err := adapter.ChatCompletion(ctx, provider.ChoicesRequest(req))
	if err != nil {
		return err
	}
	for ev := range events {
		...
	}
*/
package openai
