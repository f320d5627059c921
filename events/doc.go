// Package events defines the typed events streamed to clients while a chat
// request runs, their JSON form and an SSE writer.
//
// Every event serializes as an envelope:
//
//	{"type": "text_delta", "data": {"text": "Hel", "conversation_id": "..."}}
//
// A stream always starts with ConnectionTest and ends with exactly one of
// MessageComplete, MaxIterationsReached or Error. In between:
//
//   - StreamStart once, after the conversation is resolved
//   - MessageStart at the beginning of every provider turn
//   - TextDelta for each streamed text fragment
//   - ToolCall and ToolResult for every executed invocation; for a parallel
//     batch all ToolCall events precede the ToolResult events, which arrive
//     in completion order
//
// Events are plain values. FromJSON reverses MarshalJSON so they can travel
// over a broker and be decoded by observers.
package events
