// Package messages holds the canonical conversation model shared by every
// provider dialect. Provider payloads are converted into these types as soon as
// they cross the adapter boundary, and all orchestration logic operates on them
// alone.
//
// Design decisions:
//   - One shape: user, assistant and tool messages share the Message struct, the
//     role decides which fields are meaningful
//   - Ordered parts: assistant turns keep text and tool invocations in the order
//     the model produced them
//   - Tool results are tool-role messages carrying a ToolResultPart, never user
//     content, so the reference id is always explicit
//   - JSON interop: parts carry a "type" discriminator and are decoded with gjson
//
// Key concepts:
//   - Message: a single entry of a conversation history
//   - ContentOrParts: plain text or an ordered list of Part values
//   - ToolInvocation: a structured request from the model to call a named tool
//   - ToolOutcome: the result of executing one ToolInvocation
//   - Response: a provider answer after normalization, tagged with its Routing
//
// Example usage:
//
//	msg := messages.User("what is 2+2?")
//	reply := messages.Assistant(
//	    messages.Text("let me compute that"),
//	    messages.Invocation(messages.ToolInvocation{ID: "call_1", Name: "calculator", Input: map[string]any{"expression": "2+2"}}),
//	)
//	for inv := range slices.Values(reply.ToolInvocations()) {
//	    fmt.Println(inv.Name)
//	}
package messages
