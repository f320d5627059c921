// Package provider defines the boundary between relay and the model providers
// it talks to. Adapters for concrete providers live in subpackages.
//
// Design decisions:
//   - Adapter abstraction: every provider implements the same three method
//     interface and streams typed events over a channel
//   - Dialect union: requests and raw responses carry the wire body of exactly
//     one dialect, so an adapter can reject a request in the wrong dialect
//   - Streaming first: non-streaming calls produce the same events, with the
//     FinalResponse as the only content-bearing event
//   - Error taxonomy: failures are classified as ServerError or ClientError;
//     only server-class failures are eligible for fallback
//
// Key concepts:
//   - Adapter: transport to a single provider
//   - Request and RawResponse: dialect tagged unions
//   - TurnRequest: a model turn in canonical form, translated per provider
//   - Route: which provider is tried first and which one takes over
//
// A turn produces events in this order:
//  1. TurnStarted
//  2. TextFragment, ToolOpened, ToolInputFragment and ToolClosed, interleaved
//  3. TurnFinished
//  4. FinalResponse
//
// An Error event may replace any suffix of that sequence.
//
// Example usage:
//
//	events, err := adapter.ChatCompletion(ctx, provider.BlocksRequest(req))
//	if err != nil {
//	    return err
//	}
//
//	for event := range events {
//	    switch e := event.(type) {
//	    case provider.TextFragment:
//	        fmt.Print(e.Text)
//	    case provider.FinalResponse:
//	        history = append(history, e.Response.Message())
//	    case provider.Error:
//	        return e.Err
//	    }
//	}
package provider
