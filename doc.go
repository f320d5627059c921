/*
Package relay runs streaming, tool-calling conversations against language
model providers, falling back to a second provider when the first one fails.

An Orchestrator owns the agent loop of a conversation. Each call to Stream
appends the user's message to the stored history and then repeats

 1. stream a model turn from the provider coordinator, forwarding text as it
    arrives and assembling tool invocations from their input fragments,
 2. store the assistant message,
 3. run the requested tools, in parallel when every tool in the batch is
    read-only, and store one tool message per invocation in the order the
    model declared them,

until the model answers without requesting tools, the iteration ceiling is
reached or something fails.

# Basic Usage

	claude, err := anthropic.New(anthropic.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
	if err != nil {
		return err
	}
	adapters := []provider.Adapter{claude, openai.New(openai.DefaultModel)}
	coordinator, err := fallback.New(cfg.Route(), adapters)
	if err != nil {
		return err
	}

	tools := tool.NewRegistry()
	builtin.Register(tools, builtin.SampleDirectory())

	orchestrator, err := relay.New(coordinator, tools, relay.WithConfig(cfg))
	if err != nil {
		return err
	}

	for ev := range orchestrator.Stream(ctx, relay.ChatRequest{Message: "2+2?"}) {
		data, _ := events.ToJSON(ev)
		fmt.Println(string(data))
	}

# Events

A stream always starts with a connection test followed by a stream start
that carries the conversation id. Every model turn begins with a message
start, text arrives as text deltas, and each executed tool produces a tool
call and a tool result. The stream ends with exactly one of message complete,
max iterations reached or error.

# Packages

  - messages: the canonical conversation model shared by every provider
  - conversation: the in-memory conversation store and its summaries
  - tool and tool/builtin: the tool capability interface, registry and builtin tools
  - provider: the adapter contract, stream events and error taxonomy
  - provider/anthropic and provider/openai: the two provider adapters
  - provider/normalize: conversion between the canonical model and both wire dialects
  - provider/fallback: primary and fallback routing
  - events: the client event types and their SSE encoding
*/
package relay
