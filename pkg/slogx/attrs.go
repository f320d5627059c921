// Package slogx provides the structured logging attributes used across relay.
package slogx

import (
	"log/slog"
)

const (
	// KeyLoggerName names the component that emitted a record.
	KeyLoggerName = "logger"
	// KeyConversation carries the conversation id.
	KeyConversation = "conversation_id"
)

// Error returns an "error" attribute. A nil error renders as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// LoggerName returns the attribute naming the emitting component.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Conversation returns the conversation id attribute.
func Conversation(id string) slog.Attr {
	return slog.String(KeyConversation, id)
}

// Provider returns a provider attribute from any string-like tag.
func Provider[T ~string](provider T) slog.Attr {
	return slog.String("provider", string(provider))
}

// Tool returns a tool name attribute.
func Tool(name string) slog.Attr {
	return slog.String("tool", name)
}
