package events

import "context"

// Hook receives events delivered to a subscriber.
type Hook interface {
	OnEvent(context.Context, Event)
}

// HookFunc adapts a function to Hook.
type HookFunc func(context.Context, Event)

func (f HookFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }
