// Package broker fans out client events of running conversations to
// observers. Each conversation publishes on its own topic, see
// ConversationTopic.
//
// Local keeps topics in process. A subscriber that stays full longer than the
// slow subscriber timeout is dropped, and a subscriber joining mid-run first
// receives the run's events since its stream start. NATS maps topics to
// subjects and only delivers what is published after subscribing.
//
// Subscriptions end on Unsubscribe or when the context passed to Subscribe
// is done.
//
//	topic := broker.Local().Topic(ctx, broker.ConversationTopic(id))
//	sub, err := topic.Subscribe(ctx, events.HookFunc(func(ctx context.Context, ev events.Event) {
//		...
//	}))
//	if err != nil {
//		return err
//	}
//	defer sub.Unsubscribe()
package broker
