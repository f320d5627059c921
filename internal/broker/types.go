package broker

import (
	"context"
	"strings"

	"github.com/casualjim/relay/events"
)

// Broker hands out the topic of a conversation.
type Broker interface {
	Topic(context.Context, string) Topic
}

// Topic carries the events of one conversation.
type Topic interface {
	Publish(context.Context, events.Event) error
	Subscribe(context.Context, events.Hook) (Subscription, error)
}

type Subscription interface {
	ID() string
	Unsubscribe()
}

var subjectUnsafe = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_", "\n", "_", "\r", "_")

// ConversationTopic is the topic name carrying the events of one conversation.
// Characters with a meaning in NATS subjects are replaced in the id.
func ConversationTopic(conversationID string) string {
	return "relay.conversations." + subjectUnsafe.Replace(conversationID) + ".events"
}
