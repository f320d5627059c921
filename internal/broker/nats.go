package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/casualjim/relay/events"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/pkg/uuidx"
	"github.com/nats-io/nats.go"
)

// EventTypeHeader carries the event type next to the JSON envelope, so
// consumers can filter without decoding.
const EventTypeHeader = "Relay-Event-Type"

type natsBroker struct {
	client *nats.Conn
}

// NATS creates a broker whose topics are subjects on client. Events travel as
// their JSON envelopes. Late subscribers only see events published after they
// joined.
func NATS(client *nats.Conn) *natsBroker {
	return &natsBroker{client: client}
}

func (b *natsBroker) Topic(_ context.Context, name string) Topic {
	return &natsTopic{client: b.client, subject: name}
}

type natsTopic struct {
	client  *nats.Conn
	subject string
}

func (t *natsTopic) Publish(_ context.Context, ev events.Event) error {
	data, err := events.ToJSON(ev)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(t.subject)
	msg.Data = data
	msg.Header.Set(EventTypeHeader, string(ev.Type()))
	return t.client.PublishMsg(msg)
}

// Subscribe delivers events in publish order from the subscription's own
// goroutine.
func (t *natsTopic) Subscribe(ctx context.Context, hook events.Hook) (Subscription, error) {
	if hook == nil {
		return nil, errHookRequired
	}
	log := slog.Default().With(slogx.LoggerName("relay.broker.nats"), slog.String("subject", t.subject))

	sub := &natsSubscription{id: uuidx.NewString(), done: make(chan struct{})}
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		ev, err := events.FromJSON(msg.Data)
		if err != nil {
			log.WarnContext(ctx, "dropping undecodable event", slog.String("type", msg.Header.Get(EventTypeHeader)), slogx.Error(err))
			return
		}
		hook.OnEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	sub.sub = nsub

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type natsSubscription struct {
	id   string
	sub  *nats.Subscription
	done chan struct{}
	once sync.Once
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	n.once.Do(func() {
		close(n.done)
		if err := n.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			slog.Default().Warn("failed to unsubscribe", slog.String("subscription", n.id), slogx.Error(err))
		}
	})
}
