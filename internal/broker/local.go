package broker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/relay/events"
	"github.com/casualjim/relay/pkg/uuidx"
)

const (
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
	subscriberBuffer             = 64
	// maxReplay bounds the events kept for late subscribers of a run.
	maxReplay = 1024
)

var errHookRequired = errors.New("hook is required")

type localBroker struct {
	topics      *haxmap.Map[string, *localTopic]
	slowTimeout time.Duration
}

// Local creates an in-process broker. A subscriber that joins while a
// conversation is streaming first receives the events of that run since its
// stream start.
func Local() *localBroker {
	return &localBroker{
		topics:      haxmap.New[string, *localTopic](),
		slowTimeout: defaultSlowSubscriberTimeout,
	}
}

// WithSlowSubscriberTimeout configures how long Publish waits on a full
// subscriber before dropping it.
func (b *localBroker) WithSlowSubscriberTimeout(timeout time.Duration) *localBroker {
	b.slowTimeout = timeout
	return b
}

func (b *localBroker) Topic(_ context.Context, name string) Topic {
	t, _ := b.topics.GetOrCompute(name, func() *localTopic {
		return &localTopic{
			name:        name,
			slowTimeout: b.slowTimeout,
			subscribers: make(map[string]*localSubscription),
		}
	})
	return t
}

type localTopic struct {
	name        string
	slowTimeout time.Duration

	mu          sync.Mutex
	run         []events.Event
	subscribers map[string]*localSubscription
}

func (t *localTopic) Publish(ctx context.Context, ev events.Event) error {
	t.mu.Lock()
	switch {
	case ev.Type() == events.TypeStreamStart:
		t.run = append(t.run[:0], ev)
	case events.Terminal(ev):
		t.run = t.run[:0]
	case len(t.run) > 0 && len(t.run) < maxReplay:
		t.run = append(t.run, ev)
	}
	subscribers := make([]*localSubscription, 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		subscribers = append(subscribers, sub)
	}
	t.mu.Unlock()

	for _, sub := range subscribers {
		if err := sub.deliver(ctx, ev, t.slowTimeout); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (t *localTopic) Subscribe(ctx context.Context, hook events.Hook) (Subscription, error) {
	if hook == nil {
		return nil, errHookRequired
	}

	sub := &localSubscription{
		id:       uuidx.NewString(),
		ctx:      ctx,
		hook:     hook,
		incoming: make(chan events.Event, subscriberBuffer),
		done:     make(chan struct{}),
	}
	sub.detach = func() {
		t.mu.Lock()
		delete(t.subscribers, sub.id)
		t.mu.Unlock()
	}

	t.mu.Lock()
	backlog := slices.Clone(t.run)
	t.subscribers[sub.id] = sub
	t.mu.Unlock()

	go sub.forward(backlog)
	return sub, nil
}

type localSubscription struct {
	id       string
	ctx      context.Context
	hook     events.Hook
	incoming chan events.Event
	done     chan struct{}
	once     sync.Once
	detach   func()
}

func (s *localSubscription) ID() string {
	return s.id
}

func (s *localSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.detach()
		close(s.done)
	})
}

// deliver queues ev and drops the subscriber when it stays full for longer
// than timeout. It only fails when ctx is done.
func (s *localSubscription) deliver(ctx context.Context, ev events.Event, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.incoming <- ev:
	case <-s.done:
	case <-s.ctx.Done():
		s.Unsubscribe()
	case <-timer.C:
		s.Unsubscribe()
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *localSubscription) forward(backlog []events.Event) {
	for _, ev := range backlog {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		default:
		}
		s.hook.OnEvent(s.ctx, ev)
	}
	for {
		select {
		case ev := <-s.incoming:
			s.hook.OnEvent(s.ctx, ev)
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		}
	}
}
