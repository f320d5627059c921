package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/pkg/uuidx"
	"github.com/go-openapi/strfmt"
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: haxmap.New[string, *entry](),
		log:     slog.Default().With(slogx.LoggerName("relay.conversation")),
	}
}

// Memory is a Store that keeps every conversation for the lifetime of the
// process.
type Memory struct {
	entries *haxmap.Map[string, *entry]
	log     *slog.Logger
}

var _ Store = (*Memory)(nil)

type entry struct {
	mu      sync.Mutex
	conv    Conversation
	deleted bool
}

func newEntry(id string) *entry {
	now := strfmt.DateTime(time.Now())
	return &entry{conv: Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}}
}

func (e *entry) snapshot() Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.clone()
}

func (m *Memory) GetOrCreate(ctx context.Context, id string) (Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	if id == "" {
		id = uuidx.NewString()
	}

	e, loaded := m.entries.GetOrCompute(id, func() *entry { return newEntry(id) })
	if !loaded {
		m.log.DebugContext(ctx, "conversation created", slogx.Conversation(id))
	}
	return e.snapshot(), !loaded, nil
}

func (m *Memory) Get(ctx context.Context, id string) (Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	e, ok := m.entries.Get(id)
	if !ok {
		return Conversation{}, false, nil
	}
	return e.snapshot(), true, nil
}

func (m *Memory) Append(ctx context.Context, id string, msgs ...messages.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.update(id, func(c *Conversation) {
		c.Messages = append(c.Messages, msgs...)
	})
}

func (m *Memory) SetMetadata(ctx context.Context, id, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.update(id, func(c *Conversation) {
		c.Metadata[key] = value
	})
}

func (m *Memory) update(id string, fn func(*Conversation)) error {
	e, ok := m.entries.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// the entry may have been removed between the lookup and the lock
	if e.deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(&e.conv)
	e.conv.UpdatedAt = strfmt.DateTime(time.Now())
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e, ok := m.entries.Get(id)
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	existed := !e.deleted
	if existed {
		e.deleted = true
		m.entries.Del(id)
	}
	e.mu.Unlock()
	if !existed {
		return false, nil
	}
	m.log.DebugContext(ctx, "conversation deleted", slogx.Conversation(id))
	return true, nil
}

func (m *Memory) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, m.entries.Len())
	m.entries.ForEach(func(id string, _ *entry) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids, nil
}
