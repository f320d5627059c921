package conversation

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/casualjim/relay/messages"
	"github.com/go-openapi/strfmt"
)

// ErrNotFound is returned when an operation targets an unknown conversation.
var ErrNotFound = errors.New("conversation not found")

// Conversation is a snapshot of one stored history.
//
// Values returned by a Store are copies: appending to Messages or writing to
// Metadata does not change the stored conversation.
type Conversation struct {
	ID        string             `json:"id"`
	Messages  []messages.Message `json:"messages"`
	CreatedAt strfmt.DateTime    `json:"created_at"`
	UpdatedAt strfmt.DateTime    `json:"updated_at"`
	Metadata  map[string]any     `json:"metadata"`
}

// Len returns the number of messages in the conversation.
func (c Conversation) Len() int {
	return len(c.Messages)
}

// Statistics counts the messages of the conversation by role and the tool
// invocations declared by its assistant messages.
func (c Conversation) Statistics() Statistics {
	stats := Statistics{TotalMessages: len(c.Messages)}
	for _, msg := range c.Messages {
		switch msg.Role {
		case messages.RoleUser:
			stats.UserMessages++
		case messages.RoleAssistant:
			stats.AssistantMessages++
			stats.TotalToolCalls += len(msg.ToolInvocations())
		case messages.RoleTool:
			stats.ToolMessages++
		}
	}
	return stats
}

func (c Conversation) clone() Conversation {
	c.Messages = slices.Clone(c.Messages)
	c.Metadata = maps.Clone(c.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return c
}

// Statistics summarizes the content of a conversation.
type Statistics struct {
	TotalMessages     int `json:"total_messages"`
	UserMessages      int `json:"user_messages"`
	AssistantMessages int `json:"assistant_messages"`
	ToolMessages      int `json:"tool_messages"`
	TotalToolCalls    int `json:"total_tool_calls"`
}

// Store keeps conversations by id.
type Store interface {
	// GetOrCreate returns the conversation with id, creating an empty one when
	// it does not exist yet. An empty id always creates a conversation with a
	// generated id. The boolean reports whether the conversation was created.
	GetOrCreate(ctx context.Context, id string) (Conversation, bool, error)
	// Get returns the conversation with id.
	Get(ctx context.Context, id string) (Conversation, bool, error)
	// Append adds messages to the end of the history. It fails with
	// ErrNotFound when the conversation does not exist.
	Append(ctx context.Context, id string, msgs ...messages.Message) error
	// SetMetadata sets one metadata key of the conversation.
	SetMetadata(ctx context.Context, id, key string, value any) error
	// Delete removes the conversation and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// List returns the ids of all stored conversations in sorted order.
	List(ctx context.Context) ([]string, error)
}
