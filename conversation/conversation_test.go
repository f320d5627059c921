package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/casualjim/relay/messages"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func toolTurn() []messages.Message {
	calc := messages.ToolInvocation{ID: "call_1", Name: "calculator", Input: map[string]any{"expression": "2+2"}}
	user := messages.ToolInvocation{ID: "call_2", Name: "get_user_information", Input: map[string]any{"user_id": "u1"}}
	return []messages.Message{
		messages.User("2+2? and who is u1?"),
		messages.Assistant(messages.Text("Checking."), messages.Invocation(calc), messages.Invocation(user)),
		messages.ToolResult(messages.ToolOutcome{InvocationID: "call_1", ToolName: "calculator", Content: "2+2 = 4", Success: true}),
		messages.ToolResult(messages.ToolOutcome{InvocationID: "call_2", ToolName: "get_user_information", Content: "Error: not found"}),
		messages.Assistant(messages.Text("4, and u1 does not exist.")),
	}
}

func TestMemory_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	conv, created, err := store.GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "c1", conv.ID)
	assert.Empty(t, conv.Messages)
	assert.NotNil(t, conv.Metadata)
	assert.False(t, conv.CreatedAt.IsZero())

	again, created, err := store.GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.CreatedAt, again.CreatedAt)

	generated, created, err := store.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, generated.ID)
	assert.NotEqual(t, generated.ID, conv.ID)
}

func TestMemory_AppendKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_, _, err := store.GetOrCreate(ctx, "c1")
	require.NoError(t, err)

	turn := toolTurn()
	require.NoError(t, store.Append(ctx, "c1", turn[0]))
	require.NoError(t, store.Append(ctx, "c1", turn[1:]...))

	conv, ok, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, len(turn), conv.Len())
	for i, msg := range conv.Messages {
		assert.Equal(t, turn[i].Role, msg.Role, "message %d", i)
		assert.Equal(t, turn[i].ToolCallID, msg.ToolCallID, "message %d", i)
	}
	assert.False(t, conv.UpdatedAt.IsZero())
}

func TestMemory_SnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	conv, _, err := store.GetOrCreate(ctx, "c1")
	require.NoError(t, err)

	conv.Messages = append(conv.Messages, messages.User("not stored"))
	conv.Metadata["leak"] = true

	stored, _, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, stored.Messages)
	assert.NotContains(t, stored.Metadata, "leak")
}

func TestMemory_UnknownConversation(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	err = store.Append(ctx, "missing", messages.User("hi"))
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.SetMetadata(ctx, "missing", "k", "v")
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := store.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemory_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	for _, id := range []string{"b", "a", "c"} {
		_, _, err := store.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	deleted, err := store.Delete(ctx, "b")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "b")
	require.NoError(t, err)
	assert.False(t, deleted)

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)

	assert.ErrorIs(t, store.Append(ctx, "b", messages.User("late")), ErrNotFound)
}

func TestMemory_SetMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_, _, err := store.GetOrCreate(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, store.SetMetadata(ctx, "c1", "title", "math"))
	conv, _, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "math"}, conv.Metadata)
}

func TestMemory_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemory()

	_, _, err := store.GetOrCreate(ctx, "c1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	const conversations, perConversation = 8, 50
	var wg sync.WaitGroup
	for c := range conversations {
		id := fmt.Sprintf("c%d", c)
		_, _, err := store.GetOrCreate(ctx, id)
		require.NoError(t, err)
		for i := range perConversation {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.Append(ctx, id, messages.User(fmt.Sprintf("m%d", i))))
			}()
		}
	}
	wg.Wait()

	for c := range conversations {
		conv, ok, err := store.Get(ctx, fmt.Sprintf("c%d", c))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, perConversation, conv.Len())
	}
}

func TestConversation_Statistics(t *testing.T) {
	conv := Conversation{Messages: toolTurn()}
	assert.Equal(t, Statistics{
		TotalMessages:     5,
		UserMessages:      1,
		AssistantMessages: 2,
		ToolMessages:      2,
		TotalToolCalls:    2,
	}, conv.Statistics())
}

func TestService_Clear(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemory())
	_, _, err := svc.Store().GetOrCreate(ctx, "c1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      string
		success bool
		message string
	}{
		{name: "existing", id: "c1", success: true, message: "Conversation c1 cleared successfully"},
		{name: "already cleared", id: "c1", success: false, message: "Conversation c1 not found"},
		{name: "unknown", id: "nope", success: false, message: "Conversation nope not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.Clear(ctx, tt.id)
			assert.Equal(t, ClearResult{Success: tt.success, Message: tt.message, ConversationID: tt.id}, res)

			data, err := json.Marshal(res)
			require.NoError(t, err)
			assert.Equal(t, tt.success, gjson.GetBytes(data, "success").Bool())
			assert.Equal(t, tt.message, gjson.GetBytes(data, "message").String())
			assert.Equal(t, tt.id, gjson.GetBytes(data, "conversation_id").String())
		})
	}
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemory())

	empty := svc.List(ctx)
	assert.True(t, empty.Success)
	assert.Equal(t, 0, empty.Count)
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(data, "conversations").IsArray())
	assert.False(t, gjson.GetBytes(data, "error").Exists())

	for _, id := range []string{"x", "y"} {
		_, _, err := svc.Store().GetOrCreate(ctx, id)
		require.NoError(t, err)
	}
	res := svc.List(ctx)
	assert.Equal(t, ListResult{Success: true, Conversations: []string{"x", "y"}, Count: 2}, res)
}

func TestService_Summarize(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemory())
	_, _, err := svc.Store().GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, svc.Store().Append(ctx, "c1", toolTurn()...))
	require.NoError(t, svc.Store().SetMetadata(ctx, "c1", "title", "math"))

	t.Run("found", func(t *testing.T) {
		summary := svc.Summarize(ctx, "c1")
		require.True(t, summary.Success)

		data, err := json.Marshal(summary)
		require.NoError(t, err)
		doc := gjson.ParseBytes(data)
		assert.Equal(t, "c1", doc.Get("conversation_id").String())
		assert.Equal(t, int64(5), doc.Get("statistics.total_messages").Int())
		assert.Equal(t, int64(1), doc.Get("statistics.user_messages").Int())
		assert.Equal(t, int64(2), doc.Get("statistics.assistant_messages").Int())
		assert.Equal(t, int64(2), doc.Get("statistics.tool_messages").Int())
		assert.Equal(t, int64(2), doc.Get("statistics.total_tool_calls").Int())
		assert.Equal(t, "math", doc.Get("metadata.title").String())
		assert.NotEmpty(t, doc.Get("created_at").String())
		assert.NotEmpty(t, doc.Get("updated_at").String())
		assert.False(t, doc.Get("message").Exists())
	})

	t.Run("not found", func(t *testing.T) {
		summary := svc.Summarize(ctx, "nope")
		assert.False(t, summary.Success)

		data, err := json.Marshal(summary)
		require.NoError(t, err)
		doc := gjson.ParseBytes(data)
		assert.False(t, doc.Get("success").Bool())
		assert.Equal(t, "Conversation nope not found", doc.Get("message").String())
		assert.Equal(t, "nope", doc.Get("conversation_id").String())
		assert.False(t, doc.Get("statistics").Exists())
	})
}

type failingStore struct {
	Store
}

func (failingStore) Get(context.Context, string) (Conversation, bool, error) {
	return Conversation{}, false, errors.New("disk on fire")
}

func (failingStore) Delete(context.Context, string) (bool, error) {
	return false, errors.New("disk on fire")
}

func (failingStore) List(context.Context) ([]string, error) {
	return nil, errors.New("disk on fire")
}

func TestService_StoreFailures(t *testing.T) {
	ctx := context.Background()
	svc := NewService(failingStore{})

	cleared := svc.Clear(ctx, "c1")
	assert.False(t, cleared.Success)
	assert.Contains(t, cleared.Message, "disk on fire")

	list := svc.List(ctx)
	assert.False(t, list.Success)
	assert.Equal(t, []string{}, list.Conversations)
	assert.Contains(t, list.Error, "disk on fire")

	summary := svc.Summarize(ctx, "c1")
	data, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.Contains(t, gjson.GetBytes(data, "error").String(), "disk on fire")

	_, ok := svc.Get(ctx, "c1")
	assert.False(t, ok)
}
