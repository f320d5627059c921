package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/casualjim/relay/pkg/slogx"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
)

// Service exposes conversation management operations with client-facing
// result shapes.
type Service struct {
	store Store
	log   *slog.Logger
}

// NewService creates a Service over store.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		log:   slog.Default().With(slogx.LoggerName("relay.conversation")),
	}
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// ClearResult is the outcome of Clear.
type ClearResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// ListResult is the outcome of List.
type ListResult struct {
	Success       bool     `json:"success"`
	Error         string   `json:"error,omitempty"`
	Conversations []string `json:"conversations"`
	Count         int      `json:"count"`
}

// Summary describes one conversation. Unsuccessful summaries only encode the
// status fields.
type Summary struct {
	Success        bool
	ConversationID string
	Message        string
	Error          string
	CreatedAt      strfmt.DateTime
	UpdatedAt      strfmt.DateTime
	Statistics     Statistics
	Metadata       map[string]any
}

func (s Summary) MarshalJSON() ([]byte, error) {
	result := []byte(`{}`)
	set := func(path string, value any) {
		if result == nil {
			return
		}
		var err error
		if result, err = sjson.SetBytes(result, path, value); err != nil {
			result = nil
		}
	}

	set("success", s.Success)
	set("conversation_id", s.ConversationID)
	if !s.Success {
		if s.Error != "" {
			set("error", s.Error)
		} else {
			set("message", s.Message)
		}
		if result == nil {
			return nil, fmt.Errorf("failed to encode summary of %s", s.ConversationID)
		}
		return result, nil
	}

	stats, err := json.Marshal(s.Statistics)
	if err != nil {
		return nil, err
	}
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata of %s: %w", s.ConversationID, err)
	}

	set("created_at", s.CreatedAt.String())
	set("updated_at", s.UpdatedAt.String())
	if result == nil {
		return nil, fmt.Errorf("failed to encode summary of %s", s.ConversationID)
	}
	if result, err = sjson.SetRawBytes(result, "statistics", stats); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(result, "metadata", meta)
}

// Get returns the conversation with id. Store failures are logged and
// reported as not found.
func (s *Service) Get(ctx context.Context, id string) (Conversation, bool) {
	conv, ok, err := s.store.Get(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to get conversation", slogx.Conversation(id), slogx.Error(err))
		return Conversation{}, false
	}
	return conv, ok
}

// Clear deletes the conversation with id.
func (s *Service) Clear(ctx context.Context, id string) ClearResult {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		msg := fmt.Sprintf("Failed to clear conversation %s: %v", id, err)
		s.log.ErrorContext(ctx, "failed to clear conversation", slogx.Conversation(id), slogx.Error(err))
		return ClearResult{Message: msg, ConversationID: id}
	}
	if !deleted {
		return ClearResult{Message: fmt.Sprintf("Conversation %s not found", id), ConversationID: id}
	}
	return ClearResult{
		Success:        true,
		Message:        fmt.Sprintf("Conversation %s cleared successfully", id),
		ConversationID: id,
	}
}

// List returns the ids of all stored conversations.
func (s *Service) List(ctx context.Context) ListResult {
	ids, err := s.store.List(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to list conversations", slogx.Error(err))
		return ListResult{
			Error:         fmt.Sprintf("Failed to list conversations: %v", err),
			Conversations: []string{},
		}
	}
	return ListResult{Success: true, Conversations: ids, Count: len(ids)}
}

// Summarize computes the statistics of the conversation with id.
func (s *Service) Summarize(ctx context.Context, id string) Summary {
	conv, ok, err := s.store.Get(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to summarize conversation", slogx.Conversation(id), slogx.Error(err))
		return Summary{
			ConversationID: id,
			Error:          fmt.Sprintf("Failed to get conversation summary for %s: %v", id, err),
		}
	}
	if !ok {
		return Summary{ConversationID: id, Message: fmt.Sprintf("Conversation %s not found", id)}
	}
	return Summary{
		Success:        true,
		ConversationID: id,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
		Statistics:     conv.Statistics(),
		Metadata:       conv.Metadata,
	}
}
