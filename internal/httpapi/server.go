// Package httpapi serves an Orchestrator over HTTP: chat streams as
// server-sent events plus the conversation management endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/casualjim/relay"
	"github.com/casualjim/relay/events"
	"github.com/casualjim/relay/internal/broker"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
)

const (
	DefaultKeepAlive = 15 * time.Second

	maxRequestBody = 1 << 20
)

type Server struct {
	orchestrator *relay.Orchestrator
	broker       broker.Broker
	keepAlive    time.Duration
	log          *slog.Logger
}

type Option = opts.Option[Server]

var (
	// WithBroker enables the events endpoint. It should be the broker the
	// orchestrator publishes to.
	WithBroker = opts.ForName[Server, broker.Broker]("broker")
	// WithKeepAlive sets the interval of SSE comments on idle event watches.
	WithKeepAlive = opts.ForName[Server, time.Duration]("keepAlive")
)

func New(orchestrator *relay.Orchestrator, options ...Option) (*Server, error) {
	s := &Server{
		orchestrator: orchestrator,
		keepAlive:    DefaultKeepAlive,
		log:          slog.Default().With(slogx.LoggerName("relay.httpapi")),
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	if s.keepAlive <= 0 {
		s.keepAlive = DefaultKeepAlive
	}
	return s, nil
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /chat/stream", s.chatStream)
	mux.HandleFunc("GET /conversations", s.listConversations)
	mux.HandleFunc("GET /conversations/{id}", s.getConversation)
	mux.HandleFunc("DELETE /conversations/{id}", s.clearConversation)
	mux.HandleFunc("GET /conversations/{id}/summary", s.conversationSummary)
	mux.HandleFunc("GET /conversations/{id}/events", s.watchConversation)
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "relay",
	})
}

func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	var req relay.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeJSON(r.Context(), w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid request body: " + err.Error(),
		})
		return
	}

	events.SetStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	sse := events.NewWriter(w)
	for ev := range s.orchestrator.Stream(r.Context(), req) {
		if err := sse.Write(ev); err != nil {
			s.log.InfoContext(r.Context(), "client went away", slog.String("type", string(ev.Type())), slogx.Error(err))
			return
		}
	}
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	result := s.orchestrator.Conversations().List(r.Context())
	code := http.StatusOK
	if !result.Success {
		code = http.StatusInternalServerError
	}
	s.writeJSON(r.Context(), w, code, result)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, ok := s.orchestrator.Conversations().Get(r.Context(), id)
	if !ok {
		s.writeJSON(r.Context(), w, http.StatusNotFound, map[string]any{
			"success":      false,
			"message":      "Conversation " + id + " not found",
			"conversation": nil,
		})
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Conversation retrieved successfully",
		"conversation": conv,
	})
}

func (s *Server) clearConversation(w http.ResponseWriter, r *http.Request) {
	result := s.orchestrator.Conversations().Clear(r.Context(), r.PathValue("id"))
	code := http.StatusOK
	if !result.Success {
		code = http.StatusNotFound
	}
	s.writeJSON(r.Context(), w, code, result)
}

func (s *Server) conversationSummary(w http.ResponseWriter, r *http.Request) {
	summary := s.orchestrator.Conversations().Summarize(r.Context(), r.PathValue("id"))
	code := http.StatusOK
	switch {
	case summary.Error != "":
		code = http.StatusInternalServerError
	case !summary.Success:
		code = http.StatusNotFound
	}
	s.writeJSON(r.Context(), w, code, summary)
}

// watchConversation streams the events published for a conversation until
// the client goes away.
func (s *Server) watchConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.broker == nil {
		s.writeJSON(ctx, w, http.StatusNotImplemented, map[string]any{
			"success": false,
			"error":   "event fan-out is not enabled",
		})
		return
	}

	id := r.PathValue("id")
	received := make(chan events.Event, 64)
	sub, err := s.broker.Topic(ctx, broker.ConversationTopic(id)).Subscribe(ctx, events.HookFunc(func(_ context.Context, ev events.Event) {
		select {
		case received <- ev:
		case <-ctx.Done():
		}
	}))
	if err != nil {
		s.log.ErrorContext(ctx, "failed to subscribe", slogx.Conversation(id), slogx.Error(err))
		s.writeJSON(ctx, w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to subscribe: " + err.Error(),
		})
		return
	}
	defer sub.Unsubscribe()

	events.SetStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	sse := events.NewWriter(w)
	if err := sse.Comment("watching " + id); err != nil {
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sse.Comment("keep-alive"); err != nil {
				return
			}
		case ev := <-received:
			if err := sse.Write(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to encode response", slogx.Error(err))
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
