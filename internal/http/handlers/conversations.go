package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/beybars1/napoleon-tseh/internal/conversation"
	"github.com/beybars1/napoleon-tseh/internal/extraction"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

type conversationReader interface {
	ListByChat(ctx context.Context, chatID string, limit int) ([]conversation.Conversation, error)
	History(ctx context.Context, conversationID uuid.UUID, limit int) ([]conversation.Turn, error)
}

// ConversationsHandler lets operators inspect a chat's dialogues.
type ConversationsHandler struct {
	store  conversationReader
	logger *logging.Logger
}

func NewConversationsHandler(store conversationReader, logger *logging.Logger) *ConversationsHandler {
	if store == nil {
		panic("handlers: conversation store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConversationsHandler{store: store, logger: logger}
}

type conversationResponse struct {
	ID        uuid.UUID              `json:"id"`
	ChatID    string                 `json:"chat_id"`
	Channel   string                 `json:"channel"`
	State     string                 `json:"state"`
	Status    string                 `json:"status"`
	Fields    extraction.OrderFields `json:"fields"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Turns     []turnResponse         `json:"turns,omitempty"`
}

type turnResponse struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GetByChat handles GET /conversations/{chatID}: the chat's conversations,
// newest first, with the most recent one's transcript inlined.
func (h *ConversationsHandler) GetByChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		http.Error(w, "missing chat id", http.StatusBadRequest)
		return
	}

	convs, err := h.store.ListByChat(r.Context(), chatID, queryInt(r, "limit", 10))
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err, "chat_id", chatID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if len(convs) == 0 {
		http.Error(w, "no conversations for chat", http.StatusNotFound)
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for i, c := range convs {
		resp := conversationResponse{
			ID:        c.ID,
			ChatID:    c.ChatID,
			Channel:   c.Channel,
			State:     string(c.State),
			Status:    c.Status,
			Fields:    c.Fields,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
		if i == 0 {
			turns, histErr := h.store.History(r.Context(), c.ID, queryInt(r, "turns", 50))
			if histErr != nil {
				h.logger.Warn("failed to load transcript", "error", histErr, "conversation_id", c.ID)
			}
			for _, t := range turns {
				resp.Turns = append(resp.Turns, turnResponse{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt})
			}
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}
