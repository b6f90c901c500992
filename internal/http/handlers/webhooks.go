package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beybars1/napoleon-tseh/internal/classify"
	"github.com/beybars1/napoleon-tseh/internal/observability/metrics"
	"github.com/beybars1/napoleon-tseh/internal/queue"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

type inboundStore interface {
	InsertInbound(ctx context.Context, channel, externalID, chatID, body string, timestamp time.Time) (uuid.UUID, bool, error)
}

// WebhookHandler receives chat provider callbacks, persists each message
// idempotently and routes it to a processing lane. Providers retry on
// non-2xx, so once a message is stored the handler answers 200 even when
// routing fails; the reprocess endpoint picks up any stragglers.
type WebhookHandler struct {
	store        inboundStore
	classifier   *classify.Classifier
	managerQueue queue.Queue
	clientQueue  queue.Queue
	logger       *logging.Logger
	metrics      *metrics.PipelineMetrics
}

// WebhookConfig wires a WebhookHandler.
type WebhookConfig struct {
	Store        inboundStore
	Classifier   *classify.Classifier
	ManagerQueue queue.Queue
	ClientQueue  queue.Queue
	Logger       *logging.Logger
	Metrics      *metrics.PipelineMetrics
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Store == nil || cfg.Classifier == nil || cfg.ManagerQueue == nil || cfg.ClientQueue == nil {
		panic("handlers: webhook handler requires store, classifier and queues")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WebhookHandler{
		store:        cfg.Store,
		classifier:   cfg.Classifier,
		managerQueue: cfg.ManagerQueue,
		clientQueue:  cfg.ClientQueue,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// inboundMessage is a provider-neutral parsed webhook.
type inboundMessage struct {
	channel    string
	externalID string
	chatID     string
	body       string
	timestamp  time.Time
}

// HandleTelegram processes Telegram Bot API updates.
func (h *WebhookHandler) HandleTelegram(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	var update struct {
		UpdateID int64 `json:"update_id"`
		Message  *struct {
			MessageID int64  `json:"message_id"`
			Date      int64  `json:"date"`
			Text      string `json:"text"`
			Chat      struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &update); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// Non-message updates (edits, callbacks) are acknowledged and dropped.
	if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.ingest(r.Context(), w, inboundMessage{
		channel:    "telegram",
		externalID: fmt.Sprintf("%d:%d", update.Message.Chat.ID, update.Message.MessageID),
		chatID:     fmt.Sprintf("%d", update.Message.Chat.ID),
		body:       update.Message.Text,
		timestamp:  time.Unix(update.Message.Date, 0).UTC(),
	})
}

// HandleWhatsApp processes Green API incoming-message notifications.
func (h *WebhookHandler) HandleWhatsApp(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	var notification struct {
		TypeWebhook string `json:"typeWebhook"`
		IDMessage   string `json:"idMessage"`
		Timestamp   int64  `json:"timestamp"`
		SenderData  struct {
			ChatID string `json:"chatId"`
		} `json:"senderData"`
		MessageData struct {
			TypeMessage     string `json:"typeMessage"`
			TextMessageData struct {
				TextMessage string `json:"textMessage"`
			} `json:"textMessageData"`
			ExtendedTextMessageData struct {
				Text string `json:"text"`
			} `json:"extendedTextMessageData"`
		} `json:"messageData"`
	}
	if err := json.Unmarshal(raw, &notification); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if notification.TypeWebhook != "incomingMessageReceived" {
		w.WriteHeader(http.StatusOK)
		return
	}

	text := notification.MessageData.TextMessageData.TextMessage
	if text == "" {
		text = notification.MessageData.ExtendedTextMessageData.Text
	}
	// Voice notes, images and the like have no text to parse.
	if strings.TrimSpace(text) == "" || notification.IDMessage == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.ingest(r.Context(), w, inboundMessage{
		channel:    "whatsapp",
		externalID: notification.IDMessage,
		chatID:     notification.SenderData.ChatID,
		body:       text,
		timestamp:  time.Unix(notification.Timestamp, 0).UTC(),
	})
}

func (h *WebhookHandler) ingest(ctx context.Context, w http.ResponseWriter, msg inboundMessage) {
	if msg.chatID == "" {
		http.Error(w, "missing chat id", http.StatusBadRequest)
		return
	}

	msgID, created, err := h.store.InsertInbound(ctx, msg.channel, msg.externalID, msg.chatID, msg.body, msg.timestamp)
	if err != nil {
		h.logger.Error("failed to persist inbound message", "error", err,
			"channel", msg.channel, "external_id", msg.externalID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !created {
		// Provider retry of a message we already stored and routed.
		h.logger.Debug("duplicate inbound message", "channel", msg.channel, "external_id", msg.externalID)
		w.WriteHeader(http.StatusOK)
		return
	}

	outcome := h.classifier.Classify(msg.chatID)
	h.metrics.ObserveInbound(msg.channel, string(outcome))

	switch outcome {
	case classify.OutcomeManager:
		h.route(ctx, h.managerQueue, queue.LaneManager, msgID, msg)
	case classify.OutcomeClient:
		h.route(ctx, h.clientQueue, queue.LaneClient, msgID, msg)
	default:
		h.logger.Info("inbound message stored but not routed",
			"channel", msg.channel, "chat_id", msg.chatID, "message_id", msgID)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) route(ctx context.Context, q queue.Queue, lane queue.Lane, msgID uuid.UUID, msg inboundMessage) {
	_, body, err := queue.EncodeTask(queue.Task{
		MessageID: msgID.String(),
		Channel:   msg.channel,
		ChatID:    msg.chatID,
		Lane:      lane,
	})
	if err != nil {
		h.logger.Error("failed to encode lane task", "error", err, "message_id", msgID)
		return
	}
	if err := q.Send(ctx, body); err != nil {
		// The message is stored; the reprocess endpoint can route it later.
		h.logger.Error("failed to enqueue lane task", "error", err,
			"lane", string(lane), "message_id", msgID)
	}
}
