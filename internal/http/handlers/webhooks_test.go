package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beybars1/napoleon-tseh/internal/classify"
	"github.com/beybars1/napoleon-tseh/internal/queue"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

type stubInboundStore struct {
	seen map[string]uuid.UUID
	err  error
}

func newStubInboundStore() *stubInboundStore {
	return &stubInboundStore{seen: make(map[string]uuid.UUID)}
}

func (s *stubInboundStore) InsertInbound(ctx context.Context, channel, externalID, chatID, body string, timestamp time.Time) (uuid.UUID, bool, error) {
	if s.err != nil {
		return uuid.Nil, false, s.err
	}
	key := channel + ":" + externalID
	if id, ok := s.seen[key]; ok {
		return id, false, nil
	}
	id := uuid.New()
	s.seen[key] = id
	return id, true, nil
}

func newTestWebhookHandler(t *testing.T, managers, clients []string) (*WebhookHandler, *stubInboundStore, queue.Queue, queue.Queue) {
	t.Helper()
	store := newStubInboundStore()
	managerQ := queue.NewMemoryQueue(16)
	clientQ := queue.NewMemoryQueue(16)
	h := NewWebhookHandler(WebhookConfig{
		Store:        store,
		Classifier:   classify.New(classify.Config{Managers: managers, Clients: clients}),
		ManagerQueue: managerQ,
		ClientQueue:  clientQ,
		Logger:       logging.New("error"),
	})
	return h, store, managerQ, clientQ
}

func receiveOne(t *testing.T, q queue.Queue) queue.Task {
	t.Helper()
	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	task, err := queue.DecodeTask(msgs[0].Body)
	require.NoError(t, err)
	return task
}

func assertEmpty(t *testing.T, q queue.Queue) {
	t.Helper()
	msgs, err := q.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

const telegramUpdate = `{
	"update_id": 10001,
	"message": {
		"message_id": 55,
		"date": 1767000000,
		"text": "Order for tomorrow: 2 napoleon cakes",
		"chat": {"id": 777}
	}
}`

func TestHandleTelegramRoutesManager(t *testing.T) {
	h, _, managerQ, clientQ := newTestWebhookHandler(t, []string{"777"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(telegramUpdate))
	rec := httptest.NewRecorder()
	h.HandleTelegram(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	task := receiveOne(t, managerQ)
	assert.Equal(t, queue.LaneManager, task.Lane)
	assert.Equal(t, "telegram", task.Channel)
	assert.Equal(t, "777", task.ChatID)
	assertEmpty(t, clientQ)
}

func TestHandleTelegramRoutesClient(t *testing.T) {
	h, _, managerQ, clientQ := newTestWebhookHandler(t, []string{"999"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(telegramUpdate))
	rec := httptest.NewRecorder()
	h.HandleTelegram(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	task := receiveOne(t, clientQ)
	assert.Equal(t, queue.LaneClient, task.Lane)
	assertEmpty(t, managerQ)
}

func TestHandleTelegramIgnoresUnlistedWhenRestricted(t *testing.T) {
	h, store, managerQ, clientQ := newTestWebhookHandler(t, []string{"999"}, []string{"888"})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(telegramUpdate))
	rec := httptest.NewRecorder()
	h.HandleTelegram(rec, req)

	// Stored but not routed.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, store.seen, 1)
	assertEmpty(t, managerQ)
	assertEmpty(t, clientQ)
}

func TestHandleTelegramDeduplicatesRetries(t *testing.T) {
	h, _, managerQ, _ := newTestWebhookHandler(t, []string{"777"}, nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(telegramUpdate))
		rec := httptest.NewRecorder()
		h.HandleTelegram(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	receiveOne(t, managerQ)
	assertEmpty(t, managerQ)
}

func TestHandleTelegramSkipsNonText(t *testing.T) {
	h, store, _, _ := newTestWebhookHandler(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram",
		strings.NewReader(`{"update_id": 1, "message": null}`))
	rec := httptest.NewRecorder()
	h.HandleTelegram(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.seen)
}

const whatsappNotification = `{
	"typeWebhook": "incomingMessageReceived",
	"idMessage": "BAE5123456",
	"timestamp": 1767000000,
	"senderData": {"chatId": "77011234567@c.us"},
	"messageData": {
		"typeMessage": "textMessage",
		"textMessageData": {"textMessage": "hello, I want to order a cake"}
	}
}`

func TestHandleWhatsAppRoutesClient(t *testing.T) {
	h, _, _, clientQ := newTestWebhookHandler(t, []string{"manager@c.us"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(whatsappNotification))
	rec := httptest.NewRecorder()
	h.HandleWhatsApp(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	task := receiveOne(t, clientQ)
	assert.Equal(t, "whatsapp", task.Channel)
	assert.Equal(t, "77011234567@c.us", task.ChatID)
}

func TestHandleWhatsAppIgnoresOtherWebhookTypes(t *testing.T) {
	h, store, _, _ := newTestWebhookHandler(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp",
		strings.NewReader(`{"typeWebhook": "outgoingMessageStatus"}`))
	rec := httptest.NewRecorder()
	h.HandleWhatsApp(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.seen)
}

func TestHandleWhatsAppExtendedText(t *testing.T) {
	h, _, _, clientQ := newTestWebhookHandler(t, nil, nil)

	payload := `{
		"typeWebhook": "incomingMessageReceived",
		"idMessage": "BAE999",
		"timestamp": 1767000000,
		"senderData": {"chatId": "77019998877@c.us"},
		"messageData": {
			"typeMessage": "extendedTextMessage",
			"extendedTextMessageData": {"text": "link to the cake I want"}
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.HandleWhatsApp(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	receiveOne(t, clientQ)
}

func TestHandleTelegramStoreFailureReturns500(t *testing.T) {
	h, store, _, _ := newTestWebhookHandler(t, nil, nil)
	store.err = assert.AnError

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(telegramUpdate))
	rec := httptest.NewRecorder()
	h.HandleTelegram(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
