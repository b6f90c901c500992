package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

func TestTelegramSenderSendText(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender("bot-token", logging.New("error")).WithBaseURL(srv.URL)
	id, err := sender.SendText(context.Background(), "12345", "hello")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "12345", gotBody["chat_id"])
	assert.Equal(t, "hello", gotBody["text"])
}

func TestTelegramSenderRejectsEmpty(t *testing.T) {
	sender := NewTelegramSender("bot-token", logging.New("error"))
	_, err := sender.SendText(context.Background(), "12345", "   ")
	assert.Error(t, err)
	_, err = sender.SendText(context.Background(), "", "hello")
	assert.Error(t, err)
}

func TestGreenAPISenderSendText(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"idMessage":"BAE5F4886F6F2D05"}`))
	}))
	defer srv.Close()

	sender := NewGreenAPISender(srv.URL, "1101000001", "api-token", logging.New("error"))
	id, err := sender.SendText(context.Background(), "77011234567@c.us", "your order is confirmed")
	require.NoError(t, err)
	assert.Equal(t, "BAE5F4886F6F2D05", id)
	assert.Equal(t, "/waInstance1101000001/sendMessage/api-token", gotPath)
	assert.Equal(t, "77011234567@c.us", gotBody["chatId"])
}

func TestGreenAPISenderClientErrorNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad chat id", http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewGreenAPISender(srv.URL, "1101000001", "api-token", logging.New("error"))
	_, err := sender.SendText(context.Background(), "nope", "text")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRegistryRoutesByChannel(t *testing.T) {
	reg := NewRegistry()
	stub := &stubSender{id: "m1"}
	reg.Register("Telegram", stub)

	id, err := reg.SendText(context.Background(), "telegram", "chat", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	_, err = reg.SendText(context.Background(), "whatsapp", "chat", "hi")
	assert.Error(t, err)
}

func TestPersistingDispatcherRecordsReply(t *testing.T) {
	stub := &stubSender{id: "provider-1"}
	reg := NewRegistry()
	reg.Register("telegram", stub)
	rec := &stubRecorder{}

	dispatcher := WrapWithPersistence(reg, rec, logging.New("error"))
	id, err := dispatcher.SendText(context.Background(), "telegram", "chat-9", "summary text")
	require.NoError(t, err)
	assert.Equal(t, "provider-1", id)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "telegram", rec.calls[0].channel)
	assert.Equal(t, "chat-9", rec.calls[0].chatID)
	assert.Equal(t, "provider-1", rec.calls[0].externalID)
}

func TestPersistingDispatcherSkipsRecordOnSendFailure(t *testing.T) {
	stub := &stubSender{err: assert.AnError}
	reg := NewRegistry()
	reg.Register("telegram", stub)
	rec := &stubRecorder{}

	dispatcher := WrapWithPersistence(reg, rec, logging.New("error"))
	_, err := dispatcher.SendText(context.Background(), "telegram", "chat-9", "text")
	assert.Error(t, err)
	assert.Empty(t, rec.calls)
}

type stubSender struct {
	id  string
	err error
}

func (s *stubSender) SendText(ctx context.Context, chatID, text string) (string, error) {
	return s.id, s.err
}

type recordedOutbound struct {
	channel    string
	externalID string
	chatID     string
	body       string
}

type stubRecorder struct {
	calls []recordedOutbound
}

func (r *stubRecorder) InsertOutbound(ctx context.Context, channel, externalID, chatID, body string, timestamp time.Time) (uuid.UUID, error) {
	r.calls = append(r.calls, recordedOutbound{channel: channel, externalID: externalID, chatID: chatID, body: body})
	return uuid.New(), nil
}
