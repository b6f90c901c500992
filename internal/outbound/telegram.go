package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender posts replies through the Telegram Bot API.
type TelegramSender struct {
	token      string
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logging.Logger
}

// NewTelegramSender builds a sender for the Telegram Bot API.
func NewTelegramSender(token string, logger *logging.Logger) *TelegramSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelegramSender{
		token:   token,
		baseURL: telegramAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tracer: otel.Tracer("napoleon.internal.outbound.telegram"),
		logger: logger,
	}
}

// WithBaseURL overrides the API host, used in tests.
func (s *TelegramSender) WithBaseURL(baseURL string) *TelegramSender {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

var _ Sender = (*TelegramSender)(nil)

// SendText dispatches one message, retrying transient failures.
func (s *TelegramSender) SendText(ctx context.Context, chatID, text string) (string, error) {
	if s.token == "" {
		return "", errors.New("outbound: telegram bot token missing")
	}
	if chatID == "" {
		return "", errors.New("outbound: chat id required")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("outbound: text required")
	}

	ctx, span := s.tracer.Start(ctx, "outbound.telegram.send")
	defer span.End()
	span.SetAttributes(attribute.String("napoleon.chat_id", chatID))

	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return "", fmt.Errorf("outbound: marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("outbound: build telegram request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
			continue
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			var parsed struct {
				OK     bool `json:"ok"`
				Result struct {
					MessageID int64 `json:"message_id"`
				} `json:"result"`
			}
			if err := json.Unmarshal(body, &parsed); err != nil || !parsed.OK {
				return "", nil
			}
			return fmt.Sprintf("%d", parsed.Result.MessageID), nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("outbound: telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			s.logger.Warn("telegram send retrying", "status", resp.StatusCode, "attempt", attempt)
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
			continue
		}

		return "", fmt.Errorf("outbound: telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	span.RecordError(lastErr)
	return "", fmt.Errorf("outbound: telegram send failed: %w", lastErr)
}
