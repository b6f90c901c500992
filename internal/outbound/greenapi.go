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

// GreenAPISender posts WhatsApp replies through a Green API instance.
type GreenAPISender struct {
	baseURL    string
	instance   string
	token      string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logging.Logger
}

// NewGreenAPISender builds a sender for the Green API sendMessage endpoint.
func NewGreenAPISender(baseURL, instance, token string, logger *logging.Logger) *GreenAPISender {
	if logger == nil {
		logger = logging.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.green-api.com"
	}
	return &GreenAPISender{
		baseURL:  strings.TrimRight(baseURL, "/"),
		instance: instance,
		token:    token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tracer: otel.Tracer("napoleon.internal.outbound.greenapi"),
		logger: logger,
	}
}

var _ Sender = (*GreenAPISender)(nil)

// SendText dispatches one WhatsApp message, retrying transient failures.
func (s *GreenAPISender) SendText(ctx context.Context, chatID, text string) (string, error) {
	if s.instance == "" || s.token == "" {
		return "", errors.New("outbound: green api credentials missing")
	}
	if chatID == "" {
		return "", errors.New("outbound: chat id required")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("outbound: text required")
	}

	ctx, span := s.tracer.Start(ctx, "outbound.greenapi.send")
	defer span.End()
	span.SetAttributes(attribute.String("napoleon.chat_id", chatID))

	payload, err := json.Marshal(map[string]any{
		"chatId":  chatID,
		"message": text,
	})
	if err != nil {
		return "", fmt.Errorf("outbound: marshal green api payload: %w", err)
	}

	url := fmt.Sprintf("%s/waInstance%s/sendMessage/%s", s.baseURL, s.instance, s.token)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("outbound: build green api request: %w", err)
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
				IDMessage string `json:"idMessage"`
			}
			if err := json.Unmarshal(body, &parsed); err != nil {
				return "", nil
			}
			return parsed.IDMessage, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("outbound: green api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			s.logger.Warn("green api send retrying", "status", resp.StatusCode, "attempt", attempt)
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
			continue
		}

		return "", fmt.Errorf("outbound: green api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	span.RecordError(lastErr)
	return "", fmt.Errorf("outbound: green api send failed: %w", lastErr)
}
