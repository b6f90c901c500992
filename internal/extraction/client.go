package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIExtractor implements Extractor on top of the OpenAI chat API.
type OpenAIExtractor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	now     Clock
}

// NewOpenAIExtractor builds an extractor for the given API key and model.
// An empty model falls back to gpt-4o-mini.
func NewOpenAIExtractor(apiKey, model string, timeout time.Duration) *OpenAIExtractor {
	if apiKey == "" {
		panic("extraction: OpenAI API key required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OpenAIExtractor{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
		now:     time.Now,
	}
}

// WithClock overrides the clock used to resolve relative dates in prompts.
func (e *OpenAIExtractor) WithClock(clock Clock) *OpenAIExtractor {
	if clock != nil {
		e.now = clock
	}
	return e
}

// wireResult matches the JSON shape the parser prompt demands.
type wireResult struct {
	IsOrder       bool       `json:"is_order"`
	DeliveryDate  string     `json:"delivery_date"`
	DeliveryTime  string     `json:"delivery_time"`
	Address       string     `json:"address"`
	PaymentStatus string     `json:"payment_status"`
	CustomerName  string     `json:"customer_name"`
	ContactNumber string     `json:"contact_number"`
	Items         []LineItem `json:"items"`
	Notes         string     `json:"notes"`
}

func (e *OpenAIExtractor) Extract(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{IsOrder: false, Confidence: ConfidenceLow}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(req.Scope, e.now()),
	})
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == "agent" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Text,
	})

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    msgs,
		Temperature: 0.1,
	})
	if err != nil {
		return Result{}, fmt.Errorf("extraction: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("extraction: completion returned no choices")
	}

	return decodeResult(resp.Choices[0].Message.Content)
}

// decodeResult parses the model reply, tolerating markdown code fences some
// models wrap around JSON.
func decodeResult(raw string) (Result, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var wire wireResult
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return Result{}, fmt.Errorf("extraction: malformed response: %w", err)
	}

	fields := OrderFields{
		DeliveryDate:  strings.TrimSpace(wire.DeliveryDate),
		DeliveryTime:  strings.TrimSpace(wire.DeliveryTime),
		Address:       strings.TrimSpace(wire.Address),
		CustomerName:  strings.TrimSpace(wire.CustomerName),
		ContactNumber: strings.TrimSpace(wire.ContactNumber),
		Items:         wire.Items,
		Notes:         strings.TrimSpace(wire.Notes),
	}
	if wire.PaymentStatus != "" {
		fields.PaymentStatus = normalizePayment(wire.PaymentStatus)
	}

	result := Result{
		IsOrder:    wire.IsOrder,
		Fields:     fields,
		Confidence: ConfidenceFor(fields),
	}
	if !wire.IsOrder {
		result.Fields = OrderFields{}
		result.Confidence = ConfidenceLow
	}
	return result, nil
}
