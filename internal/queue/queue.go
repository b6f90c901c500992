package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Lane is a logically separate consumption path over the broker.
type Lane string

const (
	LaneManager Lane = "manager"
	LaneClient  Lane = "client"
)

// Message is one delivery from the broker. Attempt counts deliveries of the
// same message, starting at 1, as far as the broker can report it.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	Attempt       int
}

// Queue is the lane transport. Delete acknowledges a delivery; Release
// returns it for redelivery (visibility-timeout semantics), used when the
// consumer hit a retryable failure.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	Release(ctx context.Context, receiptHandle string) error
}

// Task is the payload routed through a lane: a pointer to a stored Message
// plus enough routing context that consumers avoid a lookup.
type Task struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	Lane      Lane   `json:"lane"`
}

// EncodeTask assigns an id when absent and marshals the task for Send.
func EncodeTask(task Task) (Task, string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return Task{}, "", fmt.Errorf("queue: encode task: %w", err)
	}
	return task, string(body), nil
}

// DecodeTask unmarshals a delivery body.
func DecodeTask(body string) (Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return Task{}, fmt.Errorf("queue: decode task: %w", err)
	}
	return task, nil
}
