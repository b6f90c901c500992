package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitQueue implements Queue over a durable RabbitMQ queue with manual
// acknowledgements. Deliveries stay unacked until Delete or Release, so a
// crashed consumer's messages are redelivered by the broker.
type RabbitQueue struct {
	ch    *amqp.Channel
	queue string

	mu        sync.Mutex
	inflight  map[string]amqp.Delivery
	deliverCh <-chan amqp.Delivery
}

// NewRabbitQueue declares the queue and starts a consumer with manual acks.
func NewRabbitQueue(conn *amqp.Connection, queueName string, prefetch int) (*RabbitQueue, error) {
	if conn == nil {
		panic("queue: rabbit connection cannot be nil")
	}
	if queueName == "" {
		panic("queue: rabbit queue name cannot be empty")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("queue: set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("queue: declare %s: %w", queueName, err)
	}
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("queue: consume %s: %w", queueName, err)
	}

	return &RabbitQueue{
		ch:        ch,
		queue:     queueName,
		inflight:  make(map[string]amqp.Delivery),
		deliverCh: deliveries,
	}, nil
}

func (q *RabbitQueue) Send(ctx context.Context, body string) error {
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         []byte(body),
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("queue: publish to %s: %w", q.queue, err)
	}
	return nil
}

func (q *RabbitQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timer *time.Timer
	if waitSeconds > 0 {
		timer = time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
	}

	var messages []Message
	for len(messages) < maxMessages {
		if len(messages) > 0 {
			// Drain whatever else is already buffered without waiting.
			select {
			case d, ok := <-q.deliverCh:
				if !ok {
					return messages, nil
				}
				messages = append(messages, q.track(d))
				continue
			default:
			}
			return messages, nil
		}

		if timer == nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case d, ok := <-q.deliverCh:
				if !ok {
					return messages, nil
				}
				messages = append(messages, q.track(d))
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return messages, nil
		case d, ok := <-q.deliverCh:
			if !ok {
				return messages, nil
			}
			messages = append(messages, q.track(d))
		}
	}
	return messages, nil
}

func (q *RabbitQueue) track(d amqp.Delivery) Message {
	handle := strconv.FormatUint(d.DeliveryTag, 10)
	q.mu.Lock()
	q.inflight[handle] = d
	q.mu.Unlock()

	attempt := 1
	if deaths, ok := d.Headers["x-death"].([]interface{}); ok {
		for _, entry := range deaths {
			if table, ok := entry.(amqp.Table); ok {
				if count, ok := table["count"].(int64); ok {
					attempt += int(count)
				}
			}
		}
	} else if d.Redelivered {
		attempt = 2
	}

	id := d.MessageId
	if id == "" {
		id = handle
	}
	return Message{
		ID:            id,
		Body:          string(d.Body),
		ReceiptHandle: handle,
		Attempt:       attempt,
	}
}

func (q *RabbitQueue) take(receiptHandle string) (amqp.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.inflight[receiptHandle]
	if ok {
		delete(q.inflight, receiptHandle)
	}
	return d, ok
}

func (q *RabbitQueue) Delete(_ context.Context, receiptHandle string) error {
	d, ok := q.take(receiptHandle)
	if !ok {
		return nil
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

func (q *RabbitQueue) Release(_ context.Context, receiptHandle string) error {
	d, ok := q.take(receiptHandle)
	if !ok {
		return nil
	}
	if err := d.Nack(false, true); err != nil {
		return fmt.Errorf("queue: nack: %w", err)
	}
	return nil
}

// Close shuts down the consumer channel.
func (q *RabbitQueue) Close() error {
	return q.ch.Close()
}
