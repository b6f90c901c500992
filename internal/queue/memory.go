package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a Queue backed by an in-memory buffered channel, used in
// development and tests. Released or unacknowledged-past-visibility
// deliveries are requeued with an incremented attempt count.
type MemoryQueue struct {
	ch         chan Message
	visibility time.Duration

	mu       sync.Mutex
	inflight map[string]Message
	attempts map[string]int
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:         make(chan Message, buffer),
		visibility: 30 * time.Second,
		inflight:   make(map[string]Message),
		attempts:   make(map[string]int),
	}
}

// WithVisibilityTimeout overrides the redelivery timeout (tests use short ones).
func (q *MemoryQueue) WithVisibilityTimeout(d time.Duration) *MemoryQueue {
	if d > 0 {
		q.visibility = d
	}
	return q
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg := Message{ID: uuid.NewString(), Body: body}

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds
// elapses. Each delivery gets a fresh receipt handle and a redelivery timer.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	// Zero wait is a short poll: return whatever is immediately available.
	if waitSeconds <= 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-q.ch:
			return q.collect(ctx, msg, maxMessages), nil
		default:
			return nil, nil
		}
	}

	timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(ctx, msg, maxMessages), nil
	}
}

func (q *MemoryQueue) collect(ctx context.Context, first Message, max int) []Message {
	messages := []Message{q.deliver(first)}
	for len(messages) < max {
		select {
		case <-ctx.Done():
			return messages
		case msg := <-q.ch:
			messages = append(messages, q.deliver(msg))
		default:
			return messages
		}
	}
	return messages
}

func (q *MemoryQueue) deliver(msg Message) Message {
	q.mu.Lock()
	q.attempts[msg.ID]++
	msg.Attempt = q.attempts[msg.ID]
	msg.ReceiptHandle = uuid.NewString()
	q.inflight[msg.ReceiptHandle] = msg
	q.mu.Unlock()

	handle := msg.ReceiptHandle
	time.AfterFunc(q.visibility, func() {
		q.requeue(handle)
	})
	return msg
}

func (q *MemoryQueue) requeue(receiptHandle string) {
	q.mu.Lock()
	msg, ok := q.inflight[receiptHandle]
	if ok {
		delete(q.inflight, receiptHandle)
	}
	q.mu.Unlock()
	if !ok {
		return
	}
	msg.ReceiptHandle = ""
	select {
	case q.ch <- msg:
	default:
	}
}

// Delete acknowledges a delivery.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	if msg, ok := q.inflight[receiptHandle]; ok {
		delete(q.inflight, receiptHandle)
		delete(q.attempts, msg.ID)
	}
	q.mu.Unlock()
	return nil
}

// Release requeues a delivery immediately for another attempt.
func (q *MemoryQueue) Release(_ context.Context, receiptHandle string) error {
	q.requeue(receiptHandle)
	return nil
}
