package extractor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
	"github.com/beybars1/napoleon-tseh/internal/messages"
	"github.com/beybars1/napoleon-tseh/internal/orders"
	"github.com/beybars1/napoleon-tseh/internal/queue"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

type fakeMessageStore struct {
	mu        sync.Mutex
	msgs      map[uuid.UUID]messages.Message
	processed map[uuid.UUID][]string
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		msgs:      make(map[uuid.UUID]messages.Message),
		processed: make(map[uuid.UUID][]string),
	}
}

func (f *fakeMessageStore) add(body string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.msgs[id] = messages.Message{ID: id, Channel: "whatsapp", ChatID: "manager-chat", Direction: "in", Body: body}
	return id
}

func (f *fakeMessageStore) Get(ctx context.Context, id uuid.UUID) (messages.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[id]
	if !ok {
		return messages.Message{}, messages.ErrNotFound
	}
	return msg, nil
}

func (f *fakeMessageStore) MarkProcessed(ctx context.Context, id uuid.UUID, lane string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = append(f.processed[id], lane)
	return nil
}

func (f *fakeMessageStore) processedLanes(id uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed[id]...)
}

type fakeGuard struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{claims: make(map[string]struct{})}
}

func (g *fakeGuard) Claim(ctx context.Context, messageID uuid.UUID, lane string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := messageID.String() + ":" + lane
	if _, exists := g.claims[key]; exists {
		return false, nil
	}
	g.claims[key] = struct{}{}
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, messageID uuid.UUID, lane string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, messageID.String()+":"+lane)
	return nil
}

type fakeOrderStore struct {
	mu       sync.Mutex
	orders   []orders.ManagerOrder
	reviewed []uuid.UUID
}

func (f *fakeOrderStore) InsertManagerOrder(ctx context.Context, order orders.ManagerOrder) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.orders {
		if existing.SourceMessageID == order.SourceMessageID {
			return false, nil
		}
	}
	f.orders = append(f.orders, order)
	return true, nil
}

func (f *fakeOrderStore) FlagForReview(ctx context.Context, messageID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewed = append(f.reviewed, messageID)
	return nil
}

type stubExtractor struct {
	mu       sync.Mutex
	result   extraction.Result
	failures int
	calls    int
}

func (s *stubExtractor) Extract(ctx context.Context, req extraction.Request) (extraction.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return extraction.Result{}, errors.New("provider unavailable")
	}
	return s.result, nil
}

func newQueue() queue.Queue {
	return queue.NewMemoryQueue(64).WithVisibilityTimeout(10 * time.Millisecond)
}

func enqueue(t *testing.T, q queue.Queue, msgID uuid.UUID) {
	t.Helper()
	_, body, err := queue.EncodeTask(queue.Task{
		MessageID: msgID.String(),
		Channel:   "whatsapp",
		ChatID:    "manager-chat",
		Lane:      queue.LaneManager,
	})
	require.NoError(t, err)
	require.NoError(t, q.Send(context.Background(), body))
}

func drain(t *testing.T, w *Worker, wait time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	w.Start(ctx)
	<-ctx.Done()
	w.Wait()
}

func TestWorkerExtractsFullOrder(t *testing.T) {
	q := newQueue()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	orderStore := &fakeOrderStore{}

	fields := extraction.OrderFields{
		DeliveryDate:  "2026-11-05",
		DeliveryTime:  "15:00",
		PaymentStatus: "paid",
		CustomerName:  "Alice",
		ContactNumber: "+77011234567",
		Items: []extraction.LineItem{
			{ProductName: "Napoleon cake", Quantity: 2, Unit: "kg"},
		},
	}
	ex := &stubExtractor{result: extraction.Result{
		IsOrder:    true,
		Fields:     fields,
		Confidence: extraction.ConfidenceFor(fields),
	}}

	worker := NewWorker(ex, q, msgStore, guard, orderStore, logging.New("error"),
		WithWorkerCount(1), WithReceiveWait(0))

	msgID := msgStore.add("Order for 05.11, 15:00, Napoleon cake 2kg, paid, Alice, +77011234567")
	enqueue(t, q, msgID)
	drain(t, worker, 300*time.Millisecond)

	require.Len(t, orderStore.orders, 1)
	order := orderStore.orders[0]
	assert.Equal(t, msgID, order.SourceMessageID)
	assert.Equal(t, extraction.ConfidenceHigh, order.Confidence)
	assert.Equal(t, "Napoleon cake", order.Fields.Items[0].ProductName)
	assert.Equal(t, []string{"manager"}, msgStore.processedLanes(msgID))
}

func TestWorkerPersistsPartialExtraction(t *testing.T) {
	q := newQueue()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	orderStore := &fakeOrderStore{}

	fields := extraction.OrderFields{
		Items: []extraction.LineItem{{ProductName: "Eclair", Quantity: 10}},
	}
	ex := &stubExtractor{result: extraction.Result{
		IsOrder:    true,
		Fields:     fields,
		Confidence: extraction.ConfidenceFor(fields),
	}}

	worker := NewWorker(ex, q, msgStore, guard, orderStore, logging.New("error"),
		WithWorkerCount(1), WithReceiveWait(0))

	msgID := msgStore.add("10 eclairs")
	enqueue(t, q, msgID)
	drain(t, worker, 300*time.Millisecond)

	require.Len(t, orderStore.orders, 1)
	assert.Equal(t, extraction.ConfidenceLow, orderStore.orders[0].Confidence)
}

func TestWorkerSkipsNonOrder(t *testing.T) {
	q := newQueue()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	orderStore := &fakeOrderStore{}

	ex := &stubExtractor{result: extraction.Result{IsOrder: false}}
	worker := NewWorker(ex, q, msgStore, guard, orderStore, logging.New("error"),
		WithWorkerCount(1), WithReceiveWait(0))

	msgID := msgStore.add("lunch at 13:00?")
	enqueue(t, q, msgID)
	drain(t, worker, 300*time.Millisecond)

	assert.Empty(t, orderStore.orders)
	assert.Equal(t, []string{"manager"}, msgStore.processedLanes(msgID))
}

func TestWorkerDedupesRedeliveredMessage(t *testing.T) {
	q := newQueue()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	orderStore := &fakeOrderStore{}

	ex := &stubExtractor{result: extraction.Result{
		IsOrder: true,
		Fields: extraction.OrderFields{
			Items: []extraction.LineItem{{ProductName: "Medovik", Quantity: 1}},
		},
		Confidence: extraction.ConfidenceLow,
	}}
	worker := NewWorker(ex, q, msgStore, guard, orderStore, logging.New("error"),
		WithWorkerCount(1), WithReceiveWait(0))

	msgID := msgStore.add("one medovik")
	enqueue(t, q, msgID)
	enqueue(t, q, msgID)
	drain(t, worker, 300*time.Millisecond)

	assert.Len(t, orderStore.orders, 1)
	assert.Equal(t, []string{"manager"}, msgStore.processedLanes(msgID))
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	q := newQueue()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	orderStore := &fakeOrderStore{}

	ex := &stubExtractor{
		failures: 1,
		result: extraction.Result{
			IsOrder: true,
			Fields: extraction.OrderFields{
				Items: []extraction.LineItem{{ProductName: "Medovik", Quantity: 1}},
			},
			Confidence: extraction.ConfidenceLow,
		},
	}
	worker := NewWorker(ex, q, msgStore, guard, orderStore, logging.New("error"),
		WithWorkerCount(1), WithReceiveWait(0), WithMaxAttempts(5))

	msgID := msgStore.add("one medovik")
	enqueue(t, q, msgID)
	drain(t, worker, 500*time.Millisecond)

	assert.Len(t, orderStore.orders, 1)
	assert.GreaterOrEqual(t, ex.calls, 2)
}

func TestWorkerFlagsForReviewAfterExhaustedAttempts(t *testing.T) {
	q := newQueue()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	orderStore := &fakeOrderStore{}

	ex := &stubExtractor{failures: 100}
	worker := NewWorker(ex, q, msgStore, guard, orderStore, logging.New("error"),
		WithWorkerCount(1), WithReceiveWait(0), WithMaxAttempts(2))

	msgID := msgStore.add("garbled forward")
	enqueue(t, q, msgID)
	drain(t, worker, 500*time.Millisecond)

	assert.Empty(t, orderStore.orders)
	require.Len(t, orderStore.reviewed, 1)
	assert.Equal(t, msgID, orderStore.reviewed[0])
	assert.Equal(t, []string{"manager"}, msgStore.processedLanes(msgID))
}
