package conversation

import (
	"context"
	"errors"
	"strconv"
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

func (f *fakeMessageStore) add(body, chatID string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.msgs[id] = messages.Message{ID: id, Channel: "telegram", ChatID: chatID, Direction: "in", Body: body}
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
	turns  map[string]uuid.UUID
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{claims: make(map[string]struct{}), turns: make(map[string]uuid.UUID)}
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

func (g *fakeGuard) ClaimConversationTurn(ctx context.Context, conversationID uuid.UUID, version int, messageID uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := conversationID.String() + ":" + strconv.Itoa(version)
	if owner, exists := g.turns[key]; exists {
		return owner == messageID, nil
	}
	g.turns[key] = messageID
	return true, nil
}

type fakeConvStore struct {
	mu    sync.Mutex
	convs map[string]*Conversation
	turns []Turn
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{convs: make(map[string]*Conversation)}
}

func (f *fakeConvStore) GetActive(ctx context.Context, chatID string) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[chatID]
	if !ok || conv.Status != StatusActive {
		return nil, ErrNotFound
	}
	snapshot := *conv
	return &snapshot, nil
}

func (f *fakeConvStore) Create(ctx context.Context, chatID, channel string) (*Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	conv := &Conversation{
		ID: uuid.New(), ChatID: chatID, Channel: channel,
		State: StateGreet, Status: StatusActive, Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	f.convs[chatID] = conv
	snapshot := *conv
	return &snapshot, nil
}

func (f *fakeConvStore) Advance(ctx context.Context, id uuid.UUID, fromVersion int, out Outcome) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.ID != id {
			continue
		}
		if conv.Version != fromVersion {
			return false, nil
		}
		conv.State = out.State
		conv.Fields = out.Fields
		conv.Retries = out.Retries
		conv.Version++
		conv.UpdatedAt = time.Now().UTC()
		switch {
		case out.Completed:
			conv.Status = StatusCompleted
		case out.Abandoned:
			conv.Status = StatusAbandoned
		}
		return true, nil
	}
	return false, nil
}

func (f *fakeConvStore) MarkAbandoned(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.ID == id {
			conv.Status = StatusAbandoned
		}
	}
	return nil
}

func (f *fakeConvStore) AppendTurn(ctx context.Context, turn Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeConvStore) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Turn
	for _, t := range f.turns {
		if t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeOrderStore struct {
	mu       sync.Mutex
	failures int
	orders   []orders.AIGeneratedOrder
}

func (f *fakeOrderStore) InsertAIOrder(ctx context.Context, order orders.AIGeneratedOrder) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return false, errors.New("connection reset")
	}
	for _, existing := range f.orders {
		if existing.ConversationID == order.ConversationID {
			return false, nil
		}
	}
	f.orders = append(f.orders, order)
	return true, nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (f *fakeDispatcher) SendText(ctx context.Context, channel, chatID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.replies = append(f.replies, text)
	return uuid.NewString(), nil
}

func (f *fakeDispatcher) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

func enqueueTurn(t *testing.T, q queue.Queue, msgID uuid.UUID, chatID string) {
	t.Helper()
	_, body, err := queue.EncodeTask(queue.Task{
		MessageID: msgID.String(),
		Channel:   "telegram",
		ChatID:    chatID,
		Lane:      queue.LaneClient,
	})
	require.NoError(t, err)
	require.NoError(t, q.Send(context.Background(), body))
}

func drainWorker(t *testing.T, w *Worker, wait time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	w.Start(ctx)
	<-ctx.Done()
	w.Wait()
}

func TestWorkerCompletesFullOrderConversation(t *testing.T) {
	q := NewMemoryQueueForTest()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	convStore := newFakeConvStore()
	orderStore := &fakeOrderStore{}
	dispatcher := &fakeDispatcher{}

	ex := &scriptedExtractor{results: map[string]extraction.Result{
		"full order please": {IsOrder: true, Fields: fullFields()},
	}}
	engine := newTestEngine(ex)

	worker := NewWorker(engine, q, msgStore, guard, convStore, orderStore, dispatcher,
		logging.New("error"), WithWorkerCount(1), WithReceiveWait(0))

	firstID := msgStore.add("full order please", "chat-1")
	enqueueTurn(t, q, firstID, "chat-1")
	drainWorker(t, worker, 300*time.Millisecond)

	require.Len(t, dispatcher.sent(), 1)
	assert.Contains(t, dispatcher.sent()[0], "Is everything correct?")
	assert.Equal(t, []string{"client"}, msgStore.processedLanes(firstID))

	// Confirm the summary.
	secondID := msgStore.add("yes", "chat-1")
	enqueueTurn(t, q, secondID, "chat-1")
	worker2 := NewWorker(engine, q, msgStore, guard, convStore, orderStore, dispatcher,
		logging.New("error"), WithWorkerCount(1), WithReceiveWait(0))
	drainWorker(t, worker2, 300*time.Millisecond)

	require.Len(t, orderStore.orders, 1)
	assert.Equal(t, extraction.ConfidenceHigh, orderStore.orders[0].Confidence)
	assert.Equal(t, StatusCompleted, convStore.convs["chat-1"].Status)
}

func TestWorkerSkipsDuplicateDelivery(t *testing.T) {
	q := NewMemoryQueueForTest()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	convStore := newFakeConvStore()
	orderStore := &fakeOrderStore{}
	dispatcher := &fakeDispatcher{}

	ex := &scriptedExtractor{}
	engine := newTestEngine(ex)
	worker := NewWorker(engine, q, msgStore, guard, convStore, orderStore, dispatcher,
		logging.New("error"), WithWorkerCount(1), WithReceiveWait(0))

	msgID := msgStore.add("hello", "chat-2")
	enqueueTurn(t, q, msgID, "chat-2")
	enqueueTurn(t, q, msgID, "chat-2")
	drainWorker(t, worker, 300*time.Millisecond)

	// Both deliveries were consumed but the turn applied once.
	assert.Len(t, dispatcher.sent(), 1)
	assert.Equal(t, []string{"client"}, msgStore.processedLanes(msgID))
}

func TestWorkerRetriesTransientExtractionFailure(t *testing.T) {
	q := NewMemoryQueueForTest()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	convStore := newFakeConvStore()
	orderStore := &fakeOrderStore{}
	dispatcher := &fakeDispatcher{}

	ex := &flakyExtractor{failures: 1, result: extraction.Result{IsOrder: true, Fields: extraction.OrderFields{
		Items: []extraction.LineItem{{ProductName: "Eclair", Quantity: 5}},
	}}}
	engine := newTestEngine(ex)
	worker := NewWorker(engine, q, msgStore, guard, convStore, orderStore, dispatcher,
		logging.New("error"), WithWorkerCount(1), WithReceiveWait(0), WithMaxAttempts(5))

	msgID := msgStore.add("five eclairs", "chat-3")
	enqueueTurn(t, q, msgID, "chat-3")
	drainWorker(t, worker, 500*time.Millisecond)

	// The first attempt failed and was requeued; the second succeeded.
	require.Len(t, dispatcher.sent(), 1)
	assert.Equal(t, []string{"client"}, msgStore.processedLanes(msgID))
}

func TestWorkerParksAfterExhaustedAttempts(t *testing.T) {
	q := NewMemoryQueueForTest()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	convStore := newFakeConvStore()
	orderStore := &fakeOrderStore{}
	dispatcher := &fakeDispatcher{}

	ex := &flakyExtractor{failures: 100}
	engine := newTestEngine(ex)
	worker := NewWorker(engine, q, msgStore, guard, convStore, orderStore, dispatcher,
		logging.New("error"), WithWorkerCount(1), WithReceiveWait(0), WithMaxAttempts(2))

	msgID := msgStore.add("five eclairs", "chat-4")
	enqueueTurn(t, q, msgID, "chat-4")
	drainWorker(t, worker, 500*time.Millisecond)

	// Parked as processed so the lane keeps moving, with a trouble notice.
	assert.Equal(t, []string{"client"}, msgStore.processedLanes(msgID))
	require.NotEmpty(t, dispatcher.sent())
	assert.Contains(t, dispatcher.sent()[0], "having trouble")
	assert.Empty(t, orderStore.orders)
}

func TestWorkerPersistsOrderDespiteTransientInsertFailure(t *testing.T) {
	q := NewMemoryQueueForTest()
	msgStore := newFakeMessageStore()
	guard := newFakeGuard()
	convStore := newFakeConvStore()
	orderStore := &fakeOrderStore{failures: 1}
	dispatcher := &fakeDispatcher{}

	ex := &scriptedExtractor{}
	engine := newTestEngine(ex)
	worker := NewWorker(engine, q, msgStore, guard, convStore, orderStore, dispatcher,
		logging.New("error"), WithWorkerCount(1), WithReceiveWait(0), WithMaxAttempts(5))

	// Conversation already at the summary, awaiting confirmation.
	now := time.Now().UTC()
	seeded := &Conversation{
		ID: uuid.New(), ChatID: "chat-5", Channel: "telegram",
		State: StateConfirm, Fields: fullFields(), Status: StatusActive, Version: 3,
		CreatedAt: now, UpdatedAt: now,
	}
	convStore.convs["chat-5"] = seeded

	msgID := msgStore.add("yes", "chat-5")
	enqueueTurn(t, q, msgID, "chat-5")
	drainWorker(t, worker, 500*time.Millisecond)

	// The first insert failed; redelivery reclaimed the turn against the
	// same conversation and finished the order.
	require.Len(t, orderStore.orders, 1)
	assert.Equal(t, seeded.ID, orderStore.orders[0].ConversationID)
	assert.Equal(t, seeded.ID, convStore.convs["chat-5"].ID)
	assert.Equal(t, StatusCompleted, convStore.convs["chat-5"].Status)
	assert.Equal(t, []string{"client"}, msgStore.processedLanes(msgID))
}

// flakyExtractor fails the first N calls, then succeeds.
type flakyExtractor struct {
	mu       sync.Mutex
	failures int
	result   extraction.Result
}

func (f *flakyExtractor) Extract(ctx context.Context, req extraction.Request) (extraction.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return extraction.Result{}, errors.New("provider unavailable")
	}
	return f.result, nil
}

// NewMemoryQueueForTest builds an in-memory queue with instant redelivery.
func NewMemoryQueueForTest() queue.Queue {
	return queue.NewMemoryQueue(64).WithVisibilityTimeout(10 * time.Millisecond)
}
