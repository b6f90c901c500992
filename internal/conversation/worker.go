package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
	"github.com/beybars1/napoleon-tseh/internal/messages"
	"github.com/beybars1/napoleon-tseh/internal/observability/metrics"
	"github.com/beybars1/napoleon-tseh/internal/orders"
	"github.com/beybars1/napoleon-tseh/internal/queue"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

type messageStore interface {
	Get(ctx context.Context, id uuid.UUID) (messages.Message, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, lane string) error
}

type claimGuard interface {
	Claim(ctx context.Context, messageID uuid.UUID, lane string) (bool, error)
	Release(ctx context.Context, messageID uuid.UUID, lane string) error
	ClaimConversationTurn(ctx context.Context, conversationID uuid.UUID, version int, messageID uuid.UUID) (bool, error)
}

type turnLocker interface {
	Acquire(ctx context.Context, chatID string) (bool, func(), error)
}

type conversationStore interface {
	GetActive(ctx context.Context, chatID string) (*Conversation, error)
	Create(ctx context.Context, chatID, channel string) (*Conversation, error)
	Advance(ctx context.Context, id uuid.UUID, fromVersion int, out Outcome) (bool, error)
	MarkAbandoned(ctx context.Context, id uuid.UUID) error
	AppendTurn(ctx context.Context, turn Turn) error
	History(ctx context.Context, conversationID uuid.UUID, limit int) ([]Turn, error)
}

type transcriptCache interface {
	Append(ctx context.Context, conversationID uuid.UUID, turn Turn) error
	Recent(ctx context.Context, conversationID uuid.UUID, limit int64) ([]Turn, error)
}

type orderSaver interface {
	InsertAIOrder(ctx context.Context, order orders.AIGeneratedOrder) (bool, error)
}

type replyDispatcher interface {
	SendText(ctx context.Context, channel, chatID, text string) (string, error)
}

type workerConfig struct {
	workers          int
	receiveBatchSize int
	receiveWaitSecs  int
	maxAttempts      int
	historyLimit     int
	idleTimeout      time.Duration
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(c *workerConfig) {
		if count > 0 {
			c.workers = count
		}
	}
}

// WithReceiveBatchSize sets how many deliveries one poll asks for.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(c *workerConfig) {
		if size > 0 {
			c.receiveBatchSize = size
		}
	}
}

// WithReceiveWait sets the long-poll wait in seconds.
func WithReceiveWait(seconds int) WorkerOption {
	return func(c *workerConfig) {
		if seconds >= 0 {
			c.receiveWaitSecs = seconds
		}
	}
}

// WithMaxAttempts caps delivery attempts before a task is parked as failed.
func WithMaxAttempts(attempts int) WorkerOption {
	return func(c *workerConfig) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithHistoryLimit caps the transcript context passed to extraction.
func WithHistoryLimit(limit int) WorkerOption {
	return func(c *workerConfig) {
		if limit > 0 {
			c.historyLimit = limit
		}
	}
}

// WithIdleTimeout sets the inactivity window after which an active
// conversation is abandoned and a fresh one opened.
func WithIdleTimeout(d time.Duration) WorkerOption {
	return func(c *workerConfig) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// Worker consumes the client lane: each delivery is one client turn to be
// applied to that chat's active conversation.
type Worker struct {
	engine     *Engine
	queue      queue.Queue
	msgs       messageStore
	guard      claimGuard
	convs      conversationStore
	orders     orderSaver
	dispatcher replyDispatcher
	lock       turnLocker
	transcript transcriptCache
	metrics    *metrics.PipelineMetrics
	logger     *logging.Logger
	cfg        workerConfig
	wg         sync.WaitGroup
}

// NewWorker wires a client-lane worker. The turn lock, transcript cache and
// metrics are optional; everything else is required.
func NewWorker(
	engine *Engine,
	q queue.Queue,
	msgs messageStore,
	guard claimGuard,
	convs conversationStore,
	orderStore orderSaver,
	dispatcher replyDispatcher,
	logger *logging.Logger,
	opts ...WorkerOption,
) *Worker {
	if engine == nil || q == nil || msgs == nil || guard == nil || convs == nil || orderStore == nil || dispatcher == nil {
		panic("conversation: worker requires engine, queue, stores, guard and dispatcher")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          1,
		receiveBatchSize: 5,
		receiveWaitSecs:  10,
		maxAttempts:      5,
		historyLimit:     20,
		idleTimeout:      24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		engine:     engine,
		queue:      q,
		msgs:       msgs,
		guard:      guard,
		convs:      convs,
		orders:     orderStore,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// WithTurnLock attaches the optional per-chat Redis lock.
func (w *Worker) WithTurnLock(lock turnLocker) *Worker {
	w.lock = lock
	return w
}

// WithTranscript attaches the optional Redis transcript cache.
func (w *Worker) WithTranscript(t transcriptCache) *Worker {
	w.transcript = t
	return w
}

// WithMetrics attaches pipeline metrics.
func (w *Worker) WithMetrics(m *metrics.PipelineMetrics) *Worker {
	w.metrics = m
	return w
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all consumer goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("client lane worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("client lane worker stopping", "worker_id", workerID)
			return
		default:
		}

		deliveries, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive client tasks", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, delivery := range deliveries {
			w.metrics.ObserveReceived(string(queue.LaneClient))
			w.handleDelivery(ctx, delivery)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, delivery queue.Message) {
	task, err := queue.DecodeTask(delivery.Body)
	if err != nil {
		w.logger.Error("dropping undecodable client task", "error", err, "delivery_id", delivery.ID)
		w.deleteDelivery(delivery)
		w.metrics.ObserveProcessed(string(queue.LaneClient), "dropped")
		return
	}
	msgID, err := uuid.Parse(task.MessageID)
	if err != nil {
		w.logger.Error("dropping client task with bad message id", "message_id", task.MessageID, "task_id", task.ID)
		w.deleteDelivery(delivery)
		w.metrics.ObserveProcessed(string(queue.LaneClient), "dropped")
		return
	}

	// Serialize turns per chat. Busy means another delivery for this chat
	// is mid-flight; let redelivery bring this one back.
	if w.lock != nil {
		acquired, release, lockErr := w.lock.Acquire(ctx, task.ChatID)
		if lockErr != nil {
			w.logger.Warn("turn lock unavailable, proceeding on version guard", "error", lockErr, "chat_id", task.ChatID)
		} else if !acquired {
			w.logger.Debug("chat busy, requeueing turn", "chat_id", task.ChatID, "task_id", task.ID)
			w.releaseDelivery(delivery)
			return
		} else {
			defer release()
		}
	}

	claimed, err := w.guard.Claim(ctx, msgID, string(queue.LaneClient))
	if err != nil {
		w.retryOrPark(ctx, delivery, task, msgID, false, "claim failed", err)
		return
	}
	if !claimed {
		w.logger.Debug("skipping already-claimed client message", "message_id", msgID)
		w.deleteDelivery(delivery)
		w.metrics.ObserveProcessed(string(queue.LaneClient), "duplicate")
		return
	}

	msg, err := w.msgs.Get(ctx, msgID)
	if err != nil {
		if errors.Is(err, messages.ErrNotFound) {
			w.logger.Error("client task references missing message", "message_id", msgID, "task_id", task.ID)
			w.markProcessedAndDelete(ctx, delivery, msgID, "missing")
			return
		}
		w.retryOrPark(ctx, delivery, task, msgID, true, "message lookup failed", err)
		return
	}

	conv, err := w.activeConversation(ctx, task.ChatID, task.Channel)
	if err != nil {
		w.retryOrPark(ctx, delivery, task, msgID, true, "conversation load failed", err)
		return
	}

	history, err := w.history(ctx, conv)
	if err != nil {
		w.logger.Warn("proceeding without history", "error", err, "conversation_id", conv.ID)
		history = nil
	}

	outcome, err := w.engine.Advance(ctx, *conv, msg.Body, history)
	if err != nil {
		w.retryOrPark(ctx, delivery, task, msgID, true, "advance failed", err)
		return
	}

	owned, err := w.guard.ClaimConversationTurn(ctx, conv.ID, conv.Version, msgID)
	if err != nil {
		w.retryOrPark(ctx, delivery, task, msgID, true, "turn claim failed", err)
		return
	}
	if !owned {
		// Another message advanced this version first; redelivery will
		// re-read the fresh snapshot.
		w.logger.Debug("lost turn race, requeueing", "conversation_id", conv.ID, "version", conv.Version)
		w.withdrawAndRelease(ctx, delivery, msgID)
		return
	}

	// Persist the order before the completing state update. Owning the turn
	// claim keeps the conversation at this version until we apply it, so a
	// failed insert is redelivered against the same snapshot and the insert
	// stays idempotent on conversation id. The reverse order would strand a
	// completed conversation with no order row.
	if outcome.Completed {
		created, orderErr := w.orders.InsertAIOrder(ctx, orders.AIGeneratedOrder{
			ConversationID: conv.ID,
			Fields:         outcome.Fields,
			Confidence:     extraction.ConfidenceFor(outcome.Fields),
		})
		if orderErr != nil {
			w.retryOrPark(ctx, delivery, task, msgID, true, "order insert failed", orderErr)
			return
		}
		if created {
			w.logger.Info("ai order created", "conversation_id", conv.ID, "chat_id", task.ChatID)
		}
	}

	applied, err := w.convs.Advance(ctx, conv.ID, conv.Version, outcome)
	if err != nil {
		w.retryOrPark(ctx, delivery, task, msgID, true, "persist advance failed", err)
		return
	}
	if !applied {
		w.logger.Debug("stale snapshot, requeueing", "conversation_id", conv.ID, "version", conv.Version)
		w.withdrawAndRelease(ctx, delivery, msgID)
		return
	}
	w.metrics.ObserveTransition(string(conv.State), string(outcome.State))

	w.recordTurns(ctx, conv.ID, msg.Body, outcome.Reply)

	if outcome.Reply != "" {
		if _, sendErr := w.dispatcher.SendText(ctx, task.Channel, task.ChatID, outcome.Reply); sendErr != nil {
			// The state already advanced; losing the reply is better
			// than double-applying the turn.
			w.logger.Error("failed to send reply", "error", sendErr, "chat_id", task.ChatID)
			w.metrics.ObserveOutbound(task.Channel, "failed")
		} else {
			w.metrics.ObserveOutbound(task.Channel, "sent")
		}
	}

	w.markProcessedAndDelete(ctx, delivery, msgID, outcomeLabel(outcome))
}

// activeConversation loads the chat's active conversation, abandoning an
// idle one and opening a fresh conversation when needed.
func (w *Worker) activeConversation(ctx context.Context, chatID, channel string) (*Conversation, error) {
	conv, err := w.convs.GetActive(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return w.convs.Create(ctx, chatID, channel)
		}
		return nil, err
	}

	if w.cfg.idleTimeout > 0 && conv.IdleSince(time.Now().Add(-w.cfg.idleTimeout)) {
		w.logger.Info("abandoning idle conversation", "conversation_id", conv.ID, "chat_id", chatID)
		if err := w.convs.MarkAbandoned(ctx, conv.ID); err != nil {
			return nil, err
		}
		return w.convs.Create(ctx, chatID, channel)
	}
	return conv, nil
}

func (w *Worker) history(ctx context.Context, conv *Conversation) ([]extraction.Turn, error) {
	var turns []Turn
	var err error
	if w.transcript != nil {
		turns, err = w.transcript.Recent(ctx, conv.ID, int64(w.cfg.historyLimit))
		if err != nil {
			return nil, err
		}
	}
	if len(turns) == 0 {
		turns, err = w.convs.History(ctx, conv.ID, w.cfg.historyLimit)
		if err != nil {
			return nil, err
		}
	}

	out := make([]extraction.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, extraction.Turn{Role: t.Role, Content: t.Content})
	}
	return out, nil
}

func (w *Worker) recordTurns(ctx context.Context, conversationID uuid.UUID, userText, reply string) {
	now := time.Now().UTC()
	userTurn := Turn{ID: uuid.New(), ConversationID: conversationID, Role: "user", Content: userText, CreatedAt: now}
	if err := w.convs.AppendTurn(ctx, userTurn); err != nil {
		w.logger.Warn("failed to persist user turn", "error", err, "conversation_id", conversationID)
	}
	if w.transcript != nil {
		if err := w.transcript.Append(ctx, conversationID, userTurn); err != nil {
			w.logger.Debug("failed to cache user turn", "error", err)
		}
	}
	if reply == "" {
		return
	}
	agentTurn := Turn{ID: uuid.New(), ConversationID: conversationID, Role: "agent", Content: reply, CreatedAt: now.Add(time.Millisecond)}
	if err := w.convs.AppendTurn(ctx, agentTurn); err != nil {
		w.logger.Warn("failed to persist agent turn", "error", err, "conversation_id", conversationID)
	}
	if w.transcript != nil {
		if err := w.transcript.Append(ctx, conversationID, agentTurn); err != nil {
			w.logger.Debug("failed to cache agent turn", "error", err)
		}
	}
}

// retryOrPark handles a failure mid-turn. Retryable failures withdraw the
// message claim and requeue; once attempts are exhausted the message is
// parked as processed so the lane keeps moving.
func (w *Worker) retryOrPark(ctx context.Context, delivery queue.Message, task queue.Task, msgID uuid.UUID, claimed bool, what string, err error) {
	if delivery.Attempt >= w.cfg.maxAttempts {
		w.logger.Error("client turn exhausted retries", "error", err, "stage", what,
			"message_id", msgID, "attempt", delivery.Attempt)
		if _, sendErr := w.dispatcher.SendText(ctx, task.Channel, task.ChatID, Replies{}.TransientTrouble()); sendErr != nil {
			w.logger.Warn("failed to send trouble notice", "error", sendErr, "chat_id", task.ChatID)
		}
		w.markProcessedAndDelete(ctx, delivery, msgID, "failed")
		return
	}

	w.logger.Warn("client turn will be retried", "error", err, "stage", what,
		"message_id", msgID, "attempt", delivery.Attempt)
	if claimed {
		if relErr := w.guard.Release(ctx, msgID, string(queue.LaneClient)); relErr != nil {
			w.logger.Error("failed to withdraw claim", "error", relErr, "message_id", msgID)
		}
	}
	w.releaseDelivery(delivery)
	w.metrics.ObserveProcessed(string(queue.LaneClient), "retried")
}

func (w *Worker) withdrawAndRelease(ctx context.Context, delivery queue.Message, msgID uuid.UUID) {
	if err := w.guard.Release(ctx, msgID, string(queue.LaneClient)); err != nil {
		w.logger.Error("failed to withdraw claim", "error", err, "message_id", msgID)
	}
	w.releaseDelivery(delivery)
	w.metrics.ObserveProcessed(string(queue.LaneClient), "requeued")
}

func (w *Worker) markProcessedAndDelete(ctx context.Context, delivery queue.Message, msgID uuid.UUID, outcome string) {
	if err := w.msgs.MarkProcessed(ctx, msgID, string(queue.LaneClient)); err != nil {
		w.logger.Error("failed to mark message processed", "error", err, "message_id", msgID)
	}
	w.deleteDelivery(delivery)
	w.metrics.ObserveProcessed(string(queue.LaneClient), outcome)
}

func (w *Worker) deleteDelivery(delivery queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, delivery.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete delivery", "error", err, "delivery_id", delivery.ID)
	}
}

func (w *Worker) releaseDelivery(delivery queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Release(ctx, delivery.ReceiptHandle); err != nil {
		w.logger.Error("failed to release delivery", "error", err, "delivery_id", delivery.ID)
	}
}

func outcomeLabel(out Outcome) string {
	switch {
	case out.Completed:
		return "completed"
	case out.Abandoned:
		return "abandoned"
	default:
		return "advanced"
	}
}
