// Package extractor consumes the manager lane: every message is a candidate
// bulk order forwarded by staff and is parsed in one unscoped extraction.
package extractor

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
}

type orderStore interface {
	InsertManagerOrder(ctx context.Context, order orders.ManagerOrder) (bool, error)
	FlagForReview(ctx context.Context, messageID uuid.UUID, reason string) error
}

type workerConfig struct {
	workers          int
	receiveBatchSize int
	receiveWaitSecs  int
	maxAttempts      int
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

// WithMaxAttempts caps delivery attempts before a message is flagged for
// manual review.
func WithMaxAttempts(attempts int) WorkerOption {
	return func(c *workerConfig) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// Worker consumes manager-lane tasks and turns them into manager orders.
type Worker struct {
	extractor extraction.Extractor
	queue     queue.Queue
	msgs      messageStore
	guard     claimGuard
	orders    orderStore
	metrics   *metrics.PipelineMetrics
	logger    *logging.Logger
	cfg       workerConfig
	wg        sync.WaitGroup
}

// NewWorker wires a manager-lane worker.
func NewWorker(
	ex extraction.Extractor,
	q queue.Queue,
	msgs messageStore,
	guard claimGuard,
	orderStore orderStore,
	logger *logging.Logger,
	opts ...WorkerOption,
) *Worker {
	if ex == nil || q == nil || msgs == nil || guard == nil || orderStore == nil {
		panic("extractor: worker requires extractor, queue, stores and guard")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          1,
		receiveBatchSize: 5,
		receiveWaitSecs:  10,
		maxAttempts:      5,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		extractor: ex,
		queue:     q,
		msgs:      msgs,
		guard:     guard,
		orders:    orderStore,
		logger:    logger,
		cfg:       cfg,
	}
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
	w.logger.Debug("manager lane worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("manager lane worker stopping", "worker_id", workerID)
			return
		default:
		}

		deliveries, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive manager tasks", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, delivery := range deliveries {
			w.metrics.ObserveReceived(string(queue.LaneManager))
			w.handleDelivery(ctx, delivery)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, delivery queue.Message) {
	task, err := queue.DecodeTask(delivery.Body)
	if err != nil {
		w.logger.Error("dropping undecodable manager task", "error", err, "delivery_id", delivery.ID)
		w.deleteDelivery(delivery)
		w.metrics.ObserveProcessed(string(queue.LaneManager), "dropped")
		return
	}
	msgID, err := uuid.Parse(task.MessageID)
	if err != nil {
		w.logger.Error("dropping manager task with bad message id", "message_id", task.MessageID, "task_id", task.ID)
		w.deleteDelivery(delivery)
		w.metrics.ObserveProcessed(string(queue.LaneManager), "dropped")
		return
	}

	claimed, err := w.guard.Claim(ctx, msgID, string(queue.LaneManager))
	if err != nil {
		w.retryOrReview(ctx, delivery, msgID, false, "claim failed", err)
		return
	}
	if !claimed {
		w.logger.Debug("skipping already-claimed manager message", "message_id", msgID)
		w.deleteDelivery(delivery)
		w.metrics.ObserveProcessed(string(queue.LaneManager), "duplicate")
		return
	}

	msg, err := w.msgs.Get(ctx, msgID)
	if err != nil {
		if errors.Is(err, messages.ErrNotFound) {
			w.logger.Error("manager task references missing message", "message_id", msgID, "task_id", task.ID)
			w.markProcessedAndDelete(ctx, delivery, msgID, "missing")
			return
		}
		w.retryOrReview(ctx, delivery, msgID, true, "message lookup failed", err)
		return
	}

	started := time.Now()
	result, err := w.extractor.Extract(ctx, extraction.Request{
		Text:  msg.Body,
		Scope: extraction.ScopeFull,
	})
	w.metrics.ObserveExtractionLatency(string(extraction.ScopeFull), time.Since(started).Seconds())
	if err != nil {
		w.retryOrReview(ctx, delivery, msgID, true, "extraction failed", err)
		return
	}

	if !result.IsOrder {
		w.logger.Info("manager message is not an order", "message_id", msgID, "chat_id", task.ChatID)
		w.markProcessedAndDelete(ctx, delivery, msgID, "not_order")
		return
	}

	// Partial extractions are persisted as-is; the confidence label tells
	// reviewers how much to trust the record.
	created, err := w.orders.InsertManagerOrder(ctx, orders.ManagerOrder{
		SourceMessageID: msgID,
		Fields:          result.Fields,
		Confidence:      result.Confidence,
		AcceptedBy:      "extractor",
	})
	if err != nil {
		w.retryOrReview(ctx, delivery, msgID, true, "order insert failed", err)
		return
	}
	if created {
		w.logger.Info("manager order created", "message_id", msgID,
			"confidence", string(result.Confidence), "items", len(result.Fields.Items))
	} else {
		w.logger.Debug("manager order already existed", "message_id", msgID)
	}

	w.markProcessedAndDelete(ctx, delivery, msgID, "extracted")
}

// retryOrReview handles a failure. Retryable failures withdraw the claim and
// requeue; once attempts are exhausted the message is flagged for manual
// review and parked so the lane keeps moving.
func (w *Worker) retryOrReview(ctx context.Context, delivery queue.Message, msgID uuid.UUID, claimed bool, what string, err error) {
	if delivery.Attempt >= w.cfg.maxAttempts {
		w.logger.Error("manager extraction exhausted retries", "error", err, "stage", what,
			"message_id", msgID, "attempt", delivery.Attempt)
		if reviewErr := w.orders.FlagForReview(ctx, msgID, "extraction retries exhausted: "+err.Error()); reviewErr != nil {
			w.logger.Error("failed to flag message for review", "error", reviewErr, "message_id", msgID)
		}
		w.markProcessedAndDelete(ctx, delivery, msgID, "review")
		return
	}

	w.logger.Warn("manager extraction will be retried", "error", err, "stage", what,
		"message_id", msgID, "attempt", delivery.Attempt)
	if claimed {
		if relErr := w.guard.Release(ctx, msgID, string(queue.LaneManager)); relErr != nil {
			w.logger.Error("failed to withdraw claim", "error", relErr, "message_id", msgID)
		}
	}
	w.releaseDelivery(delivery)
	w.metrics.ObserveProcessed(string(queue.LaneManager), "retried")
}

func (w *Worker) markProcessedAndDelete(ctx context.Context, delivery queue.Message, msgID uuid.UUID, outcome string) {
	if err := w.msgs.MarkProcessed(ctx, msgID, string(queue.LaneManager)); err != nil {
		w.logger.Error("failed to mark message processed", "error", err, "message_id", msgID)
	}
	w.deleteDelivery(delivery)
	w.metrics.ObserveProcessed(string(queue.LaneManager), outcome)
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
