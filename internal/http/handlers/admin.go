package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/beybars1/napoleon-tseh/internal/classify"
	"github.com/beybars1/napoleon-tseh/internal/messages"
	"github.com/beybars1/napoleon-tseh/internal/queue"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

type backfillStore interface {
	ListUnprocessedInbound(ctx context.Context, lane string, since time.Time, limit int) ([]messages.Message, error)
}

// AdminHandler hosts operational endpoints, currently the reprocess backfill
// that re-enqueues stored messages a lane never consumed (enqueue hiccups,
// consumer outages, config mistakes).
type AdminHandler struct {
	store        backfillStore
	classifier   *classify.Classifier
	managerQueue queue.Queue
	clientQueue  queue.Queue
	logger       *logging.Logger
}

func NewAdminHandler(store backfillStore, classifier *classify.Classifier, managerQueue, clientQueue queue.Queue, logger *logging.Logger) *AdminHandler {
	if store == nil || classifier == nil || managerQueue == nil || clientQueue == nil {
		panic("handlers: admin handler requires store, classifier and queues")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{
		store:        store,
		classifier:   classifier,
		managerQueue: managerQueue,
		clientQueue:  clientQueue,
		logger:       logger,
	}
}

// Reprocess handles POST /admin/reprocess. It re-routes stored inbound
// messages that their lane has not processed. Lane consumers dedupe through
// claims, so re-enqueueing an already-processed message is harmless.
func (h *AdminHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lane  string `json:"lane"`
		Since string `json:"since"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	lane := queue.Lane(req.Lane)
	if lane != queue.LaneManager && lane != queue.LaneClient {
		http.Error(w, "lane must be manager or client", http.StatusBadRequest)
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if req.Since != "" {
		parsed, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			http.Error(w, "invalid since, expected RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	unprocessed, err := h.store.ListUnprocessedInbound(r.Context(), string(lane), since, limit)
	if err != nil {
		h.logger.Error("failed to list unprocessed messages", "error", err, "lane", string(lane))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	var enqueued, skipped int
	for _, msg := range unprocessed {
		// Classification may have changed since ingest; route by the
		// current allow-lists.
		outcome := h.classifier.Classify(msg.ChatID)
		if string(outcome) != string(lane) {
			skipped++
			continue
		}

		target := h.clientQueue
		if lane == queue.LaneManager {
			target = h.managerQueue
		}
		_, body, encErr := queue.EncodeTask(queue.Task{
			MessageID: msg.ID.String(),
			Channel:   msg.Channel,
			ChatID:    msg.ChatID,
			Lane:      lane,
		})
		if encErr != nil {
			h.logger.Error("failed to encode backfill task", "error", encErr, "message_id", msg.ID)
			skipped++
			continue
		}
		if sendErr := target.Send(r.Context(), body); sendErr != nil {
			h.logger.Error("failed to enqueue backfill task", "error", sendErr, "message_id", msg.ID)
			skipped++
			continue
		}
		enqueued++
	}

	h.logger.Info("reprocess completed", "lane", string(lane), "enqueued", enqueued, "skipped", skipped)
	writeJSON(w, http.StatusOK, map[string]int{"enqueued": enqueued, "skipped": skipped})
}
