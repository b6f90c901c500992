package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
	"github.com/beybars1/napoleon-tseh/internal/orders"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

type orderReader interface {
	ListManagerOrders(ctx context.Context, since time.Time, limit int) ([]orders.ManagerOrder, error)
	ListAIOrders(ctx context.Context, since time.Time, limit int) ([]orders.AIGeneratedOrder, error)
	ListReviewQueue(ctx context.Context, limit int) ([]orders.ReviewItem, error)
	UpdateValidationStatus(ctx context.Context, orderID uuid.UUID, status string) error
}

type digestBuilder interface {
	BuildForDate(ctx context.Context, date string) (string, error)
}

// OrdersHandler is the read and review surface over finalized orders.
type OrdersHandler struct {
	store  orderReader
	digest digestBuilder
	logger *logging.Logger
}

func NewOrdersHandler(store orderReader, digest digestBuilder, logger *logging.Logger) *OrdersHandler {
	if store == nil {
		panic("handlers: order store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OrdersHandler{store: store, digest: digest, logger: logger}
}

type managerOrderResponse struct {
	ID              uuid.UUID              `json:"id"`
	SourceMessageID uuid.UUID              `json:"source_message_id"`
	Fields          extraction.OrderFields `json:"fields"`
	Confidence      string                 `json:"confidence"`
	AcceptedBy      string                 `json:"accepted_by"`
	CreatedAt       time.Time              `json:"created_at"`
}

type aiOrderResponse struct {
	ID               uuid.UUID              `json:"id"`
	ConversationID   uuid.UUID              `json:"conversation_id"`
	Fields           extraction.OrderFields `json:"fields"`
	Confidence       string                 `json:"confidence"`
	ValidationStatus string                 `json:"validation_status"`
	CreatedAt        time.Time              `json:"created_at"`
}

// ListManager handles GET /orders/manager.
func (h *OrdersHandler) ListManager(w http.ResponseWriter, r *http.Request) {
	since, limit, err := listParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := h.store.ListManagerOrders(r.Context(), since, limit)
	if err != nil {
		h.logger.Error("failed to list manager orders", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]managerOrderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, managerOrderResponse{
			ID:              o.ID,
			SourceMessageID: o.SourceMessageID,
			Fields:          o.Fields,
			Confidence:      string(o.Confidence),
			AcceptedBy:      o.AcceptedBy,
			CreatedAt:       o.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// ListAI handles GET /orders/ai.
func (h *OrdersHandler) ListAI(w http.ResponseWriter, r *http.Request) {
	since, limit, err := listParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := h.store.ListAIOrders(r.Context(), since, limit)
	if err != nil {
		h.logger.Error("failed to list ai orders", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]aiOrderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, aiOrderResponse{
			ID:               o.ID,
			ConversationID:   o.ConversationID,
			Fields:           o.Fields,
			Confidence:       string(o.Confidence),
			ValidationStatus: o.ValidationStatus,
			CreatedAt:        o.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// ListReview handles GET /orders/review.
func (h *OrdersHandler) ListReview(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	list, err := h.store.ListReviewQueue(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list review queue", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

// UpdateValidation handles PATCH /orders/ai/{orderID}/validation.
func (h *OrdersHandler) UpdateValidation(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.store.UpdateValidationStatus(r.Context(), orderID, req.Status); err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to update validation status", "error", err, "order_id", orderID)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// Digest handles GET /orders/digest?date=YYYY-MM-DD.
func (h *OrdersHandler) Digest(w http.ResponseWriter, r *http.Request) {
	if h.digest == nil {
		http.Error(w, "digest not configured", http.StatusServiceUnavailable)
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	text, err := h.digest.BuildForDate(r.Context(), date)
	if err != nil {
		h.logger.Error("failed to build digest", "error", err, "date", date)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"date": date, "digest": text})
}

func listParams(r *http.Request) (time.Time, int, error) {
	since := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			day, dayErr := time.Parse("2006-01-02", raw)
			if dayErr != nil {
				return time.Time{}, 0, errors.New("invalid since, expected RFC3339 or YYYY-MM-DD")
			}
			parsed = day
		}
		since = parsed
	}
	return since, queryInt(r, "limit", 100), nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
