package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
)

// ErrNotFound is returned for missing order records.
var ErrNotFound = errors.New("orders: not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists finalized orders. The read methods are the surface the
// out-of-scope dashboard and reporting consume; nothing outside this core
// writes these tables.
type Store struct {
	pool querier
}

// NewStore creates an order store around a pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("orders: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithQuerier(q querier) *Store {
	if q == nil {
		panic("orders: querier required")
	}
	return &Store{pool: q}
}

// InsertManagerOrder persists an extracted manager order idempotently on the
// source message: a redelivered message never yields a second order.
// Returns false when the order already existed.
func (s *Store) InsertManagerOrder(ctx context.Context, order ManagerOrder) (bool, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	fields, err := json.Marshal(order.Fields)
	if err != nil {
		return false, fmt.Errorf("orders: marshal fields: %w", err)
	}
	query := `
		INSERT INTO manager_orders (id, source_message_id, fields, confidence, accepted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_message_id) DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, order.ID, order.SourceMessageID, fields, string(order.Confidence), order.AcceptedBy)
	if err != nil {
		return false, fmt.Errorf("orders: insert manager order: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// InsertAIOrder persists a conversation's final order idempotently on the
// conversation id.
func (s *Store) InsertAIOrder(ctx context.Context, order AIGeneratedOrder) (bool, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.ValidationStatus == "" {
		order.ValidationStatus = ValidationPending
	}
	fields, err := json.Marshal(order.Fields)
	if err != nil {
		return false, fmt.Errorf("orders: marshal fields: %w", err)
	}
	query := `
		INSERT INTO ai_generated_orders (id, conversation_id, fields, confidence, validation_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id) DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, order.ID, order.ConversationID, fields, string(order.Confidence), order.ValidationStatus)
	if err != nil {
		return false, fmt.Errorf("orders: insert ai order: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// UpdateValidationStatus moves an AI order through the manual review flow.
func (s *Store) UpdateValidationStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	if status != ValidationValidated && status != ValidationRejected && status != ValidationPending {
		return fmt.Errorf("orders: invalid validation status %q", status)
	}
	query := `UPDATE ai_generated_orders SET validation_status = $2 WHERE id = $1`
	ct, err := s.pool.Exec(ctx, query, orderID, status)
	if err != nil {
		return fmt.Errorf("orders: update validation status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FlagForReview records a manager message whose extraction retries were
// exhausted. Idempotent per message.
func (s *Store) FlagForReview(ctx context.Context, messageID uuid.UUID, reason string) error {
	query := `
		INSERT INTO manual_review_queue (id, message_id, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, uuid.New(), messageID, reason); err != nil {
		return fmt.Errorf("orders: flag for review: %w", err)
	}
	return nil
}

// ListManagerOrders returns manager orders created at or after since, newest
// first.
func (s *Store) ListManagerOrders(ctx context.Context, since time.Time, limit int) ([]ManagerOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, source_message_id, fields, confidence, accepted_by, created_at
		FROM manager_orders
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: list manager orders: %w", err)
	}
	defer rows.Close()

	var out []ManagerOrder
	for rows.Next() {
		var (
			o         ManagerOrder
			rawFields []byte
			conf      string
		)
		if err := rows.Scan(&o.ID, &o.SourceMessageID, &rawFields, &conf, &o.AcceptedBy, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("orders: scan manager order: %w", err)
		}
		if err := json.Unmarshal(rawFields, &o.Fields); err != nil {
			return nil, fmt.Errorf("orders: decode fields: %w", err)
		}
		o.Confidence = extraction.Confidence(conf)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: list manager orders: %w", err)
	}
	return out, nil
}

// ListAIOrders returns AI-generated orders created at or after since, newest
// first.
func (s *Store) ListAIOrders(ctx context.Context, since time.Time, limit int) ([]AIGeneratedOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, conversation_id, fields, confidence, validation_status, created_at
		FROM ai_generated_orders
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: list ai orders: %w", err)
	}
	defer rows.Close()

	var out []AIGeneratedOrder
	for rows.Next() {
		var (
			o         AIGeneratedOrder
			rawFields []byte
			conf      string
		)
		if err := rows.Scan(&o.ID, &o.ConversationID, &rawFields, &conf, &o.ValidationStatus, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("orders: scan ai order: %w", err)
		}
		if err := json.Unmarshal(rawFields, &o.Fields); err != nil {
			return nil, fmt.Errorf("orders: decode fields: %w", err)
		}
		o.Confidence = extraction.Confidence(conf)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: list ai orders: %w", err)
	}
	return out, nil
}

// ListManagerOrdersForDate returns manager orders whose delivery date matches
// the given YYYY-MM-DD day, oldest first. Feeds the daily digest.
func (s *Store) ListManagerOrdersForDate(ctx context.Context, date string) ([]ManagerOrder, error) {
	query := `
		SELECT id, source_message_id, fields, confidence, accepted_by, created_at
		FROM manager_orders
		WHERE fields->>'delivery_date' = $1
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("orders: list manager orders for date: %w", err)
	}
	defer rows.Close()

	var out []ManagerOrder
	for rows.Next() {
		var (
			o         ManagerOrder
			rawFields []byte
			conf      string
		)
		if err := rows.Scan(&o.ID, &o.SourceMessageID, &rawFields, &conf, &o.AcceptedBy, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("orders: scan manager order: %w", err)
		}
		if err := json.Unmarshal(rawFields, &o.Fields); err != nil {
			return nil, fmt.Errorf("orders: decode fields: %w", err)
		}
		o.Confidence = extraction.Confidence(conf)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: list manager orders for date: %w", err)
	}
	return out, nil
}

// ListAIOrdersForDate returns AI-generated orders whose delivery date matches
// the given YYYY-MM-DD day, oldest first. Rejected orders are excluded.
func (s *Store) ListAIOrdersForDate(ctx context.Context, date string) ([]AIGeneratedOrder, error) {
	query := `
		SELECT id, conversation_id, fields, confidence, validation_status, created_at
		FROM ai_generated_orders
		WHERE fields->>'delivery_date' = $1 AND validation_status <> $2
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, date, ValidationRejected)
	if err != nil {
		return nil, fmt.Errorf("orders: list ai orders for date: %w", err)
	}
	defer rows.Close()

	var out []AIGeneratedOrder
	for rows.Next() {
		var (
			o         AIGeneratedOrder
			rawFields []byte
			conf      string
		)
		if err := rows.Scan(&o.ID, &o.ConversationID, &rawFields, &conf, &o.ValidationStatus, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("orders: scan ai order: %w", err)
		}
		if err := json.Unmarshal(rawFields, &o.Fields); err != nil {
			return nil, fmt.Errorf("orders: decode fields: %w", err)
		}
		o.Confidence = extraction.Confidence(conf)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: list ai orders for date: %w", err)
	}
	return out, nil
}

// ListReviewQueue returns flagged messages, oldest first.
func (s *Store) ListReviewQueue(ctx context.Context, limit int) ([]ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, message_id, reason, created_at
		FROM manual_review_queue
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: list review queue: %w", err)
	}
	defer rows.Close()

	var out []ReviewItem
	for rows.Next() {
		var item ReviewItem
		if err := rows.Scan(&item.ID, &item.MessageID, &item.Reason, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("orders: scan review item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: list review queue: %w", err)
	}
	return out, nil
}
