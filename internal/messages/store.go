package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("messages: not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists messages in Postgres.
type Store struct {
	pool querier
}

// NewStore creates a message store around a pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("messages: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithQuerier(q querier) *Store {
	if q == nil {
		panic("messages: querier required")
	}
	return &Store{pool: q}
}

// InsertInbound writes an inbound message idempotently on
// (channel, external_id). It returns the stored message id and whether this
// call created the row; a duplicate webhook delivery returns the existing id
// with created=false.
func (s *Store) InsertInbound(ctx context.Context, channel, externalID, chatID, body string, timestamp time.Time) (uuid.UUID, bool, error) {
	id := uuid.New()
	query := `
		INSERT INTO messages (id, channel, external_id, chat_id, direction, body, sent_at)
		VALUES ($1, $2, $3, $4, 'in', $5, $6)
		ON CONFLICT (channel, external_id) DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, id, channel, externalID, chatID, body, timestamp)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("messages: insert inbound: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return id, true, nil
	}

	var existing uuid.UUID
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM messages WHERE channel = $1 AND external_id = $2`,
		channel, externalID,
	).Scan(&existing)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("messages: lookup duplicate: %w", err)
	}
	return existing, false, nil
}

// InsertOutbound records a reply the pipeline sent.
func (s *Store) InsertOutbound(ctx context.Context, channel, externalID, chatID, body string, timestamp time.Time) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO messages (id, channel, external_id, chat_id, direction, body, sent_at)
		VALUES ($1, $2, $3, $4, 'out', $5, $6)
	`
	if _, err := s.pool.Exec(ctx, query, id, channel, externalID, chatID, body, timestamp); err != nil {
		return uuid.Nil, fmt.Errorf("messages: insert outbound: %w", err)
	}
	return id, nil
}

// Get fetches one message by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Message, error) {
	var m Message
	query := `
		SELECT id, channel, external_id, chat_id, direction, body, sent_at, processed_by, created_at
		FROM messages WHERE id = $1
	`
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.Channel, &m.ExternalID, &m.ChatID, &m.Direction,
		&m.Body, &m.Timestamp, &m.ProcessedBy, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("messages: get: %w", err)
	}
	return m, nil
}

// MarkProcessed appends a consumer tag to the message's processed set.
// Repeating a tag is a no-op.
func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID, lane string) error {
	query := `
		UPDATE messages
		SET processed_by = array_append(processed_by, $2)
		WHERE id = $1 AND NOT ($2 = ANY(processed_by))
	`
	if _, err := s.pool.Exec(ctx, query, id, lane); err != nil {
		return fmt.Errorf("messages: mark processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether the given lane already handled the message.
func (s *Store) IsProcessed(ctx context.Context, id uuid.UUID, lane string) (bool, error) {
	var processed bool
	query := `SELECT $2 = ANY(processed_by) FROM messages WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, id, lane).Scan(&processed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("messages: check processed: %w", err)
	}
	return processed, nil
}

// ListUnprocessedInbound returns inbound messages for a chat set that a lane
// has not handled, oldest first. Used by the admin backfill.
func (s *Store) ListUnprocessedInbound(ctx context.Context, lane string, since time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT id, channel, external_id, chat_id, direction, body, sent_at, processed_by, created_at
		FROM messages
		WHERE direction = 'in' AND sent_at >= $2 AND NOT ($1 = ANY(processed_by))
		ORDER BY sent_at ASC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, lane, since, limit)
	if err != nil {
		return nil, fmt.Errorf("messages: list unprocessed: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.Channel, &m.ExternalID, &m.ChatID, &m.Direction,
			&m.Body, &m.Timestamp, &m.ProcessedBy, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("messages: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messages: list unprocessed: %w", err)
	}
	return out, nil
}
