package dedup

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Guard records processing claims so an at-least-once queue yields
// exactly-once effects. Claims are durable single-row inserts; the
// ON CONFLICT DO NOTHING outcome decides the race under concurrent
// consumers.
type Guard struct {
	pool execQuerier
}

// NewGuard creates a claim guard around a pgx pool.
func NewGuard(pool *pgxpool.Pool) *Guard {
	if pool == nil {
		panic("dedup: pgx pool required")
	}
	return &Guard{pool: pool}
}

func newGuardWithQuerier(q execQuerier) *Guard {
	if q == nil {
		panic("dedup: querier required")
	}
	return &Guard{pool: q}
}

// Claim asserts that this consumer is the first to process (messageID, lane).
// Exactly one caller across all consumer instances gets true.
func (g *Guard) Claim(ctx context.Context, messageID uuid.UUID, lane string) (bool, error) {
	query := `
		INSERT INTO processing_claims (message_id, lane)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := g.pool.Exec(ctx, query, messageID, lane)
	if err != nil {
		return false, fmt.Errorf("dedup: claim: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release withdraws a claim after a retryable failure so the queue's
// redelivery can try the message again.
func (g *Guard) Release(ctx context.Context, messageID uuid.UUID, lane string) error {
	query := `DELETE FROM processing_claims WHERE message_id = $1 AND lane = $2`
	if _, err := g.pool.Exec(ctx, query, messageID, lane); err != nil {
		return fmt.Errorf("dedup: release claim: %w", err)
	}
	return nil
}

// ClaimConversationTurn asserts that messageID is the one advancing the
// conversation from the given version. A concurrent delivery for the same
// conversation loses the insert race and must be redelivered later, which
// serializes state transitions without cross-row transactions. The claim is
// keyed on (conversation, version) but remembers its owner, so a redelivery
// of the owning message after a crash gets true again instead of wedging the
// conversation.
func (g *Guard) ClaimConversationTurn(ctx context.Context, conversationID uuid.UUID, version int, messageID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO conversation_turn_claims (conversation_id, version, message_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	ct, err := g.pool.Exec(ctx, query, conversationID, version, messageID)
	if err != nil {
		return false, fmt.Errorf("dedup: claim conversation turn: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return true, nil
	}

	var owner uuid.UUID
	err = g.pool.QueryRow(ctx,
		`SELECT message_id FROM conversation_turn_claims WHERE conversation_id = $1 AND version = $2`,
		conversationID, version,
	).Scan(&owner)
	if err != nil {
		return false, fmt.Errorf("dedup: resolve conversation turn owner: %w", err)
	}
	return owner == messageID, nil
}
