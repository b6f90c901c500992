package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

// ErrNotFound is returned when a chat has no active conversation.
var ErrNotFound = errors.New("conversation: not found")

// Store persists conversations and their turns to PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewStore creates a conversation store.
func NewStore(db *sql.DB, logger *logging.Logger) *Store {
	if db == nil {
		panic("conversation: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger}
}

// GetActive returns the active conversation for a chat, or ErrNotFound.
// A row with an unreadable state or fields blob is reset to the greeting
// step rather than wedging the chat forever.
func (s *Store) GetActive(ctx context.Context, chatID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chat_id, channel, state, fields, retries, status, version, created_at, updated_at
		FROM conversations
		WHERE chat_id = $1 AND status = $2
	`, chatID, StatusActive)

	conv, err := s.scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("conversation: get active: %w", err)
	}
	return conv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv       Conversation
		rawState   string
		rawFields  []byte
		rawRetries []byte
	)
	if err := row.Scan(&conv.ID, &conv.ChatID, &conv.Channel, &rawState, &rawFields, &rawRetries,
		&conv.Status, &conv.Version, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}

	state, err := ParseState(rawState)
	if err != nil {
		s.logger.Warn("resetting conversation with unknown state", "conversation_id", conv.ID, "state", rawState)
		state = StateGreet
	}
	conv.State = state

	if len(rawFields) > 0 {
		if err := json.Unmarshal(rawFields, &conv.Fields); err != nil {
			s.logger.Warn("resetting unreadable conversation fields", "conversation_id", conv.ID, "error", err)
			conv.State = StateGreet
		}
	}
	if len(rawRetries) > 0 {
		if err := json.Unmarshal(rawRetries, &conv.Retries); err != nil {
			s.logger.Warn("dropping unreadable retry counters", "conversation_id", conv.ID, "error", err)
			conv.Retries = nil
		}
	}
	return &conv, nil
}

// Create opens a new active conversation for a chat. A concurrent create for
// the same chat loses the unique-index race and returns the winner's row.
func (s *Store) Create(ctx context.Context, chatID, channel string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New(),
		ChatID:    chatID,
		Channel:   channel,
		State:     StateGreet,
		Status:    StatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, chat_id, channel, state, fields, retries, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, conv.ID, chatID, channel, string(conv.State), []byte("{}"), []byte("{}"),
		StatusActive, conv.Version, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return s.GetActive(ctx, chatID)
		}
		return nil, fmt.Errorf("conversation: create: %w", err)
	}
	return conv, nil
}

// Advance persists the outcome of one dialogue step. The update only lands
// when the stored version still matches the snapshot the caller advanced
// from; a false return means another worker already applied this turn.
func (s *Store) Advance(ctx context.Context, id uuid.UUID, fromVersion int, out Outcome) (bool, error) {
	fields, err := json.Marshal(out.Fields)
	if err != nil {
		return false, fmt.Errorf("conversation: marshal fields: %w", err)
	}
	retries := []byte("{}")
	if out.Retries != nil {
		retries, err = json.Marshal(out.Retries)
		if err != nil {
			return false, fmt.Errorf("conversation: marshal retries: %w", err)
		}
	}

	status := StatusActive
	switch {
	case out.Completed:
		status = StatusCompleted
	case out.Abandoned:
		status = StatusAbandoned
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET state = $1, fields = $2, retries = $3, status = $4, version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7
	`, string(out.State), fields, retries, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return false, fmt.Errorf("conversation: advance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conversation: advance result: %w", err)
	}
	return affected > 0, nil
}

// MarkAbandoned closes an active conversation without advancing it, used for
// idle timeouts.
func (s *Store) MarkAbandoned(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4
	`, StatusAbandoned, time.Now().UTC(), id, StatusActive)
	if err != nil {
		return fmt.Errorf("conversation: mark abandoned: %w", err)
	}
	return nil
}

// AppendTurn records one side of the dialogue. Idempotent per turn id.
func (s *Store) AppendTurn(ctx context.Context, turn Turn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, turn.ID, turn.ConversationID, turn.Role, turn.Content, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("conversation: append turn: %w", err)
	}
	return nil
}

// History returns the most recent turns of a conversation in chronological
// order.
func (s *Store) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM conversation_turns
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: history: %w", err)
	}
	return turns, nil
}

// ListByChat returns all conversations for a chat, newest first. This is the
// read surface for operators reviewing a dialogue.
func (s *Store) ListByChat(ctx context.Context, chatID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, channel, state, fields, retries, status, version, created_at, updated_at
		FROM conversations
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: list by chat: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("conversation: list by chat: %w", err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: list by chat: %w", err)
	}
	return out, nil
}
