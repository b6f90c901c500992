package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const transcriptKeyPrefix = "transcript:"

// transcriptEntry is the Redis wire form of a dialogue turn.
type transcriptEntry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "agent"
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptStore keeps a rolling per-conversation transcript in Redis so
// extraction calls can read recent context without a round trip to Postgres.
// Postgres remains the durable record; losing this cache only costs context.
type TranscriptStore struct {
	redis    *redis.Client
	tracer   trace.Tracer
	maxTurns int64
	ttl      time.Duration
}

// NewTranscriptStore creates a transcript cache. A nil client yields a nil
// store whose methods are no-ops.
func NewTranscriptStore(redisClient *redis.Client, ttl time.Duration) *TranscriptStore {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TranscriptStore{
		redis:    redisClient,
		tracer:   otel.Tracer("napoleon.internal.conversation.transcript"),
		maxTurns: 100,
		ttl:      ttl,
	}
}

func transcriptKey(conversationID uuid.UUID) string {
	return transcriptKeyPrefix + conversationID.String()
}

// Append adds one turn to the rolling transcript.
func (s *TranscriptStore) Append(ctx context.Context, conversationID uuid.UUID, turn Turn) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if conversationID == uuid.Nil {
		return errors.New("conversation: transcript conversation id required")
	}

	entry := transcriptEntry{
		ID:        turn.ID.String(),
		Role:      turn.Role,
		Body:      turn.Content,
		Timestamp: turn.CreatedAt,
	}
	if turn.ID == uuid.Nil {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("conversation: marshal transcript turn: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.append")
	defer span.End()

	key := transcriptKey(conversationID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.ttl)
	pipe.LTrim(ctx, key, -s.maxTurns, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append transcript turn: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent turns in chronological order.
func (s *TranscriptStore) Recent(ctx context.Context, conversationID uuid.UUID, limit int64) ([]Turn, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if conversationID == uuid.Nil {
		return nil, errors.New("conversation: transcript conversation id required")
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.recent")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}

	raw, err := s.redis.LRange(ctx, transcriptKey(conversationID), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: read transcript: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var entry transcriptEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// Skip unreadable entries rather than losing the whole
			// transcript.
			continue
		}
		turn := Turn{
			ConversationID: conversationID,
			Role:           entry.Role,
			Content:        entry.Body,
			CreatedAt:      entry.Timestamp,
		}
		if id, parseErr := uuid.Parse(entry.ID); parseErr == nil {
			turn.ID = id
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
