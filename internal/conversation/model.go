package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
)

// Conversation is one client's in-progress order dialogue. A chat has at most
// one active conversation; completed and abandoned rows stay for history.
type Conversation struct {
	ID      uuid.UUID
	ChatID  string
	Channel string
	State   State
	Fields  extraction.OrderFields
	// Retries counts unclear answers per field group. The ceiling is
	// enforced per group, not per conversation.
	Retries map[string]int
	Status  string
	// Version increments on every advance; updates are guarded with
	// WHERE version = $n so concurrent workers cannot double-apply a turn.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RetryCount returns the unclear-answer count for a field group.
func (c *Conversation) RetryCount(group string) int {
	if c.Retries == nil {
		return 0
	}
	return c.Retries[group]
}

// IdleSince reports whether the conversation has seen no activity since the
// given cutoff.
func (c *Conversation) IdleSince(cutoff time.Time) bool {
	return c.UpdatedAt.Before(cutoff)
}

// Turn is one persisted dialogue message, client or assistant side.
type Turn struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string // "user" or "agent"
	Content        string
	CreatedAt      time.Time
}
