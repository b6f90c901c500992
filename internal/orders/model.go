package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
)

// ManagerOrder is the terminal artifact of the manager bulk-extraction lane.
// Immutable after creation; corrections happen in the admin surface.
type ManagerOrder struct {
	ID              uuid.UUID
	SourceMessageID uuid.UUID
	Fields          extraction.OrderFields
	Confidence      extraction.Confidence
	AcceptedBy      string
	CreatedAt       time.Time
}

// Validation states for AI-generated orders awaiting human review.
const (
	ValidationPending   = "pending"
	ValidationValidated = "validated"
	ValidationRejected  = "rejected"
)

// AIGeneratedOrder is the terminal artifact of a completed conversation.
type AIGeneratedOrder struct {
	ID               uuid.UUID
	ConversationID   uuid.UUID
	Fields           extraction.OrderFields
	Confidence       extraction.Confidence
	ValidationStatus string
	CreatedAt        time.Time
}

// ReviewItem is a manager message that exhausted extraction retries and
// needs a human eye.
type ReviewItem struct {
	ID        uuid.UUID
	MessageID uuid.UUID
	Reason    string
	CreatedAt time.Time
}
