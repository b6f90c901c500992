package messages

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a stored message relative to the business.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message is one inbound or outbound chat message. Rows are append-only;
// the only later mutation is adding consumer tags to ProcessedBy.
type Message struct {
	ID          uuid.UUID
	Channel     string // "telegram" or "whatsapp"
	ExternalID  string // provider message id, unique per channel
	ChatID      string
	Direction   string
	Body        string
	Timestamp   time.Time
	ProcessedBy []string
	CreatedAt   time.Time
}
