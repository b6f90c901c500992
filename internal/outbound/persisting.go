package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

// outboundRecorder is the slice of the message store this wrapper needs.
type outboundRecorder interface {
	InsertOutbound(ctx context.Context, channel, externalID, chatID, body string, timestamp time.Time) (uuid.UUID, error)
}

// Dispatcher is what workers and handlers use to send a reply on any channel.
type Dispatcher interface {
	SendText(ctx context.Context, channel, chatID, text string) (string, error)
}

// PersistingDispatcher wraps a Dispatcher to record every outbound reply in
// the message store. Recording failures are logged, never propagated:
// delivery matters more than bookkeeping, and losing an outbound row only
// costs history.
type PersistingDispatcher struct {
	inner  Dispatcher
	store  outboundRecorder
	logger *logging.Logger
}

// WrapWithPersistence wraps a dispatcher to persist outbound replies.
// A nil store returns the dispatcher unchanged.
func WrapWithPersistence(inner Dispatcher, store outboundRecorder, logger *logging.Logger) Dispatcher {
	if store == nil {
		return inner
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PersistingDispatcher{inner: inner, store: store, logger: logger}
}

// SendText delivers the reply and records it with the provider's message id.
func (p *PersistingDispatcher) SendText(ctx context.Context, channel, chatID, text string) (string, error) {
	providerID, err := p.inner.SendText(ctx, channel, chatID, text)
	if err != nil {
		return "", err
	}

	externalID := providerID
	if externalID == "" {
		externalID = uuid.NewString()
	}
	if _, storeErr := p.store.InsertOutbound(ctx, channel, externalID, chatID, text, time.Now().UTC()); storeErr != nil {
		p.logger.Warn("failed to persist outbound reply", "error", storeErr, "channel", channel, "chat_id", chatID)
	}
	return providerID, nil
}
