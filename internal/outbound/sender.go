// Package outbound delivers assistant replies back to chat channels.
package outbound

import (
	"context"
	"fmt"
	"strings"
)

// Sender delivers one text message to a chat on a specific channel.
// Implementations return the provider's message id when the API reports one.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) (providerMessageID string, err error)
}

// Registry routes replies to the sender registered for a channel.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry builds a channel registry. Unregistered channels fail at send
// time, not at startup, so a deployment can run with a single channel
// configured.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

// Register binds a sender to a channel name.
func (r *Registry) Register(channel string, sender Sender) {
	if sender == nil {
		return
	}
	r.senders[strings.ToLower(channel)] = sender
}

// SendText delivers text to a chat over the named channel.
func (r *Registry) SendText(ctx context.Context, channel, chatID, text string) (string, error) {
	sender, ok := r.senders[strings.ToLower(channel)]
	if !ok {
		return "", fmt.Errorf("outbound: no sender registered for channel %q", channel)
	}
	return sender.SendText(ctx, chatID, text)
}
