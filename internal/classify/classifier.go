package classify

import "strings"

// Outcome is the routing decision for one chat identity.
type Outcome string

const (
	OutcomeManager Outcome = "manager"
	OutcomeClient  Outcome = "client"
	OutcomeIgnored Outcome = "ignored"
)

// Config is the immutable routing configuration. Managers holds trusted
// order-entry identities. Clients, when non-empty, restricts which
// non-manager identities are routed into the conversational flow; everyone
// else is recorded but ignored.
type Config struct {
	Managers []string
	Clients  []string
}

// Classifier routes chat identities to processing lanes.
type Classifier struct {
	managers map[string]struct{}
	clients  map[string]struct{}
	allowAll bool
}

// New builds a classifier from the allow-lists. Identities are compared
// case-insensitively after trimming.
func New(cfg Config) *Classifier {
	c := &Classifier{
		managers: make(map[string]struct{}, len(cfg.Managers)),
		clients:  make(map[string]struct{}, len(cfg.Clients)),
		allowAll: len(cfg.Clients) == 0,
	}
	for _, id := range cfg.Managers {
		if key := normalize(id); key != "" {
			c.managers[key] = struct{}{}
		}
	}
	for _, id := range cfg.Clients {
		if key := normalize(id); key != "" {
			c.clients[key] = struct{}{}
		}
	}
	return c
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Classify decides the lane for a chat identity. The decision itself is not
// persisted; only its consequence is (which lane receives the message).
func (c *Classifier) Classify(chatID string) Outcome {
	key := normalize(chatID)
	if key == "" {
		return OutcomeIgnored
	}
	if _, ok := c.managers[key]; ok {
		return OutcomeManager
	}
	if c.allowAll {
		return OutcomeClient
	}
	if _, ok := c.clients[key]; ok {
		return OutcomeClient
	}
	return OutcomeIgnored
}
