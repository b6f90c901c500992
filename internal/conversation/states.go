package conversation

import (
	"fmt"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
)

// State is one step of the guided ordering dialogue. Transitions are decided
// by Advance and persisted with optimistic concurrency, so a crashed worker
// never leaves a half-applied step behind.
type State string

const (
	StateGreet           State = "greet"
	StateCollectItems    State = "collect_items"
	StateCollectDelivery State = "collect_delivery"
	StateCollectPayment  State = "collect_payment"
	StateCollectContacts State = "collect_contacts"
	StateValidate        State = "validate"
	StateConfirm         State = "confirm"
	StateSave            State = "save"
)

// Conversation lifecycle statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// ParseState validates a state loaded from storage. An unknown value means
// the row predates a schema change or was hand-edited; callers reset to
// StateGreet in that case.
func ParseState(raw string) (State, error) {
	switch State(raw) {
	case StateGreet, StateCollectItems, StateCollectDelivery, StateCollectPayment,
		StateCollectContacts, StateValidate, StateConfirm, StateSave:
		return State(raw), nil
	}
	return "", fmt.Errorf("conversation: unknown state %q", raw)
}

// collectOrder is the canonical order in which missing field groups are
// requested. It matches extraction.OrderFields.MissingGroups.
var collectOrder = []State{
	StateCollectItems,
	StateCollectDelivery,
	StateCollectPayment,
	StateCollectContacts,
}

// stateForGroup maps a required field group to the state that collects it.
func stateForGroup(group string) State {
	switch group {
	case extraction.GroupItems:
		return StateCollectItems
	case extraction.GroupDelivery:
		return StateCollectDelivery
	case extraction.GroupPayment:
		return StateCollectPayment
	case extraction.GroupContacts:
		return StateCollectContacts
	}
	return StateCollectItems
}

// scopeForState narrows the extraction call to the group a collect state owns.
func scopeForState(s State) extraction.Scope {
	switch s {
	case StateCollectItems:
		return extraction.ScopeItems
	case StateCollectDelivery:
		return extraction.ScopeDelivery
	case StateCollectPayment:
		return extraction.ScopePayment
	case StateCollectContacts:
		return extraction.ScopeContacts
	}
	return extraction.ScopeFull
}

// groupForState is the inverse of stateForGroup, used for retry bookkeeping.
func groupForState(s State) string {
	switch s {
	case StateCollectItems:
		return extraction.GroupItems
	case StateCollectDelivery:
		return extraction.GroupDelivery
	case StateCollectPayment:
		return extraction.GroupPayment
	case StateCollectContacts:
		return extraction.GroupContacts
	}
	return ""
}

// nextMissingState picks the collect state for the first missing group, or
// StateConfirm when the record is complete.
func nextMissingState(fields extraction.OrderFields) State {
	missing := fields.MissingGroups()
	if len(missing) == 0 {
		return StateConfirm
	}
	return stateForGroup(missing[0])
}
