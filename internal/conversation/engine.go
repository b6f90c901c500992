package conversation

import (
	"context"
	"fmt"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
)

// groupCorrection tracks unclear answers in the post-rejection correction
// step, which has no owning field group.
const groupCorrection = "correction"

// Outcome is the result of advancing a conversation by one client turn.
// It is a pure description of the new snapshot; persistence and delivery
// of Reply are the worker's job.
type Outcome struct {
	State   State
	Fields  extraction.OrderFields
	Retries map[string]int
	Reply   string
	// Completed means the order was confirmed and should be persisted.
	Completed bool
	// Abandoned means the retry ceiling was hit and a human takes over.
	Abandoned bool
}

// Engine drives the ordering dialogue. It holds no per-conversation state;
// every call receives a snapshot and returns the next one, so concurrent
// workers can race safely behind the store's version check.
type Engine struct {
	extractor extraction.Extractor
	replies   Replies
	ceiling   int
}

// NewEngine creates a dialogue engine. retryCeiling caps unclear answers per
// field group before the conversation is escalated.
func NewEngine(ex extraction.Extractor, replies Replies, retryCeiling int) *Engine {
	if ex == nil {
		panic("conversation: extractor required")
	}
	if retryCeiling <= 0 {
		retryCeiling = 3
	}
	return &Engine{extractor: ex, replies: replies, ceiling: retryCeiling}
}

// Advance applies one client message to a conversation snapshot.
// Extraction failures are returned as errors so the caller can retry the
// whole turn through queue redelivery; the snapshot is untouched in that
// case.
func (e *Engine) Advance(ctx context.Context, conv Conversation, input string, history []extraction.Turn) (Outcome, error) {
	out := Outcome{
		State:   conv.State,
		Fields:  conv.Fields,
		Retries: copyRetries(conv.Retries),
	}

	switch conv.State {
	case StateGreet:
		return e.advanceGreet(ctx, out, input, history)
	case StateCollectItems, StateCollectDelivery, StateCollectPayment, StateCollectContacts:
		return e.advanceCollect(ctx, out, conv.State, input, history)
	case StateValidate:
		return e.advanceCorrection(ctx, out, input, history)
	case StateConfirm:
		return e.advanceConfirm(ctx, out, input, history)
	case StateSave:
		// A completed conversation should never reach here; the worker
		// opens a fresh one instead.
		return out, fmt.Errorf("conversation: advance on saved conversation")
	}
	return out, fmt.Errorf("conversation: advance from unknown state %q", conv.State)
}

// advanceGreet handles the first client message. Clients often put the whole
// order in it, so the extraction runs unscoped and the dialogue skips every
// group the message already covered.
func (e *Engine) advanceGreet(ctx context.Context, out Outcome, input string, history []extraction.Turn) (Outcome, error) {
	res, err := e.extractor.Extract(ctx, extraction.Request{
		Text:    input,
		Scope:   extraction.ScopeFull,
		History: history,
	})
	if err != nil {
		return out, fmt.Errorf("conversation: greet extraction: %w", err)
	}
	if res.IsOrder {
		out.Fields = out.Fields.Merge(res.Fields)
	}
	next := nextMissingState(out.Fields)
	out.State = next
	if next == StateConfirm {
		out.Reply = e.replies.Welcome() + "\n" + e.replies.Summary(out.Fields)
	} else {
		out.Reply = e.replies.Welcome() + "\n" + e.replies.Prompt(next)
	}
	return out, nil
}

// advanceCollect handles one answer in a collect state. The extraction is
// scoped to the owning group but merges everything it found, so an answer
// like "tomorrow at noon, already paid" fills two groups at once.
func (e *Engine) advanceCollect(ctx context.Context, out Outcome, state State, input string, history []extraction.Turn) (Outcome, error) {
	res, err := e.extractor.Extract(ctx, extraction.Request{
		Text:    input,
		Scope:   scopeForState(state),
		History: history,
	})
	if err != nil {
		return out, fmt.Errorf("conversation: %s extraction: %w", state, err)
	}

	merged := out.Fields
	if res.IsOrder {
		merged = merged.Merge(res.Fields)
	}

	group := groupForState(state)
	if !hasGroup(merged, group) {
		return e.recordUnclear(out, group, e.replies.Reprompt(state)), nil
	}

	out.Fields = merged
	next := nextMissingState(out.Fields)
	out.State = next
	if next == StateConfirm {
		out.Reply = e.replies.Summary(out.Fields)
	} else {
		out.Reply = e.replies.Prompt(next)
	}
	return out, nil
}

// advanceCorrection handles the free-form answer after a rejected summary.
func (e *Engine) advanceCorrection(ctx context.Context, out Outcome, input string, history []extraction.Turn) (Outcome, error) {
	res, err := e.extractor.Extract(ctx, extraction.Request{
		Text:    input,
		Scope:   extraction.ScopeFull,
		History: history,
	})
	if err != nil {
		return out, fmt.Errorf("conversation: correction extraction: %w", err)
	}
	if !res.IsOrder || emptyFields(res.Fields) {
		return e.recordUnclear(out, groupCorrection, e.replies.CorrectionQuestion()), nil
	}

	out.Fields = out.Fields.Merge(res.Fields)
	next := nextMissingState(out.Fields)
	out.State = next
	if next == StateConfirm {
		out.Reply = e.replies.Summary(out.Fields)
	} else {
		out.Reply = e.replies.Prompt(next)
	}
	return out, nil
}

// advanceConfirm interprets the answer to the order summary.
func (e *Engine) advanceConfirm(ctx context.Context, out Outcome, input string, history []extraction.Turn) (Outcome, error) {
	switch extraction.DetectConfirmation(input) {
	case extraction.ConfirmYes:
		out.State = StateSave
		out.Completed = true
		out.Reply = e.replies.Confirmed()
		return out, nil

	case extraction.ConfirmNo:
		// The rejection often carries the fix inline ("no, deliver at 6pm").
		res, err := e.extractor.Extract(ctx, extraction.Request{
			Text:    input,
			Scope:   extraction.ScopeFull,
			History: history,
		})
		if err != nil {
			return out, fmt.Errorf("conversation: confirm extraction: %w", err)
		}
		if res.IsOrder && !emptyFields(res.Fields) {
			out.Fields = out.Fields.Merge(res.Fields)
			next := nextMissingState(out.Fields)
			out.State = next
			if next == StateConfirm {
				out.Reply = e.replies.Summary(out.Fields)
			} else {
				out.Reply = e.replies.Prompt(next)
			}
			return out, nil
		}
		out.State = StateValidate
		out.Reply = e.replies.CorrectionQuestion()
		return out, nil

	default:
		return e.recordUnclear(out, groupCorrection, e.replies.ConfirmReprompt()), nil
	}
}

// recordUnclear bumps the retry counter for a group and either reprompts or
// abandons the conversation once the ceiling is reached.
func (e *Engine) recordUnclear(out Outcome, group, reprompt string) Outcome {
	if out.Retries == nil {
		out.Retries = make(map[string]int)
	}
	out.Retries[group]++
	if out.Retries[group] >= e.ceiling {
		out.Abandoned = true
		out.Reply = e.replies.Escalation()
		return out
	}
	out.Reply = reprompt
	return out
}

func hasGroup(f extraction.OrderFields, group string) bool {
	switch group {
	case extraction.GroupItems:
		return f.HasItems()
	case extraction.GroupDelivery:
		return f.HasDelivery()
	case extraction.GroupPayment:
		return f.HasPayment()
	case extraction.GroupContacts:
		return f.HasContacts()
	}
	return false
}

func emptyFields(f extraction.OrderFields) bool {
	return len(f.Items) == 0 &&
		f.DeliveryDate == "" && f.DeliveryTime == "" && f.Address == "" &&
		f.PaymentStatus == "" && f.CustomerName == "" && f.ContactNumber == "" &&
		f.Notes == ""
}

func copyRetries(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
