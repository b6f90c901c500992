package extraction

import (
	"context"
	"time"
)

// Turn is one prior message supplied as context for a scoped extraction.
type Turn struct {
	Role    string // "user" or "agent"
	Content string
}

// Request describes one structured-extraction call.
type Request struct {
	Text    string
	Scope   Scope
	History []Turn
}

// Result is the candidate record returned by the extraction capability.
// IsOrder is false when the model found no usable order content at all.
type Result struct {
	IsOrder    bool
	Fields     OrderFields
	Confidence Confidence
	// Affirmed/Denied are only meaningful for confirmation-scoped calls;
	// the conversational flow checks them through DetectConfirmation instead.
}

// Extractor is the structured-extraction capability. Implementations must
// treat provider timeouts, rate limits and malformed responses as errors so
// callers can retry; an empty-but-valid extraction is a Result with
// IsOrder=false, not an error.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Result, error)
}

// Clock lets tests pin "today" for relative-date prompts.
type Clock func() time.Time
