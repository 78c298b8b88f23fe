// Package extraction turns normalized external items into task candidates
// via a language model. Extraction is side-effect free: it never touches the
// dedup ledger or the task store.
package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/daybreak/internal/integrations"
)

// Candidate is a task-shaped suggestion produced by extraction, not yet a
// persisted task. Multiple candidates may derive from one item.
type Candidate struct {
	Title         string
	Description   string
	Priority      string // suggested priority level name
	DueDate       *time.Time
	Tags          []string
	DocumentLinks []string
	InitiativeID  string
	Confidence    float64 // 0.0–1.0
}

// Usage accounts for the tokens consumed by one extraction call; surfaced
// to the audit log.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Extractor produces zero or more candidates from one item. "No tasks
// found" is an empty slice with nil error; an *ExtractionError is returned
// only for transport or parse failure of the underlying call.
type Extractor interface {
	Extract(ctx context.Context, item integrations.NormalizedItem) ([]Candidate, Usage, error)
}

// ExtractionError reports a failed extraction call. The affected item is
// skipped without being marked processed, so it is retried next cycle.
type ExtractionError struct {
	Op  string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, item integrations.NormalizedItem) ([]Candidate, Usage, error)

func (f Func) Extract(ctx context.Context, item integrations.NormalizedItem) ([]Candidate, Usage, error) {
	return f(ctx, item)
}
