// Package llm defines the language-model collaborator used by the field
// mapper and the CTA ranker, and a Gemini implementation of it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request is one structured-output completion request.
type Request struct {
	// System carries role instructions. Optional.
	System string
	// Prompt is the user content.
	Prompt string
	// SchemaHint describes the expected JSON shape. Implementations that
	// support it request JSON output; others append it to the prompt.
	SchemaHint string
	// MaxOutputTokens caps the completion. Zero uses the model default.
	MaxOutputTokens int
	// Purpose labels the call for metrics and logs ("map_fields", "rank_cta").
	Purpose string
}

// Completion is the raw model answer.
type Completion struct {
	Text string
	// Truncated is true when the model stopped on its output limit.
	Truncated    bool
	InputTokens  int
	OutputTokens int
	Model        string
}

// Completer is the LLM collaborator contract.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (Completion, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (Completion, error) {
	return f(ctx, req)
}

// ErrThrottled is matched by errors.Is for rate-limit / quota responses.
var ErrThrottled = errors.New("llm: throttled")

// ThrottledError carries the provider's retry hint, when it gave one.
type ThrottledError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("llm: throttled (retry after %s): %v", e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("llm: throttled: %v", e.Cause)
}

// Is makes errors.Is(err, ErrThrottled) true.
func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }

func (e *ThrottledError) Unwrap() error { return e.Cause }
