package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/applyflow/fill"
	"github.com/hazyhaar/applyflow/journal"
	"github.com/hazyhaar/applyflow/navigator"
)

// BlockKind is why a job stopped short of ready-for-submission.
type BlockKind string

const (
	BlockClassificationAmbiguous BlockKind = "classification-ambiguous"
	BlockCtaUnreliable           BlockKind = "cta-unreliable"
	BlockNavigationTimeout       BlockKind = "navigation-timeout"
	BlockLoginRequired           BlockKind = "login-required"
	BlockCaptcha                 BlockKind = "captcha-detected"
	BlockRequiredFieldUnresolved BlockKind = "required-field-unresolved"
	BlockCancelled               BlockKind = "cancelled"
	BlockFailed                  BlockKind = "failed"
)

// failureKind is the journal kind recorded for a block.
func (k BlockKind) failureKind() journal.FailureKind {
	switch k {
	case BlockClassificationAmbiguous:
		return journal.ClassificationAmbiguous
	case BlockCtaUnreliable:
		return journal.CtaUnreliable
	case BlockNavigationTimeout:
		return journal.NavigationTimeout
	case BlockFailed:
		return journal.PipelineFailed
	case BlockLoginRequired:
		return journal.LoginRequired
	case BlockCaptcha:
		return journal.CaptchaDetected
	case BlockRequiredFieldUnresolved:
		return journal.RequiredFieldUnresolved
	case BlockCancelled:
		return journal.Cancelled
	}
	return journal.FailureKind(k)
}

// BlockedError is returned by Pipeline.Run for every job that is not ready
// for submission.
type BlockedError struct {
	JobID    string
	Kind     BlockKind
	Reason   string
	ErrorRef string
	Err      error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("pipeline: job %s blocked (%s): %s", e.JobID, e.Kind, e.Reason)
}

func (e *BlockedError) Unwrap() error { return e.Err }

// blockKindOf maps a navigation error to a BlockKind.
func blockKindOf(err error) BlockKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return BlockCancelled
	case errors.Is(err, navigator.ErrCaptcha):
		return BlockCaptcha
	case errors.Is(err, navigator.ErrLoginRequired):
		return BlockLoginRequired
	case errors.Is(err, navigator.ErrCtaUnreliable):
		return BlockCtaUnreliable
	case errors.Is(err, navigator.ErrNavigationTimeout):
		return BlockNavigationTimeout
	case errors.Is(err, navigator.ErrClassificationAmbiguous):
		return BlockClassificationAmbiguous
	}
	return BlockFailed
}

// Result is the job-level outcome.
type Result struct {
	JobID            string         `json:"job_id"`
	URL              string         `json:"url"`
	FormURL          string         `json:"form_url,omitempty"`
	FilledFieldCount int            `json:"filled_field_count"`
	UnresolvedFields []fill.Skipped `json:"unresolved_fields,omitempty"`
	// SkippedFields lists every field that was not written, required or not.
	SkippedFields       []fill.Skipped `json:"skipped_fields,omitempty"`
	LowConfidenceFields []string       `json:"low_confidence_fields,omitempty"`
	BlockedReason       string         `json:"blocked_reason,omitempty"`
	BlockKind           BlockKind      `json:"block_kind,omitempty"`
	ErrorRef            string         `json:"error_ref,omitempty"`
	ReadyForSubmission  bool           `json:"ready_for_submission"`
	Profile             string         `json:"profile,omitempty"`
	CTAAttempts         int            `json:"cta_attempts"`
	MapperRetries       int            `json:"mapper_retries"`
	Duration            time.Duration  `json:"duration"`
}

// Outcome is the metrics label for r.
func (r Result) Outcome() string {
	switch {
	case r.ReadyForSubmission:
		return "ready"
	case r.BlockKind != "":
		return string(r.BlockKind)
	}
	return "unknown"
}

func unresolvedReason(us []fill.Skipped) string {
	names := make([]string, 0, len(us))
	for _, u := range us {
		name := u.Label
		if name == "" {
			name = u.Selector
		}
		names = append(names, name)
	}
	if len(names) > 5 {
		names = append(names[:5], fmt.Sprintf("and %d more", len(us)-5))
	}
	return fmt.Sprintf("%d required field(s) unresolved: %s", len(us), strings.Join(names, ", "))
}
