// Package notify asks a human to step in: CTA escalation, login walls,
// captchas and unresolved required fields all end up here.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Reasons carried in Message.Reason.
const (
	ReasonCtaUnreliable      = "cta-unreliable"
	ReasonLoginRequired      = "login-required"
	ReasonCaptcha            = "captcha-detected"
	ReasonRequiredUnresolved = "required-field-unresolved"
	ReasonReview             = "ready-for-review"
)

// Message is one human-intervention request.
type Message struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
	// AttachmentRef points at a screenshot or ErrorRecord.
	AttachmentRef string    `json:"attachment_ref,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier delivers messages to a human.
type Notifier interface {
	NotifyHuman(ctx context.Context, msg Message) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg Message) error

func (f Func) NotifyHuman(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Log writes messages to a zap logger at warn level.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a Log notifier. A nil logger discards messages.
func NewLog(l *zap.Logger) *Log {
	if l == nil {
		l = zap.NewNop()
	}
	return &Log{logger: l}
}

func (l *Log) NotifyHuman(_ context.Context, msg Message) error {
	l.logger.Warn("notify: human intervention requested",
		zap.String("job_id", msg.JobID),
		zap.String("reason", msg.Reason),
		zap.String("text", msg.Text),
		zap.String("url", msg.URL),
		zap.String("attachment", msg.AttachmentRef))
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyHuman(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyHuman(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
