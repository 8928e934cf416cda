// Package journal is the durable, append-only record of what job pipelines
// did: ErrorRecords for every failure (the sole feed of the offline
// self-healing review), NavigationEvents for every transition, and
// FillRecords for accepted writes. Records are never updated.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/idgen"
	"github.com/hazyhaar/applyflow/page"
)

// FailureKind classifies an ErrorRecord.
type FailureKind string

const (
	ClassificationAmbiguous FailureKind = "classification-ambiguous"
	CtaUnreliable           FailureKind = "cta-unreliable"
	NavigationTimeout       FailureKind = "navigation-timeout"
	LoginRequired           FailureKind = "login-required"
	CaptchaDetected         FailureKind = "captcha-detected"
	SelectorAmbiguous       FailureKind = "selector-ambiguous"
	SelectorMissing         FailureKind = "selector-missing"
	MappingMalformed        FailureKind = "mapping-malformed"
	ValidationRejected      FailureKind = "validation-rejected"
	RequiredFieldUnresolved FailureKind = "required-field-unresolved"
	LowConfidence           FailureKind = "low-confidence"
	WriteFailed             FailureKind = "write-failed"
	Cancelled               FailureKind = "cancelled"
	// PipelineFailed covers infrastructure failures outside the taxonomy
	// above: no browser session, form attach, extraction or model errors.
	PipelineFailed FailureKind = "pipeline-failed"
)

// ErrorRecord is one failure with enough context to diagnose it without
// re-running the job.
type ErrorRecord struct {
	ID            string      `json:"id"`
	JobID         string      `json:"job_id"`
	ContextID     string      `json:"context_id,omitempty"`
	URL           string      `json:"url,omitempty"`
	Selector      string      `json:"selector_attempted,omitempty"`
	FieldLabel    string      `json:"field_label,omitempty"`
	Kind          FailureKind `json:"failure_kind"`
	Detail        string      `json:"detail,omitempty"`
	DOMSnapshot   string      `json:"dom_snapshot,omitempty"`
	ScreenshotRef string      `json:"screenshot_ref,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// FillRecord is an accepted write. Values are not stored.
type FillRecord struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	ContextID   string    `json:"context_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	Selector    string    `json:"selector"`
	FieldLabel  string    `json:"field_label,omitempty"`
	SemanticKey string    `json:"semantic_key,omitempty"`
	Source      string    `json:"source"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink is a storage backend for the three streams.
type Sink interface {
	WriteError(ctx context.Context, rec ErrorRecord) error
	WriteNavigation(ctx context.Context, ev page.NavigationEvent) error
	WriteFill(ctx context.Context, rec FillRecord) error
	Close() error
}

// Stats counts ErrorRecords per kind.
type Stats struct {
	Errors     map[FailureKind]int `json:"errors"`
	Navigation int                 `json:"navigation_events"`
	Fills      int                 `json:"fills"`
}

// StatsSource is implemented by sinks that can aggregate.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
}

// Config configures a Journal.
type Config struct {
	// MaxDOMBytes caps the sanitised DOM fragment per record. Default: 8192.
	MaxDOMBytes int
	Logger      *zap.Logger
}

func (c *Config) defaults() {
	if c.MaxDOMBytes <= 0 {
		c.MaxDOMBytes = 8192
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Journal fans records out to its sinks after stamping IDs and timestamps
// and sanitising DOM fragments.
type Journal struct {
	sinks []Sink
	cfg   Config
	now   func() time.Time
}

// New creates a Journal writing to every sink.
func New(cfg Config, sinks ...Sink) *Journal {
	cfg.defaults()
	return &Journal{sinks: sinks, cfg: cfg, now: time.Now}
}

// RecordError appends rec and returns the stored record. A record reaches
// every sink that accepts it; the returned error joins sink failures.
func (j *Journal) RecordError(ctx context.Context, rec ErrorRecord) (ErrorRecord, error) {
	if rec.ID == "" {
		rec.ID = idgen.Error()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = j.now().UTC()
	}
	rec.DOMSnapshot = SanitizeDOM(rec.DOMSnapshot, j.cfg.MaxDOMBytes)

	var errs []error
	for _, s := range j.sinks {
		if err := s.WriteError(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	j.cfg.Logger.Info("journal: error record",
		zap.String("id", rec.ID),
		zap.String("job_id", rec.JobID),
		zap.String("kind", string(rec.Kind)),
		zap.String("selector", rec.Selector))
	return rec, wrap("record error", errs)
}

// RecordNavigation appends ev.
func (j *Journal) RecordNavigation(ctx context.Context, ev page.NavigationEvent) (page.NavigationEvent, error) {
	if ev.ID == "" {
		ev.ID = idgen.Navigation()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = j.now().UTC()
	}
	var errs []error
	for _, s := range j.sinks {
		if err := s.WriteNavigation(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	j.cfg.Logger.Debug("journal: navigation",
		zap.String("job_id", ev.JobID),
		zap.String("trigger", string(ev.Trigger)),
		zap.String("outcome", string(ev.Outcome)))
	return ev, wrap("record navigation", errs)
}

// RecordFill appends rec.
func (j *Journal) RecordFill(ctx context.Context, rec FillRecord) (FillRecord, error) {
	if rec.ID == "" {
		rec.ID = idgen.Fill()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = j.now().UTC()
	}
	var errs []error
	for _, s := range j.sinks {
		if err := s.WriteFill(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return rec, wrap("record fill", errs)
}

// Stats returns aggregates from the first sink that can produce them.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	for _, s := range j.sinks {
		if ss, ok := s.(StatsSource); ok {
			return ss.Stats(ctx)
		}
	}
	return Stats{}, errors.New("journal: no sink supports stats")
}

// Close closes every sink.
func (j *Journal) Close() error {
	var errs []error
	for _, s := range j.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return wrap("close", errs)
}

func wrap(op string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("journal: %s: %w", op, errors.Join(errs...))
}
