// Package fill applies field mappings to a live form. Every write goes
// through the same gate: the selector must resolve to exactly one element,
// the mapping must clear the apply threshold, and the control must accept
// the value after its native change and blur events fire. Anything else is
// skipped and journalled.
package fill

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/fields"
	"github.com/hazyhaar/applyflow/journal"
	"github.com/hazyhaar/applyflow/mapper"
)

// State is a control's state read back after validation events fired.
type State struct {
	Value string
	// Valid is false when the control reports a constraint violation
	// (validity.valid, aria-invalid or a framework error class).
	Valid   bool
	Message string
}

// Page is the live form surface the filler writes to.
type Page interface {
	// Count returns how many live elements selector matches.
	Count(ctx context.Context, selector string) (int, error)
	// Options lists the visible option labels of a select or radio group.
	Options(ctx context.Context, selector string) ([]string, error)
	Write(ctx context.Context, selector string, ct fields.ControlType, value string) error
	// Validate dispatches change and blur on the control and reads it back.
	Validate(ctx context.Context, selector string) (State, error)
	// Fragment returns the outer HTML around selector for diagnostics.
	Fragment(ctx context.Context, selector string) (string, error)
	// Screenshot captures the page and returns a reference to the image.
	Screenshot(ctx context.Context, name string) (string, error)
}

// Config tunes the gate.
type Config struct {
	// ApplyThreshold is the lowest confidence that is written. Default: 0.5.
	ApplyThreshold float64
	// AutoSubmitThreshold marks filled fields below it for human review.
	// Default: 0.8.
	AutoSubmitThreshold float64
	Logger              *zap.Logger
}

func (c *Config) defaults() {
	if c.ApplyThreshold <= 0 {
		c.ApplyThreshold = 0.5
	}
	if c.AutoSubmitThreshold <= 0 {
		c.AutoSubmitThreshold = 0.8
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Target identifies where records are attributed.
type Target struct {
	JobID     string
	ContextID string
	URL       string
}

// Skipped is a mapping that was not written.
type Skipped struct {
	Selector string              `json:"selector"`
	Label    string              `json:"label,omitempty"`
	Required bool                `json:"required"`
	Kind     journal.FailureKind `json:"failure_kind,omitempty"`
	ErrorRef string              `json:"error_ref,omitempty"`
}

// Report is the outcome of one Apply.
type Report struct {
	Filled []mapper.Mapping
	// Skipped lists mappings that were not written, in input order.
	Skipped []Skipped
	// LowConfidence lists filled selectors below the auto-submit threshold.
	LowConfidence []string
	ErrorRefs     []string
}

// Merge appends o to r.
func (r *Report) Merge(o Report) {
	r.Filled = append(r.Filled, o.Filled...)
	r.Skipped = append(r.Skipped, o.Skipped...)
	r.LowConfidence = append(r.LowConfidence, o.LowConfidence...)
	r.ErrorRefs = append(r.ErrorRefs, o.ErrorRefs...)
}

// Filler writes mappings to one page.
type Filler struct {
	page    Page
	journal *journal.Journal
	cfg     Config
}

// New creates a Filler.
func New(p Page, j *journal.Journal, cfg Config) *Filler {
	cfg.defaults()
	return &Filler{page: p, journal: j, cfg: cfg}
}

// Apply writes every resolved mapping that passes the gate. It stops early
// only when ctx is done; the report then covers the fields handled so far.
func (f *Filler) Apply(ctx context.Context, t Target, mappings []mapper.Mapping) (Report, error) {
	var rep Report
	for _, m := range mappings {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("fill: apply: %w", err)
		}
		f.applyOne(ctx, t, m, &rep)
	}
	return rep, nil
}

func (f *Filler) applyOne(ctx context.Context, t Target, m mapper.Mapping, rep *Report) {
	log := f.cfg.Logger.With(zap.String("job_id", t.JobID), zap.String("selector", m.Selector))

	if !m.Resolved() {
		// The submission gate decides whether an unresolved field matters.
		rep.Skipped = append(rep.Skipped, Skipped{Selector: m.Selector, Label: m.Label, Required: m.Required})
		return
	}
	if m.Confidence < f.cfg.ApplyThreshold {
		f.skip(ctx, t, m, rep, journal.LowConfidence,
			fmt.Sprintf("confidence %.2f below apply threshold %.2f (source %s)", m.Confidence, f.cfg.ApplyThreshold, m.Source), false)
		return
	}

	n, err := f.page.Count(ctx, m.Selector)
	switch {
	case err != nil:
		f.skip(ctx, t, m, rep, journal.SelectorMissing, "resolve: "+err.Error(), false)
		return
	case n == 0:
		f.skip(ctx, t, m, rep, journal.SelectorMissing, "selector matched no element", false)
		return
	case n > 1:
		f.skip(ctx, t, m, rep, journal.SelectorAmbiguous, fmt.Sprintf("selector matched %d elements", n), true)
		return
	}

	value := m.Value
	if m.ControlType.Choice() {
		opts, err := f.page.Options(ctx, m.Selector)
		if err != nil {
			f.skip(ctx, t, m, rep, journal.WriteFailed, "options: "+err.Error(), true)
			return
		}
		matched, ok := MatchOption(value, opts)
		if !ok {
			f.skip(ctx, t, m, rep, journal.ValidationRejected,
				fmt.Sprintf("value %q matches none of %d options", value, len(opts)), true)
			return
		}
		value = matched
	}

	if err := f.page.Write(ctx, m.Selector, m.ControlType, value); err != nil {
		f.skip(ctx, t, m, rep, journal.WriteFailed, "write: "+err.Error(), true)
		return
	}
	st, err := f.page.Validate(ctx, m.Selector)
	if err != nil {
		f.skip(ctx, t, m, rep, journal.ValidationRejected, "read back: "+err.Error(), true)
		return
	}
	if !st.Valid {
		detail := "control rejected value"
		if st.Message != "" {
			detail += ": " + st.Message
		}
		f.skip(ctx, t, m, rep, journal.ValidationRejected, detail, true)
		return
	}
	if !readBackMatches(m.ControlType, value, st.Value) {
		f.skip(ctx, t, m, rep, journal.ValidationRejected,
			fmt.Sprintf("read back %q after writing %q", truncate(st.Value, 80), truncate(value, 80)), true)
		return
	}

	m.Value = value
	rep.Filled = append(rep.Filled, m)
	if m.Confidence < f.cfg.AutoSubmitThreshold {
		rep.LowConfidence = append(rep.LowConfidence, m.Selector)
	}
	if f.journal != nil {
		if _, err := f.journal.RecordFill(ctx, journal.FillRecord{
			JobID:       t.JobID,
			ContextID:   t.ContextID,
			URL:         t.URL,
			Selector:    m.Selector,
			FieldLabel:  m.Label,
			SemanticKey: m.SemanticKey,
			Source:      string(m.Source),
			Confidence:  m.Confidence,
		}); err != nil {
			log.Warn("fill: journal fill", zap.Error(err))
		}
	}
	log.Debug("fill: written", zap.String("key", m.SemanticKey), zap.Float64("confidence", m.Confidence))
}

// skip journals a gate failure. withDOM captures a fragment and screenshot,
// which only make sense when the selector resolved.
func (f *Filler) skip(ctx context.Context, t Target, m mapper.Mapping, rep *Report, kind journal.FailureKind, detail string, withDOM bool) {
	rec := journal.ErrorRecord{
		JobID:      t.JobID,
		ContextID:  t.ContextID,
		URL:        t.URL,
		Selector:   m.Selector,
		FieldLabel: m.Label,
		Kind:       kind,
		Detail:     detail,
	}
	if withDOM {
		if frag, err := f.page.Fragment(ctx, m.Selector); err == nil {
			rec.DOMSnapshot = frag
		}
	}
	if kind != journal.LowConfidence {
		if ref, err := f.page.Screenshot(ctx, string(kind)); err == nil {
			rec.ScreenshotRef = ref
		}
	}

	s := Skipped{Selector: m.Selector, Label: m.Label, Required: m.Required, Kind: kind}
	if f.journal != nil {
		stored, err := f.journal.RecordError(ctx, rec)
		if err != nil {
			f.cfg.Logger.Warn("fill: journal error", zap.String("selector", m.Selector), zap.Error(err))
		}
		s.ErrorRef = stored.ID
		rep.ErrorRefs = append(rep.ErrorRefs, stored.ID)
	}
	rep.Skipped = append(rep.Skipped, s)
	f.cfg.Logger.Info("fill: skipped",
		zap.String("job_id", t.JobID),
		zap.String("selector", m.Selector),
		zap.String("kind", string(kind)),
		zap.String("detail", detail))
}

// Gate is the submission check. It reports the required fields without a
// written value and journals required-field-unresolved for those that no
// earlier record explains. ready is false when any remain.
func (f *Filler) Gate(ctx context.Context, t Target, rep Report) (ready bool, unresolved []Skipped) {
	for _, s := range rep.Skipped {
		if !s.Required {
			continue
		}
		if s.ErrorRef == "" && f.journal != nil {
			stored, err := f.journal.RecordError(ctx, journal.ErrorRecord{
				JobID:      t.JobID,
				ContextID:  t.ContextID,
				URL:        t.URL,
				Selector:   s.Selector,
				FieldLabel: s.Label,
				Kind:       journal.RequiredFieldUnresolved,
				Detail:     "no mapping for required field",
			})
			if err != nil {
				f.cfg.Logger.Warn("fill: journal error", zap.String("selector", s.Selector), zap.Error(err))
			}
			s.Kind = journal.RequiredFieldUnresolved
			s.ErrorRef = stored.ID
		}
		unresolved = append(unresolved, s)
	}
	return len(unresolved) == 0, unresolved
}

func readBackMatches(ct fields.ControlType, wrote, read string) bool {
	switch ct {
	case fields.File, fields.Checkbox, fields.Radio, fields.Date:
		// The page reports these in its own shape (fakepath, on/off, locale
		// dates); Valid is the acceptance signal.
		return true
	case fields.Select:
		return normalize(read) == normalize(wrote) || strings.Contains(normalize(read), normalize(wrote))
	case fields.Phone:
		return digits(read) == digits(wrote)
	}
	return strings.TrimSpace(read) == strings.TrimSpace(wrote)
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
