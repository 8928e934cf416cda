// Package pipeline runs one job from landing URL to a filled, gated form:
// navigate, extract, map, fill, then the submission gate. It never submits.
//
// Jobs are independent. Each owns its browser session, page arena and
// tracker; the only thing they share is the model governor behind the
// mapper. A Runner executes many jobs concurrently and Controls lets an
// operator resume or cancel them while they run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/candidate"
	"github.com/hazyhaar/applyflow/fields"
	"github.com/hazyhaar/applyflow/fill"
	"github.com/hazyhaar/applyflow/jobs"
	"github.com/hazyhaar/applyflow/journal"
	"github.com/hazyhaar/applyflow/mapper"
	"github.com/hazyhaar/applyflow/navigator"
	"github.com/hazyhaar/applyflow/notify"
	"github.com/hazyhaar/applyflow/page"
	"github.com/hazyhaar/applyflow/profiles"
)

// Form is the live form on the attended surface.
type Form interface {
	fields.Source
	fill.Page
}

// Session is one job's isolated browser context.
type Session interface {
	navigator.Driver
	Form(ctx context.Context, s navigator.Surface) (Form, error)
	Close() error
}

// Sessions opens a Session per job.
type Sessions interface {
	NewSession(ctx context.Context, jobID string) (Session, error)
}

// Profiles is the site profile registry as the pipeline uses it.
// *profiles.Registry implements it.
type Profiles interface {
	navigator.ProfileSource
	ReportFailure(ctx context.Context, rep profiles.FailureReport) (profiles.FailureReport, error)
	RecordSuccess(ctx context.Context, profileID string) error
}

// Config wires a Pipeline.
type Config struct {
	Sessions Sessions
	Mapper   *mapper.Mapper

	// Navigation is the base tracker config. Journal, Notifier, Profiles
	// and Logger are filled from this Config.
	Navigation navigator.Config
	Fields     fields.Config
	Fill       fill.Config

	Candidate *candidate.Surface
	Document  *candidate.Document

	Profiles Profiles
	Journal  *journal.Journal
	Notifier notify.Notifier
	// Jobs, when set, receives status updates.
	Jobs     jobs.Source
	Controls *Controls
	Metrics  *Metrics

	// FormPasses bounds extract, map and fill rounds on one form. Later
	// passes only see fields revealed by earlier answers. Default: 2.
	FormPasses int

	Logger *zap.Logger
}

func (c *Config) defaults() {
	if c.FormPasses <= 0 {
		c.FormPasses = 2
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Journal == nil {
		c.Journal = journal.New(journal.Config{Logger: c.Logger})
	}
	if c.Notifier == nil {
		c.Notifier = notify.NewLog(c.Logger)
	}
	if c.Controls == nil {
		c.Controls = NewControls()
	}
	if c.Candidate == nil {
		c.Candidate = candidate.NewSurface(nil)
	}
}

// Pipeline runs jobs.
type Pipeline struct {
	cfg       Config
	log       *zap.Logger
	extractor *fields.Extractor
}

// New validates cfg and creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("pipeline: sessions are required")
	}
	if cfg.Mapper == nil {
		return nil, errors.New("pipeline: mapper is required")
	}
	cfg.defaults()
	if cfg.Fields.Logger == nil {
		cfg.Fields.Logger = cfg.Logger
	}
	if cfg.Fill.Logger == nil {
		cfg.Fill.Logger = cfg.Logger
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger, extractor: fields.NewExtractor(cfg.Fields)}, nil
}

// Controls returns the running-job registry.
func (p *Pipeline) Controls() *Controls { return p.cfg.Controls }

// Run processes job. The error is a *BlockedError whenever the job is not
// ready for submission; Result is always filled.
func (p *Pipeline) Run(ctx context.Context, job jobs.Job) (Result, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h, err := p.cfg.Controls.register(job.ID, job.URL, cancel)
	if err != nil {
		// The run in flight owns the job's status and records.
		p.log.Warn("pipeline: duplicate run refused", zap.String("job_id", job.ID))
		res := Result{JobID: job.ID, URL: job.URL, BlockKind: BlockFailed, BlockedReason: err.Error()}
		return res, &BlockedError{JobID: job.ID, Kind: BlockFailed, Reason: err.Error(), Err: err}
	}
	defer p.cfg.Controls.unregister(job.ID, h)
	p.cfg.Metrics.addRunning(1)
	defer p.cfg.Metrics.addRunning(-1)

	log := p.log.With(zap.String("job_id", job.ID))
	log.Info("pipeline: job started", zap.String("url", job.URL))
	p.setStatus(ctx, job.ID, jobs.StatusRunning, "")

	res := Result{JobID: job.ID, URL: job.URL}
	finish := func(err error) (Result, error) {
		res.Duration = time.Since(start)
		p.cfg.Metrics.finished(res.Outcome())
		status, note := jobs.StatusReady, ""
		switch res.BlockKind {
		case "":
		case BlockCancelled:
			status, note = jobs.StatusCancelled, res.BlockedReason
		case BlockFailed:
			status, note = jobs.StatusFailed, res.BlockedReason
		default:
			status, note = jobs.StatusBlocked, res.BlockedReason
		}
		p.setStatus(context.WithoutCancel(ctx), job.ID, status, note)
		log.Info("pipeline: job finished",
			zap.String("outcome", res.Outcome()),
			zap.Int("filled", res.FilledFieldCount),
			zap.Int("unresolved", len(res.UnresolvedFields)),
			zap.Int("low_confidence", len(res.LowConfidenceFields)),
			zap.String("error_ref", res.ErrorRef),
			zap.Duration("took", res.Duration))
		return res, err
	}

	sess, err := p.cfg.Sessions.NewSession(ctx, job.ID)
	if err != nil {
		kind := BlockFailed
		if ctx.Err() != nil {
			kind = BlockCancelled
		}
		return finish(p.block(ctx, &res, page.Context{URL: job.URL}, kind, "browser session: "+err.Error(), "", err))
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("pipeline: close session", zap.Error(err))
		}
	}()

	// Navigate.
	t0 := time.Now()
	tr := navigator.New(job.ID, sess, p.navigationConfig())
	h.mu.Lock()
	h.tracker = tr
	h.mu.Unlock()

	formCtx, err := tr.Run(ctx, job.URL)
	p.cfg.Metrics.stage(StageNavigate, t0)
	res.CTAAttempts = tr.CTAAttempts()
	prof := tr.Profile()
	if prof != nil {
		res.Profile = prof.Site
	}
	if err != nil {
		kind := blockKindOf(err)
		at, shot := page.Context{URL: job.URL}, ""
		var halt *navigator.HaltError
		if errors.As(err, &halt) {
			at, shot = halt.Context, halt.ScreenshotRef
		} else if cur, ok := tr.Arena().Current(); ok {
			at = cur
		}
		switch kind {
		case BlockCtaUnreliable, BlockClassificationAmbiguous, BlockNavigationTimeout:
			p.reportProfile(ctx, prof, job.ID, kind.failureKind(), "", err.Error())
		}
		return finish(p.block(ctx, &res, at, kind, err.Error(), shot, err))
	}

	res.FormURL = formCtx.URL
	form, err := sess.Form(ctx, tr.Surface())
	if err != nil {
		return finish(p.block(ctx, &res, formCtx, BlockFailed, "attach form: "+err.Error(), "", err))
	}
	target := fill.Target{JobID: job.ID, ContextID: formCtx.ID, URL: formCtx.URL}
	filler := fill.New(form, p.cfg.Journal, p.cfg.Fill)

	var synonyms map[string][]string
	if prof != nil {
		synonyms = prof.Synonyms
	}

	var rep fill.Report
	seen := map[string]bool{}
	for pass := 0; pass < p.cfg.FormPasses; pass++ {
		h.setStage(StageExtract)
		t0 = time.Now()
		descs, err := p.extractor.Extract(ctx, form)
		p.cfg.Metrics.stage(StageExtract, t0)
		if err != nil {
			if ctx.Err() != nil {
				return finish(p.cancelled(ctx, &res, formCtx, StageExtract))
			}
			return finish(p.block(ctx, &res, formCtx, BlockFailed, err.Error(), "", err))
		}
		var fresh []fields.Descriptor
		for _, d := range descs {
			if !seen[d.Selector] {
				seen[d.Selector] = true
				fresh = append(fresh, d)
			}
		}
		if len(fresh) == 0 {
			if pass == 0 {
				shot, _ := form.Screenshot(context.WithoutCancel(ctx), "no-fields")
				return finish(p.block(ctx, &res, formCtx, BlockClassificationAmbiguous,
					"form page has no fillable fields", shot, nil))
			}
			break
		}
		log.Debug("pipeline: fields extracted", zap.Int("pass", pass), zap.Int("fields", len(fresh)))

		h.setStage(StageMap)
		t0 = time.Now()
		mres, err := p.cfg.Mapper.Map(ctx, mapper.Input{
			Fields:    fresh,
			Candidate: p.cfg.Candidate,
			Document:  p.cfg.Document,
			Job:       mapper.Job{Title: job.Title, Company: job.Company},
			Synonyms:  synonyms,
		})
		p.cfg.Metrics.stage(StageMap, t0)
		if err != nil {
			if ctx.Err() != nil {
				return finish(p.cancelled(ctx, &res, formCtx, StageMap))
			}
			return finish(p.block(ctx, &res, formCtx, BlockFailed, err.Error(), "", err))
		}
		res.MapperRetries += mres.Retries
		p.recordChunkFailures(ctx, target, mres.Failures)

		h.setStage(StageFill)
		t0 = time.Now()
		r, err := filler.Apply(ctx, target, mres.Mappings)
		p.cfg.Metrics.stage(StageFill, t0)
		rep.Merge(r)
		if err != nil {
			res.FilledFieldCount = len(rep.Filled)
			return finish(p.cancelled(ctx, &res, formCtx, StageFill))
		}
	}

	h.setStage(StageGate)
	ready, unresolved := filler.Gate(context.WithoutCancel(ctx), target, rep)
	res.FilledFieldCount = len(rep.Filled)
	res.SkippedFields = rep.Skipped
	res.LowConfidenceFields = rep.LowConfidence
	res.UnresolvedFields = unresolved

	if !ready {
		res.BlockKind = BlockRequiredFieldUnresolved
		res.BlockedReason = unresolvedReason(unresolved)
		res.ErrorRef = unresolved[0].ErrorRef
		for _, u := range unresolved {
			if u.Kind == journal.SelectorAmbiguous || u.Kind == journal.SelectorMissing {
				p.reportProfile(ctx, prof, job.ID, u.Kind, u.Selector, u.Label)
			}
		}
		p.notify(ctx, notify.Message{
			JobID:         job.ID,
			Reason:        notify.ReasonRequiredUnresolved,
			Text:          res.BlockedReason,
			URL:           formCtx.URL,
			AttachmentRef: res.ErrorRef,
		})
		return finish(&BlockedError{
			JobID: job.ID, Kind: res.BlockKind, Reason: res.BlockedReason, ErrorRef: res.ErrorRef,
		})
	}

	res.ReadyForSubmission = true
	if prof != nil && p.cfg.Profiles != nil {
		if err := p.cfg.Profiles.RecordSuccess(ctx, prof.ID); err != nil {
			log.Warn("pipeline: record profile success", zap.Error(err))
		}
	}
	text := fmt.Sprintf("%d fields filled, ready for review and submission.", res.FilledFieldCount)
	if n := len(res.LowConfidenceFields); n > 0 {
		text = fmt.Sprintf("%d fields filled, %d need a closer look before submission.", res.FilledFieldCount, n)
	}
	p.notify(ctx, notify.Message{JobID: job.ID, Reason: notify.ReasonReview, Text: text, URL: formCtx.URL})
	return finish(nil)
}

// navigationConfig is the tracker config for one job. Parking on a login
// wall also marks the job parked in the job store.
func (p *Pipeline) navigationConfig() navigator.Config {
	nc := p.cfg.Navigation
	nc.Journal = p.cfg.Journal
	nc.Logger = p.cfg.Logger
	if p.cfg.Profiles != nil {
		nc.Profiles = p.cfg.Profiles
	}
	nc.Notifier = notify.Multi{
		p.cfg.Notifier,
		notify.Func(func(ctx context.Context, msg notify.Message) error {
			if msg.Reason == notify.ReasonLoginRequired {
				p.setStatus(ctx, msg.JobID, jobs.StatusParked, msg.Text)
			}
			return nil
		}),
	}
	return nc
}

// block journals the halt and fills res. The write ignores cancellation so
// a cancelled job still leaves its record.
func (p *Pipeline) block(ctx context.Context, res *Result, at page.Context, kind BlockKind, reason, shot string, cause error) error {
	url := at.URL
	if url == "" {
		url = res.URL
	}
	stored, err := p.cfg.Journal.RecordError(context.WithoutCancel(ctx), journal.ErrorRecord{
		JobID:         res.JobID,
		ContextID:     at.ID,
		URL:           url,
		Kind:          kind.failureKind(),
		Detail:        reason,
		ScreenshotRef: shot,
	})
	if err != nil {
		p.log.Warn("pipeline: journal block", zap.String("job_id", res.JobID), zap.Error(err))
	}
	res.BlockKind = kind
	res.BlockedReason = reason
	res.ErrorRef = stored.ID
	return &BlockedError{JobID: res.JobID, Kind: kind, Reason: reason, ErrorRef: stored.ID, Err: cause}
}

func (p *Pipeline) cancelled(ctx context.Context, res *Result, at page.Context, stage Stage) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return p.block(ctx, res, at, BlockCancelled, fmt.Sprintf("cancelled during %s", stage), "", cause)
}

func (p *Pipeline) recordChunkFailures(ctx context.Context, t fill.Target, failures []mapper.ChunkFailure) {
	for _, f := range failures {
		detail := fmt.Sprintf("chunk %d (%s) fell back to rules: %s", f.Chunk, f.Kind, f.Err)
		sel := ""
		if len(f.Selectors) > 0 {
			sel = f.Selectors[0]
		}
		if _, err := p.cfg.Journal.RecordError(ctx, journal.ErrorRecord{
			JobID:     t.JobID,
			ContextID: t.ContextID,
			URL:       t.URL,
			Selector:  sel,
			Kind:      journal.MappingMalformed,
			Detail:    detail,
		}); err != nil {
			p.log.Warn("pipeline: journal chunk failure", zap.Error(err))
		}
	}
}

func (p *Pipeline) reportProfile(ctx context.Context, prof *profiles.Profile, jobID string, kind journal.FailureKind, selector, msg string) {
	if prof == nil || p.cfg.Profiles == nil {
		return
	}
	if _, err := p.cfg.Profiles.ReportFailure(context.WithoutCancel(ctx), profiles.FailureReport{
		ProfileID: prof.ID,
		JobID:     jobID,
		Kind:      string(kind),
		Selector:  selector,
		Message:   msg,
	}); err != nil {
		p.log.Warn("pipeline: report profile failure", zap.String("profile", prof.ID), zap.Error(err))
	}
}

func (p *Pipeline) notify(ctx context.Context, msg notify.Message) {
	msg.Timestamp = time.Now().UTC()
	if err := p.cfg.Notifier.NotifyHuman(context.WithoutCancel(ctx), msg); err != nil {
		p.log.Warn("pipeline: notify", zap.String("job_id", msg.JobID), zap.String("reason", msg.Reason), zap.Error(err))
	}
}

func (p *Pipeline) setStatus(ctx context.Context, id string, st jobs.Status, note string) {
	if p.cfg.Jobs == nil {
		return
	}
	if err := p.cfg.Jobs.UpdateStatus(ctx, id, st, note); err != nil {
		p.log.Warn("pipeline: update job status", zap.String("job_id", id), zap.String("status", string(st)), zap.Error(err))
	}
}
