// Package navigator is the Navigation Context Tracker: the state machine
// that takes a job from its landing page to a fillable form.
//
// The tracker is the only component that talks to the browser while
// navigating. It classifies the attended surface, clicks the resolved call
// to action, follows new tabs, descends into known ATS frames, reloads the
// site profile on cross-domain redirects, parks on login walls until an
// operator resumes it, and stops for good on captchas. Every transition,
// failed ones included, is appended to the navigation log.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/classify"
	"github.com/hazyhaar/applyflow/cta"
	"github.com/hazyhaar/applyflow/idgen"
	"github.com/hazyhaar/applyflow/journal"
	"github.com/hazyhaar/applyflow/notify"
	"github.com/hazyhaar/applyflow/page"
	"github.com/hazyhaar/applyflow/profiles"
)

// State is the tracker's position in the navigation state machine.
type State string

const (
	StateUnknown          State = "unknown"
	StateJobDetail        State = "job_detail"
	StateFormPage         State = "form_page"
	StateLoginPage        State = "login_page"
	StateExternalRedirect State = "external_redirect"
	StateCaptchaPage      State = "captcha_page"
	StateTerminal         State = "terminal"
	StateError            State = "error"
)

func stateOf(c page.Classification) State {
	switch c {
	case page.JobDetail:
		return StateJobDetail
	case page.FormPage:
		return StateFormPage
	case page.LoginPage:
		return StateLoginPage
	case page.ExternalRedirect:
		return StateExternalRedirect
	case page.CaptchaPage:
		return StateCaptchaPage
	}
	return StateUnknown
}

// ProfileSource looks up site profiles. *profiles.Registry implements it.
type ProfileSource interface {
	Match(ctx context.Context, rawURL string) (*profiles.Profile, error)
	FramePatterns(ctx context.Context) ([]string, error)
}

// Config tunes a Tracker.
type Config struct {
	// ChangeWait bounds the wait for a URL or DOM change after a click, and
	// for a loading page to become classifiable. Default: 5s.
	ChangeWait time.Duration
	// PollInterval is the re-read period during waits. Default: 250ms.
	PollInterval time.Duration
	// MaxCTAAttempts caps clicks per job. Default: 3.
	MaxCTAAttempts int
	// MaxHops caps loop iterations per job. Default: 8.
	MaxHops int
	// MinCTAConfidence is the click threshold. Default: 0.6.
	MinCTAConfidence float64
	// ApplyVocabulary extends the resolver's apply phrases for every site.
	ApplyVocabulary []string
	// ExcludeVocabulary adds words that disqualify a candidate.
	ExcludeVocabulary []string

	Classifier *classify.Classifier
	// Ranker, when set, asks the model to rank candidates before the
	// deterministic gate.
	Ranker   *cta.ModelRanker
	Profiles ProfileSource
	Journal  *journal.Journal
	Notifier notify.Notifier
	Logger   *zap.Logger
}

func (c *Config) defaults() {
	if c.ChangeWait <= 0 {
		c.ChangeWait = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.MaxCTAAttempts <= 0 {
		c.MaxCTAAttempts = 3
	}
	if c.MaxHops <= 0 {
		c.MaxHops = 8
	}
	if c.MinCTAConfidence <= 0 {
		c.MinCTAConfidence = 0.6
	}
	if c.Classifier == nil {
		c.Classifier = classify.New(classify.Config{})
	}
	if c.Notifier == nil {
		c.Notifier = notify.NewLog(c.Logger)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Tracker drives one job. It is not reusable across jobs.
type Tracker struct {
	jobID  string
	driver Driver
	arena  *page.Arena
	cfg    Config
	log    *zap.Logger

	resolver      *cta.Resolver
	framePatterns []string
	visitedFrames map[string]bool
	ctaAttempts   int
	resume        chan struct{}

	mu      sync.Mutex
	state   State
	parked  bool
	surface Surface
	profile *profiles.Profile
	events  []page.NavigationEvent
}

// New creates a Tracker for jobID over driver.
func New(jobID string, driver Driver, cfg Config) *Tracker {
	cfg.defaults()
	t := &Tracker{
		jobID:         jobID,
		driver:        driver,
		arena:         page.NewArena(jobID),
		cfg:           cfg,
		log:           cfg.Logger.With(zap.String("job_id", jobID)),
		visitedFrames: make(map[string]bool),
		resume:        make(chan struct{}, 1),
		state:         StateUnknown,
	}
	t.resolver = t.newResolver(nil)
	return t
}

// Run navigates from startURL until a form-bearing context is attended and
// returns that context. Halting conditions come back as *HaltError wrapping
// one of the package sentinels; cancellation wraps ctx.Err().
func (t *Tracker) Run(ctx context.Context, startURL string) (page.Context, error) {
	t.loadFramePatterns(ctx)

	s, err := t.driver.Open(ctx, startURL)
	if err != nil {
		t.emit(ctx, page.NavigationEvent{
			Trigger: page.TriggerInitial, Outcome: failedOrCancelled(ctx), ToURL: startURL, Detail: err.Error(),
		})
		t.setState(StateError)
		return page.Context{}, fmt.Errorf("navigator: open %s: %w", startURL, err)
	}
	cur := t.attend(s, page.SurfaceTop)
	t.emit(ctx, page.NavigationEvent{
		ToContextID: cur.ID, Trigger: page.TriggerInitial, Outcome: page.OutcomeOK, ToURL: cur.URL,
	})
	t.loadProfile(ctx, cur.URL)

	for hop := 0; ; hop++ {
		cur, _ = t.arena.Current()
		if hop >= t.cfg.MaxHops {
			return t.halt(ctx, cur, ErrNavigationTimeout, fmt.Sprintf("no form after %d hops", hop))
		}

		snap, res, err := t.read(ctx)
		if err != nil {
			return t.abort(ctx, cur, err)
		}

		if d := page.DomainOf(snap.URL); d != "" && d != cur.Domain && !cur.InFrame() {
			cur = t.redirect(ctx, cur, snap.URL, page.TriggerDomainRedirect)
		}

		if f, ok := t.formFrame(snap); ok {
			if t.descend(ctx, cur, f) {
				continue
			}
		}

		if res.Class == page.Unknown && res.Confidence == 0 {
			if snap.Signals.Loading {
				return t.halt(ctx, cur, ErrNavigationTimeout,
					fmt.Sprintf("page still loading after %s", t.cfg.ChangeWait))
			}
			return t.halt(ctx, cur, ErrClassificationAmbiguous, "no usable page signals")
		}

		cur = t.arena.Supersede(res.Class, res.Confidence)
		t.setState(stateOf(res.Class))
		t.log.Info("navigator: classified",
			zap.String("class", string(res.Class)),
			zap.Float64("confidence", res.Confidence),
			zap.String("url", cur.URL),
			zap.Strings("reasons", res.Reasons))

		switch res.Class {
		case page.CaptchaPage:
			return t.captcha(ctx, cur)
		case page.LoginPage:
			if err := t.park(ctx, cur); err != nil {
				return page.Context{}, err
			}
		case page.FormPage:
			return cur, nil
		default:
			if err := t.advance(ctx, snap, cur); err != nil {
				return page.Context{}, err
			}
		}
	}
}

// read snapshots the attended surface and classifies it, re-reading for up
// to ChangeWait while the page gives no usable signals.
func (t *Tracker) read(ctx context.Context) (Snapshot, classify.Result, error) {
	deadline := time.Now().Add(t.cfg.ChangeWait)
	for {
		snap, err := t.driver.Snapshot(ctx, t.Surface())
		if err != nil {
			return Snapshot{}, classify.Result{}, fmt.Errorf("snapshot: %w", err)
		}
		if len(snap.Signals.URLTokens) == 0 {
			snap.Signals.URLTokens = page.URLTokens(snap.URL)
		}
		res := t.cfg.Classifier.Classify(snap.Signals)
		if res.Class != page.Unknown || res.Confidence > 0 || t.hasFormFrame(snap) || !time.Now().Before(deadline) {
			return snap, res, nil
		}
		if err := sleep(ctx, t.cfg.PollInterval); err != nil {
			return snap, res, err
		}
	}
}

// advance is one CTA attempt on cur.
func (t *Tracker) advance(ctx context.Context, snap Snapshot, cur page.Context) error {
	if t.ctaAttempts >= t.cfg.MaxCTAAttempts {
		_, err := t.escalate(ctx, cur, fmt.Sprintf("%d click attempts did not reach a form", t.ctaAttempts))
		return err
	}

	cands := snap.Candidates
	if t.cfg.Ranker != nil {
		annotated, err := t.cfg.Ranker.Annotate(ctx, snap.Signals.Title, cands)
		if err != nil {
			if ctx.Err() != nil {
				_, err := t.abort(ctx, cur, ctx.Err())
				return err
			}
			t.log.Warn("navigator: model ranking failed, using heuristics", zap.Error(err))
		}
		cands = annotated
	}

	dec := t.Resolver().Resolve(cands)
	if dec.Escalate {
		_, err := t.escalate(ctx, cur, dec.Reason)
		return err
	}

	t.ctaAttempts++
	chosen := *dec.Chosen
	t.log.Info("navigator: cta click",
		zap.Int("attempt", t.ctaAttempts),
		zap.String("text", chosen.Text),
		zap.String("selector", chosen.Selector),
		zap.Float64("confidence", chosen.Confidence),
		zap.Int("tier", int(chosen.Tier)))

	if err := t.driver.Click(ctx, t.Surface(), chosen.Selector); err != nil {
		if ctx.Err() != nil {
			_, err := t.abort(ctx, cur, ctx.Err())
			return err
		}
		t.emit(ctx, page.NavigationEvent{
			FromContextID: cur.ID, ToContextID: cur.ID, Trigger: page.TriggerAnchorWait,
			Outcome: page.OutcomeFailed, FromURL: cur.URL, Detail: "click: " + err.Error(),
		})
		return nil
	}

	ch, err := t.waitForChange(ctx, snap)
	if err != nil {
		_, err := t.abort(ctx, cur, err)
		return err
	}
	switch {
	case ch.surface != nil:
		next := t.attend(*ch.surface, page.SurfaceTab)
		t.emit(ctx, page.NavigationEvent{
			FromContextID: cur.ID, ToContextID: next.ID, Trigger: page.TriggerNewTab,
			Outcome: page.OutcomeOK, FromURL: cur.URL, ToURL: next.URL,
		})
		if next.Domain != cur.Domain {
			t.loadProfile(ctx, next.URL)
		}
	case ch.snap != nil:
		trig := page.TriggerAnchorWait
		if page.DomainOf(ch.snap.URL) != cur.Domain && !cur.InFrame() {
			trig = page.TriggerDomainRedirect
		}
		t.redirect(ctx, cur, ch.snap.URL, trig)
	default:
		t.emit(ctx, page.NavigationEvent{
			FromContextID: cur.ID, ToContextID: cur.ID, Trigger: page.TriggerAnchorWait,
			Outcome: page.OutcomeTimeout, FromURL: cur.URL, ToURL: cur.URL,
			Detail: fmt.Sprintf("no URL or DOM change within %s after clicking %q", t.cfg.ChangeWait, chosen.Text),
		})
	}
	return nil
}

type change struct {
	surface *Surface
	snap    *Snapshot
}

// waitForChange polls for a new surface or a change of the attended one
// until ChangeWait elapses. The zero change means nothing happened.
func (t *Tracker) waitForChange(ctx context.Context, before Snapshot) (change, error) {
	deadline := time.Now().Add(t.cfg.ChangeWait)
	for {
		s, ok, err := t.driver.NewSurface(ctx)
		if err != nil && ctx.Err() == nil {
			t.log.Warn("navigator: new surface check failed", zap.Error(err))
		}
		if ok {
			return change{surface: &s}, nil
		}
		snap, err := t.driver.Snapshot(ctx, t.Surface())
		if err == nil && (snap.URL != before.URL || snap.Fingerprint != before.Fingerprint) {
			return change{snap: &snap}, nil
		}
		if !time.Now().Before(deadline) {
			return change{}, nil
		}
		if err := sleep(ctx, t.cfg.PollInterval); err != nil {
			return change{}, err
		}
	}
}

// redirect appends a successor of cur on the same surface at url. A domain
// change reloads the site profile.
func (t *Tracker) redirect(ctx context.Context, cur page.Context, url string, trig page.Trigger) page.Context {
	s := t.Surface()
	s.URL = url
	t.setSurface(s)
	next := t.arena.Append(page.Context{
		URL: url, FrameChain: cur.FrameChain, Surface: cur.Surface, SurfaceRef: cur.SurfaceRef,
	})
	t.emit(ctx, page.NavigationEvent{
		FromContextID: cur.ID, ToContextID: next.ID, Trigger: trig,
		Outcome: page.OutcomeOK, FromURL: cur.URL, ToURL: next.URL,
	})
	if next.Domain != cur.Domain {
		t.setState(StateExternalRedirect)
		t.loadProfile(ctx, url)
	}
	return next
}

// formFrame returns the first unvisited frame matching a known ATS frame
// pattern.
func (t *Tracker) formFrame(snap Snapshot) (Frame, bool) {
	p := t.Profile()
	for _, f := range snap.Frames {
		if t.visitedFrames[f.Ref] {
			continue
		}
		if (p != nil && p.MatchesFrame(f.URL)) || matchesAny(t.framePatterns, f.URL) {
			return f, true
		}
	}
	return Frame{}, false
}

func (t *Tracker) hasFormFrame(snap Snapshot) bool {
	_, ok := t.formFrame(snap)
	return ok
}

func (t *Tracker) descend(ctx context.Context, cur page.Context, f Frame) bool {
	t.visitedFrames[f.Ref] = true
	fs, err := t.driver.EnterFrame(ctx, t.Surface(), f)
	if err != nil {
		t.emit(ctx, page.NavigationEvent{
			FromContextID: cur.ID, ToContextID: cur.ID, Trigger: page.TriggerIframeDescend,
			Outcome: failedOrCancelled(ctx), FromURL: cur.URL, ToURL: f.URL, Detail: err.Error(),
		})
		return false
	}
	next := t.attend(fs, page.SurfaceFrame)
	t.emit(ctx, page.NavigationEvent{
		FromContextID: cur.ID, ToContextID: next.ID, Trigger: page.TriggerIframeDescend,
		Outcome: page.OutcomeOK, FromURL: cur.URL, ToURL: next.URL,
	})
	t.log.Info("navigator: descended into frame", zap.String("frame_url", f.URL))
	return true
}

// park suspends on a login wall until Resume or cancellation. After resume
// the surface is re-read and the loop re-classifies it.
func (t *Tracker) park(ctx context.Context, cur page.Context) error {
	select {
	case <-t.resume:
	default:
	}
	ref := t.screenshot(ctx, "login")
	t.emit(ctx, page.NavigationEvent{
		FromContextID: cur.ID, ToContextID: cur.ID, Trigger: page.TriggerLoginDetected,
		Outcome: page.OutcomeParked, FromURL: cur.URL, ToURL: cur.URL,
	})
	t.notify(ctx, notify.Message{
		Reason:        notify.ReasonLoginRequired,
		Text:          fmt.Sprintf("Sign-in required on %s. Log in in the job's browser, then resume the job.", cur.Domain),
		URL:           cur.URL,
		AttachmentRef: ref,
	})
	t.setParked(true)
	t.log.Info("navigator: parked on login wall", zap.String("url", cur.URL))

	select {
	case <-ctx.Done():
		t.setParked(false)
		_, err := t.abort(ctx, cur, ctx.Err())
		return err
	case <-t.resume:
	}
	t.setParked(false)
	t.setState(StateUnknown)

	url := cur.URL
	if snap, err := t.driver.Snapshot(ctx, t.Surface()); err == nil && snap.URL != "" {
		url = snap.URL
	}
	s := t.Surface()
	s.URL = url
	t.setSurface(s)
	next := t.arena.Append(page.Context{
		URL: url, FrameChain: cur.FrameChain, Surface: cur.Surface, SurfaceRef: cur.SurfaceRef,
	})
	t.emit(ctx, page.NavigationEvent{
		FromContextID: cur.ID, ToContextID: next.ID, Trigger: page.TriggerResume,
		Outcome: page.OutcomeOK, FromURL: cur.URL, ToURL: next.URL,
	})
	if next.Domain != cur.Domain {
		t.loadProfile(ctx, url)
	}
	return nil
}

func (t *Tracker) captcha(ctx context.Context, cur page.Context) (page.Context, error) {
	ref := t.screenshot(ctx, "captcha")
	t.emit(ctx, page.NavigationEvent{
		FromContextID: cur.ID, ToContextID: cur.ID, Trigger: page.TriggerCaptcha,
		Outcome: page.OutcomeEscalated, FromURL: cur.URL, ToURL: cur.URL,
	})
	t.notify(ctx, notify.Message{
		Reason:        notify.ReasonCaptcha,
		Text:          fmt.Sprintf("Captcha on %s. Automation stopped for this job.", cur.Domain),
		URL:           cur.URL,
		AttachmentRef: ref,
	})
	t.setState(StateCaptchaPage)
	return page.Context{}, &HaltError{Err: ErrCaptcha, Context: cur, ScreenshotRef: ref}
}

// escalate hands an unreliable or exhausted CTA to a human. Nothing is
// clicked.
func (t *Tracker) escalate(ctx context.Context, cur page.Context, reason string) (page.Context, error) {
	ref := t.screenshot(ctx, "cta")
	t.emit(ctx, page.NavigationEvent{
		FromContextID: cur.ID, ToContextID: cur.ID, Trigger: page.TriggerAnchorWait,
		Outcome: page.OutcomeEscalated, FromURL: cur.URL, ToURL: cur.URL, Detail: reason,
	})
	t.notify(ctx, notify.Message{
		Reason:        notify.ReasonCtaUnreliable,
		Text:          fmt.Sprintf("No reliable apply button on %s: %s", cur.Domain, reason),
		URL:           cur.URL,
		AttachmentRef: ref,
	})
	t.setState(StateError)
	return page.Context{}, &HaltError{Err: ErrCtaUnreliable, Detail: reason, Context: cur, ScreenshotRef: ref}
}

func (t *Tracker) halt(ctx context.Context, cur page.Context, sentinel error, detail string) (page.Context, error) {
	ref := t.screenshot(ctx, "halt")
	t.emit(ctx, page.NavigationEvent{
		FromContextID: cur.ID, ToContextID: cur.ID, Trigger: page.TriggerReclassify,
		Outcome: outcomeFor(sentinel), FromURL: cur.URL, ToURL: cur.URL, Detail: detail,
	})
	t.setState(StateError)
	return page.Context{}, &HaltError{Err: sentinel, Detail: detail, Context: cur, ScreenshotRef: ref}
}

// abort ends the run on cancellation or a driver failure.
func (t *Tracker) abort(ctx context.Context, cur page.Context, err error) (page.Context, error) {
	outcome := page.OutcomeFailed
	if ctx.Err() != nil {
		outcome = page.OutcomeCancelled
		err = ctx.Err()
	}
	t.emit(ctx, page.NavigationEvent{
		FromContextID: cur.ID, ToContextID: cur.ID, Trigger: page.TriggerReclassify,
		Outcome: outcome, FromURL: cur.URL, ToURL: cur.URL, Detail: err.Error(),
	})
	t.setState(StateError)
	return page.Context{}, fmt.Errorf("navigator: %w", err)
}

func (t *Tracker) attend(s Surface, kind page.SurfaceKind) page.Context {
	if s.Kind == "" {
		s.Kind = kind
	}
	t.setSurface(s)
	return t.arena.Append(page.Context{
		URL: s.URL, FrameChain: s.FrameChain, Surface: s.Kind, SurfaceRef: s.Ref,
	})
}

// emit appends ev to the navigation log. Journal writes use a context
// detached from cancellation so the closing event of an aborted job lands.
func (t *Tracker) emit(ctx context.Context, ev page.NavigationEvent) {
	ev.JobID = t.jobID
	if ev.ID == "" {
		ev.ID = idgen.Navigation()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if t.cfg.Journal != nil {
		stored, err := t.cfg.Journal.RecordNavigation(context.WithoutCancel(ctx), ev)
		if err != nil {
			t.log.Error("navigator: journal navigation event", zap.Error(err))
		}
		ev = stored
	}
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
	t.log.Debug("navigator: transition",
		zap.String("trigger", string(ev.Trigger)),
		zap.String("outcome", string(ev.Outcome)),
		zap.String("to_url", ev.ToURL))
}

func (t *Tracker) notify(ctx context.Context, msg notify.Message) {
	msg.JobID = t.jobID
	msg.Timestamp = time.Now().UTC()
	if err := t.cfg.Notifier.NotifyHuman(context.WithoutCancel(ctx), msg); err != nil {
		t.log.Warn("navigator: notify", zap.String("reason", msg.Reason), zap.Error(err))
	}
}

func (t *Tracker) screenshot(ctx context.Context, name string) string {
	ref, err := t.driver.Screenshot(context.WithoutCancel(ctx), t.Surface(), name)
	if err != nil {
		t.log.Debug("navigator: screenshot failed", zap.Error(err))
		return ""
	}
	return ref
}

func (t *Tracker) loadProfile(ctx context.Context, url string) {
	if t.cfg.Profiles == nil {
		return
	}
	p, err := t.cfg.Profiles.Match(ctx, url)
	if err != nil {
		t.log.Warn("navigator: profile lookup failed", zap.String("url", url), zap.Error(err))
		return
	}
	t.mu.Lock()
	t.profile = p
	t.resolver = t.newResolver(p)
	t.mu.Unlock()
	if p != nil {
		t.log.Info("navigator: profile loaded", zap.String("site", p.Site), zap.String("url", url))
	} else {
		t.log.Debug("navigator: no profile, generic classification", zap.String("url", url))
	}
}

func (t *Tracker) loadFramePatterns(ctx context.Context) {
	if t.cfg.Profiles == nil {
		for _, p := range profiles.Builtin() {
			t.framePatterns = append(t.framePatterns, p.FramePatterns...)
		}
		return
	}
	pats, err := t.cfg.Profiles.FramePatterns(ctx)
	if err != nil {
		t.log.Warn("navigator: frame patterns", zap.Error(err))
		return
	}
	t.framePatterns = pats
}

func (t *Tracker) newResolver(p *profiles.Profile) *cta.Resolver {
	vocab := slices.Clone(t.cfg.ApplyVocabulary)
	if p != nil {
		vocab = append(vocab, p.ApplyVocabulary...)
	}
	return cta.NewResolver(cta.Config{
		MinConfidence:   t.cfg.MinCTAConfidence,
		ApplyVocabulary: vocab,
		Exclude:         t.cfg.ExcludeVocabulary,
		Logger:          t.cfg.Logger,
	})
}

// Resume wakes a tracker parked on a login wall. It reports false when the
// tracker was not parked.
func (t *Tracker) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.parked {
		return false
	}
	select {
	case t.resume <- struct{}{}:
	default:
	}
	return true
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Parked reports whether the tracker waits for Resume.
func (t *Tracker) Parked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parked
}

// Surface returns the attended surface.
func (t *Tracker) Surface() Surface {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.surface
}

// Profile returns the active site profile, or nil.
func (t *Tracker) Profile() *profiles.Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile
}

// Resolver returns the resolver for the active profile.
func (t *Tracker) Resolver() *cta.Resolver {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolver
}

// Arena returns the job's context history.
func (t *Tracker) Arena() *page.Arena { return t.arena }

// Events returns a copy of the navigation log.
func (t *Tracker) Events() []page.NavigationEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.events)
}

// CTAAttempts returns the number of clicks made.
func (t *Tracker) CTAAttempts() int { return t.ctaAttempts }

func (t *Tracker) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tracker) setParked(p bool) {
	t.mu.Lock()
	t.parked = p
	if p {
		t.state = StateLoginPage
	}
	t.mu.Unlock()
}

func (t *Tracker) setSurface(s Surface) {
	t.mu.Lock()
	t.surface = s
	t.mu.Unlock()
}

func matchesAny(patterns []string, url string) bool {
	for _, p := range patterns {
		if profiles.MatchPattern(p, url) {
			return true
		}
	}
	return false
}

func outcomeFor(sentinel error) page.Outcome {
	if errors.Is(sentinel, ErrNavigationTimeout) {
		return page.OutcomeTimeout
	}
	return page.OutcomeFailed
}

func failedOrCancelled(ctx context.Context) page.Outcome {
	if ctx.Err() != nil {
		return page.OutcomeCancelled
	}
	return page.OutcomeFailed
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
