package navigator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hazyhaar/applyflow/cta"
	"github.com/hazyhaar/applyflow/journal"
	"github.com/hazyhaar/applyflow/navigator"
	"github.com/hazyhaar/applyflow/notify"
	"github.com/hazyhaar/applyflow/page"
	"github.com/hazyhaar/applyflow/profiles"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose stats worker starts at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const (
	jobURL  = "https://jobs.acme.com/jobs/42"
	formURL = "https://jobs.acme.com/jobs/42/apply"
)

var (
	jobPage = navigator.Snapshot{
		Signals: page.Signals{
			Title:    "Senior Backend Engineer - Acme",
			MainText: "About the role. Responsibilities: build things. Qualifications: Go. Benefits: many.",
		},
		Candidates: []cta.Candidate{
			{Text: "Share", Tag: "a", Selector: "#share", Prominence: 0.1, Order: 1},
			{Text: "Apply Now", Tag: "button", Selector: "#apply", Prominence: 0.7, Isolated: true, Order: 2},
		},
	}
	formPage = navigator.Snapshot{
		Signals: page.Signals{
			Title:      "Apply - Acme",
			MainText:   "First name Last name Email Phone",
			FormCount:  1,
			InputCount: 6,
		},
	}
	loginPage = navigator.Snapshot{
		Signals: page.Signals{
			Title:         "Sign in",
			MainText:      "Sign in to continue",
			InputCount:    2,
			PasswordCount: 1,
		},
	}
	captchaPage = navigator.Snapshot{
		Signals: page.Signals{Title: "Just a moment", MainText: "Verify you are human", CaptchaWidgets: 1},
	}
)

type click struct {
	navigate string
	newTab   string
}

// scriptedDriver serves snapshots by URL and applies click scripts by
// selector.
type scriptedDriver struct {
	mu      sync.Mutex
	pages   map[string]navigator.Snapshot
	clicks  map[string]click
	loc     map[string]string
	pending *navigator.Surface
	tabs    int
	clicked []string
	shots   int
}

func newDriver() *scriptedDriver {
	return &scriptedDriver{
		pages:  map[string]navigator.Snapshot{},
		clicks: map[string]click{},
		loc:    map[string]string{},
	}
}

func (d *scriptedDriver) Open(_ context.Context, url string) (navigator.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loc["top"] = url
	return navigator.Surface{Kind: page.SurfaceTop, Ref: "top", URL: url}, nil
}

func (d *scriptedDriver) Snapshot(ctx context.Context, s navigator.Surface) (navigator.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return navigator.Snapshot{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	url := d.loc[s.Ref]
	snap, ok := d.pages[url]
	if !ok {
		return navigator.Snapshot{}, fmt.Errorf("no page at %s", url)
	}
	snap.URL = url
	if snap.Fingerprint == "" {
		snap.Fingerprint = url
	}
	return snap, nil
}

func (d *scriptedDriver) Click(_ context.Context, s navigator.Surface, sel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicked = append(d.clicked, sel)
	c := d.clicks[sel]
	if c.navigate != "" {
		d.loc[s.Ref] = c.navigate
	}
	if c.newTab != "" {
		d.tabs++
		ref := fmt.Sprintf("tab-%d", d.tabs)
		d.loc[ref] = c.newTab
		d.pending = &navigator.Surface{Kind: page.SurfaceTab, Ref: ref, URL: c.newTab}
	}
	return nil
}

func (d *scriptedDriver) NewSurface(context.Context) (navigator.Surface, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return navigator.Surface{}, false, nil
	}
	s := *d.pending
	d.pending = nil
	return s, true, nil
}

func (d *scriptedDriver) EnterFrame(_ context.Context, parent navigator.Surface, f navigator.Frame) (navigator.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref := "frame:" + f.Ref
	d.loc[ref] = f.URL
	return navigator.Surface{
		Kind:       page.SurfaceFrame,
		Ref:        ref,
		URL:        f.URL,
		FrameChain: append(append([]string(nil), parent.FrameChain...), f.Ref),
	}, nil
}

func (d *scriptedDriver) Screenshot(_ context.Context, _ navigator.Surface, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shots++
	return fmt.Sprintf("shots/%s-%d.png", name, d.shots), nil
}

func (d *scriptedDriver) moveTo(ref, url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loc[ref] = url
}

func (d *scriptedDriver) clickCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clicked)
}

type notes struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *notes) NotifyHuman(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *notes) all() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.msgs...)
}

type harness struct {
	driver *scriptedDriver
	mem    *journal.Memory
	notes  *notes
	cfg    navigator.Config
}

func newHarness() *harness {
	mem := journal.NewMemory()
	n := &notes{}
	return &harness{
		driver: newDriver(),
		mem:    mem,
		notes:  n,
		cfg: navigator.Config{
			ChangeWait:   60 * time.Millisecond,
			PollInterval: 5 * time.Millisecond,
			Journal:      journal.New(journal.Config{}, mem),
			Notifier:     n,
		},
	}
}

func (h *harness) tracker() *navigator.Tracker {
	return navigator.New("job_1", h.driver, h.cfg)
}

func triggers(evs []page.NavigationEvent) []string {
	var out []string
	for _, e := range evs {
		out = append(out, fmt.Sprintf("%s/%s", e.Trigger, e.Outcome))
	}
	return out
}

func TestRun_ApplyButtonReachesForm(t *testing.T) {
	h := newHarness()
	h.driver.pages[jobURL] = jobPage
	h.driver.pages[formURL] = formPage
	h.driver.clicks["#apply"] = click{navigate: formURL}

	tr := h.tracker()
	got, err := tr.Run(context.Background(), jobURL)
	require.NoError(t, err)

	assert.Equal(t, page.FormPage, got.Class)
	assert.Equal(t, formURL, got.URL)
	assert.Equal(t, navigator.StateFormPage, tr.State())
	assert.Equal(t, []string{"#apply"}, h.driver.clicked)
	assert.Equal(t, 1, tr.CTAAttempts())
	assert.Equal(t, []string{"initial/ok", "anchor-wait/ok"}, triggers(tr.Events()))
	assert.Empty(t, h.notes.all())

	// Contexts are appended, never rewritten.
	hist := tr.Arena().History()
	require.GreaterOrEqual(t, len(hist), 3)
	assert.Equal(t, page.Unknown, hist[0].Class)
	assert.Equal(t, jobURL, hist[0].URL)
}

func TestRun_LoginParksUntilResume(t *testing.T) {
	h := newHarness()
	const loginURL = "https://jobs.acme.com/login?next=/jobs/42/apply"
	h.driver.pages[loginURL] = loginPage
	h.driver.pages[formURL] = formPage

	tr := h.tracker()
	type result struct {
		ctx page.Context
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := tr.Run(context.Background(), loginURL)
		done <- result{c, err}
	}()

	require.Eventually(t, tr.Parked, time.Second, 5*time.Millisecond)
	assert.Equal(t, navigator.StateLoginPage, tr.State())
	msgs := h.notes.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.ReasonLoginRequired, msgs[0].Reason)
	assert.Equal(t, "job_1", msgs[0].JobID)
	assert.NotEmpty(t, msgs[0].AttachmentRef)
	assert.Zero(t, h.driver.clickCount())

	// The operator signs in; the site sends them on to the form.
	h.driver.moveTo("top", formURL)
	require.True(t, tr.Resume())

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, page.FormPage, r.ctx.Class)
	assert.Equal(t, []string{"initial/ok", "login-detected/parked", "resume/ok"}, triggers(tr.Events()))
	assert.Len(t, h.notes.all(), 1)
}

func TestRun_CancelledWhileParked(t *testing.T) {
	h := newHarness()
	const loginURL = "https://jobs.acme.com/signin"
	h.driver.pages[loginURL] = loginPage

	tr := h.tracker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tr.Run(ctx, loginURL)
		done <- err
	}()
	require.Eventually(t, tr.Parked, time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, tr.Parked())
	evs := h.mem.Navigation("job_1")
	require.NotEmpty(t, evs)
	assert.Equal(t, page.OutcomeCancelled, evs[len(evs)-1].Outcome)
}

func TestRun_CTAUnreliableAfterThreeClicks(t *testing.T) {
	h := newHarness()
	h.driver.pages[jobURL] = jobPage
	// #apply does nothing.

	tr := h.tracker()
	_, err := tr.Run(context.Background(), jobURL)

	var halt *navigator.HaltError
	require.ErrorAs(t, err, &halt)
	assert.ErrorIs(t, err, navigator.ErrCtaUnreliable)
	assert.NotEmpty(t, halt.ScreenshotRef)
	assert.Equal(t, []string{"#apply", "#apply", "#apply"}, h.driver.clicked)
	assert.Equal(t, navigator.StateError, tr.State())
	assert.Equal(t, []string{
		"initial/ok",
		"anchor-wait/timeout",
		"anchor-wait/timeout",
		"anchor-wait/timeout",
		"anchor-wait/escalated",
	}, triggers(tr.Events()))

	msgs := h.notes.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.ReasonCtaUnreliable, msgs[0].Reason)
}

func TestRun_EscalatesWithoutClicking(t *testing.T) {
	h := newHarness()
	snap := jobPage
	snap.Candidates = []cta.Candidate{
		{Text: "Share", Tag: "a", Selector: "#share", Prominence: 0.2, Order: 1},
		{Text: "Save", Tag: "button", Selector: "#save", Prominence: 0.3, Order: 2},
	}
	h.driver.pages[jobURL] = snap

	tr := h.tracker()
	_, err := tr.Run(context.Background(), jobURL)
	require.ErrorIs(t, err, navigator.ErrCtaUnreliable)
	assert.Zero(t, h.driver.clickCount())
	assert.Equal(t, []string{"initial/ok", "anchor-wait/escalated"}, triggers(tr.Events()))
}

func TestRun_FollowsNewTab(t *testing.T) {
	h := newHarness()
	const atsURL = "https://boards.greenhouse.io/acme/jobs/42"
	h.driver.pages[jobURL] = jobPage
	h.driver.pages[atsURL] = formPage
	h.driver.clicks["#apply"] = click{newTab: atsURL}

	tr := h.tracker()
	got, err := tr.Run(context.Background(), jobURL)
	require.NoError(t, err)
	assert.Equal(t, page.SurfaceTab, got.Surface)
	assert.Equal(t, "tab-1", got.SurfaceRef)
	assert.Equal(t, "boards.greenhouse.io", got.Domain)
	assert.Equal(t, []string{"initial/ok", "new-tab/ok"}, triggers(tr.Events()))
}

func TestRun_DescendsIntoKnownFrame(t *testing.T) {
	h := newHarness()
	const (
		careersURL = "https://acme.com/careers/42"
		frameURL   = "https://boards.greenhouse.io/embed/job_app?for=acme&token=42"
	)
	host := jobPage
	host.Candidates = nil
	host.Frames = []navigator.Frame{
		{Ref: "ads", URL: "https://ads.example.net/slot"},
		{Ref: "gh", URL: frameURL},
	}
	h.driver.pages[careersURL] = host
	h.driver.pages[frameURL] = formPage

	tr := h.tracker()
	got, err := tr.Run(context.Background(), careersURL)
	require.NoError(t, err)
	assert.True(t, got.InFrame())
	assert.Equal(t, []string{"gh"}, got.FrameChain)
	assert.Equal(t, page.SurfaceFrame, got.Surface)
	assert.Zero(t, h.driver.clickCount())
	assert.Equal(t, []string{"initial/ok", "iframe-descend/ok"}, triggers(tr.Events()))
}

type fakeProfiles struct {
	mu      sync.Mutex
	matched []string
}

func (f *fakeProfiles) Match(_ context.Context, url string) (*profiles.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matched = append(f.matched, url)
	site := profiles.DetectSite(url)
	for _, p := range profiles.Builtin() {
		if p.Site == site {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProfiles) FramePatterns(context.Context) ([]string, error) {
	return nil, nil
}

func TestRun_DomainRedirectReloadsProfile(t *testing.T) {
	h := newHarness()
	const leverURL = "https://jobs.lever.co/acme/42/apply"
	h.driver.pages[jobURL] = jobPage
	h.driver.pages[leverURL] = formPage
	h.driver.clicks["#apply"] = click{navigate: leverURL}
	src := &fakeProfiles{}
	h.cfg.Profiles = src

	tr := h.tracker()
	got, err := tr.Run(context.Background(), jobURL)
	require.NoError(t, err)
	assert.Equal(t, "jobs.lever.co", got.Domain)
	assert.Equal(t, []string{"initial/ok", "domain-redirect/ok"}, triggers(tr.Events()))
	require.NotNil(t, tr.Profile())
	assert.Equal(t, "lever", tr.Profile().Site)
	assert.Equal(t, []string{jobURL, leverURL}, src.matched)
}

func TestRun_CaptchaIsTerminal(t *testing.T) {
	h := newHarness()
	const url = "https://jobs.acme.com/jobs/7"
	h.driver.pages[url] = captchaPage

	tr := h.tracker()
	_, err := tr.Run(context.Background(), url)

	var halt *navigator.HaltError
	require.ErrorAs(t, err, &halt)
	assert.ErrorIs(t, err, navigator.ErrCaptcha)
	assert.Equal(t, page.CaptchaPage, halt.Context.Class)
	assert.NotEmpty(t, halt.ScreenshotRef)
	assert.Equal(t, navigator.StateCaptchaPage, tr.State())
	assert.False(t, tr.Resume())
	assert.Zero(t, h.driver.clickCount())

	msgs := h.notes.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.ReasonCaptcha, msgs[0].Reason)
}

func TestRun_StillLoadingTimesOut(t *testing.T) {
	h := newHarness()
	h.driver.pages[jobURL] = navigator.Snapshot{Signals: page.Signals{Title: "Loading", Loading: true}}

	tr := h.tracker()
	start := time.Now()
	_, err := tr.Run(context.Background(), jobURL)
	require.ErrorIs(t, err, navigator.ErrNavigationTimeout)
	assert.GreaterOrEqual(t, time.Since(start), h.cfg.ChangeWait)

	evs := tr.Events()
	assert.Equal(t, page.OutcomeTimeout, evs[len(evs)-1].Outcome)
}

func TestRun_BlankPageIsAmbiguous(t *testing.T) {
	h := newHarness()
	h.driver.pages[jobURL] = navigator.Snapshot{}

	_, err := h.tracker().Run(context.Background(), jobURL)
	require.ErrorIs(t, err, navigator.ErrClassificationAmbiguous)
}

func TestRun_OpenFailure(t *testing.T) {
	h := newHarness()
	d := &failingOpen{scriptedDriver: h.driver, err: errors.New("net::ERR_NAME_NOT_RESOLVED")}

	tr := navigator.New("job_1", d, h.cfg)
	_, err := tr.Run(context.Background(), jobURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, d.err)
	assert.Equal(t, []string{"initial/failed"}, triggers(tr.Events()))
}

type failingOpen struct {
	*scriptedDriver
	err error
}

func (f *failingOpen) Open(context.Context, string) (navigator.Surface, error) {
	return navigator.Surface{}, f.err
}

// Every transition the tracker saw, successful or not, is in the journal in
// the same order.
func TestRun_EveryTransitionJournaled(t *testing.T) {
	for name, setup := range map[string]func(*scriptedDriver){
		"form": func(d *scriptedDriver) {
			d.pages[jobURL] = jobPage
			d.pages[formURL] = formPage
			d.clicks["#apply"] = click{navigate: formURL}
		},
		"unreliable": func(d *scriptedDriver) {
			d.pages[jobURL] = jobPage
		},
		"captcha": func(d *scriptedDriver) {
			d.pages[jobURL] = captchaPage
		},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			setup(h.driver)
			tr := h.tracker()
			_, _ = tr.Run(context.Background(), jobURL)

			local := tr.Events()
			require.NotEmpty(t, local)
			if diff := cmp.Diff(local, h.mem.Navigation("job_1")); diff != "" {
				t.Errorf("journal mismatch (-tracker +journal):\n%s", diff)
			}
			for _, ev := range local {
				assert.NotEmpty(t, ev.ID)
				assert.Equal(t, "job_1", ev.JobID)
			}
		})
	}
}

func TestResume_NotParked(t *testing.T) {
	tr := navigator.New("job_1", newDriver(), navigator.Config{})
	assert.False(t, tr.Resume())
	assert.Equal(t, navigator.StateUnknown, tr.State())
}
