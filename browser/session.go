package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/classify"
	"github.com/hazyhaar/applyflow/cta"
	"github.com/hazyhaar/applyflow/navigator"
	"github.com/hazyhaar/applyflow/page"
)

// Session is one job's incognito browser context. It implements
// navigator.Driver.
type Session struct {
	mgr   *Manager
	b     *rod.Browser
	jobID string
	log   *zap.Logger

	mu      sync.Mutex
	pages   map[string]*rod.Page // surface ref -> page or frame document
	owners  map[string]string    // frame ref -> tab ref
	known   map[proto.TargetTargetID]bool
	routers []*rod.HijackRouter
	shots   int
	closed  bool
}

func newSession(m *Manager, b *rod.Browser, jobID string) *Session {
	return &Session{
		mgr:    m,
		b:      b,
		jobID:  jobID,
		log:    m.log.With(zap.String("job_id", jobID)),
		pages:  make(map[string]*rod.Page),
		owners: make(map[string]string),
		known:  make(map[proto.TargetTargetID]bool),
	}
}

// Open creates a stealth tab and loads url in it.
func (s *Session) Open(ctx context.Context, url string) (navigator.Surface, error) {
	p, err := stealth.Page(s.b)
	if err != nil {
		return navigator.Surface{}, fmt.Errorf("browser: create tab: %w", err)
	}
	s.track(p)

	navCtx, cancel := context.WithTimeout(ctx, s.mgr.cfg.NavigateTimeout)
	defer cancel()
	if err := p.Context(navCtx).Navigate(url); err != nil {
		return navigator.Surface{}, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		s.log.Warn("browser: wait load", zap.String("url", url), zap.Error(err))
	}
	return navigator.Surface{Kind: page.SurfaceTop, Ref: string(p.TargetID), URL: s.currentURL(p, url)}, nil
}

func (s *Session) track(p *rod.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := string(p.TargetID)
	s.pages[ref] = p
	s.known[p.TargetID] = true
	if len(s.mgr.cfg.ResourceBlocking) > 0 {
		s.routers = append(s.routers, blockResources(p, s.mgr.cfg.ResourceBlocking))
	}
}

func (s *Session) page(ref string) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("browser: session closed")
	}
	p, ok := s.pages[ref]
	if !ok {
		return nil, fmt.Errorf("browser: unknown surface %q", ref)
	}
	return p, nil
}

func (s *Session) currentURL(p *rod.Page, fallback string) string {
	info, err := p.Info()
	if err != nil || info.URL == "" {
		return fallback
	}
	return info.URL
}

type snapshotReply struct {
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	MainText       string          `json:"main_text"`
	FormCount      int             `json:"form_count"`
	InputCount     int             `json:"input_count"`
	PasswordCount  int             `json:"password_count"`
	CaptchaWidgets int             `json:"captcha_widgets"`
	Loading        bool            `json:"loading"`
	Candidates     []cta.Candidate `json:"candidates"`
	Frames         []struct {
		Ref string `json:"ref"`
		URL string `json:"url"`
	} `json:"frames"`
	Fingerprint string `json:"fingerprint"`
}

func (r snapshotReply) snapshot() navigator.Snapshot {
	snap := navigator.Snapshot{
		URL: r.URL,
		Signals: page.Signals{
			Title:          r.Title,
			MainText:       r.MainText,
			FormCount:      r.FormCount,
			URLTokens:      page.URLTokens(r.URL),
			InputCount:     r.InputCount,
			PasswordCount:  r.PasswordCount,
			CaptchaWidgets: r.CaptchaWidgets,
			Loading:        r.Loading,
		},
		Candidates:  r.Candidates,
		Fingerprint: r.Fingerprint,
	}
	for _, f := range r.Frames {
		snap.Frames = append(snap.Frames, navigator.Frame{Ref: f.Ref, URL: f.URL})
	}
	return snap
}

// Snapshot reads the surface's signals, candidates and frames.
func (s *Session) Snapshot(ctx context.Context, sf navigator.Surface) (navigator.Snapshot, error) {
	p, err := s.page(sf.Ref)
	if err != nil {
		return navigator.Snapshot{}, err
	}
	var reply snapshotReply
	if err := evalJSON(ctx, p, &reply, snapshotJS, classify.FillableSelector, classify.CaptchaSelector); err != nil {
		return navigator.Snapshot{}, fmt.Errorf("browser: snapshot: %w", err)
	}
	return reply.snapshot(), nil
}

// Click clicks the element matched by selector.
func (s *Session) Click(ctx context.Context, sf navigator.Surface, selector string) error {
	p, err := s.page(sf.Ref)
	if err != nil {
		return err
	}
	el, err := only(ctx, p, selector)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		s.log.Debug("browser: scroll into view", zap.Error(err))
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", selector, err)
	}
	return nil
}

// NewSurface reports a tab opened in the session's context since the last
// call.
func (s *Session) NewSurface(ctx context.Context) (navigator.Surface, bool, error) {
	res, err := proto.TargetGetTargets{}.Call(s.b.Context(ctx))
	if err != nil {
		return navigator.Surface{}, false, fmt.Errorf("browser: list targets: %w", err)
	}
	for _, t := range res.TargetInfos {
		if t.Type != proto.TargetTargetInfoTypePage || t.BrowserContextID != s.b.BrowserContextID {
			continue
		}
		s.mu.Lock()
		seen := s.known[t.TargetID]
		s.known[t.TargetID] = true
		s.mu.Unlock()
		if seen {
			continue
		}
		p, err := s.b.PageFromTarget(t.TargetID)
		if err != nil {
			return navigator.Surface{}, false, fmt.Errorf("browser: attach tab: %w", err)
		}
		if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
			s.log.Debug("browser: stealth on new tab", zap.Error(err))
		}
		s.track(p)
		if err := p.Context(ctx).WaitLoad(); err != nil {
			s.log.Debug("browser: new tab load", zap.Error(err))
		}
		s.log.Info("browser: new tab", zap.String("url", t.URL))
		return navigator.Surface{Kind: page.SurfaceTab, Ref: string(t.TargetID), URL: s.currentURL(p, t.URL)}, true, nil
	}
	return navigator.Surface{}, false, nil
}

// EnterFrame scopes the surface to the frame tagged f.Ref by the last
// snapshot.
func (s *Session) EnterFrame(ctx context.Context, parent navigator.Surface, f navigator.Frame) (navigator.Surface, error) {
	p, err := s.page(parent.Ref)
	if err != nil {
		return navigator.Surface{}, err
	}
	el, err := only(ctx, p, fmt.Sprintf(`iframe[data-af-frame="%s"]`, f.Ref))
	if err != nil {
		return navigator.Surface{}, err
	}
	fp, err := el.Frame()
	if err != nil {
		return navigator.Surface{}, fmt.Errorf("browser: enter frame %s: %w", f.URL, err)
	}
	if err := fp.Context(ctx).WaitLoad(); err != nil {
		s.log.Debug("browser: frame load", zap.Error(err))
	}

	ref := parent.Ref + "/" + f.Ref
	s.mu.Lock()
	s.pages[ref] = fp
	owner := parent.Ref
	if o, ok := s.owners[parent.Ref]; ok {
		owner = o
	}
	s.owners[ref] = owner
	s.mu.Unlock()

	return navigator.Surface{
		Kind:       page.SurfaceFrame,
		Ref:        ref,
		URL:        f.URL,
		FrameChain: append(append([]string(nil), parent.FrameChain...), f.Ref),
	}, nil
}

// Screenshot captures the tab holding sf as a PNG under
// ScreenshotDir/<job>/ and returns the file path.
func (s *Session) Screenshot(ctx context.Context, sf navigator.Surface, name string) (string, error) {
	dir := s.mgr.cfg.ScreenshotDir
	if dir == "" {
		return "", nil
	}
	ref := sf.Ref
	s.mu.Lock()
	if o, ok := s.owners[ref]; ok {
		ref = o
	}
	s.shots++
	n := s.shots
	s.mu.Unlock()

	p, err := s.page(ref)
	if err != nil {
		return "", err
	}
	img, err := p.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("browser: screenshot: %w", err)
	}
	path := screenshotPath(dir, s.jobID, name, n)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("browser: screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("browser: write screenshot: %w", err)
	}
	return path, nil
}

func screenshotPath(dir, jobID, name string, n int) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	return filepath.Join(dir, filepath.Base(jobID), fmt.Sprintf("%03d-%s.png", n, clean))
}

// Form returns the fill surface for sf.
func (s *Session) Form(sf navigator.Surface) (*Form, error) {
	p, err := s.page(sf.Ref)
	if err != nil {
		return nil, err
	}
	return &Form{s: s, p: p, surface: sf}, nil
}

// Close disposes the incognito context and every tab in it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	routers := s.routers
	s.routers = nil
	s.mu.Unlock()

	for _, r := range routers {
		if err := r.Stop(); err != nil {
			s.log.Debug("browser: stop router", zap.Error(err))
		}
	}
	err := s.b.Close()
	s.mgr.release(s.jobID)
	if err != nil {
		return fmt.Errorf("browser: close session: %w", err)
	}
	return nil
}

// only returns the single element selector matches. Elements does not wait,
// so a missing element fails fast.
func only(ctx context.Context, p *rod.Page, selector string) (*rod.Element, error) {
	els, err := p.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %s: %w", selector, err)
	}
	switch len(els) {
	case 0:
		return nil, fmt.Errorf("browser: %s: no element", selector)
	case 1:
		return els[0], nil
	default:
		return nil, fmt.Errorf("browser: %s: %d elements", selector, len(els))
	}
}

func evalJSON(ctx context.Context, p *rod.Page, v any, js string, args ...any) error {
	res, err := p.Context(ctx).Eval(js, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

var _ navigator.Driver = (*Session)(nil)
