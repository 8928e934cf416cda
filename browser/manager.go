// Package browser runs Chrome for applyflow jobs: one headless-shell (or
// headful on Xvfb) process per Manager, one incognito Session per job.
//
// Session implements navigator.Driver; Form implements fields.Source and
// fill.Page over a single attended surface.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string

	// Headful runs a visible Chrome on an Xvfb display. Login walls are
	// easier to clear by hand this way.
	Headful bool

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	// MemoryLimit in bytes of JS heap before an idle Chrome is recycled.
	// Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource types to block (images, fonts, media,
	// stylesheets).
	ResourceBlocking []string

	// NavigateTimeout bounds the initial page load. Default: 30s.
	NavigateTimeout time.Duration

	// ScreenshotDir receives diagnostic captures, one subdirectory per job.
	// Empty disables screenshots.
	ScreenshotDir string

	Logger *zap.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Manager owns the Chrome process.
type Manager struct {
	cfg      Config
	log      *zap.Logger
	mu       sync.RWMutex
	browser  *rod.Browser
	lnch     *launcher.Launcher
	xvfb     *exec.Cmd
	startAt  time.Time
	closed   bool
	sessions int
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, log: cfg.Logger}
}

// Start launches Chrome (or connects to a remote instance) and starts the
// recycle monitor, which stops with ctx.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	b, err := m.launch(ctx)
	if err != nil {
		return err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitorLoop(ctx)
	return nil
}

// Browser returns the current Rod browser handle.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// NewSession opens an isolated incognito context for jobID. Chrome is not
// recycled while sessions are open.
func (m *Manager) NewSession(ctx context.Context, jobID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.browser == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	incog, err := m.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito context: %w", err)
	}
	m.sessions++
	m.log.Debug("browser: session opened", zap.String("job_id", jobID), zap.Int("open", m.sessions))
	return newSession(m, incog, jobID), nil
}

func (m *Manager) release(jobID string) {
	m.mu.Lock()
	m.sessions--
	open := m.sessions
	m.mu.Unlock()
	m.log.Debug("browser: session closed", zap.String("job_id", jobID), zap.Int("open", open))
}

// Recycle restarts Chrome. It refuses while sessions are open.
func (m *Manager) Recycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.sessions > 0 {
		return fmt.Errorf("browser: recycle: %d sessions open", m.sessions)
	}
	return m.recycleLocked(ctx)
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	if m.cfg.Headful && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		m.log.Info("browser: connecting to remote", zap.String("url", wsURL))
	} else {
		l := launcher.New().Headless(!m.cfg.Headful)
		if m.cfg.Headful {
			l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.log.Info("browser: launched local chrome", zap.String("url", wsURL), zap.Bool("headful", m.cfg.Headful))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) recycleLocked(ctx context.Context) error {
	m.log.Info("browser: recycling", zap.Duration("uptime", time.Since(m.startAt)))
	if err := m.cleanup(); err != nil {
		m.log.Warn("browser: cleanup during recycle", zap.Error(err))
	}
	b, err := m.launch(ctx)
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	m.log.Info("browser: recycled")
	return nil
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return err
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.mu.RLock()
		closed, b, busy, startAt := m.closed, m.browser, m.sessions > 0, m.startAt
		m.mu.RUnlock()
		if closed || b == nil {
			return
		}
		if busy {
			continue
		}

		if time.Since(startAt) > m.cfg.RecycleInterval {
			m.log.Info("browser: recycle interval reached")
			if err := m.Recycle(ctx); err != nil {
				m.log.Warn("browser: recycle failed", zap.Error(err))
			}
			continue
		}

		used, err := jsHeapUsage(b)
		if err != nil {
			m.log.Debug("browser: heap check failed", zap.Error(err))
			continue
		}
		if used > m.cfg.MemoryLimit {
			m.log.Info("browser: memory limit exceeded",
				zap.Int64("used", used), zap.Int64("limit", m.cfg.MemoryLimit))
			if err := m.Recycle(ctx); err != nil {
				m.log.Warn("browser: recycle failed", zap.Error(err))
			}
		}
	}
}

// jsHeapUsage reads the JS heap of the first open page as a proxy for the
// whole process.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("no pages for heap check")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
