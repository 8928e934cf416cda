// Package governor is the one synchronized resource shared by concurrent job
// pipelines: it sits in front of the model provider, caps the number of
// outstanding requests, paces them with a token bucket and backs off
// exponentially on throttling responses.
//
// Governor implements llm.Completer, so the mapper never knows whether it
// talks to the provider directly or through the governor.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/applyflow/llm"
)

// Config configures a Governor.
type Config struct {
	// MaxInFlight caps simultaneous outstanding model requests. Default: 4.
	MaxInFlight int
	// RatePerSec is the sustained request rate. Zero means unlimited.
	RatePerSec float64
	// Burst is the token bucket size. Default: MaxInFlight.
	Burst int
	// MaxRetries bounds retries of throttled or timed-out calls. Default: 4.
	MaxRetries int
	// BaseBackoff is the first throttle backoff, doubled per attempt.
	// Default: 500ms.
	BaseBackoff time.Duration
	// MaxBackoff caps one backoff wait. Default: 30s.
	MaxBackoff time.Duration
	// CallTimeout bounds one provider call. Default: 60s.
	CallTimeout time.Duration
	// Service names the provider in breaker errors. Default: "llm".
	Service string

	Breaker *Breaker
	Metrics *Metrics
	Logger  *zap.Logger
}

func (c *Config) defaults() {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	if c.Burst <= 0 {
		c.Burst = c.MaxInFlight
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 4
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.Service == "" {
		c.Service = "llm"
	}
	if c.Breaker == nil {
		c.Breaker = NewBreaker()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Governor decorates an llm.Completer with shared admission control.
type Governor struct {
	next    llm.Completer
	cfg     Config
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New wraps next.
func New(next llm.Completer, cfg Config) *Governor {
	cfg.defaults()
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Governor{
		next:    next,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Complete admits the request, calls the wrapped completer and retries
// throttled or timed-out calls with exponential backoff. Every other error
// is returned as is.
func (g *Governor) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return llm.Completion{}, err
		}
		out, err := g.once(ctx, req)
		if err == nil {
			g.cfg.Metrics.call(req.Purpose, "ok")
			return out, nil
		}
		lastErr = err

		var open *ErrCircuitOpen
		if errors.As(err, &open) || ctx.Err() != nil {
			g.cfg.Metrics.call(req.Purpose, "rejected")
			return llm.Completion{}, err
		}

		wait, retryable := g.backoffFor(err, attempt)
		if !retryable {
			g.cfg.Metrics.call(req.Purpose, "error")
			return llm.Completion{}, err
		}
		if attempt == g.cfg.MaxRetries {
			break
		}
		g.cfg.Logger.Warn("governor: retrying model call",
			zap.String("purpose", req.Purpose),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", g.cfg.MaxRetries),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	g.cfg.Metrics.call(req.Purpose, "exhausted")
	return llm.Completion{}, fmt.Errorf("governor: retries exhausted: %w", lastErr)
}

func (g *Governor) once(ctx context.Context, req llm.Request) (llm.Completion, error) {
	start := g.now()
	if err := g.waitBackoff(ctx); err != nil {
		return llm.Completion{}, err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return llm.Completion{}, fmt.Errorf("governor: rate wait: %w", err)
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return llm.Completion{}, fmt.Errorf("governor: acquire: %w", err)
	}
	defer g.sem.Release(1)
	g.cfg.Metrics.waited(g.now().Sub(start))

	if !g.cfg.Breaker.Allow() {
		return llm.Completion{}, &ErrCircuitOpen{Service: g.cfg.Service}
	}

	g.cfg.Metrics.addInFlight(1)
	defer g.cfg.Metrics.addInFlight(-1)

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	out, err := g.next.Complete(callCtx, req)
	switch {
	case err == nil:
		g.cfg.Breaker.Success()
	case errors.Is(err, llm.ErrThrottled):
		g.cfg.Metrics.throttled(req.Purpose)
	case ctx.Err() != nil:
		// Caller cancelled; not the provider's fault.
	default:
		g.cfg.Breaker.Failure()
	}
	return out, err
}

// backoffFor decides whether err is retryable and how long every caller
// should hold off. Throttles push the shared retryAt so sibling jobs back
// off too.
func (g *Governor) backoffFor(err error, attempt int) (time.Duration, bool) {
	wait := g.cfg.BaseBackoff * (1 << uint(attempt))
	var te *llm.ThrottledError
	switch {
	case errors.As(err, &te):
		if te.RetryAfter > wait {
			wait = te.RetryAfter
		}
	case errors.Is(err, llm.ErrThrottled):
	case errors.Is(err, context.DeadlineExceeded):
		// Per-call timeout.
	default:
		return 0, false
	}
	if wait > g.cfg.MaxBackoff {
		wait = g.cfg.MaxBackoff
	}

	g.mu.Lock()
	if until := g.now().Add(wait); until.After(g.retryAt) {
		g.retryAt = until
	}
	g.mu.Unlock()
	return wait, true
}

func (g *Governor) waitBackoff(ctx context.Context) error {
	g.mu.Lock()
	d := g.retryAt.Sub(g.now())
	g.mu.Unlock()
	if d <= 0 {
		return nil
	}
	return g.sleep(ctx, d)
}

// BreakerState exposes the provider breaker state (control surface).
func (g *Governor) BreakerState() BreakerState { return g.cfg.Breaker.State() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
