package governor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hazyhaar/applyflow/llm"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose stats worker starts at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// recordSleeps replaces the governor's sleep with one that returns at once.
func recordSleeps(g *Governor) *[]time.Duration {
	var mu sync.Mutex
	var got []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
		return ctx.Err()
	}
	return &got
}

func TestGovernor_CapsInFlight(t *testing.T) {
	var cur, peak atomic.Int32
	next := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Completion, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		return llm.Completion{Text: "{}"}, nil
	})
	g := New(next, Config{MaxInFlight: 2})

	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Complete(context.Background(), llm.Request{Purpose: "t"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load())
}

func TestGovernor_BacksOffOnThrottle(t *testing.T) {
	var calls atomic.Int32
	next := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Completion, error) {
		if calls.Add(1) <= 2 {
			return llm.Completion{}, &llm.ThrottledError{Cause: errors.New("429")}
		}
		return llm.Completion{Text: "ok"}, nil
	})
	reg := prometheus.NewRegistry()
	g := New(next, Config{BaseBackoff: 100 * time.Millisecond, Metrics: NewMetrics(reg)})
	sleeps := recordSleeps(g)

	out, err := g.Complete(context.Background(), llm.Request{Purpose: "map_fields"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, int32(3), calls.Load())

	require.Len(t, *sleeps, 2)
	assert.InDelta(t, float64(100*time.Millisecond), float64((*sleeps)[0]), float64(20*time.Millisecond))
	assert.InDelta(t, float64(200*time.Millisecond), float64((*sleeps)[1]), float64(20*time.Millisecond))

	assert.Equal(t, 2.0, testutil.ToFloat64(g.cfg.Metrics.throttles.WithLabelValues("map_fields")))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.cfg.Metrics.calls.WithLabelValues("map_fields", "ok")))
	// Throttles do not trip the breaker.
	assert.Equal(t, BreakerClosed, g.BreakerState())
}

func TestGovernor_RetryAfterHint(t *testing.T) {
	var calls atomic.Int32
	next := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Completion, error) {
		if calls.Add(1) == 1 {
			return llm.Completion{}, &llm.ThrottledError{RetryAfter: 3 * time.Second}
		}
		return llm.Completion{}, nil
	})
	g := New(next, Config{BaseBackoff: 10 * time.Millisecond})
	sleeps := recordSleeps(g)

	_, err := g.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	require.Len(t, *sleeps, 1)
	assert.Greater(t, (*sleeps)[0], 2*time.Second)
}

func TestGovernor_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	next := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Completion, error) {
		calls.Add(1)
		return llm.Completion{}, &llm.ThrottledError{}
	})
	g := New(next, Config{MaxRetries: 2, BaseBackoff: time.Millisecond})
	recordSleeps(g)

	_, err := g.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrThrottled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGovernor_HardErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("invalid request")
	next := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Completion, error) {
		calls.Add(1)
		return llm.Completion{}, boom
	})
	g := New(next, Config{})
	_, err := g.Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGovernor_CallTimeoutRetried(t *testing.T) {
	var calls atomic.Int32
	next := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Completion, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return llm.Completion{}, ctx.Err()
		}
		return llm.Completion{Text: "late"}, nil
	})
	g := New(next, Config{CallTimeout: 20 * time.Millisecond, BaseBackoff: time.Millisecond})
	recordSleeps(g)

	out, err := g.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "late", out.Text)
}

func TestGovernor_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	next := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Completion, error) {
		calls.Add(1)
		return llm.Completion{}, errors.New("500")
	})
	g := New(next, Config{Breaker: NewBreaker(WithBreakerThreshold(2)), Service: "gemini"})

	for range 2 {
		_, err := g.Complete(context.Background(), llm.Request{})
		require.Error(t, err)
	}
	_, err := g.Complete(context.Background(), llm.Request{})
	var open *ErrCircuitOpen
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "gemini", open.Service)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGovernor_CancelWhileQueued(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	next := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Completion, error) {
		close(started)
		<-release
		return llm.Completion{}, nil
	})
	g := New(next, Config{MaxInFlight: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Complete(context.Background(), llm.Request{})
	}()

	<-started

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.Complete(ctx, llm.Request{})
		errc <- err
	}()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	<-done
}

func TestNewMetrics_Reuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewMetrics(reg)
	b := NewMetrics(reg)
	a.throttled("x")
	b.throttled("x")
	assert.Equal(t, 2.0, testutil.ToFloat64(a.throttles.WithLabelValues("x")))
}
