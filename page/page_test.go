package page_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/applyflow/idgen"
	"github.com/hazyhaar/applyflow/page"
)

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestArena_AppendOnly(t *testing.T) {
	a := page.NewArena("job_1",
		page.WithIDGenerator(idgen.Sequence("ctx_")),
		page.WithClock(fixedClock))

	_, ok := a.Current()
	assert.False(t, ok)

	first := a.Append(page.Context{URL: "https://www.Example.com/jobs/42", Surface: page.SurfaceTop})
	assert.Equal(t, "ctx_1", first.ID)
	assert.Equal(t, "job_1", first.JobID)
	assert.Equal(t, "example.com", first.Domain)
	assert.Equal(t, page.Unknown, first.Class)

	second := a.Supersede(page.JobDetail, 0.8)
	assert.Equal(t, "ctx_2", second.ID)
	assert.Equal(t, page.JobDetail, second.Class)

	// The first snapshot is untouched.
	got, ok := a.Get("ctx_1")
	require.True(t, ok)
	assert.Equal(t, page.Unknown, got.Class)
	assert.Equal(t, 2, a.Len())

	cur, _ := a.Current()
	assert.Equal(t, second, cur)
}

func TestArena_FrameChainCopied(t *testing.T) {
	a := page.NewArena("job_1")
	chain := []string{"f1"}
	c := a.Append(page.Context{URL: "https://a.test", FrameChain: chain})
	chain[0] = "mutated"
	assert.Equal(t, []string{"f1"}, c.FrameChain)
	assert.True(t, c.InFrame())
}

func TestArena_SupersedeEmpty(t *testing.T) {
	a := page.NewArena("job_1")
	assert.Equal(t, page.Context{}, a.Supersede(page.FormPage, 1))
}

func TestArena_Concurrent(t *testing.T) {
	a := page.NewArena("job_1")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Append(page.Context{URL: "https://a.test"})
			a.History()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, a.Len())
}

func TestURLTokens(t *testing.T) {
	toks := page.URLTokens("https://boards.greenhouse.io/acme/jobs/123?gh_src=apply")
	assert.Contains(t, toks, "greenhouse")
	assert.Contains(t, toks, "jobs")
	assert.Contains(t, toks, "apply")
}

func TestClassificationValid(t *testing.T) {
	assert.True(t, page.CaptchaPage.Valid())
	assert.False(t, page.Classification("bogus").Valid())
}

func TestSignalsEmpty(t *testing.T) {
	assert.True(t, page.Signals{MainText: "  "}.Empty())
	assert.False(t, page.Signals{Title: "x"}.Empty())
}
