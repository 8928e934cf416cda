package jobs_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/applyflow/dbopen"
	"github.com/hazyhaar/applyflow/jobs"
)

func newStore(t *testing.T) *jobs.Store {
	t.Helper()
	s, err := jobs.NewStore(context.Background(), dbopen.OpenMemory(t))
	require.NoError(t, err)
	return s
}

func TestEnqueueFetchUpdate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a, err := s.Enqueue(ctx, jobs.Job{URL: " https://boards.greenhouse.io/acme/jobs/1 ", Company: "Acme", Title: "Backend"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.ID, "job_"))
	assert.Equal(t, "https://boards.greenhouse.io/acme/jobs/1", a.URL)
	_, err = s.Enqueue(ctx, jobs.Job{ID: "job_b", URL: "https://jobs.lever.co/acme/2"})
	require.NoError(t, err)

	pending, err := s.FetchPending(ctx, jobs.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.UpdateStatus(ctx, "job_b", jobs.StatusBlocked, "captcha-detected: hcaptcha widget"))
	pending, err = s.FetchPending(ctx, jobs.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)

	b, err := s.Get(ctx, "job_b")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusBlocked, b.Status)
	assert.Contains(t, b.Note, "captcha")
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Enqueue(ctx, jobs.Job{URL: "  "})
	assert.Error(t, err)

	err = s.UpdateStatus(ctx, "job_missing", jobs.StatusReady, "")
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	_, err = s.Get(ctx, "job_missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}
