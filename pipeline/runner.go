package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/applyflow/jobs"
)

// Runner executes jobs concurrently, at most MaxJobs at a time. A blocked
// or failed job never cancels its siblings.
type Runner struct {
	p       *Pipeline
	maxJobs int
	log     *zap.Logger
}

// NewRunner creates a Runner. maxJobs <= 0 means 2.
func NewRunner(p *Pipeline, maxJobs int) *Runner {
	if maxJobs <= 0 {
		maxJobs = 2
	}
	return &Runner{p: p, maxJobs: maxJobs, log: p.log}
}

// Run processes js and returns one Result per job, in input order.
func (r *Runner) Run(ctx context.Context, js []jobs.Job) []Result {
	results := make([]Result, len(js))
	var g errgroup.Group
	g.SetLimit(r.maxJobs)
	for i, j := range js {
		g.Go(func() error {
			res, err := r.p.Run(ctx, j)
			var blocked *BlockedError
			if err != nil && !errors.As(err, &blocked) {
				r.log.Error("pipeline: job error", zap.String("job_id", j.ID), zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Drain runs every pending job from src.
func (r *Runner) Drain(ctx context.Context, src jobs.Source) ([]Result, error) {
	pending, err := src.FetchPending(ctx, jobs.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetch pending: %w", err)
	}
	r.log.Info("pipeline: draining", zap.Int("jobs", len(pending)), zap.Int("max_jobs", r.maxJobs))
	return r.Run(ctx, pending), nil
}
