package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/applyflow/browser"
	"github.com/hazyhaar/applyflow/config"
	"github.com/hazyhaar/applyflow/control"
	"github.com/hazyhaar/applyflow/pipeline"
)

var pollInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run pending jobs continuously and expose the control surface",
	Long: `Polls the job store for pending jobs and runs them, serving the control
surface on control.addr:

  GET  /jobs               running jobs and where they are
  POST /jobs/{id}/resume   wake a job parked on a login wall
  POST /jobs/{id}/cancel   abort a job at its next suspension point
  GET  /journal/stats      error counts per failure kind
  GET  /metrics            Prometheus metrics

When --config is set, threshold changes in the file apply to the next batch.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		bm, err := startBrowser(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := bm.Close(); err != nil {
				logger.Warn("applyflow: close browser", zap.Error(err))
			}
		}()

		p, err := a.pipeline(ctx, cfg, bm)
		if err != nil {
			return err
		}
		var current atomic.Pointer[pipeline.Pipeline]
		current.Store(p)
		var maxJobs atomic.Int64
		maxJobs.Store(int64(cfg.Batch.MaxJobs))

		g, gctx := errgroup.WithContext(ctx)
		srv := control.New(control.Config{
			Addr:     cfg.Control.Addr,
			Controls: a.controls,
			Journal:  a.journal,
			Gatherer: a.registry,
			Logger:   logger,
		})
		g.Go(func() error { return srv.ListenAndServe(gctx) })
		g.Go(func() error {
			a.profiles.Watch(gctx, nil)
			return nil
		})
		if configPath != "" {
			g.Go(func() error {
				return config.Watch(gctx, configPath, func(c *config.Config) {
					reload(gctx, a, c, bm, &current, &maxJobs)
				}, logger)
			})
		}
		g.Go(func() error {
			return poll(gctx, a, &current, &maxJobs)
		})
		return g.Wait()
	},
}

func reload(ctx context.Context, a *app, c *config.Config, bm *browser.Manager, current *atomic.Pointer[pipeline.Pipeline], maxJobs *atomic.Int64) {
	p, err := a.pipeline(ctx, c, bm)
	if err != nil {
		logger.Warn("applyflow: rebuild pipeline", zap.Error(err))
		return
	}
	current.Store(p)
	maxJobs.Store(int64(c.Batch.MaxJobs))
	logger.Info("applyflow: configuration applied to next batch")
}

func poll(ctx context.Context, a *app, current *atomic.Pointer[pipeline.Pipeline], maxJobs *atomic.Int64) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		runner := pipeline.NewRunner(current.Load(), int(maxJobs.Load()))
		results, err := runner.Drain(ctx, a.jobs)
		if err != nil && ctx.Err() == nil {
			logger.Warn("applyflow: drain", zap.Error(err))
		}
		if len(results) > 0 {
			ready := 0
			for _, r := range results {
				if r.ReadyForSubmission {
					ready++
				}
			}
			logger.Info("applyflow: batch done", zap.Int("jobs", len(results)), zap.Int("ready", ready))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func init() {
	serveCmd.Flags().DurationVar(&pollInterval, "poll", 30*time.Second, "how often to look for pending jobs")
}
