package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/jobs"
	"github.com/hazyhaar/applyflow/pipeline"
)

var (
	jobCompany string
	jobTitle   string
	runPending bool
)

var runCmd = &cobra.Command{
	Use:   "run [url...]",
	Short: "Run jobs once and print one JSON result per job",
	Long: `Enqueues each URL as a new job and runs them, at most batch.max_jobs at
a time. With --pending, also runs every job already pending in the store.

A job parked on a login wall waits until it is resumed through the control
surface of a running 'applyflow serve', or until it is interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !runPending {
			return fmt.Errorf("give at least one url or --pending")
		}
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		var batch []jobs.Job
		if runPending {
			if batch, err = a.jobs.FetchPending(ctx, jobs.StatusPending); err != nil {
				return err
			}
		}
		for _, u := range args {
			j, err := a.jobs.Enqueue(ctx, jobs.Job{URL: u, Company: jobCompany, Title: jobTitle})
			if err != nil {
				return err
			}
			batch = append(batch, j)
		}

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

		results := pipeline.NewRunner(p, cfg.Batch.MaxJobs).Run(ctx, batch)
		enc := json.NewEncoder(os.Stdout)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <url>",
	Short: "Add a pending job for 'applyflow serve' to pick up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		j, err := a.jobs.Enqueue(cmd.Context(), jobs.Job{URL: args[0], Company: jobCompany, Title: jobTitle})
		if err != nil {
			return err
		}
		fmt.Println(j.ID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, enqueueCmd} {
		c.Flags().StringVar(&jobCompany, "company", "", "hiring company, passed to the mapper")
		c.Flags().StringVar(&jobTitle, "title", "", "job title, passed to the mapper")
	}
	runCmd.Flags().BoolVar(&runPending, "pending", false, "also run every pending job in the store")
}
