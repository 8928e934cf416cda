package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/applyflow/journal"
)

var (
	tailJob   string
	tailKind  string
	tailSince time.Duration
	tailLimit int
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Read the error and navigation journal",
}

var journalTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print recent error records, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		f := journal.ErrorFilter{JobID: tailJob, Kind: journal.FailureKind(tailKind), Limit: tailLimit}
		if tailSince > 0 {
			f.Since = time.Now().Add(-tailSince)
		}
		recs, err := a.store.Errors(cmd.Context(), f)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, r := range recs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	},
}

var journalNavCmd = &cobra.Command{
	Use:   "navigation <job-id>",
	Short: "Print a job's navigation events in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		evs, err := a.store.Navigation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, ev := range evs {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	},
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Error counts per failure kind",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		st, err := a.journal.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(st)
	},
}

func init() {
	journalTailCmd.Flags().StringVar(&tailJob, "job", "", "only this job")
	journalTailCmd.Flags().StringVar(&tailKind, "kind", "", "only this failure kind")
	journalTailCmd.Flags().DurationVar(&tailSince, "since", 0, "only records newer than this")
	journalTailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 20, "maximum records")
	journalCmd.AddCommand(journalTailCmd, journalNavCmd, journalStatsCmd)
}
