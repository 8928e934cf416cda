package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/applyflow/fields"
	"github.com/hazyhaar/applyflow/fill"
	"github.com/hazyhaar/applyflow/idgen"
	"github.com/hazyhaar/applyflow/mapper"
)

var (
	replayURL string
	replayOut string
)

// replayReport is what replay prints.
type replayReport struct {
	URL        string                `json:"url,omitempty"`
	Fields     int                   `json:"fields"`
	Ready      bool                  `json:"ready"`
	Filled     []mapper.Mapping      `json:"filled"`
	Unresolved []fill.Skipped        `json:"unresolved,omitempty"`
	Skipped    []fill.Skipped        `json:"skipped,omitempty"`
	Failures   []mapper.ChunkFailure `json:"chunk_failures,omitempty"`
}

var replayCmd = &cobra.Command{
	Use:   "replay <form.html>",
	Short: "Extract, map and fill a saved form page without a browser",
	Long: `Runs field extraction, mapping and the fill gate against an HTML file
saved from an application page. Writes land in the in-memory document;
--out saves the filled result. Errors are journalled under a replay job id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		src, err := fields.FromHTML(string(raw))
		if err != nil {
			return err
		}

		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()
		model, err := a.completer(ctx, cfg)
		if err != nil {
			return err
		}
		surface, doc, err := a.candidate(cfg)
		if err != nil {
			return err
		}

		ds, err := fields.NewExtractor(cfg.FieldsConfig(logger)).Extract(ctx, src)
		if err != nil {
			return err
		}
		in := mapper.Input{Fields: ds, Candidate: surface, Document: doc}
		if replayURL != "" {
			prof, err := a.profiles.Match(ctx, replayURL)
			if err != nil {
				return err
			}
			if prof != nil {
				in.Synonyms = prof.Synonyms
			}
		}
		mres, err := mapper.New(model, cfg.MapperConfig(logger)).Map(ctx, in)
		if err != nil {
			return err
		}

		page := fill.NewSnapshot(src)
		filler := fill.New(page, a.journal, cfg.FillConfig(logger))
		target := fill.Target{JobID: idgen.Prefixed("replay_", idgen.Default)(), URL: replayURL}
		rep, err := filler.Apply(ctx, target, mres.Mappings)
		if err != nil {
			return err
		}
		ready, unresolved := filler.Gate(ctx, target, rep)

		if replayOut != "" {
			html, err := page.HTML()
			if err != nil {
				return err
			}
			if err := os.WriteFile(replayOut, []byte(html), 0o644); err != nil {
				return err
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(replayReport{
			URL:        replayURL,
			Fields:     len(ds),
			Ready:      ready,
			Filled:     rep.Filled,
			Unresolved: unresolved,
			Skipped:    rep.Skipped,
			Failures:   mres.Failures,
		}); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayURL, "url", "", "page URL, for site profile synonyms and records")
	replayCmd.Flags().StringVarP(&replayOut, "out", "o", "", "write the filled HTML here")
}
