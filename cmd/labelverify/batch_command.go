package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/labelverify-worker/internal/archive"
	"github.com/adverant/nexus/labelverify-worker/internal/bootstrap"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var archivePath string
	var pairs bool
	var concurrency int
	app := &applicationFlags{}

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Verify every label in a ZIP archive",
		Long: `Verify every label in a ZIP archive.

With --pairs each folder (or file stem) holds one label image and its
application.json. Otherwise every image is checked against the application
given with --application or --brand/--abv/--net-contents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pairs && app.given() {
				return fmt.Errorf("--pairs reads applications from the archive; drop the application flags")
			}
			if !pairs && !app.given() {
				return fmt.Errorf("either --pairs or an application (--application or --brand) is required")
			}

			data, err := os.ReadFile(archivePath)
			if err != nil {
				return fmt.Errorf("read archive: %w", err)
			}

			components, err := ctx.ensureComponents(cmd)
			if err != nil {
				return err
			}
			cfg := components.Config
			opts := bootstrap.BatchOptions(cfg)
			if concurrency > 0 {
				opts.Concurrency = concurrency
			}
			limits := bootstrap.ArchiveLimits(cfg)

			var entries []archive.Entry
			if pairs {
				entries, err = archive.ReadPairs(data, limits)
			} else {
				record, recErr := app.record()
				if recErr != nil {
					return recErr
				}
				opts.SharedApplication = &record
				entries, err = archive.ReadLabels(data, limits)
			}
			if err != nil {
				return err
			}

			res, err := components.Batch.Run(cmd.Context(), entries, opts)
			if err != nil {
				return err
			}

			if ctx.useJSON(cmd.OutOrStdout()) {
				return writeJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderBatch(res))
			return nil
		},
	}

	cmd.Flags().StringVar(&archivePath, "archive", "", "ZIP archive of labels")
	_ = cmd.MarkFlagRequired("archive")
	cmd.Flags().BoolVar(&pairs, "pairs", false, "Archive holds label/application.json pairs")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Labels verified in parallel (default BATCH_CONCURRENCY)")
	app.register(cmd, true)

	return cmd
}
