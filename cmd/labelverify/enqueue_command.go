package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/labelverify-worker/internal/config"
	"github.com/adverant/nexus/labelverify-worker/internal/queue"
)

func newEnqueuer(cfg *config.Config) (*queue.Enqueuer, error) {
	return queue.NewEnqueuer(&queue.EnqueuerConfig{
		RedisURL:  cfg.RedisURL,
		QueueName: cfg.QueueName,
		MaxRetry:  3,
		Timeout:   time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
		Retention: time.Duration(cfg.ResultRetentionHours) * time.Hour,
	})
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var archivePath string
	var imagePath string
	var jobID string
	app := &applicationFlags{}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a label or archive to the worker queue",
		Example: `  labelverify enqueue --archive labels.zip
  labelverify enqueue --archive labels.zip --brand "Stone's Throw" --abv 13.5% --net-contents "750 mL"
  labelverify enqueue --image label.png --application application.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (archivePath == "") == (imagePath == "") {
				return errors.New("exactly one of --archive or --image is required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateQueue(); err != nil {
				return err
			}
			enqueuer, err := newEnqueuer(cfg)
			if err != nil {
				return err
			}
			defer enqueuer.Close()

			var id string
			if imagePath != "" {
				record, err := app.record()
				if err != nil {
					return err
				}
				image, err := os.ReadFile(imagePath)
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				id, err = enqueuer.EnqueueVerify(cmd.Context(), &queue.VerifyPayload{
					JobID:       jobID,
					Filename:    imagePath,
					Image:       image,
					Application: record,
				})
				if err != nil {
					return err
				}
			} else {
				data, err := os.ReadFile(archivePath)
				if err != nil {
					return fmt.Errorf("read archive: %w", err)
				}
				payload := &queue.BatchPayload{JobID: jobID, Archive: data, Mode: queue.BatchModePairs}
				if app.given() {
					record, err := app.record()
					if err != nil {
						return err
					}
					payload.Mode = queue.BatchModeLabels
					payload.SharedApplication = &record
				}
				id, err = enqueuer.EnqueueBatch(cmd.Context(), payload)
				if err != nil {
					return err
				}
			}

			if ctx.useJSON(cmd.OutOrStdout()) {
				return writeJSON(cmd, map[string]string{"job_id": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&archivePath, "archive", "", "ZIP archive of labels")
	cmd.Flags().StringVar(&imagePath, "image", "", "Single label image")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Job id (default: generated)")
	app.register(cmd, true)

	return cmd
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show the state and result of a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			enqueuer, err := newEnqueuer(cfg)
			if err != nil {
				return err
			}
			defer enqueuer.Close()

			status, err := enqueuer.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.useJSON(cmd.OutOrStdout()) {
				return writeJSON(cmd, status)
			}

			rows := [][]string{
				{"Job", status.JobID},
				{"Type", status.Type},
				{"State", status.State},
				{"Retried", fmt.Sprintf("%d/%d", status.Retried, status.MaxRetry)},
			}
			if status.LastError != "" {
				rows = append(rows, []string{"Last error", status.LastError})
			}
			if status.CompletedAt != nil {
				rows = append(rows, []string{"Completed", status.CompletedAt.Format(time.RFC3339)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value"}, rows, nil))
			if len(status.Result) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Result available; rerun with --json to print it")
			}
			return nil
		},
	}
}
