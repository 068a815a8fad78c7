package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/labelverify-worker/internal/processor"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var imagePath string
	app := &applicationFlags{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify one label image",
		Example: `  labelverify verify --image label.png --brand "Stone's Throw" --abv 13.5% --net-contents "750 mL"
  labelverify verify --image label.png --application application.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := app.record()
			if err != nil {
				return err
			}
			image, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			components, err := ctx.ensureComponents(cmd)
			if err != nil {
				return err
			}

			result, err := components.Processor.Verify(cmd.Context(), &processor.VerifyRequest{
				JobID:       imagePath,
				Image:       image,
				Application: record,
			})
			if err != nil {
				return err
			}

			if ctx.useJSON(cmd.OutOrStdout()) {
				return writeJSON(cmd, result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderResult(result))
			return nil
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "Label image file")
	_ = cmd.MarkFlagRequired("image")
	app.register(cmd, true)

	return cmd
}
