package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "labelverify",
		Short:         "Check alcohol label images against their application records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.policy, "policy", "", "Comparison policy TOML file (overrides POLICY_FILE)")
	rootCmd.PersistentFlags().StringVar(&flags.ocr, "ocr", "", "OCR engine: tesseract or vision (overrides OCR_ENGINE)")
	rootCmd.PersistentFlags().StringVar(&flags.ocrFixture, "ocr-fixture", "", "Replay recorded OCR output from a JSON fixture")
	rootCmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Always print JSON")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(newVerifyCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newEnqueueCommand(ctx))
	rootCmd.AddCommand(newJobCommand(ctx))
	rootCmd.AddCommand(newPolicyCommand(ctx))

	return rootCmd
}
