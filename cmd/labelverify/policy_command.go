package main

import (
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/labelverify-worker/internal/config"
)

func newPolicyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective comparison policy as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.PolicyFile
			if ctx.flags.policy != "" {
				path = ctx.flags.policy
			}
			policy, err := config.LoadPolicy(path)
			if err != nil {
				return err
			}
			data, err := policy.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
