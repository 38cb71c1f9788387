package main

import (
	"context"

	"github.com/spf13/cobra"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/bootstrap"
)

var rootCmd = &cobra.Command{
	Use:          "relayctl",
	Short:        "Operator commands for the voxreview relay",
	SilenceUsage: true,
}

// withRuntime opens the full runtime for the command and closes it after.
func withRuntime(run func(cmd *cobra.Command, args []string, rt *bootstrap.Runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap.Open(cmd.Context(), config.ServiceTypeCLI)
		if err != nil {
			return err
		}
		defer rt.Close(context.WithoutCancel(cmd.Context()))
		return run(cmd, args, rt)
	}
}
