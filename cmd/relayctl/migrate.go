package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/bootstrap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := bootstrap.OpenBase(cmd.Context(), config.ServiceTypeCLI)
		if err != nil {
			return err
		}
		defer rt.Close(context.WithoutCancel(cmd.Context()))

		applied, err := rt.DB.Migrate(cmd.Context())
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
