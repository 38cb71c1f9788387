package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voxreview.app/relay/internal/bootstrap"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/worker"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire lapsed reviews and repair stranded posting attempts once",
	RunE: withRuntime(func(cmd *cobra.Command, _ []string, rt *bootstrap.Runtime) error {
		sweeper := worker.NewSweeper(rt.Services.Reviews(), rt.Services.Dispatcher(), rt.Config.Dispatch.SweepInterval)
		report, err := sweeper.SweepOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "expired=%d rescheduled=%d recovered=%d abandoned=%d\n",
			report.Expired, report.Rescheduled, report.Recovered, report.Abandoned)
		return err
	}),
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Pull new customer reviews from every connected platform once",
	RunE: withRuntime(func(cmd *cobra.Command, _ []string, rt *bootstrap.Runtime) error {
		poller := worker.NewPoller(rt.Stores.Businesses(), rt.Connector,
			queue.NewCursors(rt.Redis, rt.Config.Inbound.CursorPrefix),
			rt.Services.Responses(), rt.Config.Inbound.PollInterval)
		report, err := poller.PollOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d ingested=%d failed=%d\n",
			report.Fetched, report.Ingested, report.Failed)
		return err
	}),
}

func init() {
	rootCmd.AddCommand(sweepCmd, pollCmd)
}
