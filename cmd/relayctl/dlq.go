package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voxreview.app/relay/internal/bootstrap"
	"voxreview.app/relay/internal/queue"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered stage messages",
}

var replayCount int64

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Move messages from the dead-letter stream back onto the stage stream",
	RunE: withRuntime(func(cmd *cobra.Command, _ []string, rt *bootstrap.Runtime) error {
		if replayCount <= 0 {
			return fmt.Errorf("--count must be positive")
		}
		p := rt.Config.Pipeline
		consumer, err := queue.NewRedisConsumer(rt.Redis, queue.ConsumerConfig{
			Stream:      p.RedisStream,
			Group:       p.RedisGroup,
			Consumer:    "relayctl",
			DLQStream:   p.RedisDLQStream,
			MaxAttempts: p.MaxAttempts,
		})
		if err != nil {
			return err
		}
		n, err := consumer.Replay(cmd.Context(), replayCount)
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %d message(s)\n", n)
		return err
	}),
}

func init() {
	dlqReplayCmd.Flags().Int64Var(&replayCount, "count", 100, "maximum number of messages to replay")
	dlqCmd.AddCommand(dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}
