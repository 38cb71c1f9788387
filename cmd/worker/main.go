package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/bootstrap"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("%s\n", banner)

	rt, err := bootstrap.Open(ctx, config.ServiceTypeWorker)
	if err != nil {
		os.Stderr.WriteString("relay worker: " + err.Error() + "\n")
		os.Exit(1)
	}
	cfg := rt.Config

	slog.InfoContext(ctx, "relay worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer,
		"concurrency", cfg.Pipeline.StageConcurrency)

	consumer, err := queue.NewRedisConsumer(rt.Redis, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    int64(cfg.Pipeline.StageConcurrency),
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	reviews := rt.Services.Reviews()
	responses := rt.Services.Responses()
	dispatcher := rt.Services.Dispatcher()

	w := worker.New(consumer, stageHandlers(reviews.Synthesize, dispatcher.Execute, responses.Respond), worker.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Concurrency: cfg.Pipeline.StageConcurrency,
	}, rt.Metrics)

	reclaimer := worker.NewRedisReclaimer(rt.Redis, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	scheduler := worker.NewScheduler(rt.Schedule, cfg.Dispatch.SchedulerTick, cfg.Dispatch.SchedulerBatch, rt.Metrics)
	sweeper := worker.NewSweeper(reviews, dispatcher, cfg.Dispatch.SweepInterval)
	poller := worker.NewPoller(rt.Stores.Businesses(), rt.Connector,
		queue.NewCursors(rt.Redis, cfg.Inbound.CursorPrefix), responses, cfg.Inbound.PollInterval)

	var wg sync.WaitGroup
	runLoop := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
			slog.InfoContext(ctx, "loop exited", "loop", name)
		}()
	}
	runLoop("stage", func(ctx context.Context) {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "stage worker error", "error", err)
		}
	})
	runLoop("reclaimer", reclaimer.Run)
	runLoop("scheduler", scheduler.Run)
	runLoop("sweeper", sweeper.Run)
	runLoop("poller", poller.Run)

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Background loops stop first so nothing new is scheduled while the
	// stage worker drains its batch.
	poller.Stop()
	sweeper.Stop()
	scheduler.Stop()
	reclaimer.Stop()
	w.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
		cancel()
	case <-done:
	}

	rt.Close(shutdownCtx)
	slog.InfoContext(ctx, "worker shutdown complete")
}

func stageHandlers(
	synthesize func(ctx context.Context, transcriptID int64) error,
	dispatch func(ctx context.Context, attemptID int64) error,
	respond func(ctx context.Context, inboundReviewID int64) error,
) map[queue.TaskType]worker.Handler {
	return map[queue.TaskType]worker.Handler{
		queue.TaskTypeSynthesizeReview: byID("transcript_id", func(m queue.Message) *int64 { return m.TranscriptID }, synthesize),
		queue.TaskTypeDispatchAttempt:  byID("attempt_id", func(m queue.Message) *int64 { return m.AttemptID }, dispatch),
		queue.TaskTypeRespondInbound:   byID("inbound_review_id", func(m queue.Message) *int64 { return m.InboundReviewID }, respond),
	}
}

func byID(field string, pick func(queue.Message) *int64, run func(context.Context, int64) error) worker.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		id := pick(msg)
		if id == nil {
			return fmt.Errorf("message %s has no %s", msg.ID, field)
		}
		return run(ctx, *id)
	}
}

const banner = `
 _  _  __  _  _  ____  ____  _  _  __  ____  _  _
/ )( \/  \( \/ )(  _ \(  __)/ )( \(  )(  __)/ )( \
\ \/ (  O ))  (  )   / ) _) \ \/ / )(  ) _) \ /\ /
 \__/ \__/(_/\_)(__\_)(____) \__/ (__)(____)(_/\_)
                                     relay worker
`
