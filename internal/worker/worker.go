package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"voxreview.app/relay/common/logger"
	"voxreview.app/relay/internal/metrics"
	"voxreview.app/relay/internal/queue"
)

// Handler runs one stage for a message. A returned error means the stage
// may succeed if retried; anything terminal is recorded on the entity and
// reported as success.
type Handler func(ctx context.Context, msg queue.Message) error

var errNoHandler = errors.New("no handler for task type")

type Config struct {
	MaxAttempts int
	// Concurrency bounds how many messages of one batch run at once.
	Concurrency int
}

type Worker struct {
	consumer Consumer
	handlers map[queue.TaskType]Handler
	cfg      Config
	metrics  *metrics.Metrics

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, handlers map[queue.TaskType]Handler, cfg Config, m *metrics.Metrics) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		consumer:  consumer,
		handlers:  handlers,
		cfg:       cfg,
		metrics:   m,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.worker.stage"})
	slog.InfoContext(ctx, "worker started", "concurrency", w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, msg := range messages {
		g.Go(func() error {
			_ = w.ProcessMessage(ctx, msg)
			return nil
		})
	}
	return g.Wait()
}

// ProcessMessage runs the message's stage and settles it on the stream:
// acked on success, requeued or dead-lettered on failure. Exported so it can
// be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:       &msg.ID,
		TaskType:        logger.Ptr(string(msg.TaskType)),
		BusinessID:      &msg.BusinessID,
		TranscriptID:    msg.TranscriptID,
		AttemptID:       msg.AttemptID,
		InboundReviewID: msg.InboundReviewID,
	})

	if err := w.processMessageSafe(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "message processing failed",
			"error", err,
			"attempt", msg.Attempt)
		w.handleFailedMessage(ctx, msg, err)
		return err
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - message will be reclaimed and every stage is idempotent
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}
	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	handler, ok := w.handlers[msg.TaskType]
	if !ok {
		return fmt.Errorf("%w %q", errNoHandler, msg.TaskType)
	}

	span := logger.StartStageSpan(ctx, msg.TraceID, string(msg.TaskType), msg.ID)
	defer span.End()

	slog.DebugContext(ctx, "processing message", "attempt", msg.Attempt)

	start := time.Now()
	err = handler(span.Context(), msg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
	}
	w.metrics.StageHandled(string(msg.TaskType), outcome, time.Since(start))
	return err
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts || errors.Is(err, errNoHandler) {
		slog.ErrorContext(ctx, "giving up on message, sending to DLQ", "attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
