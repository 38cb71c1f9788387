package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"voxreview.app/relay/common/logger"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed messages
	BatchSize    int64         // Number of messages to process per batch
	Block        time.Duration // How long to block/poll for new messages
	MaxAttempts  int           // Maximum retry attempts before moving to DLQ
	RequeueDelay time.Duration // Delay before retrying failed messages
}

type Message struct {
	ID              string
	TaskType        TaskType
	BusinessID      int64
	TranscriptID    *int64
	AttemptID       *int64
	InboundReviewID *int64
	Attempt         int
	TraceID         string
	LastError       string
	Raw             redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Consumer groups are just readers, messages live in the stream itself.
	// If we recreate the group, we want to see everything that's already there.
	// Starting from "0" instead of "$" means we don't lose messages during restarts.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = New messages not yet delivered to anyone. 0 = this consumer's pending message
		// Unacked messages will be handled by reclaimer which runs on a different goroutine
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	// XReadGroup supports multiple streams, but we only read one so this outer loop only runs once.
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	nextAttempt := msg.Attempt + 1
	return c.RequeueWithAttempt(ctx, msg, nextAttempt, errMsg)
}

func (c *RedisConsumer) RequeueWithAttempt(ctx context.Context, msg Message, attempt int, errMsg string) error {
	if attempt <= 0 {
		attempt = msg.Attempt
		if attempt <= 0 {
			attempt = 1
		}
	}

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	values := messageValues(msg, attempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", attempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	values := messageValues(msg, msg.Attempt)
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// Replay moves up to count messages from the DLQ back onto the work stream
// with a fresh attempt counter. It returns how many were moved.
func (c *RedisConsumer) Replay(ctx context.Context, count int64) (int, error) {
	entries, err := c.client.XRangeN(ctx, c.cfg.DLQStream, "-", "+", count).Result()
	if err != nil {
		return 0, fmt.Errorf("xrange dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	moved := 0
	for _, entry := range entries {
		msg, err := ParseMessage(entry)
		if err != nil {
			slog.WarnContext(ctx, "dropping unparseable dlq entry", "error", err, "raw_message_id", entry.ID)
			if err := c.client.XDel(ctx, c.cfg.DLQStream, entry.ID).Err(); err != nil {
				return moved, fmt.Errorf("xdel dlq: %w", err)
			}
			continue
		}
		if err := c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: c.cfg.Stream,
			Values: messageValues(msg, 1),
		}).Err(); err != nil {
			return moved, fmt.Errorf("xadd replay: %w", err)
		}
		if err := c.client.XDel(ctx, c.cfg.DLQStream, entry.ID).Err(); err != nil {
			return moved, fmt.Errorf("xdel dlq: %w", err)
		}
		moved++
	}
	return moved, nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	businessID, err := parseOptionalInt64(msg.Values, "business_id")
	if err != nil {
		return Message{}, err
	}
	transcriptID, err := parseOptionalInt64(msg.Values, "transcript_id")
	if err != nil {
		return Message{}, err
	}
	attemptID, err := parseOptionalInt64(msg.Values, "attempt_id")
	if err != nil {
		return Message{}, err
	}
	inboundReviewID, err := parseOptionalInt64(msg.Values, "inbound_review_id")
	if err != nil {
		return Message{}, err
	}

	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}
	lastError, err := parseOptionalString(msg.Values, "last_error")
	if err != nil {
		return Message{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	taskTypeStr, err := parseOptionalString(msg.Values, "task_type")
	if err != nil {
		return Message{}, err
	}

	parsed := Message{
		ID:              msg.ID,
		TaskType:        TaskType(taskTypeStr),
		TranscriptID:    transcriptID,
		AttemptID:       attemptID,
		InboundReviewID: inboundReviewID,
		Attempt:         attempt,
		TraceID:         traceID,
		LastError:       lastError,
		Raw:             msg,
	}
	if businessID != nil {
		parsed.BusinessID = *businessID
	}

	if err := validate(parsed); err != nil {
		return Message{}, err
	}
	return parsed, nil
}

func validate(msg Message) error {
	switch msg.TaskType {
	case "":
		return fmt.Errorf("missing task_type")
	case TaskTypeSynthesizeReview:
		if msg.TranscriptID == nil {
			return fmt.Errorf("missing transcript_id")
		}
	case TaskTypeDispatchAttempt:
		if msg.AttemptID == nil {
			return fmt.Errorf("missing attempt_id")
		}
	case TaskTypeRespondInbound:
		if msg.InboundReviewID == nil {
			return fmt.Errorf("missing inbound_review_id")
		}
	default:
		return fmt.Errorf("unknown task_type %q", msg.TaskType)
	}
	return nil
}

func parseOptionalInt64(values map[string]any, key string) (*int64, error) {
	raw, ok := values[key]
	if !ok {
		return nil, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return &num, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func messageValues(msg Message, attempt int) map[string]any {
	values := map[string]any{
		"task_type": string(msg.TaskType),
		"attempt":   attempt,
	}

	if msg.BusinessID != 0 {
		values["business_id"] = msg.BusinessID
	}
	if msg.TranscriptID != nil {
		values["transcript_id"] = *msg.TranscriptID
	}
	if msg.AttemptID != nil {
		values["attempt_id"] = *msg.AttemptID
	}
	if msg.InboundReviewID != nil {
		values["inbound_review_id"] = *msg.InboundReviewID
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}

	return values
}
