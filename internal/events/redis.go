package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"voxreview.app/relay/internal/model"
)

// RedisSink appends events to a capped stream for consumers that already
// speak redis.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream, maxLen: 100_000}
}

func (s *RedisSink) Publish(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":    string(ev.Kind),
			"payload": string(payload),
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd event (stream=%s): %w", s.stream, err)
	}
	return nil
}
