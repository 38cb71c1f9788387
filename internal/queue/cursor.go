package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voxreview.app/relay/internal/model"
)

// Cursors stores the inbound pull position per business and platform.
type Cursors struct {
	client *redis.Client
	prefix string
}

func NewCursors(client *redis.Client, prefix string) *Cursors {
	return &Cursors{client: client, prefix: prefix}
}

func (c *Cursors) key(businessID int64, platform model.Platform) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, businessID, platform)
}

// Get returns the zero time for a platform never pulled.
func (c *Cursors) Get(ctx context.Context, businessID int64, platform model.Platform) (time.Time, error) {
	raw, err := c.client.Get(ctx, c.key(businessID, platform)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get cursor: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cursor %q: %w", raw, err)
	}
	return at, nil
}

func (c *Cursors) Set(ctx context.Context, businessID int64, platform model.Platform, at time.Time) error {
	if err := c.client.Set(ctx, c.key(businessID, platform), at.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
