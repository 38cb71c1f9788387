package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// moveDueScript pops due members off the schedule and appends one dispatch
// task per member to the work stream. Running it as a script keeps the
// ZREM and XADD atomic, so a crash cannot drop or double a due attempt.
var moveDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('XADD', KEYS[2], '*', 'task_type', ARGV[3], 'attempt_id', member, 'attempt', '1')
end
return #due
`)

// Schedule is the delay queue for posting attempts: a sorted set of attempt
// ids scored by their due time in unix milliseconds.
type Schedule struct {
	client *redis.Client
	key    string
	stream string
}

func NewSchedule(client *redis.Client, key, stream string) *Schedule {
	return &Schedule{client: client, key: key, stream: stream}
}

// Schedule registers the attempt to be dispatched at the given time.
// Scheduling an already scheduled attempt moves it.
func (s *Schedule) Schedule(ctx context.Context, attemptID int64, at time.Time) error {
	if err := s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: strconv.FormatInt(attemptID, 10),
	}).Err(); err != nil {
		return fmt.Errorf("zadd schedule: %w", err)
	}
	return nil
}

func (s *Schedule) Remove(ctx context.Context, attemptID int64) error {
	if err := s.client.ZRem(ctx, s.key, strconv.FormatInt(attemptID, 10)).Err(); err != nil {
		return fmt.Errorf("zrem schedule: %w", err)
	}
	return nil
}

// MoveDue moves at most limit attempts due at or before now onto the stream.
func (s *Schedule) MoveDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	n, err := moveDueScript.Run(ctx, s.client,
		[]string{s.key, s.stream},
		now.UnixMilli(), limit, string(TaskTypeDispatchAttempt),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("moving due attempts: %w", err)
	}
	if n > 0 {
		slog.DebugContext(ctx, "moved due attempts to stream", "count", n, "stream", s.stream)
	}
	return n, nil
}
