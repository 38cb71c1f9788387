package worker

import (
	"context"
	"time"

	"voxreview.app/relay/internal/metrics"
)

// Scheduler moves posting attempts from the delay queue onto the stage
// stream once they are due.
type Scheduler struct {
	periodic
	schedule DueMover
	batch    int64
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewScheduler(schedule DueMover, tick time.Duration, batch int64, m *metrics.Metrics) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Scheduler{
		periodic: newPeriodic("relay.worker.scheduler", tick),
		schedule: schedule,
		batch:    batch,
		metrics:  m,
		now:      time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.run(ctx, func(ctx context.Context) error {
		_, err := s.Tick(ctx)
		return err
	})
}

// Tick drains everything due now, one batch at a time.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.schedule.MoveDue(ctx, s.now(), s.batch)
		total += n
		s.metrics.ScheduleMoved(n)
		if err != nil {
			return total, err
		}
		if int64(n) < s.batch || ctx.Err() != nil {
			return total, nil
		}
	}
}
