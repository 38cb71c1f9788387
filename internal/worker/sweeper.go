package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voxreview.app/relay/internal/pipeline"
)

type SweepReport struct {
	Expired int
	pipeline.ReconcileReport
}

// Sweeper expires reviews nobody approved in time and repairs attempts that
// fell out of the schedule or died in flight.
type Sweeper struct {
	periodic
	reviews  Expirer
	attempts Reconciler
	batch    uint64
	now      func() time.Time
}

func NewSweeper(reviews Expirer, attempts Reconciler, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		periodic: newPeriodic("relay.worker.sweeper", interval),
		reviews:  reviews,
		attempts: attempts,
		batch:    500,
		now:      time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	s.run(ctx, func(ctx context.Context) error {
		_, err := s.SweepOnce(ctx)
		return err
	})
}

// SweepOnce runs both passes; a failure in one does not skip the other.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	now := s.now().UTC()
	var report SweepReport

	expired, expireErr := s.reviews.ExpireLapsed(ctx, now, s.batch)
	report.Expired = expired

	reconciled, reconcileErr := s.attempts.ReconcileStale(ctx, now)
	report.ReconcileReport = reconciled

	if report.Expired > 0 || reconciled.Rescheduled > 0 || reconciled.Recovered > 0 || reconciled.Abandoned > 0 {
		slog.InfoContext(ctx, "sweep finished",
			"expired", report.Expired,
			"rescheduled", reconciled.Rescheduled,
			"recovered", reconciled.Recovered,
			"abandoned", reconciled.Abandoned)
	}
	return report, errors.Join(expireErr, reconcileErr)
}
