package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voxreview.app/relay/common/logger"
)

// periodic is the Run/Stop plumbing shared by the background loops.
type periodic struct {
	component string
	interval  time.Duration

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func newPeriodic(component string, interval time.Duration) periodic {
	return periodic{
		component: component,
		interval:  interval,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// run calls tick every interval until ctx is done or Stop is called.
// Errors are logged; the next tick tries again.
func (p *periodic) run(ctx context.Context, tick func(ctx context.Context) error) {
	defer close(p.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: p.component})
	slog.InfoContext(ctx, "loop started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			slog.InfoContext(ctx, "loop stopping")
			return
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				slog.ErrorContext(ctx, "loop cycle error", "error", err)
			}
		}
	}
}

func (p *periodic) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.stoppedCh
}
