package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"voxreview.app/relay/common/logger"
	"voxreview.app/relay/internal/connector"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/service"
)

// Businesses lists businesses with at least one connected platform.
type Businesses interface {
	ListConnected(ctx context.Context) ([]model.BusinessContext, error)
}

// ConnectorSource resolves a platform to its connector.
type ConnectorSource interface {
	Get(p model.Platform) (connector.Connector, error)
}

type PollReport struct {
	Fetched  int
	Ingested int
	Failed   int
}

// Poller pulls new customer reviews from every connected platform and hands
// them to the ingester. A per-platform cursor only advances past reviews
// that were stored, so a failed ingest is pulled again next cycle.
type Poller struct {
	periodic
	businesses  Businesses
	connectors  ConnectorSource
	cursors     Cursors
	ingester    Ingester
	parallelism int
}

func NewPoller(businesses Businesses, connectors ConnectorSource, cursors Cursors, ingester Ingester, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Poller{
		periodic:    newPeriodic("relay.worker.poller", interval),
		businesses:  businesses,
		connectors:  connectors,
		cursors:     cursors,
		ingester:    ingester,
		parallelism: 4,
	}
}

func (p *Poller) Run(ctx context.Context) {
	p.run(ctx, func(ctx context.Context) error {
		_, err := p.PollOnce(ctx)
		return err
	})
}

func (p *Poller) PollOnce(ctx context.Context) (PollReport, error) {
	list, err := p.businesses.ListConnected(ctx)
	if err != nil {
		return PollReport{}, err
	}

	var fetched, ingested, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for _, biz := range list {
		for _, platform := range biz.ConnectedPlatforms() {
			g.Go(func() error {
				f, i, bad := p.pollPlatform(ctx, biz, platform)
				fetched.Add(int64(f))
				ingested.Add(int64(i))
				failed.Add(int64(bad))
				return nil
			})
		}
	}
	_ = g.Wait()

	return PollReport{
		Fetched:  int(fetched.Load()),
		Ingested: int(ingested.Load()),
		Failed:   int(failed.Load()),
	}, nil
}

func (p *Poller) pollPlatform(ctx context.Context, biz model.BusinessContext, platform model.Platform) (fetched, ingested, failed int) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BusinessID: &biz.BusinessID,
		Platform:   logger.Ptr(string(platform)),
	})

	conn, err := p.connectors.Get(platform)
	if err != nil {
		slog.WarnContext(ctx, "platform connected but no connector configured")
		return 0, 0, 0
	}

	since, err := p.cursors.Get(ctx, biz.BusinessID, platform)
	if err != nil {
		slog.ErrorContext(ctx, "read inbound cursor", "error", err)
		return 0, 0, 1
	}

	pulled, err := conn.Pull(ctx, biz.Platforms[platform], since)
	if err != nil {
		slog.ErrorContext(ctx, "pull reviews", "error", err, "since", since)
		return 0, 0, 1
	}
	if len(pulled) == 0 {
		return 0, 0, 0
	}

	sort.SliceStable(pulled, func(i, j int) bool { return pulled[i].ReceivedAt.Before(pulled[j].ReceivedAt) })

	cursor := since
	for _, review := range pulled {
		review.BusinessID = biz.BusinessID
		review.Platform = platform

		if _, err := p.ingester.Ingest(ctx, review, nil); err != nil {
			if service.IsInputError(err) {
				slog.WarnContext(ctx, "skipping unusable inbound review",
					"external_id", review.ExternalID, "error", err)
				cursor = later(cursor, review.ReceivedAt)
				continue
			}
			slog.ErrorContext(ctx, "ingest inbound review",
				"external_id", review.ExternalID, "error", err)
			failed++
			break
		}
		ingested++
		cursor = later(cursor, review.ReceivedAt)
	}

	if cursor.After(since) {
		if err := p.cursors.Set(ctx, biz.BusinessID, platform, cursor); err != nil {
			slog.ErrorContext(ctx, "advance inbound cursor", "error", err)
		}
	}
	return len(pulled), ingested, failed
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
