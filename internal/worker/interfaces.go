package worker

import (
	"context"
	"time"

	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/service"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// DueMover releases scheduled attempts whose time has come.
type DueMover interface {
	MoveDue(ctx context.Context, now time.Time, limit int64) (int, error)
}

// Expirer moves lapsed reviews to Expired. service.ReviewService implements it.
type Expirer interface {
	ExpireLapsed(ctx context.Context, now time.Time, limit uint64) (int, error)
}

// Reconciler repairs attempts stranded by crashes or a lost schedule.
type Reconciler interface {
	ReconcileStale(ctx context.Context, now time.Time) (pipeline.ReconcileReport, error)
}

// Ingester stores pulled reviews. service.ResponseService implements it.
type Ingester interface {
	Ingest(ctx context.Context, review model.InboundReview, traceID *string) (*service.IngestResult, error)
}

// Cursors remembers, per business and platform, the newest review pulled.
type Cursors interface {
	Get(ctx context.Context, businessID int64, platform model.Platform) (time.Time, error)
	Set(ctx context.Context, businessID int64, platform model.Platform, at time.Time) error
}
