package worker_test

import (
	"context"
	"sync"
	"time"

	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/service"
)

type fakeConsumer struct {
	mu       sync.Mutex
	batches  [][]queue.Message
	acked    []string
	requeued []string
	dlq      map[string]string
}

func (c *fakeConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	c.mu.Lock()
	if len(c.batches) > 0 {
		next := c.batches[0]
		c.batches = c.batches[1:]
		c.mu.Unlock()
		return next, nil
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil, nil
}

func (c *fakeConsumer) Ack(_ context.Context, msg queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, msg.ID)
	return nil
}

func (c *fakeConsumer) Requeue(_ context.Context, msg queue.Message, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requeued = append(c.requeued, msg.ID)
	return nil
}

func (c *fakeConsumer) SendDLQ(_ context.Context, msg queue.Message, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dlq == nil {
		c.dlq = map[string]string{}
	}
	c.dlq[msg.ID] = errMsg
	return nil
}

func (c *fakeConsumer) Acked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.acked...)
}

func (c *fakeConsumer) Requeued() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requeued...)
}

func (c *fakeConsumer) DLQ() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.dlq))
	for k, v := range c.dlq {
		out[k] = v
	}
	return out
}

type fakeDueMover struct {
	results []int
	err     error
	calls   int
}

func (f *fakeDueMover) MoveDue(context.Context, time.Time, int64) (int, error) {
	f.calls++
	if f.calls > len(f.results) {
		return 0, f.err
	}
	n := f.results[f.calls-1]
	if f.calls == len(f.results) {
		return n, f.err
	}
	return n, nil
}

type fakeExpirer struct {
	n     int
	err   error
	calls int
}

func (f *fakeExpirer) ExpireLapsed(context.Context, time.Time, uint64) (int, error) {
	f.calls++
	return f.n, f.err
}

type fakeReconciler struct {
	report pipeline.ReconcileReport
	err    error
	calls  int
}

func (f *fakeReconciler) ReconcileStale(context.Context, time.Time) (pipeline.ReconcileReport, error) {
	f.calls++
	return f.report, f.err
}

type cursorKey struct {
	businessID int64
	platform   model.Platform
}

type memCursors struct {
	mu sync.Mutex
	at map[cursorKey]time.Time
}

func (c *memCursors) Get(_ context.Context, businessID int64, platform model.Platform) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at[cursorKey{businessID, platform}], nil
}

func (c *memCursors) Set(_ context.Context, businessID int64, platform model.Platform, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.at == nil {
		c.at = map[cursorKey]time.Time{}
	}
	c.at[cursorKey{businessID, platform}] = at
	return nil
}

type fakeIngester struct {
	mu       sync.Mutex
	ingestFn func(review model.InboundReview) error
	ingested []model.InboundReview
}

func (f *fakeIngester) Ingest(_ context.Context, review model.InboundReview, _ *string) (*service.IngestResult, error) {
	if f.ingestFn != nil {
		if err := f.ingestFn(review); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, review)
	return &service.IngestResult{Inbound: &review, Created: true}, nil
}

func (f *fakeIngester) Ingested() []model.InboundReview {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.InboundReview(nil), f.ingested...)
}
