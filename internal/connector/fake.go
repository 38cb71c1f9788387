package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voxreview.app/relay/internal/model"
)

// Call records one Post or Reply made against a Fake.
type Call struct {
	Op             string
	Variant        model.PlatformVariant
	IdempotencyKey string
}

// Fake is an in-memory connector for tests and local runs. PostFunc and
// PullFunc override the default behaviour of accepting everything.
type Fake struct {
	PlatformName model.Platform
	PostFunc     func(ctx context.Context, op string, variant model.PlatformVariant) (string, error)
	PullFunc     func(ctx context.Context, since time.Time) ([]model.InboundReview, error)

	mu    sync.Mutex
	calls []Call
}

func NewFake(p model.Platform) *Fake {
	return &Fake{PlatformName: p}
}

func (f *Fake) Platform() model.Platform {
	return f.PlatformName
}

func (f *Fake) Post(ctx context.Context, variant model.PlatformVariant, _ model.Credentials, idempotencyKey string) (string, error) {
	return f.record(ctx, "post", variant, idempotencyKey)
}

func (f *Fake) Reply(ctx context.Context, variant model.PlatformVariant, _ model.Credentials, idempotencyKey string) (string, error) {
	return f.record(ctx, "reply", variant, idempotencyKey)
}

func (f *Fake) Pull(ctx context.Context, _ model.Credentials, since time.Time) ([]model.InboundReview, error) {
	if f.PullFunc != nil {
		return f.PullFunc(ctx, since)
	}
	return nil, nil
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) record(ctx context.Context, op string, variant model.PlatformVariant, key string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Variant: variant, IdempotencyKey: key})
	n := len(f.calls)
	f.mu.Unlock()

	if f.PostFunc != nil {
		return f.PostFunc(ctx, op, variant)
	}
	return fmt.Sprintf("%s-%d", f.PlatformName, n), nil
}
