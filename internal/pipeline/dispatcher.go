package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"voxreview.app/relay/common/id"
	"voxreview.app/relay/common/logger"
	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/connector"
	"voxreview.app/relay/internal/events"
	"voxreview.app/relay/internal/metrics"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/store"
)

// Scheduler holds attempts until they are due. queue.Schedule implements it.
type Scheduler interface {
	Schedule(ctx context.Context, attemptID int64, at time.Time) error
	Remove(ctx context.Context, attemptID int64) error
}

// Connectors resolves a platform to its API client.
type Connectors interface {
	Get(p model.Platform) (connector.Connector, error)
}

type DispatcherDeps struct {
	Attempts   store.AttemptStore
	Statuses   store.StatusStore
	Variants   store.VariantStore
	Businesses store.BusinessStore
	Connectors Connectors
	Schedule   Scheduler
	Events     events.Sink
	Metrics    *metrics.Metrics
}

// Dispatcher owns posting attempts: one per approved variant and platform,
// each with its own retry lifecycle.
type Dispatcher struct {
	DispatcherDeps
	cfg    config.DispatchConfig
	now    func() time.Time
	jitter func(time.Duration) time.Duration

	semMu sync.Mutex
	sems  map[model.Platform]*semaphore.Weighted
}

func NewDispatcher(deps DispatcherDeps, cfg config.DispatchConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PlatformLimit <= 0 {
		cfg.PlatformLimit = 1
	}
	if cfg.PostTimeout <= 0 {
		cfg.PostTimeout = 20 * time.Second
	}
	return &Dispatcher{
		DispatcherDeps: deps,
		cfg:            cfg,
		now:            time.Now,
		jitter:         uniform,
		sems:           make(map[model.Platform]*semaphore.Weighted),
	}
}

// WithClock swaps the time source and the jitter draw. Used by tests.
func (d *Dispatcher) WithClock(now func() time.Time, jitter func(time.Duration) time.Duration) *Dispatcher {
	d.now = now
	if jitter != nil {
		d.jitter = jitter
	}
	return d
}

// uniform draws from [0, window).
func uniform(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return rand.N(window)
}

// Plan creates Queued attempts for an approved subject. attempts should be
// bound to the approving transaction. Platforms the business has not
// connected, and platforms with a succeeded or still-live attempt, are skipped.
func (d *Dispatcher) Plan(ctx context.Context, attempts store.AttemptStore, subject model.Subject, variants []model.PlatformVariant, biz model.BusinessContext, approvedAt time.Time) ([]model.PostingAttempt, error) {
	if attempts == nil {
		attempts = d.Attempts
	}

	existing, err := attempts.ListBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("list attempts for %s: %w", subject, err)
	}
	covered := make(map[model.Platform]bool)
	for _, a := range existing {
		if a.State == model.AttemptStateSucceeded || a.State.IsLive() {
			covered[a.Platform] = true
		}
	}

	var planned []model.PostingAttempt
	for _, v := range variants {
		if covered[v.Platform] {
			continue
		}
		if !biz.Connected(v.Platform) {
			slog.InfoContext(ctx, "platform not connected, skipping",
				"subject", subject.String(), "platform", v.Platform)
			continue
		}

		a := &model.PostingAttempt{
			ID:                id.New(),
			PlatformVariantID: v.ID,
			SubjectKind:       subject.Kind,
			SubjectID:         subject.ID,
			BusinessID:        biz.BusinessID,
			Platform:          v.Platform,
			State:             model.AttemptStateQueued,
			MaxAttempts:       d.cfg.MaxAttempts,
			IdempotencyKey:    uuid.NewString(),
			ScheduledAt:       approvedAt.Add(d.cfg.MinDelay + d.jitter(d.cfg.JitterWindow)).UTC(),
			CreatedAt:         approvedAt.UTC(),
		}
		created, err := attempts.Create(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("create %s attempt: %w", v.Platform, err)
		}
		covered[v.Platform] = true
		planned = append(planned, *created)
	}
	return planned, nil
}

// Release hands committed attempts to the scheduler. A failed ZADD is not
// fatal: ReconcileStale picks the attempt up later.
func (d *Dispatcher) Release(ctx context.Context, planned []model.PostingAttempt) {
	for _, a := range planned {
		if err := d.Schedule.Schedule(ctx, a.ID, a.ScheduledAt); err != nil {
			slog.WarnContext(ctx, "failed to schedule attempt, reconciler will retry",
				"attempt_id", a.ID, "error", err)
		}
		d.emit(ctx, a, "", a.State, "")
	}
}

// Execute runs one attempt. It returns an error only when the pipeline's own
// infrastructure failed; platform failures become attempt state.
func (d *Dispatcher) Execute(ctx context.Context, attemptID int64) error {
	a, err := d.Attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "attempt not found, dropping", "attempt_id", attemptID)
			return nil
		}
		return fmt.Errorf("load attempt: %w", err)
	}

	platform := string(a.Platform)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BusinessID: &a.BusinessID,
		AttemptID:  &a.ID,
		Platform:   &platform,
	})

	if a.State.IsTerminal() || a.State == model.AttemptStateInFlight {
		slog.DebugContext(ctx, "attempt not runnable", "state", a.State)
		return nil
	}

	st, err := d.Statuses.Get(ctx, a.Subject())
	if err != nil {
		return fmt.Errorf("load subject status: %w", err)
	}
	if st.Status != model.ApprovalStatusApproved {
		reason := model.ReasonRejectedBeforeDispatch
		if st.Status != model.ApprovalStatusRejected {
			reason = "subject-" + string(st.Status)
		}
		return d.abandon(ctx, a, reason)
	}

	now := d.now().UTC()
	if a.ScheduledAt.After(now) {
		slog.DebugContext(ctx, "attempt not due yet", "scheduled_at", a.ScheduledAt)
		return d.Schedule.Schedule(ctx, a.ID, a.ScheduledAt)
	}

	biz, err := d.Businesses.Get(ctx, a.BusinessID)
	if err != nil {
		return fmt.Errorf("load business: %w", err)
	}
	creds, ok := biz.Platforms[a.Platform]
	if !ok {
		return d.abandon(ctx, a, model.ReasonPlatformDisconnected)
	}
	conn, err := d.Connectors.Get(a.Platform)
	if err != nil {
		return d.abandon(ctx, a, model.ReasonPlatformDisconnected)
	}
	variant, err := d.Variants.GetByID(ctx, a.PlatformVariantID)
	if err != nil {
		return fmt.Errorf("load variant: %w", err)
	}

	sem := d.semaphore(a.Platform)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	claimed, cur, err := d.Attempts.Claim(ctx, a.ID, d.now().UTC())
	if err != nil {
		return fmt.Errorf("claim attempt: %w", err)
	}
	if !claimed {
		slog.DebugContext(ctx, "attempt claimed elsewhere")
		return nil
	}
	d.emit(ctx, *cur, a.State, cur.State, "")

	op := "post"
	call := conn.Post
	if a.SubjectKind == model.SubjectKindResponse {
		op = "reply"
		call = conn.Reply
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.PostTimeout)
	start := time.Now()
	externalID, postErr := call(callCtx, *variant, creds, cur.IdempotencyKey)
	cancel()
	d.Metrics.ConnectorCall(platform, op, time.Since(start), postErr)

	return d.settle(ctx, *cur, externalID, postErr)
}

func (d *Dispatcher) settle(ctx context.Context, a model.PostingAttempt, externalID string, postErr error) error {
	now := d.now().UTC()

	if postErr == nil {
		slog.InfoContext(ctx, "posted to platform", "external_id", externalID, "attempt_count", a.AttemptCount)
		_, err := d.move(ctx, a, store.AttemptUpdate{
			To:         model.AttemptStateSucceeded,
			At:         now,
			ExternalID: &externalID,
		}, "")
		return err
	}

	reason := connector.Reason(postErr)
	if !connector.IsTransient(postErr) {
		slog.WarnContext(ctx, "platform rejected post, abandoning", "reason", reason, "error", postErr)
		_, err := d.move(ctx, a, store.AttemptUpdate{
			To:        model.AttemptStateAbandoned,
			At:        now,
			LastError: &reason,
		}, reason)
		return err
	}

	return d.fail(ctx, a, reason, now)
}

// fail records a transient failure on an InFlight attempt and either
// schedules the retry or, at the attempt budget, abandons it.
func (d *Dispatcher) fail(ctx context.Context, a model.PostingAttempt, reason string, now time.Time) error {
	exhausted := a.AttemptCount >= a.MaxAttempts
	upd := store.AttemptUpdate{
		To:        model.AttemptStateFailed,
		At:        now,
		LastError: &reason,
	}
	var retryAt time.Time
	if !exhausted {
		retryAt = now.Add(d.Backoff(a.AttemptCount))
		upd.ScheduledAt = &retryAt
	}

	failed, err := d.move(ctx, a, upd, reason)
	if err != nil || failed == nil {
		return err
	}

	if exhausted {
		slog.WarnContext(ctx, "attempt budget exhausted, abandoning",
			"attempt_count", failed.AttemptCount, "reason", reason)
		_, err := d.move(ctx, *failed, store.AttemptUpdate{
			To: model.AttemptStateAbandoned,
			At: now,
		}, reason)
		return err
	}

	slog.InfoContext(ctx, "transient platform failure, retrying",
		"attempt_count", failed.AttemptCount, "retry_at", retryAt, "reason", reason)
	return d.Schedule.Schedule(ctx, failed.ID, retryAt)
}

// Backoff is the delay before retry number n (1-based): exponential from
// BackoffBase, capped at BackoffMax, with equal jitter.
func (d *Dispatcher) Backoff(n int) time.Duration {
	base := d.cfg.BackoffBase
	if base <= 0 {
		base = 30 * time.Second
	}
	ceiling := d.cfg.BackoffMax
	if ceiling <= 0 {
		ceiling = 30 * time.Minute
	}

	delay := base
	for i := 1; i < n && delay < ceiling; i++ {
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}
	half := delay / 2
	return half + d.jitter(delay-half)
}

// CancelQueued abandons every Queued attempt of a rejected subject. InFlight
// attempts are left to finish.
func (d *Dispatcher) CancelQueued(ctx context.Context, subject model.Subject) ([]model.PostingAttempt, error) {
	now := d.now().UTC()
	abandoned, err := d.Attempts.AbandonQueued(ctx, subject, model.ReasonRejectedBeforeDispatch, now)
	if err != nil {
		return nil, fmt.Errorf("abandon queued attempts for %s: %w", subject, err)
	}
	for _, a := range abandoned {
		if err := d.Schedule.Remove(ctx, a.ID); err != nil {
			slog.WarnContext(ctx, "failed to unschedule abandoned attempt", "attempt_id", a.ID, "error", err)
		}
		d.emit(ctx, a, model.AttemptStateQueued, a.State, model.ReasonRejectedBeforeDispatch)
	}
	if len(abandoned) > 0 {
		slog.InfoContext(ctx, "cancelled queued attempts", "subject", subject.String(), "count", len(abandoned))
	}
	return abandoned, nil
}

// ReconcileReport counts what ReconcileStale repaired.
type ReconcileReport struct {
	Rescheduled int
	Recovered   int
	Abandoned   int
}

// ReconcileStale repairs attempts that fell between the cracks: committed but
// never scheduled, and InFlight attempts whose worker died mid-call.
func (d *Dispatcher) ReconcileStale(ctx context.Context, now time.Time) (ReconcileReport, error) {
	var report ReconcileReport
	now = now.UTC()

	grace := d.cfg.ReconcileGrace
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	staleBefore := now.Add(-grace)
	waiting, err := d.Attempts.List(ctx, store.AttemptFilter{
		States:          []model.AttemptState{model.AttemptStateQueued, model.AttemptStateFailed},
		ScheduledBefore: &staleBefore,
		Limit:           500,
	})
	if err != nil {
		return report, fmt.Errorf("list stale attempts: %w", err)
	}
	for _, a := range waiting {
		if a.State == model.AttemptStateFailed && a.AttemptCount >= a.MaxAttempts {
			moved, err := d.move(ctx, a, store.AttemptUpdate{To: model.AttemptStateAbandoned, At: now}, a.LastError)
			if err != nil {
				return report, err
			}
			if moved != nil {
				report.Abandoned++
			}
			continue
		}
		if err := d.Schedule.Schedule(ctx, a.ID, now); err != nil {
			return report, fmt.Errorf("reschedule attempt %d: %w", a.ID, err)
		}
		report.Rescheduled++
	}

	timeout := d.cfg.InFlightTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	startedBefore := now.Add(-timeout)
	stuck, err := d.Attempts.List(ctx, store.AttemptFilter{
		States:        []model.AttemptState{model.AttemptStateInFlight},
		StartedBefore: &startedBefore,
		Limit:         500,
	})
	if err != nil {
		return report, fmt.Errorf("list stuck attempts: %w", err)
	}
	for _, a := range stuck {
		slog.WarnContext(ctx, "attempt lost in flight", "attempt_id", a.ID, "platform", a.Platform, "started_at", a.StartedAt)
		if err := d.fail(ctx, a, model.ReasonLostInFlight, now); err != nil {
			return report, err
		}
		report.Recovered++
	}

	if report != (ReconcileReport{}) {
		slog.InfoContext(ctx, "reconciled stale attempts",
			"rescheduled", report.Rescheduled, "recovered", report.Recovered, "abandoned", report.Abandoned)
	}
	return report, nil
}

// abandon gives up on an attempt that has not been claimed.
func (d *Dispatcher) abandon(ctx context.Context, a *model.PostingAttempt, reason string) error {
	slog.InfoContext(ctx, "abandoning attempt", "state", a.State, "reason", reason)
	moved, err := d.move(ctx, *a, store.AttemptUpdate{
		To:        model.AttemptStateAbandoned,
		At:        d.now().UTC(),
		LastError: &reason,
	}, reason)
	if err != nil {
		return err
	}
	if moved != nil {
		if err := d.Schedule.Remove(ctx, a.ID); err != nil {
			slog.WarnContext(ctx, "failed to unschedule abandoned attempt", "error", err)
		}
	}
	return nil
}

// move applies a guarded transition from a.State. A nil attempt with no
// error means another writer moved it first.
func (d *Dispatcher) move(ctx context.Context, a model.PostingAttempt, upd store.AttemptUpdate, reason string) (*model.PostingAttempt, error) {
	upd.ID = a.ID
	upd.From = a.State
	ok, moved, err := d.Attempts.Transition(ctx, upd)
	if err != nil {
		return nil, fmt.Errorf("move attempt %d %s->%s: %w", a.ID, upd.From, upd.To, err)
	}
	if !ok {
		slog.WarnContext(ctx, "attempt changed underneath us", "attempt_id", a.ID, "from", upd.From, "to", upd.To)
		return nil, nil
	}
	d.emit(ctx, *moved, a.State, moved.State, reason)
	return moved, nil
}

func (d *Dispatcher) emit(ctx context.Context, a model.PostingAttempt, from, to model.AttemptState, reason string) {
	d.Metrics.AttemptTransition(string(a.Platform), string(to))

	ev := model.SubjectEvent(model.EventKindAttemptTransition, a.Subject(), a.BusinessID, d.now())
	ev.AttemptID = a.ID
	ev.Platform = a.Platform
	ev.FromState = string(from)
	ev.ToState = string(to)
	ev.Reason = reason
	events.Emit(ctx, d.Events, ev)
}

func (d *Dispatcher) semaphore(p model.Platform) *semaphore.Weighted {
	d.semMu.Lock()
	defer d.semMu.Unlock()
	sem, ok := d.sems[p]
	if !ok {
		sem = semaphore.NewWeighted(d.cfg.PlatformLimit)
		d.sems[p] = sem
	}
	return sem
}
