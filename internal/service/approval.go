package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/events"
	"voxreview.app/relay/internal/metrics"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
)

// approvals runs gate transitions for both subject kinds. Each transition
// happens in its own transaction; attempts planned on approval are written in
// that same transaction and released to the schedule after commit.
type approvals struct {
	txRunner   TxRunner
	dispatcher *pipeline.Dispatcher
	events     events.Sink
	metrics    *metrics.Metrics
	cfg        config.ApprovalConfig
}

func (a *approvals) gate(sp StoreProvider) *pipeline.Gate {
	return pipeline.NewGate(sp.Statuses(), a.cfg, a.metrics)
}

type gateOp func(g *pipeline.Gate, ctx context.Context, subject model.Subject) (pipeline.TransitionResult, error)

// transition applies op in a transaction. then runs in the same transaction
// when op won. A lapsed approval window is committed as Expired and reported
// as ErrExpired.
func (a *approvals) transition(ctx context.Context, subject model.Subject, op gateOp, want model.ApprovalStatus, then func(sp StoreProvider, res pipeline.TransitionResult) error) (pipeline.TransitionResult, error) {
	var (
		res     pipeline.TransitionResult
		expired bool
	)
	err := a.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		var err error
		res, err = op(a.gate(sp), ctx, subject)
		if errors.Is(err, pipeline.ErrExpired) {
			expired = true
			return nil
		}
		if err != nil || !res.Won || then == nil {
			return err
		}
		return then(sp, res)
	})
	if err != nil {
		return res, err
	}

	a.published(ctx, res)
	if expired {
		return res, pipeline.ErrExpired
	}
	return res, settled(res, want)
}

func (a *approvals) submit(ctx context.Context, subject model.Subject) error {
	_, err := a.transition(ctx, subject, (*pipeline.Gate).Submit, model.ApprovalStatusPendingApproval, nil)
	return err
}

func (a *approvals) approve(ctx context.Context, subject model.Subject) error {
	var planned []model.PostingAttempt
	res, err := a.transition(ctx, subject, (*pipeline.Gate).Approve, model.ApprovalStatusApproved,
		func(sp StoreProvider, res pipeline.TransitionResult) error {
			var err error
			planned, err = a.plan(ctx, sp, subject, res.At)
			return err
		})
	if err != nil {
		return err
	}
	if res.Won && len(planned) == 0 {
		slog.InfoContext(ctx, "approved with nothing to distribute", "subject", subject.String())
	}
	a.dispatcher.Release(ctx, planned)
	return nil
}

// redispatch plans attempts for platforms that have no live or succeeded
// attempt yet, e.g. after a platform was reconnected.
func (a *approvals) redispatch(ctx context.Context, subject model.Subject) (int, error) {
	var planned []model.PostingAttempt
	err := a.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		st, err := sp.Statuses().Get(ctx, subject)
		if err != nil {
			return err
		}
		if st.Status != model.ApprovalStatusApproved {
			return fmt.Errorf("%w: %s is %s, not approved", pipeline.ErrInvalidTransition, subject, st.Status)
		}
		planned, err = a.plan(ctx, sp, subject, time.Now().UTC())
		return err
	})
	if err != nil {
		return 0, err
	}
	a.dispatcher.Release(ctx, planned)
	return len(planned), nil
}

func (a *approvals) reject(ctx context.Context, subject model.Subject) error {
	res, err := a.transition(ctx, subject, (*pipeline.Gate).Reject, model.ApprovalStatusRejected, nil)
	if err != nil {
		return err
	}
	if res.Won {
		if _, err := a.dispatcher.CancelQueued(ctx, subject); err != nil {
			slog.WarnContext(ctx, "cancel queued attempts failed", "subject", subject.String(), "error", err)
		}
	}
	return nil
}

func (a *approvals) plan(ctx context.Context, sp StoreProvider, subject model.Subject, at time.Time) ([]model.PostingAttempt, error) {
	variants, err := sp.Variants().ListBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	if len(variants) == 0 {
		return nil, nil
	}
	st, err := sp.Statuses().Get(ctx, subject)
	if err != nil {
		return nil, err
	}
	biz, err := sp.Businesses().Get(ctx, st.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("load business %d: %w", st.BusinessID, err)
	}
	return a.dispatcher.Plan(ctx, sp.Attempts(), subject, variants, *biz, at)
}

func (a *approvals) published(ctx context.Context, res pipeline.TransitionResult) {
	if res.Won {
		events.Emit(ctx, a.events, res.Event())
	}
}

// settled turns a lost race into an error unless the winner already moved
// the subject where the caller wanted it.
func settled(res pipeline.TransitionResult, want model.ApprovalStatus) error {
	if res.Won || res.Current == want {
		return nil
	}
	return fmt.Errorf("%w: %s is %s", pipeline.ErrInvalidTransition, res.Subject, res.Current)
}

func (a *approvals) expire(ctx context.Context, subject model.Subject) (bool, error) {
	res, err := a.transition(ctx, subject, (*pipeline.Gate).Expire, model.ApprovalStatusExpired, nil)
	return res.Won, err
}
