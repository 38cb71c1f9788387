package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/statekit"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/metrics"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/store"
)

// FSM states. Untyped so they convert to statekit.StateID; they must match
// the model.ApprovalStatus values.
const (
	stateDraft           = "draft"
	statePendingApproval = "pending_approval"
	stateApproved        = "approved"
	stateRejected        = "rejected"
	stateExpired         = "expired"
)

type gateEvent string

const (
	eventSubmit  gateEvent = "submit"
	eventApprove gateEvent = "approve"
	eventReject  gateEvent = "reject"
	eventExpire  gateEvent = "expire"
)

func init() {
	pairs := map[string]model.ApprovalStatus{
		stateDraft:           model.ApprovalStatusDraft,
		statePendingApproval: model.ApprovalStatusPendingApproval,
		stateApproved:        model.ApprovalStatusApproved,
		stateRejected:        model.ApprovalStatusRejected,
		stateExpired:         model.ApprovalStatusExpired,
	}
	for state, status := range pairs {
		if state != string(status) {
			panic(fmt.Sprintf("gate state %q does not match approval status %q", state, status))
		}
	}
}

type gateContext struct{}

type interpreterFactory func() *statekit.Interpreter[gateContext]

// gateMachines holds one machine per non-terminal starting state; a machine's
// initial state is fixed when it is built.
var gateMachines = map[model.ApprovalStatus]interpreterFactory{
	model.ApprovalStatusDraft:           mustBuildGate(stateDraft),
	model.ApprovalStatusPendingApproval: mustBuildGate(statePendingApproval),
}

func mustBuildGate(initial string) interpreterFactory {
	builder := statekit.NewMachine[gateContext]("approval-gate").
		WithInitial(statekit.StateID(initial)).
		WithContext(gateContext{})

	builder.State(stateDraft).
		On(statekit.EventType(eventSubmit)).Target(statePendingApproval).
		On(statekit.EventType(eventReject)).Target(stateRejected).
		On(statekit.EventType(eventExpire)).Target(stateExpired).
		Done()

	builder.State(statePendingApproval).
		On(statekit.EventType(eventApprove)).Target(stateApproved).
		On(statekit.EventType(eventReject)).Target(stateRejected).
		On(statekit.EventType(eventExpire)).Target(stateExpired).
		Done()

	builder.State(stateApproved).Done()
	builder.State(stateRejected).Done()
	builder.State(stateExpired).Done()

	machine, err := builder.Build()
	if err != nil {
		panic(fmt.Sprintf("build approval gate: %v", err))
	}
	return func() *statekit.Interpreter[gateContext] {
		return statekit.NewInterpreter(machine)
	}
}

// nextStatus runs ev through the FSM from status. ok is false when the FSM
// has no such edge.
func nextStatus(status model.ApprovalStatus, ev gateEvent) (model.ApprovalStatus, bool) {
	newInterpreter, ok := gateMachines[status]
	if !ok {
		return status, false
	}
	interp := newInterpreter()
	interp.Start()
	interp.Send(statekit.Event{Type: statekit.EventType(ev)})

	next := model.ApprovalStatus(interp.State().Value)
	return next, next != status
}

// TransitionResult reports the outcome of one gate operation. Won is true
// only for the caller whose compare-and-swap moved the status.
type TransitionResult struct {
	Subject    model.Subject
	BusinessID int64
	Won        bool
	From       model.ApprovalStatus
	To         model.ApprovalStatus
	Current    model.ApprovalStatus
	At         time.Time
}

// Event describes a won transition for the event sink.
func (r TransitionResult) Event() model.Event {
	ev := model.SubjectEvent(model.EventKindApprovalTransition, r.Subject, r.BusinessID, r.At)
	ev.FromState = string(r.From)
	ev.ToState = string(r.To)
	return ev
}

// Gate is the approval state machine for reviews and responses. It is bound
// to a StatusStore, so building one per transaction keeps the status change
// atomic with whatever else the caller writes.
type Gate struct {
	statuses store.StatusStore
	cfg      config.ApprovalConfig
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewGate(statuses store.StatusStore, cfg config.ApprovalConfig, m *metrics.Metrics) *Gate {
	return &Gate{statuses: statuses, cfg: cfg, metrics: m, now: time.Now}
}

// WithClock returns a copy of the gate that reads time from now.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	cp := *g
	cp.now = now
	return &cp
}

// ExpiresAt is the approval deadline for a subject created at createdAt, or
// nil when subjects of that kind do not expire.
func (g *Gate) ExpiresAt(kind model.SubjectKind, createdAt time.Time) *time.Time {
	if kind != model.SubjectKindReview || g.cfg.ReviewTTL <= 0 {
		return nil
	}
	at := createdAt.Add(g.cfg.ReviewTTL).UTC()
	return &at
}

func (g *Gate) Submit(ctx context.Context, subject model.Subject) (TransitionResult, error) {
	return g.transition(ctx, subject, eventSubmit)
}

// Approve moves PendingApproval to Approved. A subject past its deadline is
// expired instead and ErrExpired is returned alongside the result.
func (g *Gate) Approve(ctx context.Context, subject model.Subject) (TransitionResult, error) {
	return g.transition(ctx, subject, eventApprove)
}

func (g *Gate) Reject(ctx context.Context, subject model.Subject) (TransitionResult, error) {
	return g.transition(ctx, subject, eventReject)
}

// Expire is used by the sweeper. It refuses subjects whose deadline has not
// passed and subjects that never expire.
func (g *Gate) Expire(ctx context.Context, subject model.Subject) (TransitionResult, error) {
	return g.transition(ctx, subject, eventExpire)
}

func (g *Gate) transition(ctx context.Context, subject model.Subject, ev gateEvent) (TransitionResult, error) {
	st, err := g.statuses.Get(ctx, subject)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("load %s: %w", subject, err)
	}

	result := TransitionResult{
		Subject:    subject,
		BusinessID: st.BusinessID,
		From:       st.Status,
		Current:    st.Status,
	}
	if st.Status.IsTerminal() {
		return result, nil
	}

	now := g.now().UTC()
	lapsed := st.ExpiresAt != nil && !now.Before(*st.ExpiresAt)

	if ev == eventExpire {
		if subject.Kind != model.SubjectKindReview {
			return result, fmt.Errorf("%w: %s subjects do not expire", ErrInvalidTransition, subject.Kind)
		}
		if !lapsed {
			return result, fmt.Errorf("%w: %s has not reached its deadline", ErrInvalidTransition, subject)
		}
	}

	to, ok := nextStatus(st.Status, ev)
	if !ok {
		return result, fmt.Errorf("%w: cannot %s a %s %s", ErrInvalidTransition, ev, st.Status, subject.Kind)
	}

	if lapsed && (ev == eventSubmit || ev == eventApprove) {
		result, err = g.swap(ctx, result, model.ApprovalStatusExpired, now)
		if err != nil {
			return result, err
		}
		slog.InfoContext(ctx, "approval window lapsed", "subject", subject.String(), "won", result.Won)
		if result.Current == model.ApprovalStatusExpired {
			return result, ErrExpired
		}
		return result, nil
	}

	return g.swap(ctx, result, to, now)
}

func (g *Gate) swap(ctx context.Context, result TransitionResult, to model.ApprovalStatus, now time.Time) (TransitionResult, error) {
	won, err := g.statuses.CompareAndSwap(ctx, result.Subject, result.From, to, now)
	if err != nil {
		return result, fmt.Errorf("update %s status: %w", result.Subject, err)
	}
	g.metrics.GateTransition(string(result.Subject.Kind), string(to), won)

	if won {
		result.Won = true
		result.To = to
		result.Current = to
		result.At = now
		return result, nil
	}

	current, err := g.statuses.Get(ctx, result.Subject)
	if err != nil {
		return result, fmt.Errorf("reload %s: %w", result.Subject, err)
	}
	result.Current = current.Status
	slog.DebugContext(ctx, "lost approval race",
		"subject", result.Subject.String(),
		"wanted", to,
		"current", current.Status)
	return result, nil
}
