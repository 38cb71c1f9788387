package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"voxreview.app/relay/internal/model"
)

// Sink is an append-only consumer of pipeline events (analytics,
// notifications). Events are published after the state change committed, so
// a failed publish never undoes the transition.
type Sink interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Emit publishes ev and logs instead of failing the caller.
func Emit(ctx context.Context, sink Sink, ev model.Event) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "event publish failed",
			"error", err,
			"kind", ev.Kind,
			"subject_kind", ev.SubjectKind,
			"subject_id", ev.SubjectID,
			"to_state", ev.ToState)
	}
}

// Multi fans an event out to every sink. One failing sink does not stop the
// others; their errors are joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, ev model.Event) error {
	slog.InfoContext(ctx, "pipeline event",
		"kind", ev.Kind,
		"subject_kind", ev.SubjectKind,
		"subject_id", ev.SubjectID,
		"attempt_id", ev.AttemptID,
		"platform", ev.Platform,
		"from_state", ev.FromState,
		"to_state", ev.ToState,
		"reason", ev.Reason)
	return nil
}

// Recorder keeps published events in memory. Used by tests and by relayctl
// dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *Recorder) Publish(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}
