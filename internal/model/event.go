package model

import "time"

type EventKind string

const (
	EventKindAttemptTransition  EventKind = "attempt.transition"
	EventKindApprovalTransition EventKind = "approval.transition"
	EventKindSynthesisFailed    EventKind = "synthesis.failed"
	EventKindInboundReceived    EventKind = "inbound.received"
)

// Event is what the pipeline tells the analytics and notification consumers.
// ReviewID is the subject id for review subjects and zero otherwise.
type Event struct {
	Kind        EventKind   `json:"kind"`
	SubjectKind SubjectKind `json:"subject_kind,omitempty"`
	SubjectID   int64       `json:"subject_id,omitempty"`
	ReviewID    int64       `json:"review_id,omitempty"`
	ResponseID  int64       `json:"response_id,omitempty"`
	AttemptID   int64       `json:"attempt_id,omitempty"`
	BusinessID  int64       `json:"business_id"`
	Platform    Platform    `json:"platform,omitempty"`
	FromState   string      `json:"from_state,omitempty"`
	ToState     string      `json:"to_state,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// SubjectEvent fills the subject id fields consistently.
func SubjectEvent(kind EventKind, subject Subject, businessID int64, at time.Time) Event {
	ev := Event{
		Kind:        kind,
		SubjectKind: subject.Kind,
		SubjectID:   subject.ID,
		BusinessID:  businessID,
		Timestamp:   at.UTC(),
	}
	switch subject.Kind {
	case SubjectKindReview:
		ev.ReviewID = subject.ID
	case SubjectKindResponse:
		ev.ResponseID = subject.ID
	}
	return ev
}
