package model

import "time"

type AttemptState string

const (
	AttemptStateQueued    AttemptState = "queued"
	AttemptStateInFlight  AttemptState = "in_flight"
	AttemptStateSucceeded AttemptState = "succeeded"
	AttemptStateFailed    AttemptState = "failed"
	AttemptStateAbandoned AttemptState = "abandoned"
)

func (s AttemptState) IsTerminal() bool {
	return s == AttemptStateSucceeded || s == AttemptStateAbandoned
}

// IsLive reports whether the attempt can still end up posted.
func (s AttemptState) IsLive() bool {
	return s == AttemptStateQueued || s == AttemptStateInFlight || s == AttemptStateFailed
}

// Reasons recorded in LastError by the pipeline itself.
const (
	ReasonRejectedBeforeDispatch = "rejected-before-dispatch"
	ReasonLostInFlight           = "lost-in-flight"
	ReasonPlatformDisconnected   = "platform-disconnected"
)

type PostingAttempt struct {
	ID                int64        `json:"id"`
	PlatformVariantID int64        `json:"platform_variant_id"`
	SubjectKind       SubjectKind  `json:"subject_kind"`
	SubjectID         int64        `json:"subject_id"`
	BusinessID        int64        `json:"business_id"`
	Platform          Platform     `json:"platform"`
	State             AttemptState `json:"state"`
	AttemptCount      int          `json:"attempt_count"`
	MaxAttempts       int          `json:"max_attempts"`
	LastError         string       `json:"last_error,omitempty"`
	ExternalID        string       `json:"external_id,omitempty"`
	IdempotencyKey    string       `json:"idempotency_key"`
	ScheduledAt       time.Time    `json:"scheduled_at"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

func (a PostingAttempt) Subject() Subject {
	return Subject{Kind: a.SubjectKind, ID: a.SubjectID}
}
