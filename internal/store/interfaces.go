package store

import (
	"context"
	"errors"
	"time"

	"voxreview.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with a uniqueness rule,
// e.g. a second live review for the same transcript.
var ErrConflict = errors.New("conflict")

// TranscriptStore defines the contract for transcript data access
type TranscriptStore interface {
	Create(ctx context.Context, t *model.Transcript) (*model.Transcript, error)
	GetByID(ctx context.Context, id int64) (*model.Transcript, error)
	SetSynthesisError(ctx context.Context, id int64, msg *string) error
}

// ReviewFilter narrows review listings. Zero values mean "any".
type ReviewFilter struct {
	BusinessID int64
	Statuses   []model.ApprovalStatus
	Limit      uint64
}

// ReviewStore defines the contract for generated review data access
type ReviewStore interface {
	Create(ctx context.Context, r *model.GeneratedReview) (*model.GeneratedReview, error)
	GetByID(ctx context.Context, id int64) (*model.GeneratedReview, error)
	// GetLiveByTranscript returns the non-expired review for a transcript.
	GetLiveByTranscript(ctx context.Context, transcriptID int64) (*model.GeneratedReview, error)
	// UpdateDraft replaces the generated content while the review is still
	// Draft or PendingApproval. Returns false when it has already left those.
	UpdateDraft(ctx context.Context, r *model.GeneratedReview, now time.Time) (bool, error)
	List(ctx context.Context, filter ReviewFilter) ([]model.GeneratedReview, error)
}

// ResponseStore defines the contract for generated response data access
type ResponseStore interface {
	Create(ctx context.Context, r *model.GeneratedResponse) (*model.GeneratedResponse, error)
	GetByID(ctx context.Context, id int64) (*model.GeneratedResponse, error)
	// GetLiveByInbound returns the single non-rejected response, if any.
	GetLiveByInbound(ctx context.Context, inboundReviewID int64) (*model.GeneratedResponse, error)
}

// SubjectState is the gate-relevant projection of a review or response.
type SubjectState struct {
	Subject    model.Subject
	BusinessID int64
	Status     model.ApprovalStatus
	ExpiresAt  *time.Time
}

// StatusStore owns the approval status column of both subject kinds. The
// compare-and-swap is the only way the column changes after creation.
type StatusStore interface {
	Get(ctx context.Context, subject model.Subject) (*SubjectState, error)
	// CompareAndSwap moves subject from -> to. It returns false, with no
	// error, when another writer changed the status first.
	CompareAndSwap(ctx context.Context, subject model.Subject, from, to model.ApprovalStatus, at time.Time) (bool, error)
	// ListExpired returns Draft/PendingApproval subjects whose expiry passed.
	ListExpired(ctx context.Context, kind model.SubjectKind, now time.Time, limit uint64) ([]SubjectState, error)
}

// VariantStore defines the contract for platform variant data access
type VariantStore interface {
	// ReplaceForSubject drops the subject's variants and stores the given set.
	ReplaceForSubject(ctx context.Context, subject model.Subject, variants []model.PlatformVariant) ([]model.PlatformVariant, error)
	ListBySubject(ctx context.Context, subject model.Subject) ([]model.PlatformVariant, error)
	GetByID(ctx context.Context, id int64) (*model.PlatformVariant, error)
}

// AttemptUpdate describes a guarded attempt transition. Optional fields are
// only written when set.
type AttemptUpdate struct {
	ID          int64
	From        model.AttemptState
	To          model.AttemptState
	At          time.Time
	LastError   *string
	ExternalID  *string
	ScheduledAt *time.Time
}

// AttemptFilter narrows attempt listings. Zero values mean "any".
type AttemptFilter struct {
	BusinessID      int64
	Subject         *model.Subject
	Platform        model.Platform
	States          []model.AttemptState
	ScheduledBefore *time.Time
	StartedBefore   *time.Time
	Limit           uint64
}

// AttemptStore defines the contract for posting attempt data access
type AttemptStore interface {
	Create(ctx context.Context, a *model.PostingAttempt) (*model.PostingAttempt, error)
	GetByID(ctx context.Context, id int64) (*model.PostingAttempt, error)
	ListBySubject(ctx context.Context, subject model.Subject) ([]model.PostingAttempt, error)
	List(ctx context.Context, filter AttemptFilter) ([]model.PostingAttempt, error)

	// Claim moves a Queued or Failed attempt to InFlight and bumps
	// AttemptCount, provided the count is still below MaxAttempts. Returns
	// false when the attempt is not claimable (someone else has it, or it is
	// terminal).
	Claim(ctx context.Context, id int64, now time.Time) (bool, *model.PostingAttempt, error)
	// Transition applies upd only if the attempt is still in upd.From.
	Transition(ctx context.Context, upd AttemptUpdate) (bool, *model.PostingAttempt, error)
	// AbandonQueued abandons every Queued attempt of the subject and returns
	// the rows it changed. InFlight attempts are left alone.
	AbandonQueued(ctx context.Context, subject model.Subject, reason string, now time.Time) ([]model.PostingAttempt, error)
}

// InboundStore defines the contract for inbound review data access
type InboundStore interface {
	// Insert is idempotent on (platform, external id). created is false when
	// the review was already stored; the stored row is returned either way.
	Insert(ctx context.Context, r *model.InboundReview) (created bool, stored *model.InboundReview, err error)
	GetByID(ctx context.Context, id int64) (*model.InboundReview, error)
}

// BusinessStore is read-only; businesses are owned by the external CRUD system.
type BusinessStore interface {
	Get(ctx context.Context, id int64) (*model.BusinessContext, error)
	ListConnected(ctx context.Context) ([]model.BusinessContext, error)
}
