package model

import "time"

// ApprovalStatus is the approval-gate state shared by generated reviews and
// generated responses. Responses never reach Expired.
type ApprovalStatus string

const (
	ApprovalStatusDraft           ApprovalStatus = "draft"
	ApprovalStatusPendingApproval ApprovalStatus = "pending_approval"
	ApprovalStatusApproved        ApprovalStatus = "approved"
	ApprovalStatusRejected        ApprovalStatus = "rejected"
	ApprovalStatusExpired         ApprovalStatus = "expired"
)

func (s ApprovalStatus) IsTerminal() bool {
	switch s {
	case ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusExpired:
		return true
	}
	return false
}

func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalStatusDraft, ApprovalStatusPendingApproval, ApprovalStatusApproved,
		ApprovalStatusRejected, ApprovalStatusExpired:
		return true
	}
	return false
}

type Transcript struct {
	ID             int64     `json:"id"`
	BusinessID     int64     `json:"business_id"`
	RawText        string    `json:"raw_text"`
	NormalizedText string    `json:"normalized_text"`
	Language       string    `json:"language"`
	Confidence     float64   `json:"confidence"`
	CapturedAt     time.Time `json:"captured_at"`

	// SynthesisError is set when synthesis gave up (sentiment drift, failed
	// validation, exhausted retries) and the transcript needs manual handling.
	SynthesisError *string `json:"synthesis_error,omitempty"`
}

type GeneratedReview struct {
	ID            int64          `json:"id"`
	TranscriptID  int64          `json:"transcript_id"`
	BusinessID    int64          `json:"business_id"`
	CanonicalText string         `json:"canonical_text"`
	Rating        int            `json:"rating"`
	Sentiment     Sentiment      `json:"sentiment"`
	Topics        []string       `json:"topics"`
	Status        ApprovalStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
}

func (r GeneratedReview) Subject() Subject {
	return Subject{Kind: SubjectKindReview, ID: r.ID}
}
