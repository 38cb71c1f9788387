package model

import "time"

// InboundReview is a third-party review pulled or pushed from a connector.
// (Platform, ExternalID) is unique so re-ingestion is a no-op.
type InboundReview struct {
	ID         int64     `json:"id"`
	BusinessID int64     `json:"business_id"`
	Platform   Platform  `json:"platform"`
	ExternalID string    `json:"external_id"`
	Author     string    `json:"author,omitempty"`
	Text       string    `json:"text"`
	Rating     int       `json:"rating"`
	Sentiment  Sentiment `json:"sentiment"`
	Topics     []string  `json:"topics"`
	ReceivedAt time.Time `json:"received_at"`
}

type GeneratedResponse struct {
	ID              int64          `json:"id"`
	InboundReviewID int64          `json:"inbound_review_id"`
	BusinessID      int64          `json:"business_id"`
	Text            string         `json:"text"`
	Status          ApprovalStatus `json:"status"`
	LowConfidence   bool           `json:"low_confidence"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DecidedAt       *time.Time     `json:"decided_at,omitempty"`
}

func (r GeneratedResponse) Subject() Subject {
	return Subject{Kind: SubjectKindResponse, ID: r.ID}
}

// PostingMode decides whether a generated response waits for the business.
type PostingMode string

const (
	PostingModeManual    PostingMode = "manual"
	PostingModeAutopilot PostingMode = "autopilot"
)
