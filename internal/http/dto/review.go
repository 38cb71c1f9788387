package dto

import (
	"time"

	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/service"
)

// SubmitTranscriptRequest is the JSON form of intake. Audio goes through the
// multipart form instead.
type SubmitTranscriptRequest struct {
	Text       string     `json:"text" binding:"required"`
	Language   string     `json:"language,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

type SubmitTranscriptResponse struct {
	Transcript model.Transcript `json:"transcript"`
	Enqueued   bool             `json:"enqueued"`
}

type EditReviewRequest struct {
	Text string `json:"text" binding:"required"`
}

type ReviewResponse struct {
	Review   model.GeneratedReview   `json:"review"`
	Variants []model.PlatformVariant `json:"variants"`
	Attempts []model.PostingAttempt  `json:"attempts"`
}

func ToReviewResponse(d *service.ReviewDetail) ReviewResponse {
	return ReviewResponse{
		Review:   *d.Review,
		Variants: nonNil(d.Variants),
		Attempts: nonNil(d.Attempts),
	}
}

type ListReviewsResponse struct {
	Reviews []model.GeneratedReview `json:"reviews"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
