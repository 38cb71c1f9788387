package dto

import (
	"time"

	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/service"
)

// InboundReviewRequest is what a connector pushes when a platform notifies
// us of a new customer review.
type InboundReviewRequest struct {
	BusinessID int64      `json:"business_id" binding:"required"`
	Platform   string     `json:"platform" binding:"required"`
	ExternalID string     `json:"external_id" binding:"required"`
	Author     string     `json:"author,omitempty"`
	Text       string     `json:"text"`
	Rating     int        `json:"rating"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

func (r InboundReviewRequest) ToModel() model.InboundReview {
	out := model.InboundReview{
		BusinessID: r.BusinessID,
		Platform:   model.Platform(r.Platform),
		ExternalID: r.ExternalID,
		Author:     r.Author,
		Text:       r.Text,
		Rating:     r.Rating,
	}
	if r.ReceivedAt != nil {
		out.ReceivedAt = *r.ReceivedAt
	}
	return out
}

type InboundReviewResponse struct {
	Inbound  model.InboundReview `json:"inbound_review"`
	Created  bool                `json:"created"`
	Enqueued bool                `json:"enqueued"`
}

type ResponseDetailResponse struct {
	Response model.GeneratedResponse `json:"response"`
	Inbound  model.InboundReview     `json:"inbound_review"`
	Variants []model.PlatformVariant `json:"variants"`
	Attempts []model.PostingAttempt  `json:"attempts"`
}

func ToResponseDetailResponse(d *service.ResponseDetail) ResponseDetailResponse {
	return ResponseDetailResponse{
		Response: *d.Response,
		Inbound:  *d.Inbound,
		Variants: nonNil(d.Variants),
		Attempts: nonNil(d.Attempts),
	}
}
