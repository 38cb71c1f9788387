package model

import (
	"strings"
	"time"
)

type Platform string

const (
	PlatformGoogle      Platform = "google"
	PlatformYelp        Platform = "yelp"
	PlatformFacebook    Platform = "facebook"
	PlatformTripAdvisor Platform = "tripadvisor"
)

// AllPlatforms is in a fixed order so fan-out and listings are stable.
var AllPlatforms = []Platform{PlatformGoogle, PlatformYelp, PlatformFacebook, PlatformTripAdvisor}

func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllPlatforms {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// PlatformVariant is the per-platform rendering of a review or response.
// It is rebuilt whenever the canonical text changes before approval and is
// frozen once the subject is approved.
type PlatformVariant struct {
	ID            int64       `json:"id"`
	SubjectKind   SubjectKind `json:"subject_kind"`
	SubjectID     int64       `json:"subject_id"`
	Platform      Platform    `json:"platform"`
	FormattedText string      `json:"formatted_text"`
	Title         string      `json:"title,omitempty"`
	Rating        int         `json:"rating,omitempty"` // star rating carried to platforms that require one
	MaxLength     int         `json:"max_length"`
	InReplyTo     string      `json:"in_reply_to,omitempty"` // external id of the inbound review
	CreatedAt     time.Time   `json:"created_at"`
}

func (v PlatformVariant) Subject() Subject {
	return Subject{Kind: v.SubjectKind, ID: v.SubjectID}
}
