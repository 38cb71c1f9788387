package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Stage processors enrich the context once and every log line below inherits
// business_id, review_id, attempt_id and friends.
type LogFields struct {
	BusinessID      *int64  // Business owning the pipeline entities
	TranscriptID    *int64  // Transcript being synthesized
	ReviewID        *int64  // Generated review
	ResponseID      *int64  // Generated response
	InboundReviewID *int64  // Third-party review being answered
	AttemptID       *int64  // Posting attempt
	Platform        *string // google, yelp, facebook, tripadvisor
	MessageID       *string // Redis stream message ID
	TaskType        *string // Queue task type (e.g., "synthesize_review")
	Component       string  // Component name (OTel semantic convention style, e.g., "relay.pipeline.dispatcher")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'next'.
func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.BusinessID != nil {
		result.BusinessID = next.BusinessID
	}
	if next.TranscriptID != nil {
		result.TranscriptID = next.TranscriptID
	}
	if next.ReviewID != nil {
		result.ReviewID = next.ReviewID
	}
	if next.ResponseID != nil {
		result.ResponseID = next.ResponseID
	}
	if next.InboundReviewID != nil {
		result.InboundReviewID = next.InboundReviewID
	}
	if next.AttemptID != nil {
		result.AttemptID = next.AttemptID
	}
	if next.Platform != nil {
		result.Platform = next.Platform
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.TaskType != nil {
		result.TaskType = next.TaskType
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ReviewID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
// Useful for logging potentially long strings like generated text or platform errors.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
